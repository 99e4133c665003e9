// Command walletd-client is a manual test client for a running walletd
// node. It dials the node's WebSocket endpoint, performs the
// challenge/JWT handshake with a local key, and then sends one RPC
// method with signed parameters.
//
// Usage:
//
//	go run ./testing -genkey                     # generate signer.key
//	go run ./testing -method get_active_account
//	go run ./testing -method send -params '{"to":"0x...","amount":"0.1"}'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keyfold/walletd/pkg/rpc"
	"github.com/keyfold/walletd/pkg/sign"
)

const keyFile = "signer.key"

func main() {
	var (
		methodFlag = flag.String("method", "", "RPC method name")
		paramsFlag = flag.String("params", "{}", "JSON object of parameters")
		serverFlag = flag.String("server", "ws://localhost:8000/ws", "WebSocket server URL")
		genKeyFlag = flag.Bool("genkey", false, "Generate signer.key and exit")
		noAuthFlag = flag.Bool("noauth", false, "Skip the authentication handshake")
		waitFlag   = flag.Duration("wait", 2*time.Second, "How long to wait for notifications after the call")
	)
	flag.Parse()

	if *genKeyFlag {
		generateKey()
		return
	}
	if *methodFlag == "" {
		flag.Usage()
		os.Exit(1)
	}

	signer := loadSigner()
	address := signer.PublicKey().Address().String()
	fmt.Printf("signer address: %s\n", address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := rpc.NewWebsocketDialer(rpc.DefaultWebsocketDialerConfig)
	err := dialer.Dial(ctx, *serverFlag, func(err error) {
		if err != nil {
			log.Printf("connection closed: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to dial %s: %v", *serverFlag, err)
	}

	client := &client{dialer: dialer, signer: signer, nextID: 1}

	if !*noAuthFlag {
		if err := client.authenticate(ctx, address); err != nil {
			log.Fatalf("authentication failed: %v", err)
		}
		fmt.Println("authenticated")
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(*paramsFlag), &params); err != nil {
		log.Fatalf("invalid -params JSON: %v", err)
	}

	res, err := client.call(ctx, *methodFlag, params)
	if err != nil {
		log.Fatalf("%s failed: %v", *methodFlag, err)
	}
	printResponse(res)

	// Server pushes (balance updates after a send) arrive as events.
	deadline := time.After(*waitFlag)
	for {
		select {
		case event := <-dialer.EventCh():
			fmt.Printf("event %s: %s\n", event.Res.Method, rawParams(event.Res.Params))
		case <-deadline:
			return
		}
	}
}

type client struct {
	dialer rpc.Dialer
	signer sign.Signer
	nextID uint64
}

// call sends one signed request and unwraps the response error.
func (c *client) call(ctx context.Context, method string, params any) (*rpc.Response, error) {
	reqParams, err := rpc.NewParams(params)
	if err != nil {
		return nil, err
	}

	c.nextID++
	payload := rpc.NewPayload(c.nextID, method, reqParams)
	hash, err := payload.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := c.signer.Sign(hash)
	if err != nil {
		return nil, err
	}

	req := rpc.NewRequest(payload, sig)
	res, err := c.dialer.Call(ctx, &req)
	if err != nil {
		return nil, err
	}
	if err := res.Error(); err != nil {
		return nil, err
	}
	return res, nil
}

// authenticate runs the challenge handshake: request a challenge for
// our address, then prove key control by signing the verify request.
func (c *client) authenticate(ctx context.Context, address string) error {
	res, err := c.call(ctx, "auth_request", map[string]any{
		"address":     address,
		"application": "walletd-client",
	})
	if err != nil {
		return fmt.Errorf("auth_request: %w", err)
	}

	var challenge struct {
		ChallengeToken string `json:"challenge_token"`
	}
	if err := res.Res.Params.Translate(&challenge); err != nil {
		return err
	}

	res, err = c.call(ctx, "auth_verify", map[string]any{
		"challenge_token": challenge.ChallengeToken,
	})
	if err != nil {
		return fmt.Errorf("auth_verify: %w", err)
	}

	var verified struct {
		JwtToken string `json:"jwt_token"`
	}
	if err := res.Res.Params.Translate(&verified); err != nil {
		return err
	}
	fmt.Printf("session token: %s\n", verified.JwtToken)
	return nil
}

func generateKey() {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}
	keyHex := fmt.Sprintf("%x", crypto.FromECDSA(key))
	if err := os.WriteFile(keyFile, []byte(keyHex), 0600); err != nil {
		log.Fatalf("failed to write %s: %v", keyFile, err)
	}
	fmt.Printf("wrote %s (address %s)\n", keyFile, crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func loadSigner() sign.Signer {
	keyHex, err := os.ReadFile(keyFile)
	if err != nil {
		log.Fatalf("failed to read %s (run with -genkey first): %v", keyFile, err)
	}
	signer, err := sign.NewEthereumSigner(strings.TrimSpace(string(keyHex)))
	if err != nil {
		log.Fatalf("failed to parse key: %v", err)
	}
	return signer
}

func printResponse(res *rpc.Response) {
	fmt.Printf("response %s: %s\n", res.Res.Method, rawParams(res.Res.Params))
}

func rawParams(params rpc.Params) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("<unmarshalable: %v>", err)
	}
	return string(data)
}
