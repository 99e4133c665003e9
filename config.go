package main

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/keyfold/walletd/pkg/log"
)

// Config is the full node configuration, read from WALLETD_-prefixed
// environment variables (a .env file is loaded first when present)
// plus a chains.yaml file describing the supported chains.
type Config struct {
	// ListenAddr is the HTTP listen address for the RPC and metrics endpoints.
	ListenAddr string `env:"WALLETD_LISTEN_ADDR" env-default:":8000"`
	// ChainName selects the active chain from the chains file.
	ChainName string `env:"WALLETD_CHAIN" env-default:"sepolia"`
	// ChainsFile points to the yaml file with per-chain settings.
	ChainsFile string `env:"WALLETD_CHAINS_FILE" env-default:"config/chains.yaml"`
	// NodePrivateKey is the hex-encoded key the node signs RPC responses
	// and session tokens with (required).
	NodePrivateKey string `env:"WALLETD_NODE_PRIVATE_KEY"`
	// KeystorePassphrase protects software wallet key blobs at rest (required
	// for the software backend).
	KeystorePassphrase string `env:"WALLETD_KEYSTORE_PASSPHRASE"`
	// PairingURL is the WebSocket endpoint of a paired external wallet.
	// Empty means no external pairing.
	PairingURL string `env:"WALLETD_PAIRING_URL" env-default:""`

	Log log.Config `env-prefix:"WALLETD_LOG_"`

	dbConf DatabaseConfig
	chain  ChainConfig
}

// ChainConfig describes one chain entry in chains.yaml.
type ChainConfig struct {
	Name        string `yaml:"name"`
	ChainID     int64  `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Decimals    int32  `yaml:"decimals"`
	SendCeiling string `yaml:"send_ceiling"`
}

type chainsFile struct {
	Chains []ChainConfig `yaml:"chains"`
}

// LoadConfig reads the environment, the database settings, and the
// chains file, and resolves the active chain.
func LoadConfig(logger log.Logger) (Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env file")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg.dbConf); err != nil {
		return Config{}, fmt.Errorf("failed to read database environment: %w", err)
	}

	chain, err := loadChainConfig(cfg.ChainsFile, cfg.ChainName)
	if err != nil {
		return Config{}, err
	}
	cfg.chain = chain

	return cfg, nil
}

func loadChainConfig(path, name string) (ChainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ChainConfig{}, fmt.Errorf("failed to read chains file %s: %w", path, err)
	}

	var file chainsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ChainConfig{}, fmt.Errorf("failed to parse chains file %s: %w", path, err)
	}

	for _, chain := range file.Chains {
		if chain.Name != name {
			continue
		}
		if err := validateChainConfig(chain); err != nil {
			return ChainConfig{}, fmt.Errorf("chain %s: %w", name, err)
		}
		return chain, nil
	}

	return ChainConfig{}, fmt.Errorf("chain %s not found in %s", name, path)
}

func validateChainConfig(chain ChainConfig) error {
	if chain.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive, got %d", chain.ChainID)
	}
	if chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if chain.Decimals <= 0 {
		return fmt.Errorf("decimals must be positive, got %d", chain.Decimals)
	}
	if chain.SendCeiling != "" {
		ceiling, err := decimal.NewFromString(chain.SendCeiling)
		if err != nil {
			return fmt.Errorf("invalid send_ceiling %q: %w", chain.SendCeiling, err)
		}
		if !ceiling.IsPositive() {
			return fmt.Errorf("send_ceiling must be positive, got %s", ceiling)
		}
	}
	return nil
}

// SendCeilingDecimal returns the configured per-transaction ceiling,
// or zero when the chain entry leaves it to the builder default.
func (c ChainConfig) SendCeilingDecimal() decimal.Decimal {
	if c.SendCeiling == "" {
		return decimal.Zero
	}
	ceiling, err := decimal.NewFromString(c.SendCeiling)
	if err != nil {
		return decimal.Zero
	}
	return ceiling
}
