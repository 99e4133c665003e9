package rpc

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keyfold/walletd/pkg/log"
)

// Connection is one live client connection as seen by the node: an
// inbound raw-message stream and an outbound raw-write primitive.
type Connection interface {
	// ConnectionID returns the unique identifier for this connection.
	ConnectionID() string
	// UserID returns the authenticated user, or empty before auth.
	UserID() string
	// SetUserID updates the authenticated user for this connection.
	SetUserID(userID string)
	// RawRequests is the channel of inbound message bytes.
	RawRequests() <-chan []byte
	// WriteRawResponse queues bytes for delivery. It reports false when
	// the outgoing queue is full.
	WriteRawResponse(data []byte) bool
	// Serve runs the read and write pumps until ctx is cancelled.
	Serve(ctx context.Context, handleClosure func(err error))
}

// gorillaWsConn is the slice of *websocket.Conn the connection uses,
// narrowed to an interface so tests can substitute a mock.
type gorillaWsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

var _ gorillaWsConn = (*websocket.Conn)(nil)

const (
	defaultConnWriteTimeout = 5 * time.Second
	defaultConnBufferSize   = 10
)

// WebsocketConnectionConfig wires a WebsocketConnection.
type WebsocketConnectionConfig struct {
	// ConnectionID uniquely identifies the connection (required).
	ConnectionID string
	// UserID is the pre-authenticated user, usually empty.
	UserID string
	// WebsocketConn is the underlying websocket (required).
	WebsocketConn gorillaWsConn
	// Logger for connection lifecycle events.
	Logger log.Logger
	// WriteTimeout bounds one outbound write (default 5s).
	WriteTimeout time.Duration
	// WriteBufferSize caps the outgoing queue (default 10).
	WriteBufferSize int
	// ProcessBufferSize caps the inbound queue (default 10).
	ProcessBufferSize int
	// OnMessageSentHandler runs after each successful outbound write.
	OnMessageSentHandler func(data []byte)
}

// WebsocketConnection implements Connection over gorilla/websocket.
// Reads and writes run on dedicated goroutines started by Serve, so
// handler code never touches the websocket directly.
type WebsocketConnection struct {
	cfg WebsocketConnectionConfig

	userID    string
	userIDMu  sync.RWMutex
	requests  chan []byte
	responses chan []byte
	serveOnce sync.Once
}

var _ Connection = (*WebsocketConnection)(nil)

// NewWebsocketConnection validates the config and creates a connection.
func NewWebsocketConnection(cfg WebsocketConnectionConfig) (*WebsocketConnection, error) {
	if cfg.ConnectionID == "" {
		return nil, fmt.Errorf("connection ID cannot be empty")
	}
	if cfg.WebsocketConn == nil {
		return nil, fmt.Errorf("websocket connection cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	cfg.Logger = cfg.Logger.WithName("ws-connection").WithKV("connectionID", cfg.ConnectionID)
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultConnWriteTimeout
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultConnBufferSize
	}
	if cfg.ProcessBufferSize <= 0 {
		cfg.ProcessBufferSize = defaultConnBufferSize
	}
	if cfg.OnMessageSentHandler == nil {
		cfg.OnMessageSentHandler = func([]byte) {}
	}

	return &WebsocketConnection{
		cfg:       cfg,
		userID:    cfg.UserID,
		requests:  make(chan []byte, cfg.ProcessBufferSize),
		responses: make(chan []byte, cfg.WriteBufferSize),
	}, nil
}

// ConnectionID returns the unique identifier for this connection.
func (c *WebsocketConnection) ConnectionID() string { return c.cfg.ConnectionID }

// UserID returns the authenticated user, or empty before auth.
func (c *WebsocketConnection) UserID() string {
	c.userIDMu.RLock()
	defer c.userIDMu.RUnlock()
	return c.userID
}

// SetUserID updates the authenticated user for this connection.
func (c *WebsocketConnection) SetUserID(userID string) {
	c.userIDMu.Lock()
	defer c.userIDMu.Unlock()
	c.userID = userID
}

// RawRequests is the channel of inbound message bytes. The channel is
// closed when the read pump exits.
func (c *WebsocketConnection) RawRequests() <-chan []byte { return c.requests }

// WriteRawResponse queues data for delivery, reporting false when the
// outgoing queue is full rather than blocking handler goroutines.
func (c *WebsocketConnection) WriteRawResponse(data []byte) bool {
	select {
	case c.responses <- data:
		return true
	default:
		c.cfg.Logger.Warn("write queue full, dropping message")
		return false
	}
}

// Serve starts the read and write pumps. It returns immediately; the
// pumps run until ctx is cancelled or the socket fails. Calling Serve
// more than once is a no-op.
func (c *WebsocketConnection) Serve(ctx context.Context, handleClosure func(err error)) {
	c.serveOnce.Do(func() {
		go c.readPump(ctx, handleClosure)
		go c.writePump(ctx)
	})
}

func (c *WebsocketConnection) readPump(ctx context.Context, handleClosure func(err error)) {
	defer close(c.requests)

	for {
		_, message, err := c.cfg.WebsocketConn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				handleClosure(nil)
			} else {
				handleClosure(fmt.Errorf("websocket read failed: %w", err))
			}
			return
		}

		select {
		case c.requests <- message:
		case <-ctx.Done():
			handleClosure(nil)
			return
		default:
			c.cfg.Logger.Warn("inbound queue full, dropping message")
		}
	}
}

func (c *WebsocketConnection) writePump(ctx context.Context) {
	// Closing the socket unblocks the read pump as well.
	defer c.cfg.WebsocketConn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.responses:
			if err := c.writeMessage(data); err != nil {
				c.cfg.Logger.Error("failed to write message", "error", err)
				return
			}
			c.cfg.OnMessageSentHandler(data)
		}
	}
}

func (c *WebsocketConnection) writeMessage(data []byte) error {
	done := make(chan error, 1)
	go func() {
		w, err := c.cfg.WebsocketConn.NextWriter(websocket.TextMessage)
		if err != nil {
			done <- err
			return
		}
		if _, err := w.Write(data); err != nil {
			done <- err
			return
		}
		done <- w.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(c.cfg.WriteTimeout):
		return fmt.Errorf("write timed out after %s", c.cfg.WriteTimeout)
	}
}
