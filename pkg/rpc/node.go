package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/keyfold/walletd/pkg/log"
	"github.com/keyfold/walletd/pkg/sign"
)

const (
	defaultNodeErrorMessage = "an error occurred while processing the request"
)

const (
	// nodeGroupHandlerPrefix is the prefix used for all handler group IDs.
	nodeGroupHandlerPrefix = "group."
	// nodeGroupRoot is the identifier for the root handler group.
	nodeGroupRoot = "root"
)

// Node is an RPC server that accepts client connections and routes
// requests to registered handlers. The interface is transport-agnostic;
// WebsocketNode is the provided implementation.
type Node interface {
	// Handle registers a handler function for a specific RPC method.
	Handle(method string, handler Handler)

	// Notify sends a server-initiated notification to every active
	// connection of the given user. With no active connections the
	// notification is dropped.
	Notify(userID string, method string, params Params)

	// Use adds global middleware, executed in registration order
	// before any method handler.
	Use(middleware Handler)

	// NewGroup creates a handler group for organizing related
	// endpoints under shared middleware. Groups nest.
	NewGroup(name string) HandlerGroup
}

type HandlerGroup interface {
	Handle(method string, handler Handler)
	Use(middleware Handler)
	NewGroup(name string) HandlerGroup
}

var (
	_ Node         = &WebsocketNode{}
	_ http.Handler = &WebsocketNode{}

	_ HandlerGroup = &WebsocketHandlerGroup{}
)

// WebsocketNode implements Node over WebSocket. Every response it
// writes is signed with the configured signer, so clients can verify
// the node's identity on each message. Connection lifecycle, routing,
// middleware chains, and user notifications are all handled here.
type WebsocketNode struct {
	// upgrader handles the HTTP to WebSocket protocol upgrade
	upgrader websocket.Upgrader
	// cfg contains configuration for the node
	cfg WebsocketNodeConfig
	// groupId identifies this node's handler group (defaults to "group.root")
	groupId string
	// handlerChain maps handler IDs to their middleware/handler chains
	handlerChain map[string][]Handler
	// routes maps RPC method names to their handler chain path
	// (e.g., ["group.root", "group.private", "method"])
	routes map[string][]string
	// connHub manages all active WebSocket connections
	connHub *ConnectionHub
}

// WebsocketNodeConfig configures a WebsocketNode. Signer and Logger
// are required; everything else has defaults.
type WebsocketNodeConfig struct {
	// Signer is used to sign all outgoing messages (required).
	Signer sign.Signer
	// Logger is used for structured logging throughout the node (required).
	Logger log.Logger

	// Connection lifecycle callbacks:

	// OnConnectHandler is called when a new connection is established.
	// It receives a send function for pushing notifications to it.
	OnConnectHandler func(send SendResponseFunc)
	// OnDisconnectHandler is called when a connection closes, with the
	// UserID if the connection was authenticated.
	OnDisconnectHandler func(userID string)
	// OnMessageSentHandler is called after each successful outbound write.
	OnMessageSentHandler func([]byte)
	// OnAuthenticatedHandler is called when a connection authenticates
	// or re-authenticates as a different user.
	OnAuthenticatedHandler func(userID string, send SendResponseFunc)

	// WebSocket upgrader configuration:

	// WsUpgraderReadBufferSize sets the upgrader read buffer (default 1024).
	WsUpgraderReadBufferSize int
	// WsUpgraderWriteBufferSize sets the upgrader write buffer (default 1024).
	WsUpgraderWriteBufferSize int
	// WsUpgraderCheckOrigin validates the origin of incoming upgrade
	// requests. The default allows all origins.
	WsUpgraderCheckOrigin func(r *http.Request) bool

	// Connection-level configuration:

	// WsConnWriteTimeout bounds a single write operation (default 5s).
	WsConnWriteTimeout time.Duration
	// WsConnWriteBufferSize caps each connection's outgoing queue (default 10).
	WsConnWriteBufferSize int
	// WsConnProcessBufferSize caps each connection's inbound queue (default 10).
	WsConnProcessBufferSize int
}

// NewWebsocketNode creates a node ready to accept connections. A
// built-in "ping" handler answering with "pong" is registered
// automatically. Returns an error when Signer or Logger is missing.
func NewWebsocketNode(config WebsocketNodeConfig) (*WebsocketNode, error) {
	if config.Signer == nil {
		return nil, fmt.Errorf("signer cannot be nil")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	config.Logger = config.Logger.WithName("rpc-node")

	if config.OnConnectHandler == nil {
		config.OnConnectHandler = func(send SendResponseFunc) {}
	}
	if config.OnDisconnectHandler == nil {
		config.OnDisconnectHandler = func(userID string) {}
	}
	if config.OnMessageSentHandler == nil {
		config.OnMessageSentHandler = func([]byte) {}
	}
	if config.OnAuthenticatedHandler == nil {
		config.OnAuthenticatedHandler = func(userID string, send SendResponseFunc) {}
	}
	if config.WsUpgraderReadBufferSize <= 0 {
		config.WsUpgraderReadBufferSize = 1024
	}
	if config.WsUpgraderWriteBufferSize <= 0 {
		config.WsUpgraderWriteBufferSize = 1024
	}
	if config.WsUpgraderCheckOrigin == nil {
		// Clients connect from local tooling and multiple frontends,
		// so the default places no origin restriction.
		config.WsUpgraderCheckOrigin = func(r *http.Request) bool {
			return true
		}
	}

	node := &WebsocketNode{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.WsUpgraderReadBufferSize,
			WriteBufferSize: config.WsUpgraderWriteBufferSize,
			CheckOrigin:     config.WsUpgraderCheckOrigin,
		},
		cfg:          config,
		groupId:      nodeGroupHandlerPrefix + nodeGroupRoot,
		handlerChain: make(map[string][]Handler),
		routes:       make(map[string][]string),
		connHub:      NewConnectionHub(),
	}

	node.Handle(PingMethod.String(), node.handlePing) // Built-in ping handler

	return node, nil
}

// ServeHTTP implements http.Handler. It upgrades the request to a
// WebSocket connection, registers it with the hub, spawns the
// connection's read/write pumps and the request processing loop, and
// blocks until the connection closes. Cleanup (hub removal, disconnect
// callback) runs on exit.
func (wn *WebsocketNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConnection, err := wn.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wn.cfg.Logger.Error("failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer wsConnection.Close()

	connectionID := uuid.NewString()

	connConfig := WebsocketConnectionConfig{
		ConnectionID:         connectionID,
		WebsocketConn:        wsConnection,
		Logger:               wn.cfg.Logger,
		WriteTimeout:         wn.cfg.WsConnWriteTimeout,
		WriteBufferSize:      wn.cfg.WsConnWriteBufferSize,
		ProcessBufferSize:    wn.cfg.WsConnProcessBufferSize,
		OnMessageSentHandler: wn.cfg.OnMessageSentHandler,
	}
	connection, err := NewWebsocketConnection(connConfig)
	if err != nil {
		wn.cfg.Logger.Error("failed to create WebSocket connection", "error", err, "connectionID", connectionID)
		return
	}
	if err := wn.connHub.Add(connection); err != nil {
		wn.cfg.Logger.Error("failed to add connection to hub", "error", err, "connectionID", connectionID)
		return
	}

	wn.cfg.OnConnectHandler(wn.getSendResponseFunc(connection))
	wn.cfg.Logger.Info("new WebSocket connection established", "connectionID", connectionID, "userID", connection.UserID())

	// Cleanup function executed when connection closes
	defer func() {
		userID := connection.UserID()
		wn.connHub.Remove(connectionID)

		wn.cfg.OnDisconnectHandler(userID)
		wn.cfg.Logger.Info("connection closed", "connectionID", connectionID, "userID", userID)
	}()

	parentCtx, cancel := context.WithCancel(r.Context())
	wg := &sync.WaitGroup{}
	wg.Add(2)
	childHandleClosure := func(_ error) {
		cancel()  // Trigger exit on other goroutines
		wg.Done() // Decrement the wait group counter
	}

	go connection.Serve(parentCtx, childHandleClosure)
	go wn.processRequests(connection, parentCtx, childHandleClosure)

	wg.Wait()
}

// processRequests is the per-connection request loop: unmarshal the
// raw message, resolve the method's handler chain, run it through a
// fresh Context, write the signed response, and re-authenticate the
// connection when a handler changed the UserID.
func (wn *WebsocketNode) processRequests(conn Connection, parentCtx context.Context, handleClosure func(error)) {
	defer handleClosure(nil) // Stop other goroutines when done
	safeStorage := NewSafeStorage()

	for {
		var messageBytes []byte
		select {
		case <-parentCtx.Done():
			wn.cfg.Logger.Debug("context done, stopping message processing")
			return
		case messageBytes = <-conn.RawRequests():
			if len(messageBytes) == 0 {
				return // Exit if the message is empty (connection closed)
			}
		}

		req := Request{}
		if err := json.Unmarshal(messageBytes, &req); err != nil {
			wn.cfg.Logger.Debug("invalid message format", "error", err, "message", string(messageBytes))
			wn.sendErrorResponse(conn, req.Req.RequestID, "invalid message format")
			continue
		}

		methodRoute, ok := wn.routes[req.Req.Method]
		if !ok || len(methodRoute) == 0 {
			wn.cfg.Logger.Debug("no handlers' route found for method", "method", req.Req.Method)
			wn.sendErrorResponse(conn, req.Req.RequestID, fmt.Sprintf("unknown method: %s", req.Req.Method))
			continue
		}

		var routeHandlers []Handler
		for _, handlersId := range methodRoute {
			handlers, exists := wn.handlerChain[handlersId]
			if !exists || len(handlers) == 0 {
				routeHandlers = nil
				wn.cfg.Logger.Error("no handlers found for id", "id", handlersId)
				break
			}

			routeHandlers = append(routeHandlers, handlers...)
		}
		if len(routeHandlers) == 0 {
			wn.sendErrorResponse(conn, req.Req.RequestID, fmt.Sprintf("unknown method: %s", req.Req.Method))
			continue
		}

		wn.cfg.Logger.Info("processing message",
			"requestID", req.Req.RequestID,
			"userID", conn.UserID(),
			"method", req.Req.Method,
			"route", methodRoute)

		ctx := &Context{
			Context:  parentCtx,
			UserID:   conn.UserID(),
			Signer:   wn.cfg.Signer,
			Request:  req,
			handlers: routeHandlers,
			Storage:  safeStorage,
		}
		ctx.Next() // Start processing the handlers

		responseBytes, err := ctx.GetRawResponse()
		if err != nil {
			wn.sendErrorResponse(conn, req.Req.RequestID, defaultNodeErrorMessage)
			wn.cfg.Logger.Error("failed to prepare response", "error", err, "method", req.Req.Method)
			continue
		}
		conn.WriteRawResponse(responseBytes)

		// Handle re-authentication
		if conn.UserID() != ctx.UserID {
			wn.connHub.Reauthenticate(conn.ConnectionID(), ctx.UserID)
			wn.cfg.OnAuthenticatedHandler(ctx.UserID, wn.getSendResponseFunc(conn))
		}
	}
}

// NewGroup creates a handler group with the specified name. A group's
// handlers run after global middleware and the group's own middleware.
func (wn *WebsocketNode) NewGroup(name string) HandlerGroup {
	return &WebsocketHandlerGroup{
		groupId:     nodeGroupHandlerPrefix + name,
		routePrefix: []string{wn.groupId},
		root:        wn,
	}
}

// Handle registers a handler for the given RPC method at the root
// group. Panics on an empty method or nil handler.
func (wn *WebsocketNode) Handle(method string, handler Handler) {
	wn.handle(method, handler)
	wn.routes[method] = []string{wn.groupId, method}
}

func (wn *WebsocketNode) handle(method string, handler Handler) {
	if method == "" {
		panic("Websocket method cannot be empty")
	}
	if handler == nil {
		panic(fmt.Sprintf("Websocket handler cannot be nil for method %s", method))
	}

	wn.handlerChain[method] = []Handler{handler}
}

// Use adds global middleware, executed in registration order before
// any method-specific handler.
func (wn *WebsocketNode) Use(middleware Handler) {
	wn.use(wn.groupId, middleware)
}

func (wn *WebsocketNode) use(groupId string, middleware Handler) {
	if middleware == nil {
		panic("Websocket middleware handler cannot be nil for group")
	}

	if _, exists := wn.handlerChain[groupId]; !exists {
		wn.handlerChain[groupId] = []Handler{}
	}

	wn.handlerChain[groupId] = append(wn.handlerChain[groupId], middleware)
}

// Notify pushes a signed notification to every active connection of
// the user. Notifications carry RequestID=0 to distinguish them from
// responses.
func (wn *WebsocketNode) Notify(userID, method string, params Params) {
	message, err := prepareRawNotification(wn.cfg.Signer, method, params)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare notification message", "error", err, "userID", userID, "method", method)
		return
	}

	wn.connHub.Publish(userID, message)
}

// getSendResponseFunc creates a SendResponseFunc bound to one connection.
func (wn *WebsocketNode) getSendResponseFunc(conn Connection) SendResponseFunc {
	return func(method string, params Params) {
		responseBytes, err := prepareRawNotification(wn.cfg.Signer, method, params)
		if err != nil {
			wn.cfg.Logger.Error("failed to prepare notification message", "error", err, "method", method)
			return
		}

		if conn == nil {
			wn.cfg.Logger.Error("connection is nil, cannot send message", "method", method)
			return
		}

		conn.WriteRawResponse(responseBytes)
	}
}

// sendErrorResponse sends a signed error response. Used for
// protocol-level failures before a handler chain runs.
func (wn *WebsocketNode) sendErrorResponse(conn Connection, requestID uint64, message string) {
	if conn == nil {
		wn.cfg.Logger.Error("connection is nil, cannot send error response", "requestID", requestID)
		return
	}

	res := NewErrorResponse(requestID, message)
	responseBytes, err := prepareRawResponse(wn.cfg.Signer, res.Res)
	if err != nil {
		wn.cfg.Logger.Error("failed to prepare error response", "error", err)
		return
	}

	conn.WriteRawResponse(responseBytes)
}

// handlePing answers the built-in "ping" method with "pong" after
// running any registered middleware.
func (wn *WebsocketNode) handlePing(ctx *Context) {
	ctx.Next() // Call any middleware first
	ctx.Succeed(PongMethod.String(), nil)
}

// prepareRawNotification builds a signed server-initiated message.
// Unlike responses, notifications don't correspond to a request.
func prepareRawNotification(signer sign.Signer, method string, params Params) ([]byte, error) {
	payload := NewPayload(0, method, params) // RequestID=0 for notifications

	responseBytes, err := prepareRawResponse(signer, payload)
	if err != nil {
		return nil, err
	}

	return responseBytes, nil
}

// WebsocketHandlerGroup organizes related handlers under shared
// middleware. For a request matching a group handler the chain is:
// global middleware, then each parent group's middleware, then this
// group's middleware, then the method handler.
type WebsocketHandlerGroup struct {
	// groupId is the unique identifier for this group
	groupId string
	// routePrefix contains the chain of group IDs leading to this group
	routePrefix []string
	// root is a reference to the Node this group belongs to
	root *WebsocketNode
}

// NewGroup creates a nested group that inherits this group's
// middleware chain.
func (hg *WebsocketHandlerGroup) NewGroup(name string) HandlerGroup {
	return &WebsocketHandlerGroup{
		groupId:     fmt.Sprintf("%s.%s", hg.groupId, name),
		routePrefix: append(hg.routePrefix, hg.groupId),
		root:        hg.root,
	}
}

// Handle registers a handler for the method within this group. Method
// names must be unique across the whole node.
func (hg *WebsocketHandlerGroup) Handle(method string, handler Handler) {
	hg.root.routes[method] = append(hg.routePrefix, hg.groupId, method)
	hg.root.handle(method, handler)
}

// Use adds middleware executed for all handlers in this group and any
// nested groups. Panics if middleware is nil.
func (hg *WebsocketHandlerGroup) Use(middleware Handler) {
	hg.root.use(hg.groupId, middleware)
}
