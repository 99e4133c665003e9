package rpc

import (
	"fmt"
	"sync"
)

// ConnectionHub tracks all active connections for a node. It keeps
// two thread-safe mappings: connection ID to Connection, and user ID
// to the set of that user's connections. The second mapping is what
// lets the node publish a notification to every session a user has
// open.
type ConnectionHub struct {
	// connections maps connection IDs to Connection instances
	connections map[string]Connection
	// authMapping maps user IDs to their active connection IDs
	authMapping map[string]map[string]bool
	// mu protects concurrent access to the maps
	mu sync.RWMutex
}

// NewConnectionHub creates an empty hub.
func NewConnectionHub() *ConnectionHub {
	return &ConnectionHub{
		connections: make(map[string]Connection),
		authMapping: make(map[string]map[string]bool),
	}
}

// Add registers a connection, indexing it by its ConnectionID and,
// when already authenticated, by its UserID as well. Returns an error
// for a nil connection or a duplicate connection ID.
func (hub *ConnectionHub) Add(conn Connection) error {
	if conn == nil {
		return fmt.Errorf("connection cannot be nil")
	}

	connID := conn.ConnectionID()
	userID := conn.UserID()

	hub.mu.Lock()
	defer hub.mu.Unlock()

	if _, exists := hub.connections[connID]; exists {
		return fmt.Errorf("connection with ID %s already exists", connID)
	}

	hub.connections[connID] = conn

	if userID == "" {
		return nil
	}

	if _, exists := hub.authMapping[userID]; !exists {
		hub.authMapping[userID] = make(map[string]bool)
	}

	hub.authMapping[userID][connID] = true
	return nil
}

// Reauthenticate moves a connection from its old user mapping (if
// any) to the new user, updating the connection's UserID along the
// way. Returns an error when the connection does not exist.
func (hub *ConnectionHub) Reauthenticate(connID, userID string) error {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	conn, exists := hub.connections[connID]
	if !exists {
		return fmt.Errorf("connection with ID %s does not exist", connID)
	}

	oldUserID := conn.UserID()
	if oldUserID != "" {
		if userConns, ok := hub.authMapping[oldUserID]; ok {
			delete(userConns, connID)
			if len(userConns) == 0 {
				delete(hub.authMapping, oldUserID)
			}
		}
	}

	conn.SetUserID(userID)

	if _, ok := hub.authMapping[userID]; !ok {
		hub.authMapping[userID] = make(map[string]bool)
	}
	hub.authMapping[userID][connID] = true

	return nil
}

// Get retrieves a connection by ID, or nil when it is not registered.
func (hub *ConnectionHub) Get(connID string) Connection {
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	conn, ok := hub.connections[connID]
	if !ok {
		return nil
	}

	return conn
}

// Remove unregisters a connection and cleans up its user mapping.
// Removing an unknown ID is a no-op.
func (hub *ConnectionHub) Remove(connID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	conn, ok := hub.connections[connID]
	if !ok {
		return
	}

	delete(hub.connections, connID)
	userID := conn.UserID()
	if userID == "" {
		return
	}

	if userConns, exists := hub.authMapping[userID]; exists {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(hub.authMapping, userID)
		}
	}
}

// Publish sends a message to every active connection of the user.
// Connections with full write queues are skipped; an unknown user
// means the message is silently dropped.
func (hub *ConnectionHub) Publish(userID string, response []byte) {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	connIDs, ok := hub.authMapping[userID]
	if !ok {
		return
	}

	for connID := range connIDs {
		conn := hub.connections[connID]
		if conn == nil {
			continue
		}

		conn.WriteRawResponse(response)
	}
}
