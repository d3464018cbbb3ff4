// Package sessionmgr owns the table of active upstream connections, the
// session-to-connection index, the concurrent-initialize guard, and the
// global-connection fallback used when an upstream refuses to be
// initialized more than once.
package sessionmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/bridge"
	"github.com/viant/mcpproxy/transport"
)

// GlobalConnectionID is the sentinel connection id used when the upstream
// reports it has already been initialized by another session and is
// promoted to a singleton shared by every subsequent session.
const GlobalConnectionID = "global-mcp-connection"

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	StateInitializing ConnectionState = iota
	StateConnected
	StateDisconnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// ClientTransport is the upstream-facing transport a Connection drives.
// Both the Subprocess and Remote Streamable HTTP client transports satisfy
// this already (transport.Transport for Send/Notify, transport.Lifecycle
// for OnClose/OnError/Close).
type ClientTransport interface {
	transport.Transport
	transport.Lifecycle
}

// Connection is the 1:1 or N:1 binding between one or more client sessions
// and one upstream MCP session. A Connection whose id is GlobalConnectionID
// is shared by every session bound to it; all others are owned by exactly
// the session id that created them.
type Connection struct {
	mu sync.Mutex

	ID              string
	Client          ClientTransport
	Capabilities    *mcp.ServerCapabilities
	ProtocolVersion string
	State           ConnectionState
	IsGlobal        bool
	CreatedAt       time.Time
	LastUsedAt      time.Time

	// Bridge relays subsequent requests/notifications to Client once the
	// connection is established; nil until newConnection finishes.
	Bridge *bridge.Bridge

	// initResult/initError cache the upstream's initialize outcome so a
	// reused or globally-shared connection can answer a later session's
	// initialize locally, without asking the upstream to initialize twice.
	initResult json.RawMessage
	initError  *jsonrpc.Error

	// sessions maps every session id bound to this connection to the
	// server-side transport used to push that session's own requests and
	// notifications toward its client. Kept here (rather than a bare set
	// of ids) because notification fan-out (resourceUpdated, logging)
	// needs a handle to Notify each bound session directly.
	sessions map[string]transport.Transport
}

// NewConnection creates a Connection bound to the given client transport.
func NewConnection(id string, client ClientTransport) *Connection {
	now := time.Now()
	return &Connection{
		ID:         id,
		Client:     client,
		State:      StateInitializing,
		CreatedAt:  now,
		LastUsedAt: now,
		sessions:   make(map[string]transport.Transport),
	}
}

// Bind associates sessionID with this connection's server-side transport.
func (c *Connection) Bind(sessionID string, serverTransport transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = serverTransport
}

// Unbind removes sessionID. It reports whether the connection has no
// sessions left, signalling it is eligible for cleanup.
func (c *Connection) Unbind(sessionID string) (empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return len(c.sessions) == 0
}

// sessionTransport returns the server-side transport bound for sessionID,
// if any.
func (c *Connection) sessionTransport(sessionID string) (transport.Transport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.sessions[sessionID]
	return t, ok
}

// SessionIDs returns a snapshot of the bound session ids.
func (c *Connection) SessionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	return ids
}

// SessionCount returns how many sessions are currently bound.
func (c *Connection) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Touch bumps LastUsedAt.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.LastUsedAt = time.Now()
	c.mu.Unlock()
}

// SetBridge installs the Bridge relaying this connection's subsequent
// traffic, guarding against the upstream delivering a notification
// concurrently with connection setup.
func (c *Connection) SetBridge(b *bridge.Bridge) {
	c.mu.Lock()
	c.Bridge = b
	c.mu.Unlock()
}

// GetBridge returns the installed Bridge, or nil if the connection has not
// finished initializing.
func (c *Connection) GetBridge() *bridge.Bridge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Bridge
}

// markState transitions the connection's state.
func (c *Connection) markState(s ConnectionState) {
	c.mu.Lock()
	c.State = s
	c.mu.Unlock()
}

// Validate reports whether the connection may still serve requests.
// A state check is always performed; callers that want a liveness probe can
// layer one on top (the upstream transports here have none to offer).
func (c *Connection) Validate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State == StateConnected
}

// idleSince returns how long the connection has been unused.
func (c *Connection) idleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.LastUsedAt)
}

// Serve implements transport.Handler for requests the upstream initiates
// toward the proxy. The spec's capability table never installs a
// proxy-initiated upstream request handler, so this only exists to satisfy
// the interface the client transports require of their Handler option.
func (c *Connection) Serve(_ context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	response.Id = request.Id
	response.Jsonrpc = request.Jsonrpc
	response.Error = jsonrpc.NewMethodNotFound(fmt.Sprintf("method %v not found", request.Method), nil)
}

// OnNotification fans an upstream notification out to every session bound
// to this connection, gated by the same capability table the Bridge applies
// to requests (resourceUpdated needs resources.subscribe, loggingMessage
// needs logging). A notification arriving before Bridge is wired (there is
// no such window in practice, since Bridge is set before the upstream
// transport can deliver anything) is dropped rather than guessed at.
func (c *Connection) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	c.mu.Lock()
	b := c.Bridge
	targets := make([]transport.Transport, 0, len(c.sessions))
	for _, t := range c.sessions {
		targets = append(targets, t)
	}
	c.mu.Unlock()
	if b == nil || !b.RelayUpstreamNotification(notification) {
		return
	}
	for _, t := range targets {
		_ = t.Notify(ctx, notification)
	}
}
