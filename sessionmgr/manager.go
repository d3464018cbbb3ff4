package sessionmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/bridge"
	"github.com/viant/mcpproxy/metrics"
	"github.com/viant/mcpproxy/transport"
	"github.com/viant/mcpproxy/transport/server/base"
)

// Dialer opens a new upstream Client Transport and wires handler as the
// transport's upstream-initiated request/notification handler. Concrete
// wiring (stdio.New with WithHandler, or the Remote Streamable HTTP client's
// own WithHandler) lives with whoever constructs the Manager.
type Dialer func(ctx context.Context, handler transport.Handler) (ClientTransport, error)

// Directory is the pluggable storage behind sessionToConnection. The default
// is in-process; a Redis-backed Directory only ever carries the mapping
// itself, never a live Connection (its transports and goroutines are
// process-local), which is why Directory deals in connection ids rather than
// *Connection.
type Directory interface {
	Get(ctx context.Context, sessionID string) (connectionID string, ok bool, err error)
	Put(ctx context.Context, sessionID, connectionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// Manager owns the connectionId→Connection table, the sessionId→connectionId
// index, the concurrent-initialize guard, and the periodic cleanup sweep. It
// is installed as a transport.NewHandler on every server transport (SSE,
// Streamable HTTP) so every new per-session server transport goes through
// the initialize protocol and subsequent-request dispatch below.
type Manager struct {
	dial      Dialer
	directory Directory
	logger    jsonrpc.Logger
	metrics   *metrics.Registry

	mu           sync.Mutex
	connections  map[string]*Connection
	initializing map[string]chan struct{}

	idleTimeout     time.Duration
	sweepInterval   time.Duration
	initializeGrace time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDirectory overrides the default in-process sessionId→connectionId
// index, e.g. with a Redis-backed one shared across proxy instances.
func WithDirectory(d Directory) Option { return func(m *Manager) { m.directory = d } }

// WithLogger overrides the default stderr logger.
func WithLogger(l jsonrpc.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithIdleTimeout overrides the 30 minute default idle window before an
// empty connection is evicted by the sweep.
func WithIdleTimeout(d time.Duration) Option { return func(m *Manager) { m.idleTimeout = d } }

// WithSweepInterval overrides the 5 minute default cleanup sweep cadence.
func WithSweepInterval(d time.Duration) Option { return func(m *Manager) { m.sweepInterval = d } }

// WithInitializeGrace overrides the bounded wait a concurrent initialize for
// the same session id blocks on before giving up and trying to own the
// initialize itself.
func WithInitializeGrace(d time.Duration) Option { return func(m *Manager) { m.initializeGrace = d } }

// WithMetrics attaches a metrics.Registry the Manager updates as
// connections and sessions come and go.
func WithMetrics(reg *metrics.Registry) Option { return func(m *Manager) { m.metrics = reg } }

// New creates a Manager and starts its cleanup sweep goroutine.
func New(dial Dialer, opts ...Option) *Manager {
	m := &Manager{
		dial:            dial,
		directory:       newMemoryDirectory(),
		logger:          jsonrpc.DefaultLogger,
		connections:     make(map[string]*Connection),
		initializing:    make(map[string]chan struct{}),
		idleTimeout:     30 * time.Minute,
		sweepInterval:   5 * time.Minute,
		initializeGrace: 100 * time.Millisecond,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Stop halts the cleanup sweep. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// NewHandler is a transport.NewHandler: every server transport created for a
// new or reattaching session is handed a sessionHandler bound to its id,
// which drives the initialize protocol and all subsequent dispatch.
func (m *Manager) NewHandler(ctx context.Context, downstream transport.Transport) transport.Handler {
	sid, _ := ctx.Value(jsonrpc.SessionKey).(string)
	h := &sessionHandler{manager: m, sessionID: sid, downstream: downstream}
	if bt, ok := downstream.(*base.Transport); ok {
		if sess := bt.Session(); sess != nil {
			sess.OnSessionClose(func() { m.onSessionClosed(sid) })
		}
	}
	return h
}

// sessionHandler is the transport.Handler bound to one session's server
// transport. It is deliberately thin: all state lives on the Manager and its
// Connections so that multiple sessions sharing a global connection see a
// consistent view.
type sessionHandler struct {
	manager    *Manager
	sessionID  string
	downstream transport.Transport
}

func (h *sessionHandler) Serve(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	response.Id = request.Id
	response.Jsonrpc = jsonrpc.Version
	if request.Method == jsonrpc.MethodInitialize {
		h.manager.handleInitialize(ctx, h.sessionID, h.downstream, request, response)
		return
	}
	h.manager.dispatch(ctx, h.sessionID, request, response)
}

func (h *sessionHandler) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	h.manager.relayClientNotification(ctx, h.sessionID, notification)
}

// handleInitialize implements the initialize protocol.
func (m *Manager) handleInitialize(ctx context.Context, sid string, downstream transport.Transport, request *jsonrpc.Request, response *jsonrpc.Response) {
	if sid == "" {
		sid = uuid.New().String()
	}
	if m.metrics != nil {
		m.metrics.InitializeTotal.Inc()
	}

	owns, done := m.acquireInitializing(sid)
	if !owns {
		select {
		case <-done:
		case <-time.After(m.initializeGrace):
		}
		if conn := m.connectionFor(ctx, sid); conn != nil {
			m.completeWithConnection(ctx, conn, sid, downstream, response)
			return
		}
		owns, done = m.acquireInitializing(sid)
		if !owns {
			response.Error = jsonrpc.NewSessionError("initialize already in progress, retry")
			return
		}
	}
	defer m.releaseInitializing(sid, done)

	// Reuse path: this session id was already initialized (e.g. a retried
	// initialize on the same connection).
	if conn := m.connectionFor(ctx, sid); conn != nil && conn.Validate() {
		m.completeWithConnection(ctx, conn, sid, downstream, response)
		return
	}

	// Global reuse: the upstream is a singleton already promoted by another
	// session.
	if conn := m.globalConnection(); conn != nil && conn.Validate() {
		m.bindSession(conn, sid, downstream)
		conn.Touch()
		m.mapSession(ctx, sid, conn.ID)
		m.completeWithConnection(ctx, conn, sid, downstream, response)
		return
	}

	conn, err := m.newConnection(ctx, sid, request)
	if err != nil {
		response.Error = jsonrpc.NewInternalError(err.Error(), nil)
		return
	}
	if conn.initError != nil {
		// A structured upstream initialize error: per §7 TransportSetup the
		// session is never registered, and the state machine treats this
		// connection as terminal, same as the transport-failure paths above.
		response.Error = conn.initError
		return
	}
	m.bindSession(conn, sid, downstream)

	m.mu.Lock()
	m.connections[conn.ID] = conn
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveConnections.Inc()
		if conn.IsGlobal {
			m.metrics.GlobalPromotions.Inc()
		}
	}
	m.mapSession(ctx, sid, conn.ID)

	response.Result = conn.initResult
}

// completeWithConnection answers a reuse/global-reuse initialize locally
// from the connection's cached initialize response; the upstream is never
// asked to initialize twice for the same connection.
func (m *Manager) completeWithConnection(ctx context.Context, conn *Connection, sid string, downstream transport.Transport, response *jsonrpc.Response) {
	conn.Touch()
	if _, bound := conn.sessionTransport(sid); !bound {
		m.bindSession(conn, sid, downstream)
	}
	if conn.initError != nil {
		response.Error = conn.initError
		return
	}
	response.Result = conn.initResult
}

// bindSession binds sid to conn and reflects the new session in the active
// sessions gauge. Callers only reach here when sid was not already bound, so
// the gauge is never double-counted.
func (m *Manager) bindSession(conn *Connection, sid string, downstream transport.Transport) {
	conn.Bind(sid, downstream)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
}

// newConnection performs step 6: dial the upstream, send the client's
// original initialize request, and classify the result.
func (m *Manager) newConnection(ctx context.Context, sid string, request *jsonrpc.Request) (*Connection, error) {
	conn := NewConnection(sid, nil)
	client, err := m.dial(ctx, conn)
	if err != nil {
		conn.markState(StateError)
		return nil, fmt.Errorf("failed to dial upstream: %w", err)
	}
	conn.Client = client

	initResp, err := client.Send(ctx, request)
	if err != nil {
		_ = client.Close()
		conn.markState(StateError)
		return nil, fmt.Errorf("upstream initialize failed: %w", err)
	}

	if initResp.Error != nil && isAlreadyInitializedError(initResp.Error) {
		conn.ID = GlobalConnectionID
		conn.IsGlobal = true
		conn.Capabilities = bridge.DefaultCapabilities()
		conn.SetBridge(m.newBridge(conn))
		conn.initResult = mustMarshalInitializeResult("", conn.Capabilities)
		conn.markState(StateConnected)
		return conn, nil
	}

	if initResp.Error != nil {
		_ = client.Close()
		conn.markState(StateError)
		conn.initError = initResp.Error
		return conn, nil
	}

	result, err := jsonrpc.DecodeInitializeResult(initResp.Result)
	if err != nil {
		_ = client.Close()
		conn.markState(StateError)
		return nil, fmt.Errorf("malformed upstream initialize result: %w", err)
	}
	caps := &mcp.ServerCapabilities{}
	if len(result.Capabilities) > 0 {
		if err := json.Unmarshal(result.Capabilities, caps); err != nil {
			_ = client.Close()
			conn.markState(StateError)
			return nil, fmt.Errorf("malformed upstream capabilities: %w", err)
		}
	}
	conn.Capabilities = caps
	conn.ProtocolVersion = result.ProtocolVersion
	conn.SetBridge(m.newBridge(conn))
	conn.initResult = initResp.Result
	conn.markState(StateConnected)
	return conn, nil
}

// newBridge builds the Bridge for a newly established connection, wiring in
// the Manager's metrics registry if one was configured via WithMetrics.
func (m *Manager) newBridge(conn *Connection) *bridge.Bridge {
	if m.metrics == nil {
		return bridge.New(conn.Client, conn.Capabilities, m.logger)
	}
	return bridge.New(conn.Client, conn.Capabilities, m.logger, bridge.WithMetrics(m.metrics, "proxy"))
}

// dispatch implements subsequent-request handling.
func (m *Manager) dispatch(ctx context.Context, sid string, request *jsonrpc.Request, response *jsonrpc.Response) {
	conn := m.connectionFor(ctx, sid)
	if conn == nil {
		response.Error = jsonrpc.NewSessionError("Session not found")
		return
	}
	if !conn.Validate() {
		m.cleanupConnection(conn.ID)
		response.Error = jsonrpc.NewSessionError("Connection lost, please reinitialize")
		return
	}
	conn.Touch()
	conn.GetBridge().Serve(ctx, request, response)
}

func (m *Manager) relayClientNotification(ctx context.Context, sid string, notification *jsonrpc.Notification) {
	conn := m.connectionFor(ctx, sid)
	if conn == nil {
		return
	}
	if b := conn.GetBridge(); b != nil {
		b.OnNotification(ctx, notification)
	}
}

func (m *Manager) onSessionClosed(sid string) {
	connID, ok, _ := m.directory.Get(context.Background(), sid)
	if !ok {
		return
	}
	_ = m.directory.Delete(context.Background(), sid)
	m.mu.Lock()
	conn, ok := m.connections[connID]
	m.mu.Unlock()
	if !ok {
		return
	}
	empty := conn.Unbind(sid)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	if empty {
		conn.markState(StateDisconnected)
	}
}

func (m *Manager) acquireInitializing(sid string) (owns bool, done chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, inFlight := m.initializing[sid]; inFlight {
		return false, ch
	}
	ch := make(chan struct{})
	m.initializing[sid] = ch
	return true, ch
}

func (m *Manager) releaseInitializing(sid string, done chan struct{}) {
	m.mu.Lock()
	delete(m.initializing, sid)
	m.mu.Unlock()
	close(done)
}

func (m *Manager) connectionFor(ctx context.Context, sid string) *Connection {
	connID, ok, err := m.directory.Get(ctx, sid)
	if err != nil || !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[connID]
}

func (m *Manager) globalConnection() *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[GlobalConnectionID]
}

func (m *Manager) mapSession(ctx context.Context, sid, connID string) {
	_ = m.directory.Put(ctx, sid, connID)
}

// cleanupConnection removes every session bound to connectionId from the
// directory, closes the client transport (errors logged, not propagated) and
// deletes the connection entry.
func (m *Manager) cleanupConnection(connectionID string) {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if ok {
		delete(m.connections, connectionID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	conn.markState(StateDisconnected)
	ctx := context.Background()
	sids := conn.SessionIDs()
	for _, sid := range sids {
		_ = m.directory.Delete(ctx, sid)
	}
	if conn.Client != nil {
		if err := conn.Client.Close(); err != nil {
			m.logger.Errorf("closing upstream connection %s: %v", connectionID, err)
		}
	}
	if m.metrics != nil {
		m.metrics.ActiveConnections.Dec()
		m.metrics.ActiveSessions.Sub(float64(len(sids)))
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var stale []string
	for id, conn := range m.connections {
		if conn.SessionCount() == 0 && conn.idleSince(now) > m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.cleanupConnection(id)
	}
}

// isAlreadyInitializedError reports whether err is the upstream's way of
// saying it refuses a second initialize: its message contains "already
// initialized", compared case-insensitively. Centralized here so every promotion-to-global
// decision site agrees on the same predicate.
func isAlreadyInitializedError(err *jsonrpc.Error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Message), "already initialized")
}

func mustMarshalInitializeResult(protocolVersion string, caps *mcp.ServerCapabilities) json.RawMessage {
	capsData, _ := json.Marshal(caps)
	data, _ := json.Marshal(jsonrpc.InitializeResult{ProtocolVersion: protocolVersion, Capabilities: capsData})
	return data
}

var _ transport.NewHandler = (&Manager{}).NewHandler
