package sessionmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/transport"
	"go.uber.org/goleak"
)

// fakeClientTransport is a minimal ClientTransport double standing in for
// the upstream Subprocess/Remote Streamable HTTP transports.
type fakeClientTransport struct {
	mu          sync.Mutex
	initResult  string
	initErr     *jsonrpc.Error
	sendErr     error
	closed      bool
	closeFn     transport.CloseHandler
	errorFn     transport.ErrorHandler
	sendCount   int
	lastRequest *jsonrpc.Request
}

func (f *fakeClientTransport) Send(_ context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCount++
	f.lastRequest = request
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	resp := &jsonrpc.Response{Id: request.Id, Jsonrpc: jsonrpc.Version}
	if f.initErr != nil {
		resp.Error = f.initErr
	} else {
		resp.Result = []byte(f.initResult)
	}
	return resp, nil
}

func (f *fakeClientTransport) Notify(_ context.Context, _ *jsonrpc.Notification) error { return nil }
func (f *fakeClientTransport) OnClose(fn transport.CloseHandler)                       { f.closeFn = fn }
func (f *fakeClientTransport) OnError(fn transport.ErrorHandler)                       { f.errorFn = fn }
func (f *fakeClientTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// fakeDownstream is a minimal transport.Transport standing in for a
// session's server-side transport (what downstream pushes go through).
type fakeDownstream struct{}

func (fakeDownstream) Send(_ context.Context, _ *jsonrpc.Request) (*jsonrpc.Response, error) {
	return &jsonrpc.Response{}, nil
}
func (fakeDownstream) Notify(_ context.Context, _ *jsonrpc.Notification) error { return nil }

const fakeCapsResult = `{"protocolVersion":"2025-03-26","capabilities":{"tools":{}},"serverInfo":{"name":"fake"}}`

func newTestManager(t *testing.T, dial Dialer) *Manager {
	m := New(dial, WithSweepInterval(time.Hour))
	t.Cleanup(m.Stop)
	return m
}

func initializeRequest(id interface{}) *jsonrpc.Request {
	return &jsonrpc.Request{Id: id, Jsonrpc: jsonrpc.Version, Method: jsonrpc.MethodInitialize}
}

func TestManager_NewConnectionPath(t *testing.T) {
	upstream := &fakeClientTransport{initResult: fakeCapsResult}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-1")
	h := m.NewHandler(ctx, fakeDownstream{})

	response := &jsonrpc.Response{}
	h.Serve(ctx, initializeRequest(1), response)

	assert.Nil(t, response.Error)
	assert.NotNil(t, response.Result)
	assert.Equal(t, 1, upstream.sendCount)

	conn := m.connectionFor(ctx, "sess-1")
	if assert.NotNil(t, conn) {
		assert.Equal(t, "sess-1", conn.ID)
		assert.True(t, conn.Validate())
	}
}

func TestManager_ReinitializeSameSessionDoesNotHitUpstreamTwice(t *testing.T) {
	upstream := &fakeClientTransport{initResult: fakeCapsResult}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-1")
	h := m.NewHandler(ctx, fakeDownstream{})

	first := &jsonrpc.Response{}
	h.Serve(ctx, initializeRequest(1), first)
	second := &jsonrpc.Response{}
	h.Serve(ctx, initializeRequest(2), second)

	assert.Equal(t, 1, upstream.sendCount)
	assert.Equal(t, first.Result, second.Result)
}

func TestManager_GlobalPromotionOnAlreadyInitialized(t *testing.T) {
	upstream := &fakeClientTransport{initErr: &jsonrpc.Error{Code: -32600, Message: "Server already initialized"}}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx1 := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-a")
	h1 := m.NewHandler(ctx1, fakeDownstream{})
	resp1 := &jsonrpc.Response{}
	h1.Serve(ctx1, initializeRequest(1), resp1)
	assert.Nil(t, resp1.Error)

	conn := m.connectionFor(ctx1, "sess-a")
	if assert.NotNil(t, conn) {
		assert.True(t, conn.IsGlobal)
		assert.Equal(t, GlobalConnectionID, conn.ID)
	}

	// A second session's initialize should bind to the same global
	// connection without another upstream Send.
	ctx2 := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-b")
	h2 := m.NewHandler(ctx2, fakeDownstream{})
	resp2 := &jsonrpc.Response{}
	h2.Serve(ctx2, initializeRequest(1), resp2)
	assert.Nil(t, resp2.Error)

	conn2 := m.connectionFor(ctx2, "sess-b")
	assert.Same(t, conn, conn2)
	assert.Equal(t, 2, conn.SessionCount())
}

func TestManager_StructuredInitErrorDoesNotRegisterConnection(t *testing.T) {
	upstream := &fakeClientTransport{initErr: &jsonrpc.Error{Code: -32602, Message: "invalid params"}}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-1")
	h := m.NewHandler(ctx, fakeDownstream{})
	response := &jsonrpc.Response{}
	h.Serve(ctx, initializeRequest(1), response)

	if assert.NotNil(t, response.Error) {
		assert.Equal(t, -32602, response.Error.Code)
	}
	assert.Nil(t, m.connectionFor(ctx, "sess-1"))
	assert.True(t, upstream.closed)
}

func TestManager_DispatchUnknownSession(t *testing.T) {
	upstream := &fakeClientTransport{initResult: fakeCapsResult}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "ghost")
	h := m.NewHandler(ctx, fakeDownstream{})
	response := &jsonrpc.Response{}
	h.Serve(ctx, &jsonrpc.Request{Id: 1, Jsonrpc: jsonrpc.Version, Method: "tools/list"}, response)

	if assert.NotNil(t, response.Error) {
		assert.Equal(t, jsonrpc.SessionError, response.Error.Code)
	}
}

func TestManager_DispatchAfterInitializeRelaysThroughBridge(t *testing.T) {
	upstream := &fakeClientTransport{initResult: fakeCapsResult}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-1")
	h := m.NewHandler(ctx, fakeDownstream{})
	h.Serve(ctx, initializeRequest(1), &jsonrpc.Response{})

	upstream.initResult = `{"tools":[]}`
	response := &jsonrpc.Response{}
	h.Serve(ctx, &jsonrpc.Request{Id: 2, Jsonrpc: jsonrpc.Version, Method: "tools/list"}, response)

	assert.Nil(t, response.Error)
	assert.Equal(t, 2, upstream.sendCount)
}

func TestManager_CleanupConnectionClosesUpstream(t *testing.T) {
	upstream := &fakeClientTransport{initResult: fakeCapsResult}
	dial := func(_ context.Context, _ transport.Handler) (ClientTransport, error) { return upstream, nil }
	m := newTestManager(t, dial)

	ctx := context.WithValue(context.Background(), jsonrpc.SessionKey, "sess-1")
	h := m.NewHandler(ctx, fakeDownstream{})
	h.Serve(ctx, initializeRequest(1), &jsonrpc.Response{})

	m.cleanupConnection("sess-1")

	upstream.mu.Lock()
	closed := upstream.closed
	upstream.mu.Unlock()
	assert.True(t, closed)
	assert.Nil(t, m.connectionFor(ctx, "sess-1"))
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
