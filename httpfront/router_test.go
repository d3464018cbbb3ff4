package httpfront

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func handlerStamp(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func TestRouter_RoutesByPath(t *testing.T) {
	rt := New(Config{SSEEndpoint: "/sse", StreamEndpoint: "/mcp"}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	assert.Equal(t, "sse", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	assert.Equal(t, "mcp", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_OptionsShortCircuitsWithCORS(t *testing.T) {
	rt := New(Config{}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodOptions, "/sse", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRouter_NoOriginHeaderSkipsCORS(t *testing.T) {
	rt := New(Config{}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_TargetPassthroughDisabledByDefault(t *testing.T) {
	rt := New(Config{}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sse?target=https://upstream.example.com/thing", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_TargetPassthroughRelaysWhenEnabled(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("relayed"))
	}))
	defer upstream.Close()

	rt := New(Config{EnableProxy: true}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/?target="+upstream.URL, nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "relayed", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
}

func TestRouter_DynamicProxyInjectsUpstreamIntoContext(t *testing.T) {
	var seen interface{}
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context().Value(UpstreamKey)
		w.WriteHeader(http.StatusOK)
	})
	rt := New(Config{SSEEndpoint: "/sse", DynamicProxy: true}, sseHandler, handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sse?upstream=python%20server.py", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, "python server.py", seen)
}

func TestRouter_StaticModeIgnoresUpstreamParam(t *testing.T) {
	var seen interface{}
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context().Value(UpstreamKey)
		w.WriteHeader(http.StatusOK)
	})
	rt := New(Config{SSEEndpoint: "/sse"}, sseHandler, handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/sse?upstream=python%20server.py", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Nil(t, seen)
}

func TestRouter_TargetPassthroughRejectsInvalidURL(t *testing.T) {
	rt := New(Config{EnableProxy: true}, handlerStamp("sse"), handlerStamp("mcp"), nil)

	req := httptest.NewRequest(http.MethodGet, "/?target=not-a-url", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
