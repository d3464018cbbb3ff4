// Package httpfront is the HTTP front end: CORS, path routing to the SSE and
// StreamableHTTP server transports, and the opaque ?target= passthrough.
package httpfront

import (
	"context"
	"net/http"

	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/transport/server/http/common"
)

// upstreamKeyType is the unexported type behind UpstreamKey so no other
// package can collide with it by constructing its own context key.
type upstreamKeyType struct{}

// UpstreamKey is the context key a Dialer can read, in dynamic-proxy mode,
// to learn the per-session upstream a client asked for via the "upstream"
// query parameter on its first request. Absent in static-upstream mode.
var UpstreamKey = upstreamKeyType{}

// Config controls routing and passthrough behavior.
type Config struct {
	// SSEEndpoint is the path the SSE server transport is mounted on.
	SSEEndpoint string
	// StreamEndpoint is the path the StreamableHTTP server transport is
	// mounted on.
	StreamEndpoint string
	// EnableProxy gates the ?target= opaque passthrough. Disabled by
	// default: it lets a caller make the proxy originate requests to an
	// arbitrary host, so an operator must opt in.
	EnableProxy bool
	// MaxPassthroughBody bounds a passthrough request body; 0 uses
	// DefaultMaxPassthroughBody.
	MaxPassthroughBody int64
	// DynamicProxy, when set, reads the "upstream" query parameter off a
	// request bound for SSEEndpoint/StreamEndpoint and stows it under
	// UpstreamKey in the request's context, so the Dialer wired up for
	// dynamic-proxy mode (no fixed upstream) can read it at initialize
	// time rather than a single, fixed-at-startup upstream.
	DynamicProxy bool
}

// DefaultSSEEndpoint and DefaultStreamEndpoint match spec.md §4.7's defaults.
const (
	DefaultSSEEndpoint    = "/sse"
	DefaultStreamEndpoint = "/mcp"
)

// Router dispatches by path to the SSE and StreamableHTTP handlers, or to
// the opaque passthrough when ?target= is present and enabled.
type Router struct {
	cfg        Config
	sse        http.Handler
	stream     http.Handler
	logger     jsonrpc.Logger
	httpClient *http.Client
}

// New builds a Router. sse and stream are the already-constructed transport
// handlers (sse.Handler, streamable.Handler); either may be nil to disable
// that surface.
func New(cfg Config, sse, stream http.Handler, logger jsonrpc.Logger) *Router {
	if cfg.SSEEndpoint == "" {
		cfg.SSEEndpoint = DefaultSSEEndpoint
	}
	if cfg.StreamEndpoint == "" {
		cfg.StreamEndpoint = DefaultStreamEndpoint
	}
	if logger == nil {
		logger = jsonrpc.DefaultLogger
	}
	return &Router{cfg: cfg, sse: sse, stream: stream, logger: logger, httpClient: http.DefaultClient}
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if target := r.URL.Query().Get("target"); target != "" {
		if !rt.cfg.EnableProxy {
			http.Error(w, "target passthrough disabled", http.StatusForbidden)
			return
		}
		rt.logf("passthrough %s %s from %s", r.Method, target, common.ClientHost(r))
		rt.passthrough(w, r, target)
		return
	}

	if rt.cfg.DynamicProxy {
		if upstream := r.URL.Query().Get("upstream"); upstream != "" {
			r = r.WithContext(context.WithValue(r.Context(), UpstreamKey, upstream))
		}
	}

	switch r.URL.Path {
	case rt.cfg.SSEEndpoint:
		if rt.sse == nil {
			http.NotFound(w, r)
			return
		}
		rt.sse.ServeHTTP(w, r)
	case rt.cfg.StreamEndpoint:
		if rt.stream == nil {
			http.NotFound(w, r)
			return
		}
		rt.stream.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}
