// Package bridge installs the bidirectional request/notification relay
// between a client-facing server transport and the upstream client
// transport bound to a session's Connection, gated by the upstream's
// negotiated capabilities.
package bridge

import (
	"context"
	"fmt"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	jsonrpc "github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/metrics"
	"github.com/viant/mcpproxy/transport"
)

// Method names recognized by the capability table in the capability-gated
// request path (4.5). The proxy still forwards unrecognized methods opaquely
// so a pass-through call never needs a closed method universe; the table
// only governs which calls are rejected outright for a capability the
// upstream never advertised.
const (
	MethodGetPrompt           = "prompts/get"
	MethodListPrompts         = "prompts/list"
	MethodListResources       = "resources/list"
	MethodListResourceTpls    = "resources/templates/list"
	MethodReadResource        = "resources/read"
	MethodSubscribeResource   = "resources/subscribe"
	MethodUnsubscribeResource = "resources/unsubscribe"
	MethodCallTool            = "tools/call"
	MethodListTools           = "tools/list"
	MethodComplete            = "completion/complete"

	NotificationResourceUpdated = "notifications/resources/updated"
	NotificationLoggingMessage  = "notifications/message"
)

// Bridge relays JSON-RPC traffic for one session between its server
// transport and the upstream connection's client transport.
type Bridge struct {
	upstream       transport.Transport
	capabilities   *mcp.ServerCapabilities
	logger         jsonrpc.Logger
	metrics        *metrics.Registry
	transportLabel string
}

// Option configures optional Bridge behavior beyond the required
// upstream/capabilities/logger triple.
type Option func(*Bridge)

// WithMetrics attaches a metrics.Registry and the server-transport label
// ("sse", "streamable") requests through this Bridge are counted under.
func WithMetrics(reg *metrics.Registry, transportLabel string) Option {
	return func(b *Bridge) {
		b.metrics = reg
		b.transportLabel = transportLabel
	}
}

// New creates a Bridge gated by capabilities. A nil capabilities is treated
// as advertising nothing beyond the always-on `complete` method.
func New(upstream transport.Transport, capabilities *mcp.ServerCapabilities, logger jsonrpc.Logger, opts ...Option) *Bridge {
	b := &Bridge{upstream: upstream, capabilities: capabilities, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Serve implements transport.Handler: every request arriving on the
// client-facing server transport is relayed to the upstream connection
// verbatim, preserving the request id on the response (P3). A method the
// negotiated capabilities do not cover is rejected locally without
// reaching the upstream.
func (b *Bridge) Serve(ctx context.Context, request *jsonrpc.Request, response *jsonrpc.Response) {
	response.Id = request.Id
	response.Jsonrpc = jsonrpc.Version
	if b.metrics != nil {
		b.metrics.RequestsTotal.WithLabelValues(b.transportLabel, request.Method).Inc()
	}
	if !b.allowed(request.Method) {
		response.Error = jsonrpc.NewMethodNotFound(fmt.Sprintf("method %v not found", request.Method), nil)
		b.countError(response.Error)
		return
	}
	upstreamResponse, err := b.upstream.Send(ctx, request)
	if err != nil {
		b.logf("relay %s: %v", request.Method, err)
		response.Error = jsonrpc.NewInternalError(err.Error(), nil)
		b.countError(response.Error)
		return
	}
	// Pass the upstream's result/error through verbatim; only the id and
	// jsonrpc fields are the proxy's own, since ids must never be rewritten.
	response.Result = upstreamResponse.Result
	response.Error = upstreamResponse.Error
	b.countError(response.Error)
}

func (b *Bridge) countError(err *jsonrpc.Error) {
	if b.metrics == nil || err == nil {
		return
	}
	b.metrics.RequestErrors.WithLabelValues(b.transportLabel, strconv.Itoa(err.Code)).Inc()
}

// OnNotification implements transport.Handler for notifications the
// client-facing server transport received from its client. Logging
// notifications are forwarded upstream only when the upstream declared the
// logging capability; every other notification is relayed upstream as is.
// Send failures are logged rather than surfaced, since a notification has
// no response to carry an error.
func (b *Bridge) OnNotification(ctx context.Context, notification *jsonrpc.Notification) {
	switch notification.Method {
	case NotificationLoggingMessage:
		if b.hasLogging() {
			if err := b.upstream.Notify(ctx, notification); err != nil {
				b.logf("notify %s: %v", notification.Method, err)
			}
		}
	default:
		// Client-originated lifecycle notifications (e.g. notifications/initialized)
		// and anything else not in the bidirectional set are relayed opaquely;
		// the upstream is free to ignore what it doesn't recognize.
		if err := b.upstream.Notify(ctx, notification); err != nil {
			b.logf("notify %s: %v", notification.Method, err)
		}
	}
}

// RelayUpstreamNotification reports whether a notification arriving from
// the upstream (via Connection.OnNotification) should reach this session's
// client, per the capability table: resourceUpdated requires
// resources.subscribe, loggingMessage requires logging, everything else is
// relayed unconditionally (completion and future additions are not gated).
func (b *Bridge) RelayUpstreamNotification(notification *jsonrpc.Notification) bool {
	switch notification.Method {
	case NotificationResourceUpdated:
		return b.hasResourceSubscribe()
	case NotificationLoggingMessage:
		return b.hasLogging()
	default:
		return true
	}
}

func (b *Bridge) allowed(method string) bool {
	switch method {
	case MethodGetPrompt, MethodListPrompts:
		return b.capabilities != nil && b.capabilities.Prompts != nil
	case MethodListResources, MethodListResourceTpls, MethodReadResource:
		return b.capabilities != nil && b.capabilities.Resources != nil
	case MethodSubscribeResource, MethodUnsubscribeResource:
		return b.hasResourceSubscribe()
	case MethodCallTool, MethodListTools:
		return b.capabilities != nil && b.capabilities.Tools != nil
	case MethodComplete:
		return true
	default:
		// Unknown methods are forwarded opaquely (§4.1): the proxy never
		// requires a closed method universe for pass-through traffic.
		return true
	}
}

func (b *Bridge) hasResourceSubscribe() bool {
	return b.capabilities != nil && b.capabilities.Resources != nil && b.capabilities.Resources.Subscribe
}

func (b *Bridge) hasLogging() bool {
	return b.capabilities != nil && b.capabilities.Logging != nil
}

func (b *Bridge) logf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Errorf(format, args...)
	}
}

// DefaultCapabilities is the capability set assumed for a connection
// promoted to the global singleton after the upstream refused a second
// initialize (§4.6 step 6): tools, resources, prompts and logging all
// enabled with no optional sub-features, matching the teacher upstream's
// minimal default behavior.
func DefaultCapabilities() *mcp.ServerCapabilities {
	return &mcp.ServerCapabilities{
		Tools:     &mcp.ToolCapabilities{},
		Resources: &mcp.ResourceCapabilities{},
		Prompts:   &mcp.PromptCapabilities{},
		Logging:   &mcp.LoggingCapabilities{},
	}
}

var _ transport.Handler = (*Bridge)(nil)
