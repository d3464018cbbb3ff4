package transport

import (
	"context"
	"github.com/viant/mcpproxy"
)

// Notifier is the half of a transport's contract that deals with JSON-RPC
// notifications: messages that carry a method but no id and therefore never
// receive a correlated response.
type Notifier interface {
	// Notify sends a notification to the other side.
	Notify(ctx context.Context, notification *jsonrpc.Notification) error
}
