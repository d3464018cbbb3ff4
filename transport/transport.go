package transport

import (
	"context"
	"github.com/viant/mcpproxy"
)

type Transport interface {
	Notifier
	Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
}
