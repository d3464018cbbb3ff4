package base

import (
	"encoding/json"

	"github.com/viant/mcpproxy"
)

// MessageType classifies a raw server-transport envelope: a request carries
// an id and a method, a notification carries neither an id, and an envelope
// with an id but no method is already a Response from the client (rare, but
// some MCP clients echo error responses back on cancellation).
func MessageType(data []byte) jsonrpc.MessageType {
	probe := &probe{}
	_ = json.Unmarshal(data, probe)
	if probe.Id == nil {
		return jsonrpc.MessageTypeNotification
	}
	if probe.Method != "" {
		return jsonrpc.MessageTypeRequest
	}
	return jsonrpc.MessageTypeResponse
}

type probe struct {
	Id     jsonrpc.RequestId `json:"id"`
	Method string            `json:"method" yaml:"method"`
}
