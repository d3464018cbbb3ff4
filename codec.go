package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// ParseError wraps a malformed JSON-RPC envelope. The proxy surfaces it to
// the client as a -32700 error rather than closing the transport.
type ParseError struct {
	Data []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse jsonrpc envelope: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// probe is used to classify a raw envelope without fully unmarshaling it,
// mirroring transport/base.MessageType and transport/server/base.MessageType
// in the teacher, unified here as the single Frame Codec entry point. An
// envelope with an error field is still a Response, just one whose Error is
// set instead of Result, so it needs no dedicated branch below.
type probe struct {
	Id     *RequestId `json:"id"`
	Method string     `json:"method"`
}

// Decode classifies and parses a raw JSON-RPC envelope into a Message. The
// proxy never requires a closed method universe: unknown methods still
// decode as a Request or Notification and are passed through opaquely.
func Decode(data []byte) (*Message, error) {
	p := &probe{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, &ParseError{Data: data, Err: err}
	}
	switch {
	case p.Id == nil:
		notification := &Notification{}
		if err := json.Unmarshal(data, notification); err != nil {
			return nil, &ParseError{Data: data, Err: err}
		}
		return NewNotificationMessage(notification), nil
	case p.Method != "":
		request := &Request{}
		if err := json.Unmarshal(data, request); err != nil {
			return nil, &ParseError{Data: data, Err: err}
		}
		return NewRequestMessage(request), nil
	default:
		response := &Response{}
		if err := json.Unmarshal(data, response); err != nil {
			return nil, &ParseError{Data: data, Err: err}
		}
		return NewResponseMessage(response), nil
	}
}

// Encode serializes a Message back to its wire form. Encode(Decode(x)) must
// reproduce x for all well-formed envelopes the proxy produces (§8 P5).
func Encode(message *Message) ([]byte, error) {
	return json.Marshal(message)
}

// MethodInitialize is the JSON-RPC method name the codec recognizes as the
// session handshake.
const MethodInitialize = "initialize"

// IsInitializeRequest reports whether message is an `initialize` request
// (method == "initialize" and id present), per §4.1.
func IsInitializeRequest(message *Message) bool {
	if message == nil || message.Type != MessageTypeRequest || message.JsonRpcRequest == nil {
		return false
	}
	return message.JsonRpcRequest.Method == MethodInitialize && message.JsonRpcRequest.Id != nil
}

// InitializeResult is the shape the proxy extracts from the upstream's
// initialize response body (Response.Result). Capabilities are forwarded
// verbatim; the proxy never reconstructs them field by field.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities"`
	ServerInfo      json.RawMessage `json:"serverInfo"`
}

// DecodeInitializeResult parses an initialize response's result payload.
func DecodeInitializeResult(result json.RawMessage) (*InitializeResult, error) {
	out := &InitializeResult{}
	if err := json.Unmarshal(result, out); err != nil {
		return nil, fmt.Errorf("failed to parse initialize result: %w", err)
	}
	return out, nil
}
