package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantType  MessageType
		wantError bool
	}{
		{
			name:     "request",
			data:     `{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{}}`,
			wantType: MessageTypeRequest,
		},
		{
			name:     "notification",
			data:     `{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			wantType: MessageTypeNotification,
		},
		{
			name:     "response",
			data:     `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`,
			wantType: MessageTypeResponse,
		},
		{
			name:     "error response",
			data:     `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`,
			wantType: MessageTypeResponse,
		},
		{
			name:      "malformed json",
			data:      `{"jsonrpc":"2.0",`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.data))
			if tt.wantError {
				var parseErr *ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("Decode() error = %v, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if msg.Type != tt.wantType {
				t.Fatalf("Decode() type = %v, want %v", msg.Type, tt.wantType)
			}
		})
	}
}

func TestDecodeErrorResponsePreservesError(t *testing.T) {
	msg, err := Decode([]byte(`{"jsonrpc":"2.0","id":7,"error":{"code":-32602,"message":"Invalid params"}}`))
	if err != nil {
		t.Fatalf("Decode() unexpected error: %v", err)
	}
	resp := msg.JsonRpcResponse
	if resp == nil {
		t.Fatalf("Decode() JsonRpcResponse is nil")
	}
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("Decode() error = %+v, want code -32602", resp.Error)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := NewRequestMessage(&Request{
		Jsonrpc: Version,
		Method:  "tools/list",
		Id:      float64(5),
		Params:  json.RawMessage(`{}`),
	})
	data, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() unexpected error: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() unexpected error: %v", err)
	}
	if decoded.Type != MessageTypeRequest || decoded.JsonRpcRequest.Method != "tools/list" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestIsInitializeRequest(t *testing.T) {
	init := NewRequestMessage(&Request{Jsonrpc: Version, Method: MethodInitialize, Id: float64(1)})
	if !IsInitializeRequest(init) {
		t.Fatalf("IsInitializeRequest() = false, want true")
	}

	other := NewRequestMessage(&Request{Jsonrpc: Version, Method: "tools/list", Id: float64(1)})
	if IsInitializeRequest(other) {
		t.Fatalf("IsInitializeRequest() = true, want false")
	}

	notification := NewNotificationMessage(&Notification{Jsonrpc: Version, Method: MethodInitialize})
	if IsInitializeRequest(notification) {
		t.Fatalf("IsInitializeRequest() = true, want false for notification")
	}
}

func TestDecodeInitializeResult(t *testing.T) {
	raw := json.RawMessage(`{"protocolVersion":"2025-06-18","capabilities":{"tools":{}},"serverInfo":{"name":"demo"}}`)
	result, err := DecodeInitializeResult(raw)
	if err != nil {
		t.Fatalf("DecodeInitializeResult() unexpected error: %v", err)
	}
	if result.ProtocolVersion != "2025-06-18" {
		t.Fatalf("ProtocolVersion = %v, want 2025-06-18", result.ProtocolVersion)
	}
}
