package jsonrpc

// Version is the JSON-RPC protocol version.
const Version = "2.0"

const (
	ParseErrorCode = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// SessionError is used for session-lifecycle failures: missing session
	// header, unknown session id, or a connection that can no longer be
	// validated.
	SessionError = -32000
)
