package jsonrpc

// sessionKeyType is a private type to avoid context key collisions.
type sessionKeyType struct{}

// SessionKey is the context.Value key under which the active session (as
// carried by a server or client transport) is stored for the duration of a
// single request/notification handling call.
var SessionKey = sessionKeyType{}

// Listener observes every Message a transport sends or receives, regardless
// of direction. It is intended for diagnostics (capturing traffic for a
// proxy bridge, tests, audit logging) and must not mutate the message.
type Listener func(message *Message)

// AsRequestIntId attempts to interpret a RequestId as an integer, the form
// used internally for sequence generation (session.NextRequestID). The server
// base handler also applies it to numeric client request ids to advance the
// session's id sequence; ids that are not numeric (e.g. strings or UUIDs)
// report false and are left untouched.
func AsRequestIntId(id RequestId) (int, bool) {
	switch v := id.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	}
	return 0, false
}
