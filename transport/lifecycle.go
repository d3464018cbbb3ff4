package transport

// CloseHandler is invoked once when a transport's underlying connection goes
// away: a subprocess exits, an HTTP stream ends, or Close is called
// explicitly. Implementations must call it at most once.
type CloseHandler func()

// ErrorHandler is invoked when a transport observes an asynchronous I/O
// failure that is not tied to any in-flight request (e.g. the upstream
// connection dropped while idle).
type ErrorHandler func(err error)

// Lifecycle is implemented by every Client Transport (§4.3) and Server
// Transport (§4.4) variant. Close is idempotent: calling it more than once
// must not panic or double-invoke the registered close handler.
type Lifecycle interface {
	// OnClose registers fn to run when the transport closes. Only the last
	// registration wins; transports in this package only ever need one.
	OnClose(fn CloseHandler)
	// OnError registers fn to run on asynchronous transport errors.
	OnError(fn ErrorHandler)
	// Close tears the transport down. Safe to call multiple times.
	Close() error
}
