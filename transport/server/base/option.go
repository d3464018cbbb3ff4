package base

import "github.com/viant/mcpproxy/eventstore"

// Option represents option
type Option func(s *Session)

func WithFramer(framer FrameMessage) Option {
	return func(s *Session) {
		s.framer = framer
	}
}

// WithBufferSize enables event replay buffering with the given capacity.
// A size <= 0 leaves buffering disabled (EventsAfter always returns nil).
func WithBufferSize(size int) Option {
	return func(s *Session) {
		s.bufferSize = size
	}
}

// WithOverflowPolicy sets the event buffer overflow policy. Only takes
// effect when combined with WithBufferSize.
func WithOverflowPolicy(policy OverflowPolicy) Option {
	return func(s *Session) {
		s.overflowPolicy = policy
	}
}

// WithEventBuffer enables event replay buffering with the given capacity,
// applying immediately rather than waiting for NewSession's option pass.
// Used where a session's buffering is turned on after construction (e.g.
// once a GET stream attaches and resumability becomes relevant).
func WithEventBuffer(size int) Option {
	return func(s *Session) {
		s.bufferSize = size
		if size > 0 && s.events == nil {
			s.events = eventstore.New(size, s.overflowPolicy)
		}
	}
}

// WithSSE enables SSE "id: N" prefixing on every sent frame.
func WithSSE() Option {
	return func(s *Session) {
		s.sse = true
	}
}
