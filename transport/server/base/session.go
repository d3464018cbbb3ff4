package base

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/viant/mcpproxy"
	"github.com/viant/mcpproxy/eventstore"
	"github.com/viant/mcpproxy/transport"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// OverflowPolicy and its values alias eventstore's so existing call sites
// (server/http/streamable option wiring) do not need to import eventstore
// directly.
type OverflowPolicy = eventstore.OverflowPolicy

const (
	OverflowDropOldest = eventstore.OverflowDropOldest
	OverflowMark       = eventstore.OverflowMark
)

type Session struct {
	Id           string `json:"id"`
	RoundTrips   *transport.RoundTrips
	Writer       io.Writer
	Handler      transport.Handler
	framer       FrameMessage
	RequestIdSeq uint64
	bufferSize   int
	events       *eventstore.Store
	err          error
	closed       int32
	sync.Mutex
	// sse enables SSE id injection and matching replay ids
	sse bool

	// Lifecycle metadata
	CreatedAt     time.Time
	LastSeen      time.Time
	DetachedAt    *time.Time
	State         SessionState
	WriterPresent bool

	// buffer overflow handling
	overflowPolicy OverflowPolicy

	// writerGen increments on each writer (re)attachment to guard concurrent writers.
	writerGen uint64

	// closeListeners are invoked once, in registration order, when Close
	// transitions the session from open to closed. The Session Manager uses
	// this to unbind a session from its upstream Connection as soon as the
	// transport goes away, rather than waiting for the next sweep.
	closeListeners []func()
}

// OnSessionClose registers fn to run when this session closes. Safe to call
// before or after the session has already closed; a listener registered
// after closure runs immediately.
func (s *Session) OnSessionClose(fn func()) {
	s.Mutex.Lock()
	if s.IsClosed() {
		s.Mutex.Unlock()
		fn()
		return
	}
	s.closeListeners = append(s.closeListeners, fn)
	s.Mutex.Unlock()
}

// LastRequestID returns the most recently generated request id without mutating the underlying sequence.
// It is concurrency-safe and can be used to inspect the current sequence value.
func (s *Session) LastRequestID() jsonrpc.RequestId {
	return int(atomic.LoadUint64(&s.RequestIdSeq))
}

func (s *Session) NextRequestID() jsonrpc.RequestId {
	return int(atomic.AddUint64(&s.RequestIdSeq, 1))
}

// SetError sets error
func (s *Session) SetError(err error) {
	s.err = err
}

// Error returns error
func (s *Session) Error() error {
	return s.err
}

func (s *Session) frameMessage(data []byte) []byte {
	if s.framer == nil {
		return data
	}
	return s.framer(data)
}

// SendError wraps error in a Response (id null, since a parse failure means
// no request id could be recovered) and sends it.
func (s *Session) SendError(ctx context.Context, error *jsonrpc.Error) {
	s.SendResponse(ctx, &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Error: error})
}

// SendResponse sends response
func (s *Session) SendResponse(ctx context.Context, response *jsonrpc.Response) {
	if response.Error != nil {
		response.Result = nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return
	}
	s.SendData(ctx, data)
}

// SendRequest sends request
func (s *Session) SendRequest(ctx context.Context, request *jsonrpc.Request) {
	data, err := json.Marshal(request)
	if err != nil {
		fmt.Println(err)
		return
	}
	s.SendData(ctx, data)

}

func (s *Session) sendNotification(ctx context.Context, notification *jsonrpc.Notification) error {
	params, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	request := &jsonrpc.Request{
		Jsonrpc: jsonrpc.Version,
		Method:  notification.Method,
		Params:  params,
	}
	data, err := json.Marshal(request)
	if err != nil {
		return err
	}
	s.SendData(ctx, data)
	return s.err
}

// SendData sends data
func (s *Session) SendData(ctx context.Context, data []byte) {
	s.Mutex.Lock()
	defer s.Mutex.Unlock()
	s.LastSeen = time.Now()
	framed := s.frameMessage(data)
	if s.sse {
		id := atomic.AddUint64(&s.RequestIdSeq, 1)
		prefix := []byte(fmt.Sprintf("id: %d\n", id))
		full := append(prefix, framed...)
		if s.Writer != nil {
			_, err := s.Writer.Write(full)
			if err != nil {
				s.SetError(err)
			}
		}
		if s.events != nil {
			s.events.Append(id, full)
		}
		return
	}
	if s.Writer != nil {
		_, err := s.Writer.Write(framed)
		if err != nil {
			s.SetError(err)
		}
	}
	if s.events != nil {
		id := atomic.AddUint64(&s.RequestIdSeq, 1)
		s.events.Append(id, framed)
	}
}

// EventsAfter returns buffered framed messages with id greater than lastID.
func (s *Session) EventsAfter(lastID uint64) [][]byte {
	if s.events == nil {
		return nil
	}
	return s.events.Replay(lastID)
}

func NewSession(ctx context.Context, id string, writer io.Writer, newHandler transport.NewHandler, options ...Option) *Session {
	if id == "" {
		id = uuid.New().String()
	}
	ret := &Session{
		Id:            id,
		Writer:        writer,
		RoundTrips:    transport.NewRoundTrips(20),
		CreatedAt:     time.Now(),
		LastSeen:      time.Now(),
		State:         SessionStateActive,
		WriterPresent: writer != nil,
	}
	handlerCtx := context.WithValue(ctx, jsonrpc.SessionKey, ret.Id)
	ret.Handler = newHandler(handlerCtx, NewTransport(ret.RoundTrips, ret.SendData, ret))
	for _, option := range options {
		option(ret)
	}
	if ret.bufferSize > 0 {
		ret.events = eventstore.New(ret.bufferSize, ret.overflowPolicy)
	}
	return ret
}

// SessionState represents lifecycle state of a session.
type SessionState int

const (
	SessionStateActive SessionState = iota
	SessionStateDetached
	SessionStateClosed
)

// Touch updates LastSeen timestamp.
func (s *Session) Touch() {
	s.Mutex.Lock()
	s.LastSeen = time.Now()
	s.Mutex.Unlock()
}

// MarkDetached marks session as detached and records time.
func (s *Session) MarkDetached() {
	s.Mutex.Lock()
	now := time.Now()
	s.DetachedAt = &now
	s.State = SessionStateDetached
	s.WriterPresent = false
	s.Mutex.Unlock()
}

// MarkActiveWithWriter re-attaches a writer and marks session active.
func (s *Session) MarkActiveWithWriter(w io.Writer) {
	s.Mutex.Lock()
	s.Writer = w
	s.WriterPresent = w != nil
	s.State = SessionStateActive
	s.DetachedAt = nil
	s.LastSeen = time.Now()
	atomic.AddUint64(&s.writerGen, 1)
	s.Mutex.Unlock()
}

// WriterGeneration returns the current writer attachment generation.
func (s *Session) WriterGeneration() uint64 {
	return atomic.LoadUint64(&s.writerGen)
}

// Close marks the session closed. Idempotent; returns true only the first
// time it transitions from open to closed.
func (s *Session) Close() bool {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return false
	}
	s.Mutex.Lock()
	s.State = SessionStateClosed
	listeners := s.closeListeners
	s.closeListeners = nil
	s.Mutex.Unlock()
	for _, fn := range listeners {
		fn()
	}
	return true
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	return atomic.LoadInt32(&s.closed) == 1
}
