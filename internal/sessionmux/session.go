// Package sessionmux implements the per-client session multiplexer (spec
// §4.2): one instance per connected client, dispatching framed request/
// response and streaming verbs, enforcing at-most-one response per
// requestId, and pausing agent-event fan-out (never request replies) when
// its outbound buffer crosses the high-water mark.
package sessionmux

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/logger"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

// OutboundHighWaterMark is the default bound on the outbound frame buffer
// before agent-stream fan-out is paused for this session (spec §4.2.1, §5).
const OutboundHighWaterMark = 256

// Transport is the minimal interface a session needs from its underlying
// channel: a direct websocket connection or a relay Channel both satisfy it
// once adapted.
type Transport interface {
	Send(frame []byte) error
}

// Session owns one client's inbound/outbound framed message stream.
type Session struct {
	ID     string
	log    *logger.Logger
	dispatcher *ws.Dispatcher
	transport  Transport

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	seenRequests map[string]struct{}

	out        chan []byte
	fanoutPaused atomic.Bool

	subMu         sync.Mutex
	subscriptions map[string]struct{} // filter keys this session is subscribed to

	closeOnce sync.Once
}

// New creates a Session bound to a parent context; Session.Close or parent
// cancellation tears down all in-flight work this session owns (spec §4.2.1:
// "Session close cancels all in-flight work it owns").
func New(parent context.Context, id string, dispatcher *ws.Dispatcher, transport Transport, log *logger.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:           id,
		log:          log.WithFields(zap.String("session_id", id)),
		dispatcher:   dispatcher,
		transport:    transport,
		ctx:          ctx,
		cancel:       cancel,
		seenRequests: make(map[string]struct{}),
		out:          make(chan []byte, OutboundHighWaterMark),
		subscriptions: make(map[string]struct{}),
	}
	return s
}

// Context returns the session's cancellation scope, which every request
// handler this session starts should derive from (spec §5).
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close cancels the session scope and is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.out)
	})
}

// HandleInbound parses and dispatches one inbound frame. Request-shaped
// messages with a duplicate requestId are rejected rather than silently
// ignored (spec §4.2.1 invariant).
func (s *Session) HandleInbound(ctx context.Context, frame []byte) {
	msg, err := parseFrame(frame)
	if err != nil {
		s.log.Warn("dropping unparseable frame", zap.Error(err))
		return
	}

	if msg.ID != "" {
		s.mu.Lock()
		_, dup := s.seenRequests[msg.ID]
		if !dup {
			s.seenRequests[msg.ID] = struct{}{}
		}
		s.mu.Unlock()
		if dup {
			resp, _ := ws.NewError(msg.ID, msg.Action, ErrorCodeDuplicateRequestID,
				"duplicate requestId", nil)
			s.sendResponse(resp)
			return
		}
	}

	go s.dispatchAndRespond(withSession(ctx, s), msg)
}

type sessionCtxKey struct{}

func withSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// FromContext returns the Session that dispatched the in-flight request, if
// any. Handlers that need to subscribe this connection to fan-out updates
// (subscribe_agent_updates) or push a notification outside the
// request/response cycle use this instead of threading Session through every
// handler signature.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok
}

// ErrorCodeDuplicateRequestID is the wire error code for a reused requestId
// (spec §4.2.1, §8).
const ErrorCodeDuplicateRequestID = "duplicate_request_id"

func (s *Session) dispatchAndRespond(ctx context.Context, msg *ws.Message) {
	resp, err := s.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		s.log.Error("handler error", zap.String("action", msg.Action), zap.Error(err))
		resp, _ = ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
	}
	if resp != nil {
		s.sendResponse(resp)
	}
}

// sendResponse always delivers request/response traffic, even while fan-out
// is paused (spec §4.2.1: "pauses subscription fan-out, not individual
// request replies").
func (s *Session) sendResponse(msg *ws.Message) {
	data, err := encodeFrame(msg)
	if err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
		return
	}
	s.writeDirect(data)
}

// writeDirect writes straight to the transport, bypassing the fan-out queue
// and its pause state.
func (s *Session) writeDirect(data []byte) {
	if err := s.transport.Send(data); err != nil {
		s.log.Debug("transport send failed", zap.Error(err))
	}
}

// Subscribe records interest in a filter key used by agent-event fan-out.
func (s *Session) Subscribe(filterKey string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscriptions[filterKey] = struct{}{}
}

// Unsubscribe removes interest in a filter key.
func (s *Session) Unsubscribe(filterKey string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	delete(s.subscriptions, filterKey)
}

// IsSubscribed reports whether this session is subscribed to filterKey.
func (s *Session) IsSubscribed(filterKey string) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	_, ok := s.subscriptions[filterKey]
	return ok
}

// PublishEvent delivers a fan-out notification (e.g. an agent stream event)
// to this session's outbound queue. It never blocks: if the queue is full
// the session enters (or stays in) the paused state and the event is
// dropped for this session, matching the documented back-pressure policy
// (spec §4.2.1, §5) where the manager never blocks on a slow subscriber. The
// caller is the agent manager's fan-out, which should filter by
// IsSubscribed/IsFanoutPaused before calling.
func (s *Session) PublishEvent(msg *ws.Message) {
	if s.IsFanoutPaused() {
		return
	}
	data, err := encodeFrame(msg)
	if err != nil {
		s.log.Error("failed to encode event", zap.Error(err))
		return
	}
	select {
	case s.out <- data:
	default:
		s.fanoutPaused.Store(true)
		s.log.Warn("outbound buffer full, pausing fan-out for this session")
	}
}

// IsFanoutPaused reports whether event fan-out is currently paused for this
// session due to back-pressure.
func (s *Session) IsFanoutPaused() bool {
	return s.fanoutPaused.Load()
}

// DrainLoop writes queued fan-out frames to the transport until the queue
// empties, then clears the paused flag, resuming fan-out (spec §4.2.1:
// "resumes when drained"). Run this in its own goroutine per session.
func (s *Session) DrainLoop(ctx context.Context) {
	for {
		select {
		case data, ok := <-s.out:
			if !ok {
				return
			}
			s.writeDirect(data)
			if len(s.out) == 0 {
				s.fanoutPaused.Store(false)
			}
		case <-ctx.Done():
			return
		}
	}
}

func parseFrame(frame []byte) (*ws.Message, error) {
	var msg ws.Message
	if err := decodeJSON(frame, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func encodeFrame(msg *ws.Message) ([]byte, error) {
	return encodeJSON(msg)
}
