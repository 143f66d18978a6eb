// Package relay implements the store-and-forward relay used by the connection
// substrate when a client cannot reach the daemon directly. The relay hosts
// named sessions; each session has exactly one daemon side and zero-or-more
// client sides. Frames are forwarded opaquely: the relay never inspects them.
package relay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

// CloseReason is an application-level close reason sent on the relay
// transport's close frame (spec §6: "application close reasons carry
// invalid_session | session_replaced | backpressure_exceeded | internal").
type CloseReason string

const (
	CloseInvalidSession      CloseReason = "invalid_session"
	CloseSessionReplaced     CloseReason = "session_replaced"
	CloseBackpressureExceeded CloseReason = "backpressure_exceeded"
	CloseInternal            CloseReason = "internal"
)

// DefaultIdleTTL is the default time a session with zero clients and no
// daemon traffic is kept alive before being garbage-collected (spec §4.1.3).
const DefaultIdleTTL = 60 * time.Second

// DefaultHighWaterMark bounds the number of queued outbound frames per side
// before that side is treated as persistently slow and closed.
const DefaultHighWaterMark = 256

// Side is one forwarding endpoint of a session: either the daemon side or one
// client side. Transport adapters (e.g. a gorilla/websocket connection) drain
// Out and feed In.
type Side struct {
	ID  string
	Out chan []byte
	// Closed signals the transport adapter to tear down the underlying
	// connection; Reason explains why.
	Closed chan CloseReason

	closeOnce sync.Once
}

func newSide(id string, bufferSize int) *Side {
	return &Side{
		ID:     id,
		Out:    make(chan []byte, bufferSize),
		Closed: make(chan CloseReason, 1),
	}
}

func (s *Side) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.Closed <- reason
		close(s.Closed)
	})
}

// Session is a named forwarding pipe: one daemon side, N client sides.
type Session struct {
	ID string

	mu          sync.Mutex
	daemon      *Side
	clients     map[string]*Side
	lastTraffic time.Time
}

// Server hosts relay sessions.
type Server struct {
	log           *logger.Logger
	idleTTL       time.Duration
	highWaterMark int

	mu       sync.RWMutex
	sessions map[string]*Session

	stopGC chan struct{}
}

// NewServer constructs a relay server. idleTTL and highWaterMark fall back to
// DefaultIdleTTL / DefaultHighWaterMark when zero.
func NewServer(log *logger.Logger, idleTTL time.Duration, highWaterMark int) *Server {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &Server{
		log:           log.WithFields(zap.String("component", "relay")),
		idleTTL:       idleTTL,
		highWaterMark: highWaterMark,
		sessions:      make(map[string]*Session),
		stopGC:        make(chan struct{}),
	}
}

// RunGC starts the idle-session reaper; it returns when ctx is cancelled.
func (s *Server) RunGC(ctx context.Context) {
	ticker := time.NewTicker(s.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapIdle()
		}
	}
}

func (s *Server) reapIdle() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.daemon == nil && len(sess.clients) == 0 && now.Sub(sess.lastTraffic) > s.idleTTL
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			s.log.Debug("relay session reaped", zap.String("session_id", id))
		}
	}
}

func (s *Server) getOrCreateSession(sessionID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, clients: make(map[string]*Side), lastTraffic: time.Now()}
		s.sessions[sessionID] = sess
	}
	return sess
}

// RegisterDaemon attaches the daemon side of sessionID. If another daemon is
// already registered, its side is closed with CloseSessionReplaced (spec
// §4.1.3).
func (s *Server) RegisterDaemon(sessionID string) *Side {
	sess := s.getOrCreateSession(sessionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.daemon != nil {
		sess.daemon.close(CloseSessionReplaced)
	}
	side := newSide("daemon", s.highWaterMark)
	sess.daemon = side
	sess.lastTraffic = time.Now()
	s.log.Info("daemon registered", zap.String("session_id", sessionID))
	return side
}

// AttachClient attaches a new client side of sessionID by ephemeral clientID.
// Returns (nil, false) if no daemon is currently registered (spec §4.1.3:
// "the relay rejects attachment if no daemon is registered").
func (s *Server) AttachClient(sessionID, clientID string) (*Side, bool) {
	sess := s.getOrCreateSession(sessionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.daemon == nil {
		return nil, false
	}
	side := newSide(clientID, s.highWaterMark)
	sess.clients[clientID] = side
	sess.lastTraffic = time.Now()
	s.log.Info("client attached", zap.String("session_id", sessionID), zap.String("client_id", clientID))
	return side, true
}

// DetachClient removes a client side.
func (s *Server) DetachClient(sessionID, clientID string) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	delete(sess.clients, clientID)
	sess.lastTraffic = time.Now()
	sess.mu.Unlock()
}

// DetachDaemon clears the daemon side, if side is still the registered one
// (a replaced daemon calling DetachDaemon after losing the race must not
// clobber the new registration).
func (s *Server) DetachDaemon(sessionID string, side *Side) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	if sess.daemon == side {
		sess.daemon = nil
	}
	sess.lastTraffic = time.Now()
	sess.mu.Unlock()
}

// ForwardFromDaemon broadcasts a frame from the daemon side to every attached
// client side. Slow clients are closed with CloseBackpressureExceeded rather
// than allowed to accumulate unbounded memory.
func (s *Server) ForwardFromDaemon(sessionID string, frame []byte) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.lastTraffic = time.Now()
	targets := make([]*Side, 0, len(sess.clients))
	for _, c := range sess.clients {
		targets = append(targets, c)
	}
	sess.mu.Unlock()

	for _, c := range targets {
		select {
		case c.Out <- frame:
		default:
			c.close(CloseBackpressureExceeded)
			s.DetachClient(sessionID, c.ID)
		}
	}
}

// ForwardFromClient forwards a frame from a client side to the daemon side.
// Tagging the frame with the client's ephemeral id so the daemon can
// demultiplex replies is the session multiplexer's job, not this package's:
// the relay only moves opaque bytes.
func (s *Server) ForwardFromClient(sessionID string, frame []byte) bool {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	sess.mu.Lock()
	sess.lastTraffic = time.Now()
	daemon := sess.daemon
	sess.mu.Unlock()

	if daemon == nil {
		return false
	}

	select {
	case daemon.Out <- frame:
		return true
	default:
		daemon.close(CloseBackpressureExceeded)
		s.DetachDaemon(sessionID, daemon)
		return false
	}
}

// SessionCount reports the number of live sessions, for health/diagnostics.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
