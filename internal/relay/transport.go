package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// upgrader mirrors the teacher's gateway upgrader: permissive origin check
// (the relay has no notion of browser origins; pairing-time auth happens at
// the session-multiplexer layer above it), fixed buffer sizes.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ServeDaemon upgrades an incoming HTTP request to a websocket and wires it as
// the daemon side of sessionID (REGISTER sessionId, spec §6).
func (s *Server) ServeDaemon(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("daemon upgrade failed", zap.Error(err))
		return
	}
	side := s.RegisterDaemon(sessionID)
	s.pump(conn, side, func(frame []byte) {
		s.ForwardFromDaemon(sessionID, frame)
	}, func() {
		s.DetachDaemon(sessionID, side)
	})
}

// ServeClient upgrades an incoming HTTP request to a websocket and attaches
// it as a client side of sessionID (JOIN sessionId, spec §6).
func (s *Server) ServeClient(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("client upgrade failed", zap.Error(err))
		return
	}
	clientID := uuid.NewString()
	side, ok := s.AttachClient(sessionID, clientID)
	if !ok {
		closeWithReason(conn, CloseInvalidSession)
		_ = conn.Close()
		return
	}
	s.pump(conn, side, func(frame []byte) {
		s.ForwardFromClient(sessionID, frame)
	}, func() {
		s.DetachClient(sessionID, clientID)
	})
}

// pump runs the read and write loops for one side of a session until the
// connection closes or the side is closed from the server side.
func (s *Server) pump(conn *websocket.Conn, side *Side, onFrame func(frame []byte), onDone func()) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 20)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			onFrame(data)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer onDone()
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-done:
			return
		case reason := <-side.Closed:
			closeWithReason(conn, reason)
			return
		case frame, ok := <-side.Out:
			if !ok {
				closeWithReason(conn, CloseInternal)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func closeWithReason(conn *websocket.Conn, reason CloseReason) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason))
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
}
