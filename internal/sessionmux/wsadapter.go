package sessionmux

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/logger"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

// upgrader mirrors the teacher's websocket gateway upgrader: permissive
// origin check (client auth happens at pairing time, not at the HTTP
// handshake), fixed buffer sizes.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512 * 1024
)

// ErrTransportClosed is returned by a Transport whose underlying connection
// has already gone away.
var ErrTransportClosed = errors.New("sessionmux: transport closed")

// connTransport adapts a gorilla/websocket connection to the Transport
// interface. Session already owns its own outbound queueing and back-
// pressure policy (Session.out, DrainLoop); this adapter only needs to
// serialize concurrent writers onto the single connection, since
// gorilla/websocket forbids concurrent writes from multiple goroutines.
type connTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (t *connTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, frame)
}

func (t *connTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

func (t *connTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// Serve upgrades an HTTP request to a websocket, wraps it in a Session, and
// runs the read pump, the session's drain loop, and a ping ticker until the
// connection closes (matching the teacher's gateway/websocket
// Client.ReadPump/WritePump timing constants).
func Serve(parent context.Context, w http.ResponseWriter, r *http.Request, sessionID string, dispatcher *ws.Dispatcher, log *logger.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("sessionmux upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	transport := &connTransport{conn: conn}
	session := New(parent, sessionID, dispatcher, transport, log)
	defer func() {
		transport.markClosed()
		session.Close()
	}()

	go session.DrainLoop(session.Context())

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			session.HandleInbound(session.Context(), data)
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-session.Context().Done():
			return
		case <-ticker.C:
			if err := transport.ping(); err != nil {
				return
			}
		}
	}
}
