package sessionmux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *recordingTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, frame)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func newTestDispatcher() *ws.Dispatcher {
	d := ws.NewDispatcher()
	d.RegisterFunc("ping", func(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]string{"pong": "ok"})
	})
	return d
}

func TestDuplicateRequestIDRejected(t *testing.T) {
	tr := &recordingTransport{}
	s := New(context.Background(), "sess-1", newTestDispatcher(), tr, logger.Default())

	req, err := ws.NewRequest("req-1", "ping", nil)
	require.NoError(t, err)
	frame, err := encodeFrame(req)
	require.NoError(t, err)

	s.HandleInbound(context.Background(), frame)
	s.HandleInbound(context.Background(), frame)

	require.Eventually(t, func() bool { return tr.count() >= 2 }, time.Second, 10*time.Millisecond)

	var sawDup bool
	tr.mu.Lock()
	for _, f := range tr.frames {
		var msg ws.Message
		require.NoError(t, decodeJSON(f, &msg))
		if msg.Type == ws.MessageTypeError {
			var payload ws.ErrorPayload
			require.NoError(t, msg.ParsePayload(&payload))
			if payload.Code == ErrorCodeDuplicateRequestID {
				sawDup = true
			}
		}
	}
	tr.mu.Unlock()
	assert.True(t, sawDup)
}

func TestPublishEventPausesOnFullBuffer(t *testing.T) {
	tr := &recordingTransport{}
	s := New(context.Background(), "sess-1", newTestDispatcher(), tr, logger.Default())

	notif, err := ws.NewNotification("agent_state", map[string]string{"x": "y"})
	require.NoError(t, err)

	for i := 0; i < OutboundHighWaterMark+10; i++ {
		s.PublishEvent(notif)
	}

	assert.True(t, s.IsFanoutPaused())
}

func TestCloseCancelsContext(t *testing.T) {
	tr := &recordingTransport{}
	s := New(context.Background(), "sess-1", newTestDispatcher(), tr, logger.Default())
	s.Close()

	select {
	case <-s.Context().Done():
	default:
		t.Fatal("expected session context to be cancelled on Close")
	}
}
