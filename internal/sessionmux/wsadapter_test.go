package sessionmux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

func TestServeRoundTripsPingRequest(t *testing.T) {
	dispatcher := newTestDispatcher()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(context.Background(), w, r, "sess-rt", dispatcher, logger.Default())
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	req, err := ws.NewRequest("req-1", "ping", nil)
	require.NoError(t, err)
	frame, err := encodeFrame(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp ws.Message
	require.NoError(t, decodeJSON(data, &resp))
	require.Equal(t, "req-1", resp.ID)
	require.Equal(t, ws.MessageTypeResponse, resp.Type)
}
