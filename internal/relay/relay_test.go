package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

func newTestServer() *Server {
	return NewServer(logger.Default(), time.Minute, 4)
}

func TestAttachClientRejectsWithoutDaemon(t *testing.T) {
	s := newTestServer()
	side, ok := s.AttachClient("sess-1", "client-1")
	assert.False(t, ok)
	assert.Nil(t, side)
}

func TestRegisterDaemonThenAttachClient(t *testing.T) {
	s := newTestServer()
	s.RegisterDaemon("sess-1")

	side, ok := s.AttachClient("sess-1", "client-1")
	require.True(t, ok)
	require.NotNil(t, side)
}

func TestReRegisterDaemonReplacesOld(t *testing.T) {
	s := newTestServer()
	first := s.RegisterDaemon("sess-1")
	s.RegisterDaemon("sess-1")

	select {
	case reason := <-first.Closed:
		assert.Equal(t, CloseSessionReplaced, reason)
	case <-time.After(time.Second):
		t.Fatal("expected old daemon side to be closed")
	}
}

func TestForwardFromDaemonBroadcastsToAllClients(t *testing.T) {
	s := newTestServer()
	s.RegisterDaemon("sess-1")
	c1, ok := s.AttachClient("sess-1", "c1")
	require.True(t, ok)
	c2, ok := s.AttachClient("sess-1", "c2")
	require.True(t, ok)

	s.ForwardFromDaemon("sess-1", []byte("hello"))

	assert.Equal(t, []byte("hello"), <-c1.Out)
	assert.Equal(t, []byte("hello"), <-c2.Out)
}

func TestForwardFromClientGoesToDaemon(t *testing.T) {
	s := newTestServer()
	daemon := s.RegisterDaemon("sess-1")
	s.AttachClient("sess-1", "c1")

	ok := s.ForwardFromClient("sess-1", []byte("ping"))
	assert.True(t, ok)
	assert.Equal(t, []byte("ping"), <-daemon.Out)
}

func TestForwardFromClientFailsWithoutDaemon(t *testing.T) {
	s := newTestServer()
	ok := s.ForwardFromClient("nonexistent", []byte("x"))
	assert.False(t, ok)
}

func TestSlowClientClosedOnBackpressure(t *testing.T) {
	s := newTestServer() // high water mark 4
	s.RegisterDaemon("sess-1")
	c1, ok := s.AttachClient("sess-1", "c1")
	require.True(t, ok)

	for i := 0; i < 10; i++ {
		s.ForwardFromDaemon("sess-1", []byte("x"))
	}

	select {
	case reason := <-c1.Closed:
		assert.Equal(t, CloseBackpressureExceeded, reason)
	case <-time.After(time.Second):
		t.Fatal("expected slow client to be closed")
	}
}
