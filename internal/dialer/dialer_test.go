package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

type fakeChannel struct {
	closed bool
}

func (f *fakeChannel) Send(frame []byte) error { return nil }
func (f *fakeChannel) Recv() ([]byte, error)   { return nil, errors.New("not implemented") }
func (f *fakeChannel) Close() error            { f.closed = true; return nil }

func TestRaceFallsBackToRelayWhenDirectFails(t *testing.T) {
	p := &HostProfile{
		ServerID: "srv_1",
		Connections: []Connection{
			{ID: "c-direct", Type: ConnectionDirect, DirectEndpoint: "127.0.0.1:9"},
			{ID: "c-relay", Type: ConnectionRelay, RelayEndpoint: "127.0.0.1:1234"},
		},
	}

	dial := func(ctx context.Context, c Connection) (Channel, *ServerInfo, error) {
		if c.ID == "c-direct" {
			return nil, nil, errors.New("connection refused")
		}
		return &fakeChannel{}, &ServerInfo{ServerID: "srv_1"}, nil
	}

	d := New(logger.Default(), dial)
	ch, info, active, err := d.Race(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "srv_1", info.ServerID)
	assert.Equal(t, "c-relay", active.ConnectionID)
}

func TestRaceFailsWhenAllCandidatesFail(t *testing.T) {
	p := &HostProfile{
		ServerID: "srv_1",
		Connections: []Connection{
			{ID: "c1", Type: ConnectionDirect, DirectEndpoint: "127.0.0.1:9"},
		},
	}
	dial := func(ctx context.Context, c Connection) (Channel, *ServerInfo, error) {
		return nil, nil, errors.New("dead")
	}
	d := New(logger.Default(), dial)
	_, _, _, err := d.Race(context.Background(), p)
	assert.Error(t, err)
}

func TestRaceNoCandidates(t *testing.T) {
	d := New(logger.Default(), func(ctx context.Context, c Connection) (Channel, *ServerInfo, error) {
		return nil, nil, nil
	})
	_, _, _, err := d.Race(context.Background(), &HostProfile{ServerID: "x"})
	assert.ErrorIs(t, err, errNoCandidates)
}

func TestBackoffCapsAndJitters(t *testing.T) {
	for n := 0; n < 20; n++ {
		d := Backoff(n)
		assert.LessOrEqual(t, d, MaxBackoff+MaxBackoff/5)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}

func TestRegistryRekeyMovesProfileAndRecordsLegacyID(t *testing.T) {
	r := NewRegistry()
	r.Put(&HostProfile{ServerID: "legacy-daemon-id", Label: "My Daemon"})

	p := r.Rekey("legacy-daemon-id", "srv_real")
	require.NotNil(t, p)
	assert.Equal(t, "srv_real", p.ServerID)
	assert.Equal(t, "legacy-daemon-id", p.Metadata["legacyIds"])

	_, stillThere := r.Get("legacy-daemon-id")
	assert.False(t, stillThere)

	got, ok := r.Get("srv_real")
	assert.True(t, ok)
	assert.Same(t, p, got)
}
