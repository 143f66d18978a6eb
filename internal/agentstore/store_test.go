package agentstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

type testRecord struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), logger.Default())
	require.NoError(t, err)
	return s
}

func TestUpsertLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord{ID: "agent-1", Status: "idle"}
	require.NoError(t, s.Upsert(ctx, rec.ID, rec))

	var loaded testRecord
	require.NoError(t, s.Load(ctx, rec.ID, &loaded))
	assert.Equal(t, rec, loaded)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	var loaded testRecord
	err := s.Load(context.Background(), "nope", &loaded)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBeginDeleteBlocksUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.BeginDelete("agent-1")
	err := s.Upsert(ctx, "agent-1", testRecord{ID: "agent-1"})
	assert.ErrorIs(t, err, ErrDeleteInProgress)
}

func TestRemoveClearsBarrierAndFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "agent-1", testRecord{ID: "agent-1"}))
	require.NoError(t, s.Remove(ctx, "agent-1"))

	var loaded testRecord
	err := s.Load(ctx, "agent-1", &loaded)
	assert.ErrorIs(t, err, ErrNotFound)

	// barrier cleared, upsert works again
	require.NoError(t, s.Upsert(ctx, "agent-1", testRecord{ID: "agent-1"}))
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, "a1", testRecord{ID: "a1"}))
	require.NoError(t, s.Upsert(ctx, "a2", testRecord{ID: "a2"}))

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "a2"}, ids)
}
