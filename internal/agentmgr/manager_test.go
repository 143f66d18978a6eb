package agentmgr

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/agentstore"
	"github.com/paseo-dev/paseo/internal/common/logger"
)

type fakeProvider struct {
	name   string
	events chan ProviderEvent
	perm   chan string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{name: "fake", events: make(chan ProviderEvent, 16), perm: make(chan string, 4)}
}

func (p *fakeProvider) Name() string                  { return p.name }
func (p *fakeProvider) SupportsPermissions() bool      { return true }
func (p *fakeProvider) SupportsPersistence() bool      { return false }
func (p *fakeProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "fake-1", Label: "Fake"}}, nil
}
func (p *fakeProvider) Resume(ctx context.Context, h ResumeHandle) (<-chan ProviderEvent, error) {
	return p.events, nil
}
func (p *fakeProvider) Stream(ctx context.Context, cwd, prompt string, images [][]byte) (<-chan ProviderEvent, error) {
	return p.events, nil
}
func (p *fakeProvider) RespondToPermission(ctx context.Context, requestID string, accept bool, remember string) error {
	if accept {
		p.perm <- requestID
		return nil
	}
	return errors.New("denied")
}

func newTestManager(t *testing.T, provider *fakeProvider) *Manager {
	t.Helper()
	dir := t.TempDir()
	store, err := agentstore.New(dir, logger.Default())
	require.NoError(t, err)
	return NewManager(logger.Default(), store, func(name string) (Provider, error) { return provider, nil })
}

func TestCreateThenStreamTransitionsToRunning(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)

	a, err := m.Create(context.Background(), "agent-1", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())

	require.NoError(t, m.Stream(context.Background(), "agent-1", "hello", nil))
	assert.Equal(t, StateRunning, a.State())
}

func TestFinishEventReturnsAgentToIdle(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)

	_, err := m.Create(context.Background(), "agent-2", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Stream(context.Background(), "agent-2", "hi", nil))

	p.events <- ProviderEvent{Kind: EventTextDelta, Text: "partial"}
	p.events <- ProviderEvent{Kind: EventFinish, StopReason: "done"}

	a, _ := m.Get("agent-2")
	require.Eventually(t, func() bool { return a.State() == StateIdle }, time.Second, 10*time.Millisecond)

	items := a.Timeline().Items()
	var sawAssistantText bool
	for _, it := range items {
		if it.Kind == TimelineKindAssistantText {
			sawAssistantText = true
		}
	}
	assert.True(t, sawAssistantText)
}

func TestSecondStreamCancelsFirstRun(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)

	_, err := m.Create(context.Background(), "agent-3", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Stream(context.Background(), "agent-3", "first", nil))

	a, _ := m.Get("agent-3")
	a.mu.RLock()
	firstRun := a.pendingRun
	a.mu.RUnlock()
	require.NotNil(t, firstRun)

	require.NoError(t, m.Stream(context.Background(), "agent-3", "second", nil))

	select {
	case <-firstRun.done:
	case <-time.After(time.Second):
		t.Fatal("expected first run to be cancelled")
	}
}

func TestPermissionRequestSetsAttentionAndResolves(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)

	_, err := m.Create(context.Background(), "agent-4", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Stream(context.Background(), "agent-4", "hi", nil))

	p.events <- ProviderEvent{Kind: EventPermissionRequest, RequestID: "req-1", ToolName: "write_file"}

	a, _ := m.Get("agent-4")
	require.Eventually(t, func() bool {
		attn, kind := a.RequiresAttention()
		return attn && kind == "permission"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, m.RespondToPermission(context.Background(), "agent-4", "req-1", true, "once"))
	attn, _ := a.RequiresAttention()
	assert.False(t, attn)

	select {
	case id := <-p.perm:
		assert.Equal(t, "req-1", id)
	case <-time.After(time.Second):
		t.Fatal("expected provider to receive permission response")
	}
}

func TestCloseRemovesAgentAndPersistedRecord(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)

	_, err := m.Create(context.Background(), "agent-5", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)
	require.NoError(t, m.Close(context.Background(), "agent-5"))

	_, ok := m.Get("agent-5")
	assert.False(t, ok)

	_, err = m.Resume(context.Background(), "agent-5")
	assert.Error(t, err)
}

func TestSubscribeReplayDeliversSnapshot(t *testing.T) {
	p := newFakeProvider()
	m := newTestManager(t, p)
	_, err := m.Create(context.Background(), "agent-6", "fake", "/tmp/work", nil, nil)
	require.NoError(t, err)

	id, events, unsub := m.Subscribe(true)
	defer unsub()
	assert.NotEmpty(t, id)

	select {
	case ev := <-events:
		assert.Equal(t, "agent-6", ev.AgentID)
	case <-time.After(time.Second):
		t.Fatal("expected replayed snapshot")
	}
}
