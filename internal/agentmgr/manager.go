package agentmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/paseo-dev/paseo/internal/agentstore"
	"github.com/paseo-dev/paseo/internal/common/logger"
)

// StartConfirmationTimeout bounds how long send_agent_message_request waits
// for provider start-confirmation (spec §4.2.2, §4.3.2).
const StartConfirmationTimeout = 15 * time.Second

// ProviderResolver looks up the concrete Provider for an agent's configured
// provider name.
type ProviderResolver func(providerName string) (Provider, error)

// PersistedRecord is the on-disk shape a ManagedAgent is flattened into for
// agentstore (spec §4.3.5, §6).
type PersistedRecord struct {
	ID        string           `json:"id"`
	Provider  string           `json:"provider"`
	Cwd       string           `json:"cwd"`
	Config    map[string]any   `json:"config"`
	Labels    map[string]string `json:"labels"`
	Lifecycle LifecycleState   `json:"lifecycle"`
	Timeline  []TimelineItem   `json:"timeline"`
	LastError string           `json:"lastError,omitempty"`
}

// Manager is the process-global registry of ManagedAgents (spec §4.3).
type Manager struct {
	log      *logger.Logger
	store    *agentstore.Store
	resolve  ProviderResolver
	tracer   trace.Tracer

	mu     sync.RWMutex
	agents map[string]*ManagedAgent

	subMu       sync.Mutex
	subscribers map[string]*subscriber

	initGroup singleflight.Group // de-dupes ensureAgentLoaded (spec §4.3.2)

	persistEveryN int // persist at least every N tool events (spec §4.3.5)
}

type subscriber struct {
	id     string
	events chan Event
}

// Event is delivered to subscribers: either an agent_state snapshot or a
// wrapped provider event (spec §4.3.4).
type Event struct {
	Kind    string // "agent_state" | "provider_event" | "permission_resolved" | "remove"
	AgentID string
	State   *AgentSnapshot
	Provider *ProviderEvent
}

// AgentSnapshot is the upsert/remove projection pushed to subscribe_agent_updates
// (spec §4.2.2).
type AgentSnapshot struct {
	ID               string
	Provider         string
	Cwd              string
	Lifecycle        LifecycleState
	Labels           map[string]string
	Title            string
	RequiresAttention bool
	AttentionKind    string
	LastError        string
}

// SubscriberQueueDepth is the bounded per-subscriber event queue depth; a
// subscriber lagging past this is dropped (spec §4.3.4: "bounded queue (>=256
// events)").
const SubscriberQueueDepth = 256

// NewManager constructs an agent manager backed by store for persistence and
// resolve for provider lookup.
func NewManager(log *logger.Logger, store *agentstore.Store, resolve ProviderResolver) *Manager {
	return &Manager{
		log:           log.WithFields(zap.String("component", "agent_manager")),
		store:         store,
		resolve:       resolve,
		tracer:        otel.Tracer("paseo/agentmgr"),
		agents:        make(map[string]*ManagedAgent),
		subscribers:   make(map[string]*subscriber),
		persistEveryN: 10,
	}
}

// Subscribe registers a new event subscriber and returns its channel plus an
// unsubscribe function. replayInitial, if true, immediately enqueues an
// agent_state snapshot for every currently known agent (spec §4.3.4:
// "Subscriptions may opt in to initial-state replay").
func (m *Manager) Subscribe(replayInitial bool) (id string, events <-chan Event, unsubscribe func()) {
	sub := &subscriber{id: fmt.Sprintf("sub_%d", time.Now().UnixNano()), events: make(chan Event, SubscriberQueueDepth)}

	m.subMu.Lock()
	m.subscribers[sub.id] = sub
	m.subMu.Unlock()

	if replayInitial {
		m.mu.RLock()
		snapshots := make([]AgentSnapshot, 0, len(m.agents))
		for _, a := range m.agents {
			snapshots = append(snapshots, m.snapshot(a))
		}
		m.mu.RUnlock()
		for i := range snapshots {
			select {
			case sub.events <- Event{Kind: "agent_state", AgentID: snapshots[i].ID, State: &snapshots[i]}:
			default:
			}
		}
	}

	return sub.id, sub.events, func() { m.unsubscribe(sub.id) }
}

func (m *Manager) unsubscribe(id string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if sub, ok := m.subscribers[id]; ok {
		close(sub.events)
		delete(m.subscribers, id)
	}
}

// publish fans an event out to every subscriber without ever blocking on a
// slow one; a subscriber whose queue overflows is dropped with a "lagging"
// reason (spec §4.3.4).
func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, sub := range m.subscribers {
		select {
		case sub.events <- ev:
		default:
			m.log.Warn("dropping lagging subscriber", zap.String("subscriber_id", id), zap.String("reason", "lagging"))
			close(sub.events)
			delete(m.subscribers, id)
		}
	}
}

// Snapshot builds the upsert projection for a, the same shape pushed to
// subscribe_agent_updates fan-out (spec §4.2.2).
func (m *Manager) Snapshot(a *ManagedAgent) AgentSnapshot {
	return m.snapshot(a)
}

func (m *Manager) snapshot(a *ManagedAgent) AgentSnapshot {
	attn, kind := a.RequiresAttention()
	return AgentSnapshot{
		ID:                a.ID,
		Provider:          a.Provider,
		Cwd:               a.Cwd,
		Lifecycle:         a.State(),
		Labels:            a.Labels,
		Title:             a.Title(),
		RequiresAttention: attn,
		AttentionKind:     kind,
		LastError:         a.LastError(),
	}
}

func (m *Manager) publishState(a *ManagedAgent) {
	snap := m.snapshot(a)
	m.publish(Event{Kind: "agent_state", AgentID: a.ID, State: &snap})
}

// Create registers a brand-new idle agent (spec §4.3.1).
func (m *Manager) Create(ctx context.Context, id, providerName, cwd string, config map[string]any, labels map[string]string) (*ManagedAgent, error) {
	a := NewManagedAgent(id, providerName, cwd, config, labels)

	m.mu.Lock()
	m.agents[id] = a
	m.mu.Unlock()

	m.persist(ctx, a)
	m.publishState(a)
	return a, nil
}

// Resume hydrates an agent's timeline from its local agentstore record only;
// no provider persistence handle is consulted and Provider.Resume is not
// called. ensureAgentLoaded
// de-duplication (spec §4.3.2) is provided by EnsureLoaded.
func (m *Manager) Resume(ctx context.Context, id string) (*ManagedAgent, error) {
	m.mu.RLock()
	a, ok := m.agents[id]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}

	var rec PersistedRecord
	if err := m.store.Load(ctx, id, &rec); err != nil {
		return nil, fmt.Errorf("resume agent %s: %w", id, err)
	}

	a = NewManagedAgent(rec.ID, rec.Provider, rec.Cwd, rec.Config, rec.Labels)
	for _, item := range rec.Timeline {
		a.timeline.Append(item)
	}
	a.setState(StateIdle)

	m.mu.Lock()
	m.agents[id] = a
	m.mu.Unlock()

	m.publishState(a)
	return a, nil
}

// EnsureLoaded de-duplicates concurrent resume calls for the same agent id so
// a single resume is shared by all callers (spec §4.3.2:
// "pendingAgentInitializations").
func (m *Manager) EnsureLoaded(ctx context.Context, id string) (*ManagedAgent, error) {
	v, err, _ := m.initGroup.Do(id, func() (any, error) {
		return m.Resume(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ManagedAgent), nil
}

// Get returns a currently tracked agent.
func (m *Manager) Get(id string) (*ManagedAgent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// List returns every currently tracked agent, optionally filtered by an
// exact-match label set (spec §4.2.2 fetch_agents_request label filter).
func (m *Manager) List(labelFilter map[string]string) []*ManagedAgent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ManagedAgent, 0, len(m.agents))
	for _, a := range m.agents {
		if matchesLabels(a.Labels, labelFilter) {
			out = append(out, a)
		}
	}
	return out
}

func matchesLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (m *Manager) persist(ctx context.Context, a *ManagedAgent) {
	rec := PersistedRecord{
		ID:        a.ID,
		Provider:  a.Provider,
		Cwd:       a.Cwd,
		Config:    a.Config,
		Labels:    a.Labels,
		Lifecycle: a.State(),
		Timeline:  a.timeline.Items(),
		LastError: a.LastError(),
	}
	if err := m.store.Upsert(ctx, a.ID, rec); err != nil {
		m.log.Error("failed to persist agent record", zap.String("agent_id", a.ID), zap.Error(err))
	}
}

// AppendTimelineItem appends an item and schedules a persistence write (spec
// §4.3: "appendTimelineItem"; §4.3.5: persistence after lifecycle transitions
// and periodically on timeline growth). Persistence is scheduled
// asynchronously so agent callbacks never await on AgentStorage directly
// (spec §5 deadlock-avoidance policy).
func (m *Manager) AppendTimelineItem(a *ManagedAgent, item TimelineItem) {
	a.timeline.Append(item)
	go m.persist(context.Background(), a)
}

// Close removes an agent from the in-memory registry and its on-disk record,
// using the beginDelete barrier so a racing persistence hook cannot recreate
// it mid-delete (spec §4.3.5).
func (m *Manager) Close(ctx context.Context, id string) error {
	m.store.BeginDelete(id)

	m.mu.Lock()
	a, ok := m.agents[id]
	if ok {
		delete(m.agents, id)
	}
	m.mu.Unlock()

	if ok {
		m.cancelRun(a, "closed")
	}

	if err := m.store.Remove(ctx, id); err != nil {
		return fmt.Errorf("close agent %s: %w", id, err)
	}

	m.publish(Event{Kind: "remove", AgentID: id})
	return nil
}

// SetMode updates an agent's configured mode (e.g. auto-approve vs
// ask-every-time) (spec §4.2.2: set_agent_mode).
func (m *Manager) SetMode(ctx context.Context, id, mode string) error {
	a, ok := m.Get(id)
	if !ok {
		return ErrAgentNotFound{ID: id}
	}
	a.mu.Lock()
	if a.Config == nil {
		a.Config = make(map[string]any)
	}
	a.Config["mode"] = mode
	a.mu.Unlock()
	m.persist(ctx, a)
	m.publishState(a)
	return nil
}

// ClearAttention manually dismisses an agent's attention flag (spec §4.2.2:
// clear_agent_attention), e.g. after the user has seen a resolved permission
// prompt or error without taking further action on it.
func (m *Manager) ClearAttention(ctx context.Context, id string) error {
	a, ok := m.Get(id)
	if !ok {
		return ErrAgentNotFound{ID: id}
	}
	a.setAttention("")
	m.publishState(a)
	return nil
}

// ErrAgentNotFound is the agent_not_found wire error (spec §7).
type ErrAgentNotFound struct{ ID string }

func (e ErrAgentNotFound) Error() string { return fmt.Sprintf("agent_not_found: %s", e.ID) }
