// Package agentmgr is the process-global registry of ManagedAgents (spec
// §4.3): it creates, resumes, cancels, and multicasts events from concurrent
// LLM agent runs, mediates permission-gated tool calls, and owns each
// agent's append-only Timeline.
package agentmgr

import (
	"strings"
	"sync"
	"time"
)

// LifecycleState is one of the three agent states in spec §4.3.1.
type LifecycleState string

const (
	StateIdle    LifecycleState = "idle"
	StateRunning LifecycleState = "running"
	StateError   LifecycleState = "error"
)

// ManagedAgent is the daemon-side wrapper around a provider session, its
// timeline, and its lifecycle state (spec §3).
type ManagedAgent struct {
	ID       string
	Provider string
	Cwd      string
	Config   map[string]any
	Labels   map[string]string

	mu            sync.RWMutex
	lifecycle     LifecycleState
	lastError     string
	requiresAttn  bool
	attentionKind string // e.g. "permission"

	timeline *Timeline

	// pendingRun is non-nil while a stream is active; cancel stops the
	// provider stream (spec §4.3.1, §5).
	pendingRun *runHandle

	createdAt time.Time
	updatedAt time.Time
}

type runHandle struct {
	cancel  func()
	done    chan struct{}
	userMsg string
}

// NewManagedAgent constructs an agent in the idle state with an empty
// timeline (spec §4.3.1: "create_agent ... idle with timeline hydrated (empty
// for new...)").
func NewManagedAgent(id, provider, cwd string, config map[string]any, labels map[string]string) *ManagedAgent {
	now := time.Now()
	return &ManagedAgent{
		ID:        id,
		Provider:  provider,
		Cwd:       cwd,
		Config:    config,
		Labels:    labels,
		lifecycle: StateIdle,
		timeline:  NewTimeline(),
		createdAt: now,
		updatedAt: now,
	}
}

// State returns the current lifecycle state.
func (a *ManagedAgent) State() LifecycleState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lifecycle
}

func (a *ManagedAgent) setState(s LifecycleState) {
	a.mu.Lock()
	a.lifecycle = s
	a.updatedAt = time.Now()
	a.mu.Unlock()
}

// RequiresAttention reports whether the agent is flagged for user attention
// (e.g. a pending permission request) and why.
func (a *ManagedAgent) RequiresAttention() (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.requiresAttn, a.attentionKind
}

func (a *ManagedAgent) setAttention(kind string) {
	a.mu.Lock()
	a.requiresAttn = kind != ""
	a.attentionKind = kind
	a.mu.Unlock()
}

// LastError returns the last recorded provider error message, if any.
func (a *ManagedAgent) LastError() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastError
}

// Timeline returns the agent's append-only timeline.
func (a *ManagedAgent) Timeline() *Timeline {
	return a.timeline
}

// Title derives a short display identifier from the agent's first
// user_message timeline item, for identifier resolution by title (spec
// §4.2.3) and as the metadata-generation fallback (spec §4.3.6).
func (a *ManagedAgent) Title() string {
	for _, item := range a.timeline.Items() {
		if item.Kind == TimelineKindUserMessage {
			return truncate(item.Text, 72)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}

// TimelineItemKind enumerates the TimelineItem variants (spec §3).
type TimelineItemKind string

const (
	TimelineKindUserMessage    TimelineItemKind = "user_message"
	TimelineKindAssistantText  TimelineItemKind = "assistant_text"
	TimelineKindToolCall       TimelineItemKind = "tool_call"
	TimelineKindPermissionReq  TimelineItemKind = "permission_request"
	TimelineKindArtifact       TimelineItemKind = "artifact"
	TimelineKindSystem         TimelineItemKind = "system"
)

// ToolCallStatus is the tool_call sub-state machine (spec §3: "transitions
// only pending→running→{completed,failed}").
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallFailed    ToolCallStatus = "failed"
)

// TimelineItem is one entry in an agent's append-only history.
type TimelineItem struct {
	Kind      TimelineItemKind `json:"kind"`
	Text      string           `json:"text,omitempty"`
	CallID    string           `json:"callId,omitempty"`
	Status    ToolCallStatus   `json:"status,omitempty"`
	Input     any              `json:"input,omitempty"`
	Output    any              `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Timeline is the ordered, append-only sequence of items describing an
// agent's visible history (spec GLOSSARY).
type Timeline struct {
	mu    sync.RWMutex
	items []TimelineItem
	byCallID map[string]int // index into items, for tool_call transitions
}

// NewTimeline constructs an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{byCallID: make(map[string]int)}
}

// Append adds an item to the end of the timeline, except that a tool_call
// item whose CallID is already present updates that entry in place.
func (t *Timeline) Append(item TimelineItem) {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if item.Kind == TimelineKindToolCall && item.CallID != "" {
		if idx, ok := t.byCallID[item.CallID]; ok {
			t.transitionLocked(idx, item)
			return
		}
		t.byCallID[item.CallID] = len(t.items)
	}
	t.items = append(t.items, item)
}

// transitionLocked applies a tool_call status transition in place, refusing
// to move backwards out of a terminal state (spec §8 invariant: "Timeline
// tool_call items never transition from completed|failed back to running").
func (t *Timeline) transitionLocked(idx int, next TimelineItem) {
	cur := t.items[idx]
	if cur.Status == ToolCallCompleted || cur.Status == ToolCallFailed {
		return
	}
	t.items[idx] = next
}

// Items returns a snapshot copy of the timeline.
func (t *Timeline) Items() []TimelineItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TimelineItem, len(t.items))
	copy(out, t.items)
	return out
}

// FailInFlightToolCalls marks every pending|running tool_call as failed with
// the given reason, e.g. "cancelled" (spec §4.3.1 cancel transition).
func (t *Timeline) FailInFlightToolCalls(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, item := range t.items {
		if item.Kind == TimelineKindToolCall && (item.Status == ToolCallPending || item.Status == ToolCallRunning) {
			item.Status = ToolCallFailed
			item.Error = reason
			t.items[i] = item
		}
	}
}
