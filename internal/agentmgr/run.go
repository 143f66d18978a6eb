package agentmgr

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Stream starts a new provider run for agent id with the given prompt,
// implicitly cancelling any in-flight run first (spec §4.3.1: "starting a
// new prompt while one is in flight cancels the previous run before starting
// the next"). It returns once the provider has confirmed the run started or
// StartConfirmationTimeout elapses.
func (m *Manager) Stream(ctx context.Context, id, prompt string, images [][]byte) error {
	a, ok := m.Get(id)
	if !ok {
		return ErrAgentNotFound{ID: id}
	}

	provider, err := m.resolve(a.Provider)
	if err != nil {
		return fmt.Errorf("resolve provider %q: %w", a.Provider, err)
	}

	m.cancelRun(a, "superseded")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.pendingRun = &runHandle{cancel: cancel, done: done, userMsg: prompt}
	a.mu.Unlock()

	a.setState(StateRunning)
	m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindUserMessage, Text: prompt})
	m.publishState(a)

	type streamStart struct {
		events <-chan ProviderEvent
		err    error
	}
	started := make(chan streamStart, 1)
	go func() {
		ev, err := provider.Stream(runCtx, a.Cwd, prompt, images)
		started <- streamStart{events: ev, err: err}
	}()
	var events <-chan ProviderEvent
	select {
	case s := <-started:
		events, err = s.events, s.err
	case <-time.After(StartConfirmationTimeout):
		err = fmt.Errorf("provider did not confirm run start within %s", StartConfirmationTimeout)
	}
	if err != nil {
		cancel()
		close(done)
		a.setState(StateError)
		m.publishState(a)
		return fmt.Errorf("start stream: %w", err)
	}

	go m.pump(a, runCtx, cancel, done, events)
	return nil
}

// pump consumes a provider's event channel until it closes or the run is
// cancelled, translating each event into timeline mutations and subscriber
// broadcasts (spec §4.3.3, §4.3.4).
func (m *Manager) pump(a *ManagedAgent, ctx context.Context, cancel func(), done chan struct{}, events <-chan ProviderEvent) {
	defer close(done)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleProviderEvent(a, ev)
			if ev.Kind == EventFinish || ev.Kind == EventError {
				return
			}
		}
	}
}

func (m *Manager) handleProviderEvent(a *ManagedAgent, ev ProviderEvent) {
	switch ev.Kind {
	case EventTextDelta:
		m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindAssistantText, Text: ev.Text})
	case EventToolCall:
		m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindToolCall, CallID: ev.CallID, Status: ToolCallPending, Input: ev.ToolInput})
	case EventToolResult:
		status := ToolCallCompleted
		errMsg := ""
		if ev.Err != nil {
			status = ToolCallFailed
			errMsg = ev.Err.Error()
		}
		m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindToolCall, CallID: ev.CallID, Status: status, Output: ev.Output, Error: errMsg})
	case EventPermissionRequest:
		a.setAttention("permission")
		m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindPermissionReq, CallID: ev.RequestID, Status: ToolCallPending, Input: ev.ProposedAction})
		m.publishState(a)
		m.publish(Event{Kind: "provider_event", AgentID: a.ID, Provider: &ev})
		return
	case EventFinish:
		a.setState(StateIdle)
		a.setAttention("")
		m.publishState(a)
	case EventError:
		a.mu.Lock()
		a.lastError = ev.Err.Error()
		a.mu.Unlock()
		a.setState(StateError)
		m.publishState(a)
	}

	m.publish(Event{Kind: "provider_event", AgentID: a.ID, Provider: &ev})
}

// Cancel stops an agent's in-flight run, if any, marking any pending or
// running tool calls as failed (spec §4.3.1: "cancel transitions running tool
// calls to failed").
func (m *Manager) Cancel(id string) error {
	a, ok := m.Get(id)
	if !ok {
		return ErrAgentNotFound{ID: id}
	}
	m.cancelRun(a, "cancelled")
	a.setState(StateIdle)
	m.publishState(a)
	return nil
}

func (m *Manager) cancelRun(a *ManagedAgent, reason string) {
	a.mu.Lock()
	run := a.pendingRun
	a.pendingRun = nil
	a.mu.Unlock()

	if run == nil {
		return
	}
	run.cancel()
	<-run.done
	a.timeline.FailInFlightToolCalls(reason)
}

// RespondToPermission resolves a pending permission request by forwarding the
// decision to the agent's provider (spec §4.3.3). It bounds the forward call
// so a stuck provider cannot hang the caller indefinitely.
func (m *Manager) RespondToPermission(ctx context.Context, id, requestID string, accept bool, rememberPolicy string) error {
	a, ok := m.Get(id)
	if !ok {
		return ErrAgentNotFound{ID: id}
	}
	provider, err := m.resolve(a.Provider)
	if err != nil {
		return fmt.Errorf("resolve provider %q: %w", a.Provider, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := provider.RespondToPermission(reqCtx, requestID, accept, rememberPolicy); err != nil {
		m.log.Error("permission response failed", zap.String("agent_id", id), zap.String("request_id", requestID), zap.Error(err))
		return fmt.Errorf("respond to permission %s: %w", requestID, err)
	}

	status := ToolCallCompleted
	if !accept {
		status = ToolCallFailed
	}
	m.AppendTimelineItem(a, TimelineItem{Kind: TimelineKindPermissionReq, CallID: requestID, Status: status})

	a.setAttention("")
	m.publishState(a)
	m.publish(Event{Kind: "permission_resolved", AgentID: id})
	return nil
}
