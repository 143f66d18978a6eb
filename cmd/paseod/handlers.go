package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/agentmgr"
	"github.com/paseo-dev/paseo/internal/checkout"
	"github.com/paseo-dev/paseo/internal/common/logger"
	"github.com/paseo-dev/paseo/internal/sessionmux"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

// registerSessionHandlers binds the verb catalogue (internal/sessionmux
// actions.go) to the daemon's agent manager and checkout engine. Handlers
// that depend on a subsystem not built this pass (terminals, voice, file
// explorer) are intentionally left unregistered; the dispatcher answers
// those with ErrorCodeUnknownAction rather than a faked response.
func registerSessionHandlers(d *ws.Dispatcher, agents *agentmgr.Manager, co *checkout.Engine, log *logger.Logger) {
	h := &handlers{agents: agents, checkout: co, log: log}

	d.RegisterFunc(sessionmux.ActionCreateAgentRequest, h.createAgent)
	d.RegisterFunc(sessionmux.ActionResumeAgentRequest, h.resumeAgent)
	d.RegisterFunc(sessionmux.ActionRefreshAgentRequest, h.refreshAgent)
	d.RegisterFunc(sessionmux.ActionInitializeAgentRequest, h.resumeAgent) // initialize == resume-or-create at the client's discretion
	d.RegisterFunc(sessionmux.ActionCancelAgentRequest, h.cancelAgent)
	d.RegisterFunc(sessionmux.ActionDeleteAgentRequest, h.deleteAgent)
	d.RegisterFunc(sessionmux.ActionArchiveAgentRequest, h.deleteAgent) // archive closes and removes the agent, the same as delete
	d.RegisterFunc(sessionmux.ActionSetAgentMode, h.setAgentMode)

	d.RegisterFunc(sessionmux.ActionSendAgentMessageRequest, h.sendAgentMessage)
	d.RegisterFunc(sessionmux.ActionAgentPermissionResponse, h.agentPermissionResponse)
	d.RegisterFunc(sessionmux.ActionWaitForFinishRequest, h.waitForFinish)

	d.RegisterFunc(sessionmux.ActionFetchAgentsRequest, h.fetchAgents)
	d.RegisterFunc(sessionmux.ActionFetchAgentRequest, h.fetchAgent)
	d.RegisterFunc(sessionmux.ActionSubscribeAgentUpdates, h.subscribeAgentUpdates)
	d.RegisterFunc(sessionmux.ActionUnsubscribeAgentUpdates, h.unsubscribeAgentUpdates)
	d.RegisterFunc(sessionmux.ActionClearAgentAttention, h.clearAgentAttention)

	d.RegisterFunc(sessionmux.ActionCheckoutStatusRequest, h.checkoutStatus)
	d.RegisterFunc(sessionmux.ActionCheckoutDiffRequest, h.checkoutDiff)
	d.RegisterFunc(sessionmux.ActionCheckoutCommitRequest, h.checkoutCommit)
	d.RegisterFunc(sessionmux.ActionCheckoutMergeRequest, h.checkoutMerge)
	d.RegisterFunc(sessionmux.ActionCheckoutMergeFromBase, h.checkoutMergeFromBase)
	d.RegisterFunc(sessionmux.ActionCheckoutPushRequest, h.checkoutPush)
	d.RegisterFunc(sessionmux.ActionCheckoutPRCreateRequest, h.checkoutPRCreate)
	d.RegisterFunc(sessionmux.ActionPaseoWorktreeListRequest, h.worktreeList)
	d.RegisterFunc(sessionmux.ActionPaseoWorktreeArchiveRequest, h.worktreeArchive)

	d.RegisterFunc(sessionmux.ActionClientHeartbeat, h.clientHeartbeat)
}

type handlers struct {
	agents   *agentmgr.Manager
	checkout *checkout.Engine
	log      *logger.Logger

	fanoutMu      sync.Mutex
	fanoutStarted map[string]struct{} // session IDs with a running fan-out pump
}

func errResponse(msg *ws.Message, code, message string) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, code, message, nil)
}

func checkoutErrCode(err error) string {
	ce, ok := err.(*checkout.Error)
	if !ok {
		return sessionmux.ErrBadRequest
	}
	switch ce.Code {
	case checkout.CodeNotGitRepo:
		return sessionmux.ErrNotGitRepo
	case checkout.CodeNotAllowed:
		return sessionmux.ErrNotAllowed
	default:
		return sessionmux.ErrBadRequest
	}
}

// --- agent lifecycle ---------------------------------------------------

type createAgentPayload struct {
	Provider string            `json:"provider"`
	Cwd      string            `json:"cwd"`
	Config   map[string]any    `json:"config"`
	Labels   map[string]string `json:"labels"`
}

func (h *handlers) createAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p createAgentPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id := uuid.New().String()
	a, err := h.agents.Create(ctx, id, p.Provider, p.Cwd, p.Config, p.Labels)
	if err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, h.agents.Snapshot(a))
}

type agentIDPayload struct {
	AgentID string `json:"agentId"`
}

func (h *handlers) resolveAgentID(raw string) (string, error) {
	var candidates []sessionmux.AgentLookup
	for _, a := range h.agents.List(nil) {
		candidates = append(candidates, sessionmux.AgentLookup{ID: a.ID, Title: a.Title()})
	}
	return sessionmux.ResolveAgentIdentifier(raw, candidates)
}

func (h *handlers) resumeAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	a, err := h.agents.Resume(ctx, id)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, h.agents.Snapshot(a))
}

func (h *handlers) refreshAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	a, err := h.agents.EnsureLoaded(ctx, id)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, h.agents.Snapshot(a))
}

func (h *handlers) cancelAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	if err := h.agents.Cancel(id); err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

func (h *handlers) deleteAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	if err := h.agents.Close(ctx, id); err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

type setAgentModePayload struct {
	AgentID string `json:"agentId"`
	Mode    string `json:"mode"`
}

func (h *handlers) setAgentMode(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p setAgentModePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	if err := h.agents.SetMode(ctx, id, p.Mode); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

// --- agent streaming -----------------------------------------------------

type sendAgentMessagePayload struct {
	AgentID string   `json:"agentId"`
	Prompt  string   `json:"prompt"`
	Images  []string `json:"images,omitempty"` // base64 strings, passed on as raw bytes without decoding
}

func (h *handlers) sendAgentMessage(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p sendAgentMessagePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	var images [][]byte
	for _, img := range p.Images {
		images = append(images, []byte(img))
	}
	if err := h.agents.Stream(ctx, id, p.Prompt, images); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"accepted": true})
}

type agentPermissionResponsePayload struct {
	AgentID        string `json:"agentId"`
	RequestID      string `json:"requestId"`
	Accept         bool   `json:"accept"`
	RememberPolicy string `json:"rememberPolicy,omitempty"`
}

func (h *handlers) agentPermissionResponse(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentPermissionResponsePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	if err := h.agents.RespondToPermission(ctx, id, p.RequestID, p.Accept, p.RememberPolicy); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

// waitForFinishPollInterval bounds how often waitForFinish rechecks agent
// state; there is no dedicated "run finished" channel on ManagedAgent, so
// this polls its lifecycle the way a client-side long-poll would.
const waitForFinishPollInterval = 200 * time.Millisecond

func (h *handlers) waitForFinish(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	ticker := time.NewTicker(waitForFinishPollInterval)
	defer ticker.Stop()
	for {
		a, ok := h.agents.Get(id)
		if !ok {
			return errResponse(msg, sessionmux.ErrAgentNotFound, "agent no longer exists")
		}
		if a.State() != agentmgr.StateRunning {
			return ws.NewResponse(msg.ID, msg.Action, h.agents.Snapshot(a))
		}
		select {
		case <-ctx.Done():
			return errResponse(msg, sessionmux.ErrBadRequest, ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

// --- agent queries --------------------------------------------------------

type labelFilterPayload struct {
	Labels map[string]string `json:"labels,omitempty"`
}

func (h *handlers) fetchAgents(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p labelFilterPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	list := h.agents.List(p.Labels)
	snaps := make([]agentmgr.AgentSnapshot, 0, len(list))
	for _, a := range list {
		snaps = append(snaps, h.agents.Snapshot(a))
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"agents": snaps})
}

func (h *handlers) fetchAgent(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	a, ok := h.agents.Get(id)
	if !ok {
		return errResponse(msg, sessionmux.ErrAgentNotFound, "agent not found")
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{
		"agent":    h.agents.Snapshot(a),
		"timeline": a.Timeline().Items(),
	})
}

type subscribePayload struct {
	AgentID string `json:"agentId,omitempty"` // empty subscribes to every agent
}

// fanoutFilterKey is "*" for the all-agents subscription and otherwise an
// agent id (spec §4.2.2's subscribe_agent_updates scoping).
func fanoutFilterKey(agentID string) string {
	if agentID == "" {
		return "*"
	}
	return agentID
}

func (h *handlers) subscribeAgentUpdates(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p subscribePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	sess, ok := sessionmux.FromContext(ctx)
	if !ok {
		return errResponse(msg, sessionmux.ErrBadRequest, "no session in context")
	}
	sess.Subscribe(fanoutFilterKey(p.AgentID))
	h.ensureFanoutPump(sess)
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

func (h *handlers) unsubscribeAgentUpdates(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p subscribePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	sess, ok := sessionmux.FromContext(ctx)
	if !ok {
		return errResponse(msg, sessionmux.ErrBadRequest, "no session in context")
	}
	sess.Unsubscribe(fanoutFilterKey(p.AgentID))
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

// ensureFanoutPump starts, at most once per session, the goroutine that
// drains agentmgr events into this session's outbound queue. It is started
// lazily on first subscribe rather than in Serve, since most connections
// never subscribe to agent updates at all (e.g. a connection that only
// drives checkout operations).
func (h *handlers) ensureFanoutPump(sess *sessionmux.Session) {
	h.fanoutMu.Lock()
	if h.fanoutStarted == nil {
		h.fanoutStarted = make(map[string]struct{})
	}
	if _, started := h.fanoutStarted[sess.ID]; started {
		h.fanoutMu.Unlock()
		return
	}
	h.fanoutStarted[sess.ID] = struct{}{}
	h.fanoutMu.Unlock()

	_, events, unsubscribe := h.agents.Subscribe(true)
	go func() {
		defer unsubscribe()
		defer func() {
			h.fanoutMu.Lock()
			delete(h.fanoutStarted, sess.ID)
			h.fanoutMu.Unlock()
		}()
		for {
			select {
			case <-sess.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				h.deliverEvent(sess, ev)
			}
		}
	}()
}

func (h *handlers) deliverEvent(sess *sessionmux.Session, ev agentmgr.Event) {
	if !sess.IsSubscribed("*") && !sess.IsSubscribed(ev.AgentID) {
		return
	}
	action := sessionmux.ActionUpsert
	var payload any
	switch ev.Kind {
	case "remove":
		action = sessionmux.ActionRemove
	case "provider_event":
		payload = ev.Provider
	default: // "agent_state", "permission_resolved"
		payload = ev.State
	}
	note, err := ws.NewNotification(action, map[string]any{"agentId": ev.AgentID, "kind": ev.Kind, "event": payload})
	if err != nil {
		h.log.Error("failed to encode fan-out notification", zap.Error(err))
		return
	}
	sess.PublishEvent(note)
}

func (h *handlers) clearAgentAttention(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p agentIDPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	id, err := h.resolveAgentID(p.AgentID)
	if err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	if err := h.agents.ClearAttention(ctx, id); err != nil {
		return errResponse(msg, sessionmux.ErrAgentNotFound, err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

// --- checkout & worktree ---------------------------------------------------

type cwdPayload struct {
	Cwd string `json:"cwd"`
}

func (h *handlers) checkoutStatus(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p cwdPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	status, err := h.checkout.Status(ctx, p.Cwd)
	if err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, status)
}

type checkoutDiffPayload struct {
	Cwd  string `json:"cwd"`
	Path string `json:"path,omitempty"`
}

func (h *handlers) checkoutDiff(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p checkoutDiffPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	diff, err := h.checkout.Diff(ctx, p.Cwd, p.Path)
	if err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]string{"diff": diff})
}

type checkoutCommitPayload struct {
	Cwd     string `json:"cwd"`
	Message string `json:"message,omitempty"`
}

func (h *handlers) checkoutCommit(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p checkoutCommitPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	committedMessage, err := h.checkout.Commit(ctx, p.Cwd, p.Message, nil)
	if err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]string{"message": committedMessage})
}

type checkoutMergePayload struct {
	Cwd                string `json:"cwd"`
	SourceBranch       string `json:"sourceBranch"`
	TargetBranch       string `json:"targetBranch"`
	RequireCleanTarget bool   `json:"requireCleanTarget,omitempty"`
}

func (h *handlers) mergeResponse(ctx context.Context, msg *ws.Message, req checkout.MergeRequest) (*ws.Message, error) {
	if err := h.checkout.Merge(ctx, req); err != nil {
		ce, ok := err.(*checkout.Error)
		if ok && ce.Code == checkout.CodeMergeConflict {
			return errResponse(msg, sessionmux.ErrMergeConflict, ce.Message)
		}
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

func (h *handlers) checkoutMerge(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p checkoutMergePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	return h.mergeResponse(ctx, msg, checkout.MergeRequest{
		RepoPath:           p.Cwd,
		SourceBranch:       p.SourceBranch,
		TargetBranch:       p.TargetBranch,
		RequireCleanTarget: p.RequireCleanTarget,
	})
}

type checkoutMergeFromBasePayload struct {
	Cwd        string `json:"cwd"`
	BaseBranch string `json:"baseBranch"`
}

// checkoutMergeFromBase merges baseBranch into the worktree's current
// branch, the opposite direction of checkout_merge_request (spec §4.4.4:
// "bring the worktree up to date with base").
func (h *handlers) checkoutMergeFromBase(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p checkoutMergeFromBasePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	status, err := h.checkout.Status(ctx, p.Cwd)
	if err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return h.mergeResponse(ctx, msg, checkout.MergeRequest{
		RepoPath:     p.Cwd,
		SourceBranch: p.BaseBranch,
		TargetBranch: status.Branch,
	})
}

func (h *handlers) checkoutPush(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p cwdPayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	if err := h.checkout.Push(ctx, p.Cwd); err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

type checkoutPRCreatePayload struct {
	Cwd   string `json:"cwd"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Base  string `json:"base,omitempty"`
}

func (h *handlers) checkoutPRCreate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p checkoutPRCreatePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	res, err := h.checkout.CreatePR(ctx, checkout.PRRequest{
		RepoPath: p.Cwd,
		Title:    p.Title,
		Body:     p.Body,
		Base:     p.Base,
	}, nil)
	if err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, res)
}

func (h *handlers) worktreeList(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"worktrees": h.checkout.ListWorktrees()})
}

type worktreeArchivePayload struct {
	Cwd string `json:"cwd"`
}

func (h *handlers) worktreeArchive(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var p worktreeArchivePayload
	if err := msg.ParsePayload(&p); err != nil {
		return errResponse(msg, sessionmux.ErrBadRequest, err.Error())
	}
	if err := h.checkout.ArchiveWorktree(ctx, p.Cwd, agentCloserFor(h.agents)); err != nil {
		return errResponse(msg, checkoutErrCode(err), err.Error())
	}
	return ws.NewResponse(msg.ID, msg.Action, map[string]bool{"ok": true})
}

// --- control ---------------------------------------------------------------

func (h *handlers) clientHeartbeat(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return ws.NewResponse(msg.ID, msg.Action, map[string]string{"status": "ok"})
}

// agentCloserImpl adapts agentmgr.Manager to checkout.AgentCloser: a
// worktree cannot be archived while an agent still has it open (spec
// §4.4.3).
type agentCloserImpl struct {
	agents *agentmgr.Manager
}

func agentCloserFor(agents *agentmgr.Manager) *agentCloserImpl {
	return &agentCloserImpl{agents: agents}
}

func (c *agentCloserImpl) CloseAgentsUnderCwd(ctx context.Context, cwdPrefix string) error {
	for _, a := range c.agents.List(nil) {
		if len(a.Cwd) >= len(cwdPrefix) && a.Cwd[:len(cwdPrefix)] == cwdPrefix {
			if err := c.agents.Close(ctx, a.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
