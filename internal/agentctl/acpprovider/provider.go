// Package acpprovider adapts an ACP-speaking agent subprocess into an
// agentmgr.Provider (spec §9: "Abstract each provider behind {stream, resume,
// listModels, supportsPermissions, supportsPersistence}"). It is the bridge
// between the session multiplexer's provider-agnostic event union and the
// concrete agent binary (claude, auggie, gemini, ...) speaking the Agent
// Client Protocol over stdin/stdout, the way agentctl's own process.Manager
// launches and wires that subprocess.
package acpprovider

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/agentctl/config"
	"github.com/paseo-dev/paseo/internal/agentctl/process"
	"github.com/paseo-dev/paseo/internal/agentctl/types"
	"github.com/paseo-dev/paseo/internal/agentmgr"
	"github.com/paseo-dev/paseo/internal/common/logger"
)

// Provider runs one ACP CLI agent per stream, subprocess-per-run: each
// Stream call spawns command, drives a single prompt turn to completion, and
// tears the subprocess down. Permission requests raised mid-run are
// surfaced as agentmgr.EventPermissionRequest and block the subprocess's ACP
// goroutine until RespondToPermission resolves them.
type Provider struct {
	name    string
	command []string
	log     *logger.Logger

	mu       sync.Mutex
	pendingP map[string]*pendingPermission // requestID -> decision slot
}

type pendingPermission struct {
	req    *types.PermissionRequest
	decide chan types.PermissionResponse
}

// New constructs an ACP provider that launches command (argv form, e.g.
// []string{"claude", "--acp"}) as the agent subprocess for every run.
func New(name string, command []string, log *logger.Logger) *Provider {
	return &Provider{
		name:     name,
		command:  command,
		log:      log.WithFields(zap.String("provider", name)),
		pendingP: make(map[string]*pendingPermission),
	}
}

func (p *Provider) Name() string             { return p.name }
func (p *Provider) SupportsPermissions() bool { return true }
func (p *Provider) SupportsPersistence() bool { return false }

// Stream spawns the agent subprocess, opens one ACP session rooted at cwd,
// and drives prompt to completion, translating ACP session updates into
// agentmgr.ProviderEvent as they arrive.
func (p *Provider) Stream(ctx context.Context, cwd, prompt string, images [][]byte) (<-chan agentmgr.ProviderEvent, error) {
	cfg := &config.Config{
		AgentArgs:        p.command,
		WorkDir:          cwd,
		OutputBufferSize: 1000,
	}
	mgr := process.NewManager(cfg, p.log)
	mgr.SetPermissionHandler(p.handlePermission)

	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("start %s subprocess: %w", p.name, err)
	}

	conn := mgr.GetConnection()
	sess, err := conn.NewSession(ctx, acp.NewSessionRequest{Cwd: cwd, McpServers: []acp.McpServer{}})
	if err != nil {
		_ = mgr.Stop(ctx)
		return nil, fmt.Errorf("new %s session: %w", p.name, err)
	}
	mgr.SetSessionID(sess.SessionId)

	out := make(chan agentmgr.ProviderEvent, 64)
	go p.driveTurn(ctx, mgr, sess.SessionId, prompt, out)
	return out, nil
}

// driveTurn forwards ACP session-update notifications to out while the
// prompt turn runs, then emits a final finish/error event and stops the
// subprocess.
func (p *Provider) driveTurn(ctx context.Context, mgr *process.Manager, sessionID acp.SessionId, prompt string, out chan<- agentmgr.ProviderEvent) {
	defer close(out)
	defer mgr.Stop(context.Background())

	updates := mgr.GetUpdates()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case n, ok := <-updates:
				if !ok {
					return
				}
				if ev, ok := convertNotification(n); ok {
					select {
					case out <- ev:
					case <-stop:
						return
					}
				}
			case <-stop:
				return
			}
		}
	}()

	conn := mgr.GetConnection()
	resp, err := conn.Prompt(ctx, acp.PromptRequest{
		SessionId: sessionID,
		Prompt:    []acp.ContentBlock{acp.TextBlock(prompt)},
	})
	if err != nil {
		out <- agentmgr.ProviderEvent{Kind: agentmgr.EventError, Err: err}
		return
	}
	out <- agentmgr.ProviderEvent{Kind: agentmgr.EventFinish, StopReason: string(resp.StopReason)}
}

func convertNotification(n acp.SessionNotification) (agentmgr.ProviderEvent, bool) {
	u := n.Update
	switch {
	case u.AgentMessageChunk != nil && u.AgentMessageChunk.Content.Text != nil:
		return agentmgr.ProviderEvent{Kind: agentmgr.EventTextDelta, Text: u.AgentMessageChunk.Content.Text.Text}, true
	case u.ToolCall != nil:
		return agentmgr.ProviderEvent{
			Kind:      agentmgr.EventToolCall,
			CallID:    string(u.ToolCall.ToolCallId),
			ToolName:  u.ToolCall.Title,
			ToolInput: u.ToolCall.RawInput,
		}, true
	case u.ToolCallUpdate != nil && u.ToolCallUpdate.Status != nil && string(*u.ToolCallUpdate.Status) == "completed":
		return agentmgr.ProviderEvent{
			Kind:   agentmgr.EventToolResult,
			CallID: string(u.ToolCallUpdate.ToolCallId),
			Output: u.ToolCallUpdate.RawOutput,
		}, true
	}
	return agentmgr.ProviderEvent{}, false
}

// handlePermission is invoked on the subprocess's own goroutine (inside
// server/acp.Client.RequestPermission) when the agent asks for approval. It
// parks the request until RespondToPermission supplies a decision.
func (p *Provider) handlePermission(ctx context.Context, req *types.PermissionRequest) (*types.PermissionResponse, error) {
	slot := &pendingPermission{req: req, decide: make(chan types.PermissionResponse, 1)}

	p.mu.Lock()
	p.pendingP[req.ToolCallID] = slot
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pendingP, req.ToolCallID)
		p.mu.Unlock()
	}()

	select {
	case resp := <-slot.decide:
		return &resp, nil
	case <-ctx.Done():
		return &types.PermissionResponse{Cancelled: true}, nil
	}
}

// RespondToPermission resolves the pending request identified by requestID,
// matching rememberPolicy against the offered options where possible
// (falling back to the first allow/reject-shaped option).
func (p *Provider) RespondToPermission(ctx context.Context, requestID string, accept bool, rememberPolicy string) error {
	p.mu.Lock()
	slot, ok := p.pendingP[requestID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending permission request %q", requestID)
	}

	option := selectOption(slot.req.Options, accept, rememberPolicy)
	if option == "" {
		slot.decide <- types.PermissionResponse{Cancelled: true}
		return nil
	}
	slot.decide <- types.PermissionResponse{OptionID: option}
	return nil
}

func selectOption(options []types.PermissionOption, accept bool, rememberPolicy string) string {
	wantAlways := rememberPolicy == "always"
	var fallback string
	for _, opt := range options {
		isAllow := opt.Kind == "allow_once" || opt.Kind == "allow_always"
		if accept != isAllow {
			continue
		}
		if fallback == "" {
			fallback = opt.OptionID
		}
		always := opt.Kind == "allow_always" || opt.Kind == "reject_always"
		if always == wantAlways {
			return opt.OptionID
		}
	}
	return fallback
}

// ListModels returns a single entry whose ID and label are the provider's
// name. The ACP protocol in this SDK version has no
// model-discovery call (no session/models RPC); agents advertise model
// choice, if any, via their own CLI flags, not over ACP.
func (p *Provider) ListModels(ctx context.Context) ([]agentmgr.ModelInfo, error) {
	return []agentmgr.ModelInfo{{ID: p.name, Label: p.name}}, nil
}

// Resume is a no-op for this provider: runs are subprocess-per-call and
// leave nothing live to reconnect to once Stream's turn has finished.
// Persistence across process restarts is handled above the provider layer
// by agentmgr's own timeline replay (spec §4.3.1), not by resuming the ACP
// session itself.
func (p *Provider) Resume(ctx context.Context, handle agentmgr.ResumeHandle) (<-chan agentmgr.ProviderEvent, error) {
	return nil, fmt.Errorf("%s: no live session for handle %q", p.name, handle)
}

var _ agentmgr.Provider = (*Provider)(nil)
