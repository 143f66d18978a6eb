package agentmgr

import "context"

// ProviderEventKind discriminates the streaming event union an LLM provider
// SDK emits (spec §1: "text_delta | tool_call | tool_result |
// permission_request | finish | error").
type ProviderEventKind string

const (
	EventTextDelta         ProviderEventKind = "text_delta"
	EventToolCall          ProviderEventKind = "tool_call"
	EventToolResult        ProviderEventKind = "tool_result"
	EventPermissionRequest ProviderEventKind = "permission_request"
	EventFinish            ProviderEventKind = "finish"
	EventError             ProviderEventKind = "error"
)

// ProviderEvent is one item in a provider's streaming event sequence.
type ProviderEvent struct {
	Kind ProviderEventKind

	// EventTextDelta
	Text string

	// EventToolCall / EventToolResult
	CallID    string
	ToolName  string
	ToolInput any
	Output    any

	// EventPermissionRequest
	RequestID      string
	ProposedAction any

	// EventFinish / EventError
	StopReason string
	Err        error
}

// ResumeHandle opaquely identifies provider-side state to resume into (the
// persistence handle of spec §3's ManagedAgent.persistence).
type ResumeHandle string

// ModelInfo describes one model a provider exposes via listModels.
type ModelInfo struct {
	ID    string
	Label string
}

// Provider abstracts one concrete LLM provider SDK behind the uniform
// interface spec §9 names: "Abstract each provider behind {stream(prompt,
// ctx) → events; resume(handle) → events; listModels() → […];
// supportsPermissions; supportsPersistence}."
type Provider interface {
	Name() string
	SupportsPermissions() bool
	SupportsPersistence() bool

	// Stream starts a new run with the given prompt and cwd, returning a
	// channel of events closed when the run ends (finish or error) or ctx is
	// cancelled.
	Stream(ctx context.Context, cwd, prompt string, images [][]byte) (<-chan ProviderEvent, error)

	// Resume restores a prior run's provider-side state for a new stream.
	Resume(ctx context.Context, handle ResumeHandle) (<-chan ProviderEvent, error)

	// ListModels enumerates models this provider can run.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// RespondToPermission resolves a previously emitted permission_request.
	RespondToPermission(ctx context.Context, requestID string, accept bool, rememberPolicy string) error
}

// PermissionRequest is a provider-originated gate blocking a tool call until
// the user accepts or denies it (spec §3).
type PermissionRequest struct {
	AgentID        string
	RequestID      string
	ToolName       string
	ProposedAction any
}
