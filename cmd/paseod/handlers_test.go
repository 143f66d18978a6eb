package main

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/agentmgr"
	"github.com/paseo-dev/paseo/internal/agentstore"
	"github.com/paseo-dev/paseo/internal/checkout"
	"github.com/paseo-dev/paseo/internal/common/logger"
	"github.com/paseo-dev/paseo/internal/sessionmux"
	"github.com/paseo-dev/paseo/internal/worktree"
	ws "github.com/paseo-dev/paseo/pkg/websocket"
)

func newTestHandlers(t *testing.T) *handlers {
	t.Helper()
	store, err := agentstore.New(t.TempDir(), logger.Default())
	require.NoError(t, err)
	noProvider := func(name string) (agentmgr.Provider, error) { return nil, assert.AnError }
	agents := agentmgr.NewManager(logger.Default(), store, noProvider)

	cfg := worktree.Config{BasePath: t.TempDir()}
	co, err := checkout.New(cfg, logger.Default())
	require.NoError(t, err)

	return &handlers{agents: agents, checkout: co, log: logger.Default()}
}

func call(t *testing.T, h *handlers, fn func(context.Context, *ws.Message) (*ws.Message, error), action string, payload any) *ws.Message {
	t.Helper()
	req, err := ws.NewRequest("req-1", action, payload)
	require.NoError(t, err)
	resp, err := fn(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func TestCreateAgentThenFetchAgents(t *testing.T) {
	h := newTestHandlers(t)
	resp := call(t, h, h.createAgent, sessionmux.ActionCreateAgentRequest, createAgentPayload{
		Provider: "claude",
		Cwd:      "/tmp/work",
		Labels:   map[string]string{"team": "infra"},
	})
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	var snap agentmgr.AgentSnapshot
	require.NoError(t, resp.ParsePayload(&snap))
	assert.Equal(t, agentmgr.StateIdle, snap.Lifecycle)
	assert.Equal(t, "claude", snap.Provider)

	list := call(t, h, h.fetchAgents, sessionmux.ActionFetchAgentsRequest, labelFilterPayload{})
	var body map[string][]agentmgr.AgentSnapshot
	require.NoError(t, list.ParsePayload(&body))
	assert.Len(t, body["agents"], 1)
}

func TestCancelAgentUnknownIDReturnsAgentNotFound(t *testing.T) {
	h := newTestHandlers(t)
	resp := call(t, h, h.cancelAgent, sessionmux.ActionCancelAgentRequest, agentIDPayload{AgentID: "does-not-exist"})
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, sessionmux.ErrAgentNotFound, errPayload.Code)
}

func TestDeleteAgentRemovesItFromFetchAgents(t *testing.T) {
	h := newTestHandlers(t)
	created := call(t, h, h.createAgent, sessionmux.ActionCreateAgentRequest, createAgentPayload{Provider: "claude", Cwd: "/tmp"})
	var snap agentmgr.AgentSnapshot
	require.NoError(t, created.ParsePayload(&snap))

	resp := call(t, h, h.deleteAgent, sessionmux.ActionDeleteAgentRequest, agentIDPayload{AgentID: snap.ID})
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	list := call(t, h, h.fetchAgents, sessionmux.ActionFetchAgentsRequest, labelFilterPayload{})
	var body map[string][]agentmgr.AgentSnapshot
	require.NoError(t, list.ParsePayload(&body))
	assert.Empty(t, body["agents"])
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t.com", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestCheckoutStatusAndCommit(t *testing.T) {
	h := newTestHandlers(t)
	repo := initTestRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "file.txt"), []byte("new"), 0o644))

	status := call(t, h, h.checkoutStatus, sessionmux.ActionCheckoutStatusRequest, cwdPayload{Cwd: repo})
	var statusResult checkout.StatusResult
	require.NoError(t, status.ParsePayload(&statusResult))
	assert.True(t, statusResult.Dirty)
	assert.Contains(t, statusResult.ChangedFiles, "file.txt")

	commit := call(t, h, h.checkoutCommit, sessionmux.ActionCheckoutCommitRequest, checkoutCommitPayload{Cwd: repo})
	var committed map[string]string
	require.NoError(t, commit.ParsePayload(&committed))
	assert.Equal(t, "Update files", committed["message"])
}

func TestCheckoutStatusRejectsNonGitRepo(t *testing.T) {
	h := newTestHandlers(t)
	resp := call(t, h, h.checkoutStatus, sessionmux.ActionCheckoutStatusRequest, cwdPayload{Cwd: t.TempDir()})
	assert.Equal(t, ws.MessageTypeError, resp.Type)

	var errPayload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&errPayload))
	assert.Equal(t, sessionmux.ErrNotGitRepo, errPayload.Code)
}

type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
}

func (t *recordingTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, frame)
	return nil
}

func (t *recordingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

func TestSubscribeAgentUpdatesDeliversUpsertOnCreate(t *testing.T) {
	h := newTestHandlers(t)
	dispatcher := ws.NewDispatcher()
	registerSessionHandlers(dispatcher, h.agents, h.checkout, h.log)

	transport := &recordingTransport{}
	sess := sessionmux.New(context.Background(), "sess-1", dispatcher, transport, h.log)
	defer sess.Close()
	go sess.DrainLoop(sess.Context())

	req, err := ws.NewRequest("sub-1", sessionmux.ActionSubscribeAgentUpdates, subscribePayload{})
	require.NoError(t, err)
	sess.HandleInbound(sess.Context(), mustEncode(t, req))

	require.Eventually(t, func() bool { return transport.count() >= 1 }, time.Second, 10*time.Millisecond)

	_, err = h.agents.Create(context.Background(), "agent-1", "claude", "/tmp", nil, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return transport.count() >= 2 }, time.Second, 10*time.Millisecond)
}

func mustEncode(t *testing.T, msg *ws.Message) []byte {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}
