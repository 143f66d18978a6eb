// Package checkout implements the worktree & checkout engine (spec §4.4): it
// creates paseo-owned Git worktrees, runs optional setup commands streaming
// their output to an agent's timeline, and enforces ownership before any
// destructive operation touches a path on disk.
//
// This package defines its own record types matching the spec's
// session-and-slug model, does its own repo-scoped locking and runs git
// itself; from internal/worktree it uses only the configuration in
// internal/worktree/config.go.
package checkout

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paseo-dev/paseo/internal/common/logger"
	"github.com/paseo-dev/paseo/internal/worktree"
)

// ErrorCode is the spec §4.4.5 error taxonomy: "NOT_GIT_REPO | NOT_ALLOWED |
// MERGE_CONFLICT | UNKNOWN, each with {code, message}; propagated verbatim to
// the client."
type ErrorCode string

const (
	CodeNotGitRepo    ErrorCode = "NOT_GIT_REPO"
	CodeNotAllowed    ErrorCode = "NOT_ALLOWED"
	CodeMergeConflict ErrorCode = "MERGE_CONFLICT"
	CodeUnknown       ErrorCode = "UNKNOWN"
)

// Error is the structured error every checkout operation returns on failure.
type Error struct {
	Code    ErrorCode
	Message string
	// ConflictedFiles is populated only for MERGE_CONFLICT errors.
	ConflictedFiles []string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func notGitRepo(msg string) *Error    { return &Error{Code: CodeNotGitRepo, Message: msg} }
func notAllowed(msg string) *Error    { return &Error{Code: CodeNotAllowed, Message: msg} }
func unknownErr(err error) *Error     { return &Error{Code: CodeUnknown, Message: err.Error()} }
func mergeConflict(msg string, files []string) *Error {
	return &Error{Code: CodeMergeConflict, Message: msg, ConflictedFiles: files}
}

// safeRefPattern is spec §4.4.1's baseBranch/worktreeSlug validation:
// "^[A-Za-z0-9._/-]+$ with no .. and no @{".
var safeRefPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

func validateRef(name string) error {
	if name == "" || !safeRefPattern.MatchString(name) || strings.Contains(name, "..") || strings.Contains(name, "@{") {
		return fmt.Errorf("invalid ref %q", name)
	}
	return nil
}

// Record is a paseo-owned worktree's persisted tracking metadata (spec §6:
// "worktrees/ — tracking metadata for paseo-owned worktrees").
type Record struct {
	Slug       string    `json:"slug"`
	RepoRoot   string     `json:"repoRoot"`
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"baseBranch"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateRequest is createWorktree's argument struct (spec §4.4.1).
type CreateRequest struct {
	BranchName   string
	Cwd          string // repository root to fork the worktree from
	BaseBranch   string
	WorktreeSlug string
}

// repoLockEntry is one slot of a refcounted per-repo mutex pool so concurrent worktree creates against the same repository
// serialize their git operations.
type repoLockEntry struct {
	mu       *sync.Mutex
	refCount int
}

// Engine is the worktree & checkout engine.
type Engine struct {
	cfg worktree.Config
	log *logger.Logger

	repoLockMu sync.Mutex
	repoLocks  map[string]*repoLockEntry

	mu      sync.RWMutex
	records map[string]*Record // slug -> record
}

// New validates cfg and constructs an Engine. Worktrees are created under
// <repo>/.paseo/worktrees/<slug>, not under cfg.BasePath.
func New(cfg worktree.Config, log *logger.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:       cfg,
		log:       log.WithFields(zap.String("component", "checkout_engine")),
		repoLocks: make(map[string]*repoLockEntry),
		records:   make(map[string]*Record),
	}, nil
}

func (e *Engine) getRepoLock(repoPath string) *sync.Mutex {
	e.repoLockMu.Lock()
	defer e.repoLockMu.Unlock()
	entry, ok := e.repoLocks[repoPath]
	if !ok {
		entry = &repoLockEntry{mu: &sync.Mutex{}}
		e.repoLocks[repoPath] = entry
	}
	entry.refCount++
	return entry.mu
}

func (e *Engine) releaseRepoLock(repoPath string) {
	e.repoLockMu.Lock()
	defer e.repoLockMu.Unlock()
	entry, ok := e.repoLocks[repoPath]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(e.repoLocks, repoPath)
	}
}

// ListWorktrees returns every worktree this engine has created, in no
// particular order. Used by paseo_worktree_list_request (spec §4.2.2).
func (e *Engine) ListWorktrees() []*Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Record, 0, len(e.records))
	for _, rec := range e.records {
		out = append(out, rec)
	}
	return out
}

func (e *Engine) isGitRepo(path string) bool {
	cmd := e.gitCmd(context.Background(), path, "rev-parse", "--is-inside-work-tree")
	out, err := cmd.CombinedOutput()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

func (e *Engine) branchExists(repoPath, branch string) bool {
	cmd := e.gitCmd(context.Background(), repoPath, "rev-parse", "--verify", "--quiet", branch)
	return cmd.Run() == nil
}

// gitCmd builds a non-interactive git invocation.
func (e *Engine) gitCmd(ctx context.Context, repoPath string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=Never",
		"GIT_ASKPASS=echo",
		"SSH_ASKPASS=/bin/false",
		"GIT_SSH_COMMAND=ssh -oBatchMode=yes",
	)
	cmd.WaitDelay = 500 * time.Millisecond
	return cmd
}

// CreateWorktree implements spec §4.4.1.
func (e *Engine) CreateWorktree(ctx context.Context, req CreateRequest) (*Record, error) {
	if !e.isGitRepo(req.Cwd) {
		return nil, notGitRepo(fmt.Sprintf("%s is not a git repository", req.Cwd))
	}
	if err := validateRef(req.BaseBranch); err != nil {
		return nil, notAllowed("invalid baseBranch: " + err.Error())
	}
	if err := validateRef(req.WorktreeSlug); err != nil {
		return nil, notAllowed("invalid worktreeSlug: " + err.Error())
	}
	if e.branchExists(req.Cwd, req.BranchName) {
		return nil, &Error{Code: CodeNotAllowed, Message: fmt.Sprintf("branch %q already exists", req.BranchName)}
	}

	lock := e.getRepoLock(req.Cwd)
	lock.Lock()
	defer func() {
		lock.Unlock()
		e.releaseRepoLock(req.Cwd)
	}()

	worktreePath := filepath.Join(req.Cwd, ".paseo", "worktrees", req.WorktreeSlug)
	if _, err := os.Stat(worktreePath); err == nil {
		return nil, &Error{Code: CodeNotAllowed, Message: fmt.Sprintf("worktree slug %q already in use", req.WorktreeSlug)}
	}

	if err := os.MkdirAll(filepath.Dir(worktreePath), 0o755); err != nil {
		return nil, unknownErr(err)
	}

	cmd := e.gitCmd(ctx, req.Cwd, "worktree", "add", "-b", req.BranchName, worktreePath, req.BaseBranch)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, unknownErr(fmt.Errorf("git worktree add: %w: %s", err, strings.TrimSpace(string(out))))
	}

	rec := &Record{
		Slug:       req.WorktreeSlug,
		RepoRoot:   req.Cwd,
		Path:       worktreePath,
		Branch:     req.BranchName,
		BaseBranch: req.BaseBranch,
		CreatedAt:  time.Now(),
	}

	e.mu.Lock()
	e.records[rec.Slug] = rec
	e.mu.Unlock()

	e.log.Info("created worktree", zap.String("slug", rec.Slug), zap.String("branch", rec.Branch))
	return rec, nil
}

// isPaseoOwnedWorktreeCwd reports whether cwd is, or lies inside, a worktree
// this engine created and still tracks and, if so, resolves repoRoot (spec §4.4.3).
func (e *Engine) isPaseoOwnedWorktreeCwd(cwd string) (allowed bool, repoRoot string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rec := range e.records {
		if cwd == rec.Path || strings.HasPrefix(cwd, rec.Path+string(filepath.Separator)) {
			return true, rec.RepoRoot
		}
	}
	return false, ""
}

// AgentCloser closes and removes every agent rooted under a worktree path,
// satisfying spec §4.4.3's archive precondition without checkout importing
// agentmgr directly (it would create an import cycle once agentmgr wires
// checkout for worktree-backed agent creation).
type AgentCloser interface {
	CloseAgentsUnderCwd(ctx context.Context, cwdPrefix string) error
}

// ArchiveWorktree implements spec §4.4.3: verifies ownership, closes every
// agent rooted in the worktree, then deletes it.
func (e *Engine) ArchiveWorktree(ctx context.Context, cwd string, closer AgentCloser) error {
	allowed, repoRoot := e.isPaseoOwnedWorktreeCwd(cwd)
	if !allowed {
		return notAllowed(fmt.Sprintf("%s is not a paseo-owned worktree path", cwd))
	}

	e.mu.RLock()
	var rec *Record
	for _, r := range e.records {
		if r.Path == cwd {
			rec = r
			break
		}
	}
	e.mu.RUnlock()
	if rec == nil {
		return notAllowed("no tracked worktree record for " + cwd)
	}

	if closer != nil {
		if err := closer.CloseAgentsUnderCwd(ctx, rec.Path); err != nil {
			return unknownErr(fmt.Errorf("close agents under worktree: %w", err))
		}
	}

	return e.deletePaseoWorktree(ctx, rec, repoRoot)
}

func (e *Engine) deletePaseoWorktree(ctx context.Context, rec *Record, repoRoot string) error {
	lock := e.getRepoLock(repoRoot)
	lock.Lock()
	defer func() {
		lock.Unlock()
		e.releaseRepoLock(repoRoot)
	}()

	cmd := e.gitCmd(ctx, repoRoot, "worktree", "remove", "--force", rec.Path)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.log.Warn("git worktree remove failed, forcing directory removal",
			zap.String("path", rec.Path), zap.Error(err), zap.String("output", strings.TrimSpace(string(out))))
		if rmErr := os.RemoveAll(rec.Path); rmErr != nil {
			return unknownErr(fmt.Errorf("remove worktree dir: %w", rmErr))
		}
		_ = e.gitCmd(ctx, repoRoot, "worktree", "prune").Run()
	}

	e.mu.Lock()
	delete(e.records, rec.Slug)
	e.mu.Unlock()

	e.log.Info("archived worktree", zap.String("slug", rec.Slug))
	return nil
}
