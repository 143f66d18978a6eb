package checkout

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paseo-dev/paseo/internal/common/logger"
	"github.com/paseo-dev/paseo/internal/worktree"
)

func initRepo(t *testing.T) string {
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

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := worktree.Config{BasePath: t.TempDir()}
	e, err := New(cfg, logger.Default())
	require.NoError(t, err)
	return e
}

func TestCreateWorktreeRejectsNonGitRepo(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateWorktree(context.Background(), CreateRequest{
		BranchName: "feature/x", Cwd: t.TempDir(), BaseBranch: "main", WorktreeSlug: "x",
	})
	var ckErr *Error
	require.ErrorAs(t, err, &ckErr)
	assert.Equal(t, CodeNotGitRepo, ckErr.Code)
}

func TestCreateWorktreeRejectsUnsafeSlug(t *testing.T) {
	e := newTestEngine(t)
	repo := initRepo(t)
	_, err := e.CreateWorktree(context.Background(), CreateRequest{
		BranchName: "feature/x", Cwd: repo, BaseBranch: "main", WorktreeSlug: "../escape",
	})
	var ckErr *Error
	require.ErrorAs(t, err, &ckErr)
	assert.Equal(t, CodeNotAllowed, ckErr.Code)
}

func TestCreateWorktreeSucceeds(t *testing.T) {
	e := newTestEngine(t)
	repo := initRepo(t)
	rec, err := e.CreateWorktree(context.Background(), CreateRequest{
		BranchName: "feature/x", Cwd: repo, BaseBranch: "main", WorktreeSlug: "slug1",
	})
	require.NoError(t, err)
	assert.Equal(t, "feature/x", rec.Branch)
	assert.DirExists(t, rec.Path)
}

func TestArchiveRejectsNonOwnedPath(t *testing.T) {
	e := newTestEngine(t)
	err := e.ArchiveWorktree(context.Background(), "/tmp/not-a-worktree", nil)
	var ckErr *Error
	require.ErrorAs(t, err, &ckErr)
	assert.Equal(t, CodeNotAllowed, ckErr.Code)
}

func TestArchiveRemovesTrackedWorktree(t *testing.T) {
	e := newTestEngine(t)
	repo := initRepo(t)
	rec, err := e.CreateWorktree(context.Background(), CreateRequest{
		BranchName: "feature/y", Cwd: repo, BaseBranch: "main", WorktreeSlug: "slug2",
	})
	require.NoError(t, err)

	require.NoError(t, e.ArchiveWorktree(context.Background(), rec.Path, nil))
	assert.NoDirExists(t, rec.Path)
}

func TestCommitWithEmptyMessageFallsBack(t *testing.T) {
	e := newTestEngine(t)
	repo := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "new.txt"), []byte("x"), 0o644))

	msg, err := e.Commit(context.Background(), repo, "", nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackCommitMessage, msg)
}

func TestMergeRejectsDirtyTargetWhenRequired(t *testing.T) {
	e := newTestEngine(t)
	repo := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(repo, "dirty.txt"), []byte("x"), 0o644))

	err := e.Merge(context.Background(), MergeRequest{
		RepoPath: repo, SourceBranch: "main", TargetBranch: "main", RequireCleanTarget: true,
	})
	var ckErr *Error
	require.ErrorAs(t, err, &ckErr)
	assert.Equal(t, CodeNotAllowed, ckErr.Code)
}

func TestRunSetupCommandsStopsOnFirstFailure(t *testing.T) {
	repo := initRepo(t)
	results := RunSetupCommands(context.Background(), repo, "call-1", []string{"true", "exit 3", "true"}, nil, nil)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].ExitCode)
	assert.Equal(t, 3, results[1].ExitCode)
}
