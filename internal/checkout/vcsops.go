package checkout

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// MetadataGenerator produces a short commit message / title from the
// worktree's diff, backing the "auto-generates via the metadata model"
// clause of spec §4.4.4. Implementations typically call a cheap model (spec
// §4.3.6); the fallback path never depends on one.
type MetadataGenerator interface {
	GenerateCommitMessage(ctx context.Context, diff string) (string, error)
	GeneratePRTitleAndBody(ctx context.Context, diff string) (title, body string, err error)
}

// fallbackCommitMessage is spec §4.4.4's documented fallback: "falls back to
// 'Update files' on failure."
const fallbackCommitMessage = "Update files"

// Commit stages all changes and commits with message, auto-generating one
// via gen when message is empty.
func (e *Engine) Commit(ctx context.Context, repoPath, message string, gen MetadataGenerator) (string, error) {
	if out, err := e.gitCmd(ctx, repoPath, "add", "-A").CombinedOutput(); err != nil {
		return "", unknownErr(fmt.Errorf("git add: %w: %s", err, strings.TrimSpace(string(out))))
	}

	if message == "" {
		message = e.generateCommitMessage(ctx, repoPath, gen)
	}

	cmd := e.gitCmd(ctx, repoPath, "commit", "-m", message)
	out, err := cmd.CombinedOutput()
	if err != nil {
		combined := strings.ToLower(string(out))
		if strings.Contains(combined, "nothing to commit") {
			return "", &Error{Code: CodeUnknown, Message: "nothing to commit"}
		}
		return "", unknownErr(fmt.Errorf("git commit: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return message, nil
}

func (e *Engine) generateCommitMessage(ctx context.Context, repoPath string, gen MetadataGenerator) string {
	diffOut, err := e.gitCmd(ctx, repoPath, "diff", "--cached", "--stat").CombinedOutput()
	if err != nil {
		return fallbackCommitMessage
	}
	if gen == nil {
		return fallbackCommitMessage
	}
	msg, err := gen.GenerateCommitMessage(ctx, string(diffOut))
	if err != nil || strings.TrimSpace(msg) == "" {
		e.log.Warn("commit message generation failed, using fallback", zap.Error(err))
		return fallbackCommitMessage
	}
	return msg
}

// MergeRequest is merge's argument struct (spec §4.4.4).
type MergeRequest struct {
	RepoPath           string
	SourceBranch       string
	TargetBranch       string
	RequireCleanTarget bool
}

// Merge merges sourceBranch into targetBranch, rejecting a dirty target when
// RequireCleanTarget is set and surfacing a structured MERGE_CONFLICT on
// conflict (spec §4.4.4).
func (e *Engine) Merge(ctx context.Context, req MergeRequest) error {
	if req.RequireCleanTarget {
		dirty, err := e.isDirty(ctx, req.RepoPath)
		if err != nil {
			return unknownErr(err)
		}
		if dirty {
			return notAllowed(fmt.Sprintf("target branch %q has uncommitted changes", req.TargetBranch))
		}
	}

	if out, err := e.gitCmd(ctx, req.RepoPath, "checkout", req.TargetBranch).CombinedOutput(); err != nil {
		return unknownErr(fmt.Errorf("git checkout %s: %w: %s", req.TargetBranch, err, strings.TrimSpace(string(out))))
	}

	cmd := e.gitCmd(ctx, req.RepoPath, "merge", "--no-edit", req.SourceBranch)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if files := parseConflictedFiles(string(out)); len(files) > 0 || strings.Contains(string(out), "CONFLICT") {
			conflicted, lsErr := e.listConflictedFiles(ctx, req.RepoPath)
			if lsErr == nil && len(conflicted) > 0 {
				files = conflicted
			}
			_ = e.gitCmd(ctx, req.RepoPath, "merge", "--abort").Run()
			return mergeConflict(fmt.Sprintf("merge of %s into %s conflicted", req.SourceBranch, req.TargetBranch), files)
		}
		return unknownErr(fmt.Errorf("git merge: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

func (e *Engine) isDirty(ctx context.Context, repoPath string) (bool, error) {
	out, err := e.gitCmd(ctx, repoPath, "status", "--porcelain").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (e *Engine) listConflictedFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := e.gitCmd(ctx, repoPath, "diff", "--name-only", "--diff-filter=U").CombinedOutput()
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	var files []string
	for _, l := range lines {
		if l != "" {
			files = append(files, l)
		}
	}
	return files, nil
}

func parseConflictedFiles(mergeOutput string) []string {
	var files []string
	for _, line := range strings.Split(mergeOutput, "\n") {
		if strings.HasPrefix(line, "CONFLICT") {
			if idx := strings.LastIndex(line, " in "); idx != -1 {
				files = append(files, strings.TrimSpace(line[idx+4:]))
			}
		}
	}
	return files
}

// Push pushes the current branch, adding upstream tracking if absent (spec
// §4.4.4: "push pushes current branch with upstream tracking if absent").
func (e *Engine) Push(ctx context.Context, repoPath string) error {
	branchOut, err := e.gitCmd(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD").CombinedOutput()
	if err != nil {
		return unknownErr(fmt.Errorf("resolve current branch: %w", err))
	}
	branch := strings.TrimSpace(string(branchOut))

	hasUpstream := e.gitCmd(ctx, repoPath, "rev-parse", "--abbrev-ref", branch+"@{upstream}").Run() == nil

	args := []string{"push"}
	if !hasUpstream {
		args = append(args, "--set-upstream", "origin", branch)
	}

	if out, err := e.gitCmd(ctx, repoPath, args...).CombinedOutput(); err != nil {
		return unknownErr(fmt.Errorf("git push: %w: %s", err, strings.TrimSpace(string(out))))
	}
	return nil
}

// PRRequest is pr_create's argument struct (spec §4.4.4).
type PRRequest struct {
	RepoPath string
	Title    string
	Body     string
	Base     string
}

// PRResult is pr_create's result.
type PRResult struct {
	URL string
}

// CreatePR creates a pull request via the gh CLI, auto-generating
// title/body when absent. Any uncommitted work must already be committed —
// this method never commits on the caller's behalf (spec §4.4.4: "no
// implicit commit").
func (e *Engine) CreatePR(ctx context.Context, req PRRequest, gen MetadataGenerator) (*PRResult, error) {
	dirty, err := e.isDirty(ctx, req.RepoPath)
	if err != nil {
		return nil, unknownErr(err)
	}
	if dirty {
		return nil, notAllowed("uncommitted changes must be committed before creating a pull request")
	}

	title, body := req.Title, req.Body
	if title == "" {
		title, body = e.generatePRMetadata(ctx, req.RepoPath, gen)
	}

	args := []string{"pr", "create", "--title", title, "--body", body}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = req.RepoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, unknownErr(fmt.Errorf("gh pr create: %w: %s", err, strings.TrimSpace(string(out))))
	}

	return &PRResult{URL: strings.TrimSpace(string(out))}, nil
}

func (e *Engine) generatePRMetadata(ctx context.Context, repoPath string, gen MetadataGenerator) (title, body string) {
	if gen == nil {
		return "Update files", ""
	}
	diffOut, err := e.gitCmd(ctx, repoPath, "diff", "origin/HEAD...HEAD", "--stat").CombinedOutput()
	if err != nil {
		return "Update files", ""
	}
	title, body, err = gen.GeneratePRTitleAndBody(ctx, string(diffOut))
	if err != nil || strings.TrimSpace(title) == "" {
		e.log.Warn("PR metadata generation failed, using fallback", zap.Error(err))
		return "Update files", ""
	}
	return title, body
}
