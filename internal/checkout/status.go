package checkout

import (
	"context"
	"strings"
)

// StatusResult is checkout_status_request's result (spec §4.2.2).
type StatusResult struct {
	Branch       string   `json:"branch"`
	Dirty        bool     `json:"dirty"`
	ChangedFiles []string `json:"changedFiles"`
	Ahead        int      `json:"ahead"`
	Behind       int      `json:"behind"`
}

// Status reports the working tree state of repoPath.
func (e *Engine) Status(ctx context.Context, repoPath string) (*StatusResult, error) {
	if !e.isGitRepo(repoPath) {
		return nil, notGitRepo(repoPath + " is not a git repository")
	}

	branchOut, err := e.gitCmd(ctx, repoPath, "rev-parse", "--abbrev-ref", "HEAD").CombinedOutput()
	if err != nil {
		return nil, unknownErr(err)
	}

	files, err := e.listConflictedOrChangedFiles(ctx, repoPath)
	if err != nil {
		return nil, unknownErr(err)
	}

	ahead, behind := e.aheadBehind(ctx, repoPath)

	return &StatusResult{
		Branch:       strings.TrimSpace(string(branchOut)),
		Dirty:        len(files) > 0,
		ChangedFiles: files,
		Ahead:        ahead,
		Behind:       behind,
	}, nil
}

func (e *Engine) listConflictedOrChangedFiles(ctx context.Context, repoPath string) ([]string, error) {
	out, err := e.gitCmd(ctx, repoPath, "status", "--porcelain").CombinedOutput()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < 4 {
			continue
		}
		files = append(files, strings.TrimSpace(line[3:]))
	}
	return files, nil
}

// aheadBehind best-efforts the commit distance to the upstream branch,
// returning zeros when there is none configured.
func (e *Engine) aheadBehind(ctx context.Context, repoPath string) (ahead, behind int) {
	out, err := e.gitCmd(ctx, repoPath, "rev-list", "--left-right", "--count", "HEAD...@{upstream}").CombinedOutput()
	if err != nil {
		return 0, 0
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) != 2 {
		return 0, 0
	}
	ahead = atoiOrZero(fields[0])
	behind = atoiOrZero(fields[1])
	return ahead, behind
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Diff returns the unified diff of repoPath's working tree against HEAD, or
// for a single path when given.
func (e *Engine) Diff(ctx context.Context, repoPath, path string) (string, error) {
	if !e.isGitRepo(repoPath) {
		return "", notGitRepo(repoPath + " is not a git repository")
	}
	args := []string{"diff", "HEAD"}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := e.gitCmd(ctx, repoPath, args...).CombinedOutput()
	if err != nil {
		return "", unknownErr(err)
	}
	return string(out), nil
}
