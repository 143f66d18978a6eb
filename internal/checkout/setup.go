package checkout

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// SetupCommandResult is one step's result (spec §4.4.2:
// "{command, cwd, exitCode, stdout, stderr}").
type SetupCommandResult struct {
	Command  string `json:"command"`
	Cwd      string `json:"cwd"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// TimelineSink receives the single paseo_worktree_setup tool_call's
// transitions (spec §4.4.2: "running → completed|failed"), decoupling
// checkout from agentmgr's concrete TimelineItem type to avoid an import
// cycle (agentmgr will wire worktree creation through checkout).
type TimelineSink interface {
	SetupStarted(callID string)
	SetupProgress(callID string, result SetupCommandResult)
	SetupFinished(callID string, results []SetupCommandResult, failed bool)
}

// RunSetupCommands runs commands sequentially inside cwd, streaming each
// result to sink, and returns the accumulated results. It does not remove the
// worktree on failure — that is the caller's decision (spec §4.4.2: "Failure
// does not auto-delete the worktree unless the caller opts in").
func RunSetupCommands(ctx context.Context, cwd, callID string, commands []string, sink TimelineSink, log *zap.Logger) []SetupCommandResult {
	if sink != nil {
		sink.SetupStarted(callID)
	}

	results := make([]SetupCommandResult, 0, len(commands))
	failed := false

	for _, command := range commands {
		result := runOneSetupCommand(ctx, cwd, command)
		results = append(results, result)
		if sink != nil {
			sink.SetupProgress(callID, result)
		}
		if result.ExitCode != 0 {
			failed = true
			break
		}
	}

	if sink != nil {
		sink.SetupFinished(callID, results, failed)
	}
	return results
}

func runOneSetupCommand(ctx context.Context, cwd, command string) SetupCommandResult {
	ctx, cancel := context.WithTimeout(ctx, setupCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderr.WriteString(fmt.Sprintf("\n%s", err.Error()))
		}
	}

	return SetupCommandResult{
		Command:  command,
		Cwd:      cwd,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}

// CleanupWorktreeOnSetupFailure deletes a freshly created worktree when the
// caller opted into auto-delete-on-setup-failure (spec §4.4.2).
func (e *Engine) CleanupWorktreeOnSetupFailure(ctx context.Context, rec *Record) error {
	e.log.Warn("removing worktree after setup failure", zap.String("slug", rec.Slug))
	return e.deletePaseoWorktree(ctx, rec, rec.RepoRoot)
}

// setupCommandTimeout bounds a single setup command; the overall sequence has
// no fixed bound beyond ctx.
const setupCommandTimeout = 5 * time.Minute
