package executor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// Compile-time interface check
var _ Executor = (*ClaudeExecutor)(nil)

// ClaudeExecutor drives the claude CLI. It streams single-line NDJSON
// events and commits its own changes, but keeps no per-task state on disk
// that survives a crash, so it has no recovery source.
type ClaudeExecutor struct{}

// NewClaudeExecutor creates a new ClaudeExecutor instance.
func NewClaudeExecutor() *ClaudeExecutor {
	return &ClaudeExecutor{}
}

// Name returns the executor's identifier.
func (c *ClaudeExecutor) Name() string {
	return "claude"
}

// IsAvailable checks if the claude CLI is installed and accessible.
func (c *ClaudeExecutor) IsAvailable() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH: %w", err)
	}
	return nil
}

// BuildCommand builds the claude invocation for one run.
// --output-format stream-json selects the NDJSON event stream and
// --dangerously-skip-permissions makes execution non-interactive.
// The prompt is read from stdin ("-") to avoid ARG_MAX limits.
func (c *ClaudeExecutor) BuildCommand(role domain.Role, prompt string) (*Command, error) {
	return &Command{
		Path: "claude",
		Args: []string{
			"--print",
			"--verbose",
			"--output-format", "stream-json",
			"--dangerously-skip-permissions",
			"-",
		},
		Stdin: []byte(prompt),
	}, nil
}

// NewFramer returns a framer for claude's NDJSON stream.
func (c *ClaudeExecutor) NewFramer() Framer {
	return NewLineFramer()
}

// Recover reports no salvage; claude keeps no recoverable per-task state.
func (c *ClaudeExecutor) Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error) {
	return &domain.RecoveryResult{Recovered: false}, nil
}

// CapturesVCSState reports that claude commits its own changes.
func (c *ClaudeExecutor) CapturesVCSState() bool {
	return true
}
