package executor

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// Compile-time interface check
var _ Executor = (*GeminiExecutor)(nil)

// GeminiExecutor drives the gemini CLI. Like claude it streams single-line
// NDJSON, but it never commits and leaves no recoverable state.
type GeminiExecutor struct{}

// NewGeminiExecutor creates a new GeminiExecutor instance.
func NewGeminiExecutor() *GeminiExecutor {
	return &GeminiExecutor{}
}

// Name returns the executor's identifier.
func (g *GeminiExecutor) Name() string {
	return "gemini"
}

// IsAvailable checks if the gemini CLI is installed and accessible.
func (g *GeminiExecutor) IsAvailable() error {
	_, err := exec.LookPath("gemini")
	if err != nil {
		return fmt.Errorf("gemini CLI not found in PATH: %w", err)
	}
	return nil
}

// BuildCommand builds the gemini invocation for one run.
// --yolo auto-approves tool use so execution never blocks on input.
func (g *GeminiExecutor) BuildCommand(role domain.Role, prompt string) (*Command, error) {
	return &Command{
		Path: "gemini",
		Args: []string{
			"--output-format", "stream-json",
			"--yolo",
			"--prompt", prompt,
		},
	}, nil
}

// NewFramer returns a framer for gemini's NDJSON stream.
func (g *GeminiExecutor) NewFramer() Framer {
	return NewLineFramer()
}

// Recover reports no salvage; gemini keeps no recoverable per-task state.
func (g *GeminiExecutor) Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error) {
	return &domain.RecoveryResult{Recovered: false}, nil
}

// CapturesVCSState reports that gemini does not commit.
func (g *GeminiExecutor) CapturesVCSState() bool {
	return false
}
