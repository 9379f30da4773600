package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/vcs"
)

// Compile-time interface check
var _ Executor = (*AiderExecutor)(nil)

// aiderHistoryFile is the chat history the aider CLI maintains in its
// working directory.
const aiderHistoryFile = ".aider.chat.history.md"

// AiderExecutor drives the aider CLI. It emits free-form markdown with no
// structured framing, commits every change it makes, and maintains a chat
// history file, so a lost run can be reconstructed from the history plus
// the git log since the pre-run baseline.
type AiderExecutor struct{}

// NewAiderExecutor creates a new AiderExecutor instance.
func NewAiderExecutor() *AiderExecutor {
	return &AiderExecutor{}
}

// Name returns the executor's identifier.
func (a *AiderExecutor) Name() string {
	return "aider"
}

// IsAvailable checks if the aider CLI is installed and accessible.
func (a *AiderExecutor) IsAvailable() error {
	_, err := exec.LookPath("aider")
	if err != nil {
		return fmt.Errorf("aider CLI not found in PATH: %w", err)
	}
	return nil
}

// BuildCommand builds the aider invocation for one run.
// --yes-always auto-approves so execution never blocks on input;
// --no-stream keeps output in whole paragraphs rather than token dribble.
func (a *AiderExecutor) BuildCommand(role domain.Role, prompt string) (*Command, error) {
	return &Command{
		Path: "aider",
		Args: []string{
			"--yes-always",
			"--no-stream",
			"--message", prompt,
		},
	}, nil
}

// NewFramer returns a framer that wraps aider's markdown paragraphs as
// structured payloads.
func (a *AiderExecutor) NewFramer() Framer {
	return NewProseFramer(defaultFlushThreshold)
}

// Recover salvages activity from aider's chat history file and, when a
// baseline revision was captured, synthesizes one payload per commit the
// run produced. Commits present after a lost run imply the work landed,
// so the implied outcome hints Done.
func (a *AiderExecutor) Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error) {
	result := &domain.RecoveryResult{}

	history, err := os.ReadFile(filepath.Join(handle.WorkDir, aiderHistoryFile))
	if err == nil {
		for _, para := range strings.Split(string(history), "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			result.Salvaged = append(result.Salvaged, wrapMessage(para))
		}
	}

	if handle.BaselineRev != "" && vcs.IsRepo(ctx, handle.WorkDir) {
		commits, err := vcs.CommitsSince(ctx, handle.WorkDir, handle.BaselineRev)
		if err == nil && len(commits) > 0 {
			for _, c := range commits {
				payload, _ := json.Marshal(struct {
					Type    string `json:"type"`
					Hash    string `json:"hash"`
					Subject string `json:"subject"`
				}{Type: "commit", Hash: c.Hash, Subject: c.Subject})
				result.Salvaged = append(result.Salvaged, payload)
			}
			done := domain.OutcomeDone
			result.ImpliedOutcome = &done
		}
	}

	result.Recovered = len(result.Salvaged) > 0
	return result, nil
}

// CapturesVCSState reports that aider commits its own changes.
func (a *AiderExecutor) CapturesVCSState() bool {
	return true
}
