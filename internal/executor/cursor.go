package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// Compile-time interface check
var _ Executor = (*CursorExecutor)(nil)

// cursorConversationDir is where the cursor agent writes its per-task
// conversation files, relative to the working directory.
const cursorConversationDir = ".cursor/conversations"

// CursorExecutor drives the cursor-agent CLI. It emits pretty-printed,
// multi-line JSON objects with no line framing, commits its own changes,
// and writes a per-task conversation file we can salvage from after a
// lost run.
type CursorExecutor struct{}

// NewCursorExecutor creates a new CursorExecutor instance.
func NewCursorExecutor() *CursorExecutor {
	return &CursorExecutor{}
}

// Name returns the executor's identifier.
func (c *CursorExecutor) Name() string {
	return "cursor"
}

// IsAvailable checks if the cursor-agent CLI is installed and accessible.
func (c *CursorExecutor) IsAvailable() error {
	_, err := exec.LookPath("cursor-agent")
	if err != nil {
		return fmt.Errorf("cursor-agent CLI not found in PATH: %w", err)
	}
	return nil
}

// BuildCommand builds the cursor-agent invocation for one run.
// --force auto-approves edits so execution never blocks on input.
func (c *CursorExecutor) BuildCommand(role domain.Role, prompt string) (*Command, error) {
	return &Command{
		Path: "cursor-agent",
		Args: []string{
			"--print",
			"--output-format", "json",
			"--force",
			prompt,
		},
	}, nil
}

// NewFramer returns a framer for cursor's pretty-printed JSON objects.
func (c *CursorExecutor) NewFramer() Framer {
	return NewBraceFramer(maxPayloadSize)
}

// Recover salvages activity from the newest conversation file the agent
// wrote under the working directory. Each message in the conversation
// becomes one salvaged payload. No conversation file means no salvage,
// which is not an error.
func (c *CursorExecutor) Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error) {
	path, ok := newestFile(filepath.Join(handle.WorkDir, cursorConversationDir), "*.json")
	if !ok {
		return &domain.RecoveryResult{Recovered: false}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return &domain.RecoveryResult{Recovered: false}, nil
	}
	if !gjson.ValidBytes(data) {
		return &domain.RecoveryResult{Recovered: false}, nil
	}

	messages := gjson.GetBytes(data, "messages")
	if !messages.IsArray() {
		return &domain.RecoveryResult{Recovered: false}, nil
	}

	var salvaged [][]byte
	messages.ForEach(func(_, m gjson.Result) bool {
		salvaged = append(salvaged, []byte(m.Raw))
		return true
	})
	if len(salvaged) == 0 {
		return &domain.RecoveryResult{Recovered: false}, nil
	}

	result := &domain.RecoveryResult{Recovered: true}
	for _, s := range salvaged {
		result.Salvaged = append(result.Salvaged, s)
	}
	return result, nil
}

// CapturesVCSState reports that cursor commits its own changes.
func (c *CursorExecutor) CapturesVCSState() bool {
	return true
}

// newestFile returns the most recently modified file matching pattern in
// dir, or false if none exist.
func newestFile(dir, pattern string) (string, bool) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], true
}
