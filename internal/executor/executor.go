// Package executor adapts each supported agent behind one contract so the
// pipeline and orchestrator never branch on agent identity. Each variant
// knows how to build its agent's command line (or HTTP request), how the
// agent frames its output stream, and how to salvage state the agent left
// on disk after a crashed or timed-out run.
package executor

import (
	"context"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// Command describes one fully-built executor invocation. Exactly one of
// Path or HTTP is set: CLI-backed executors fill Path/Args, the api
// executor fills HTTP.
type Command struct {
	// Path is the CLI executable name (e.g. "claude", "aider").
	Path string
	// Args are the command-line arguments.
	Args []string
	// Env entries are appended to the parent environment.
	Env []string
	// Dir sets the working directory for the command.
	Dir string
	// Stdin carries the prompt for agents that read it from standard
	// input. The pipeline writes it to the child's terminal followed by
	// EOT, which avoids ARG_MAX limits on large prompts.
	Stdin []byte
	// HTTP is set instead of Path for the direct HTTP executor.
	HTTP *HTTPRequest
}

// HTTPRequest describes the single request the api executor issues.
type HTTPRequest struct {
	Method string
	URL    string
	Header map[string]string
	Body   []byte
}

// SessionHandle gives an executor the locations it needs for forensic
// recovery after a lost run.
type SessionHandle struct {
	SessionID string
	// WorkDir is the directory the agent ran in, where CLI agents leave
	// conversation and history artifacts.
	WorkDir string
	// BaselineRev is the HEAD revision recorded before the run, for
	// agents that commit their work. Empty when not captured.
	BaselineRev string
}

// Executor is the contract shared by all five agent variants.
type Executor interface {
	// Name returns the executor's identifier.
	Name() string

	// IsAvailable checks that the backing agent can be invoked at all
	// (CLI on PATH, endpoint configured). Checked once before a session
	// starts.
	IsAvailable() error

	// BuildCommand produces the deterministic invocation for one run of
	// the given role. The command must not block on interactive input.
	BuildCommand(role domain.Role, prompt string) (*Command, error)

	// NewFramer returns a fresh framer for one run, matching the agent's
	// output framing.
	NewFramer() Framer

	// Recover attempts best-effort reconstruction of activity from the
	// agent's own on-disk state after the live stream was lost. It never
	// errors just because no recoverable state exists.
	Recover(ctx context.Context, handle SessionHandle) (*domain.RecoveryResult, error)

	// CapturesVCSState reports whether this agent autonomously commits,
	// so the orchestrator knows to snapshot revision state around runs.
	CapturesVCSState() bool
}
