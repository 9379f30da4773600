package executor

import "fmt"

// SupportedKinds lists all valid executor names.
var SupportedKinds = []string{"claude", "cursor", "aider", "gemini", "api"}

// DefaultWorkerKind is the executor used for the worker role when none is
// specified.
const DefaultWorkerKind = "claude"

// DefaultAuditorKind is the executor used for the auditor role when none is
// specified.
const DefaultAuditorKind = "claude"

// New creates an Executor by kind.
// Supported kinds: claude, cursor, aider, gemini, api
func New(kind string, api APIOptions) (Executor, error) {
	switch kind {
	case "claude":
		return NewClaudeExecutor(), nil
	case "cursor":
		return NewCursorExecutor(), nil
	case "aider":
		return NewAiderExecutor(), nil
	case "gemini":
		return NewGeminiExecutor(), nil
	case "api":
		return NewAPIExecutor(api), nil
	default:
		return nil, fmt.Errorf("unknown executor %q, supported: claude, cursor, aider, gemini, api", kind)
	}
}
