package orchestrator

import (
	"fmt"
	"strings"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

// BuildWorkerPrompt constructs the prompt for one worker run. The first
// iteration carries the original task alone. Later iterations carry the
// original task plus only the most recent auditor feedback; no earlier
// iteration history is ever exposed to the worker, which keeps it from
// drifting away from the task.
func BuildWorkerPrompt(task, lastFeedback string, iteration int) string {
	if iteration == 0 || lastFeedback == "" {
		return task
	}
	return fmt.Sprintf(`%s

## Reviewer feedback on your previous attempt

An independent reviewer examined your previous attempt and asked for rework:

%s

Address the feedback and complete the original task.`, task, lastFeedback)
}

// BuildAuditorPrompt constructs the prompt for one auditor run from the
// original task and the extracted result summary. The auditor sees the
// best candidate plus a little context, never the full raw activity log.
func BuildAuditorPrompt(task string, summary *domain.ResultSummary) string {
	var b strings.Builder

	b.WriteString("You are an independent auditor. A worker agent was given the following task:\n\n")
	b.WriteString(task)
	b.WriteString("\n\nThe worker reported the following result:\n\n")
	b.WriteString(string(summary.BestCandidate))

	if len(summary.LeadingContext) > 0 || len(summary.TrailingContext) > 0 {
		b.WriteString("\n\nSurrounding activity for context:\n")
		for _, ev := range summary.LeadingContext {
			fmt.Fprintf(&b, "- before: %s\n", ev.Raw)
		}
		for _, ev := range summary.TrailingContext {
			fmt.Fprintf(&b, "- after: %s\n", ev.Raw)
		}
	}

	b.WriteString(`

Judge whether the task is genuinely complete. Respond with ONLY a JSON object:
{"verdict": "done" | "retry" | "impossible", "feedback": "<required when retry: what is missing and how to fix it>"}

Use "done" only if the result fully satisfies the task. Use "impossible" only
if no worker could ever satisfy it. Otherwise use "retry" with concrete feedback.`)

	return b.String()
}
