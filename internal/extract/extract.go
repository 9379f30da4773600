// Package extract picks the single event most likely to be the agent's
// final, complete answer out of a noisy activity log. Agents bury their
// result inside pages of tool-call and thinking chatter; this scores every
// event with weighted heuristic signals and surfaces the best candidate
// with a little surrounding context for the auditor.
package extract

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
)

// contextRadius is how many neighboring events are attached on each side of
// the best candidate.
const contextRadius = 2

// Heuristic signal weights. The qualitative ordering matters more than the
// exact values: completion markers outrank structured payloads, which
// outrank requests for human help, which still beat plain tool chatter.
const (
	scoreCompletionMarker = 10
	scoreFinalResultType  = 8
	scoreEmbeddedJSON     = 6
	scoreHumanAsk         = 3
	scoreToolCallType     = 2
	scoreThinkingType     = 1
)

// completionKeys are payload keys whose presence marks an explicit
// completion report.
var completionKeys = []string{"done", "success", "status"}

// typeKeys are the payload keys agents use to tag an event's kind.
var typeKeys = []string{"type", "phase", "event"}

// textKeys are the payload keys that carry an event's textual content.
var textKeys = []string{"text", "content", "message", "result"}

// humanAskMarkers flag an agent asking for human intervention. Preferred
// less than autonomous completion but still surfaced rather than discarded.
var humanAskMarkers = []string{
	"human intervention",
	"requires human",
	"waiting for user",
	"needs your input",
	"please confirm",
}

// Summarize scans the events of one iteration and returns the best
// candidate with up to contextRadius neighbors on each side. Returns false
// when there are no events to choose from. The choice is deterministic:
// ties are broken by preferring the later event, on the assumption that
// later output is more refined.
func Summarize(events []domain.ActivityEvent) (*domain.ResultSummary, bool) {
	if len(events) == 0 {
		return nil, false
	}

	bestIdx := 0
	bestScore := -1
	for i, ev := range events {
		if s := Score(ev.Raw); s >= bestScore {
			bestIdx = i
			bestScore = s
		}
	}

	summary := &domain.ResultSummary{
		BestCandidate: events[bestIdx].Raw,
		Score:         bestScore,
	}

	lo := bestIdx - contextRadius
	if lo < 0 {
		lo = 0
	}
	if lo < bestIdx {
		summary.LeadingContext = append(summary.LeadingContext, events[lo:bestIdx]...)
	}

	hi := bestIdx + 1 + contextRadius
	if hi > len(events) {
		hi = len(events)
	}
	if bestIdx+1 < hi {
		summary.TrailingContext = append(summary.TrailingContext, events[bestIdx+1:hi]...)
	}

	return summary, true
}

// Score rates one payload's likelihood of being the final answer.
func Score(raw []byte) int {
	score := 0

	for _, key := range completionKeys {
		if gjson.GetBytes(raw, key).Exists() {
			score += scoreCompletionMarker
			break
		}
	}

	switch kind := eventKind(raw); {
	case strings.Contains(kind, "completion"),
		strings.Contains(kind, "result"),
		strings.Contains(kind, "final"),
		strings.Contains(kind, "answer"):
		score += scoreFinalResultType
	case strings.Contains(kind, "tool"):
		score += scoreToolCallType
	case strings.Contains(kind, "think"), strings.Contains(kind, "reasoning"):
		score += scoreThinkingType
	}

	text := textContent(raw)
	if text != "" {
		if _, err := executor.ExtractJSON(text); err == nil {
			score += scoreEmbeddedJSON
		}
		lower := strings.ToLower(text)
		for _, marker := range humanAskMarkers {
			if strings.Contains(lower, marker) {
				score += scoreHumanAsk
				break
			}
		}
	}

	return score
}

// eventKind returns the payload's type tag, lowercased, or "".
func eventKind(raw []byte) string {
	for _, key := range typeKeys {
		if v := gjson.GetBytes(raw, key); v.Type == gjson.String {
			return strings.ToLower(v.String())
		}
	}
	return ""
}

// textContent concatenates the payload's textual fields.
func textContent(raw []byte) string {
	var parts []string
	for _, key := range textKeys {
		if v := gjson.GetBytes(raw, key); v.Type == gjson.String && v.String() != "" {
			parts = append(parts, v.String())
		}
	}
	return strings.Join(parts, "\n")
}
