package orchestrator

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
)

// ErrVerdictUnparseable indicates no strategy could extract a verdict from
// the auditor's output. Non-fatal: the caller degrades to Retry with
// generic feedback, never to silent success.
var ErrVerdictUnparseable = errors.New("auditor output unparseable by any strategy")

// genericRetryFeedback is used when the auditor produced no usable verdict.
const genericRetryFeedback = "The auditor could not produce a structured verdict. " +
	"Re-read the original task and make sure the result fully satisfies it."

// verdictStrategy attempts one way of reading a verdict out of text.
type verdictStrategy struct {
	name  string
	parse func(text string) (*domain.Verdict, bool)
}

// verdictStrategies is the ordered fallback chain: strict structured parse
// first, then structured extraction tolerant of surrounding prose, then a
// plain-text keyword scan as a last resort. The first success wins.
var verdictStrategies = []verdictStrategy{
	{name: "strict", parse: parseStrictVerdict},
	{name: "embedded", parse: parseEmbeddedVerdict},
	{name: "keywords", parse: parseKeywordVerdict},
}

// ParseVerdict runs the strategy chain over the auditor's output. It always
// returns a usable verdict: when every strategy fails it returns Retry with
// generic feedback alongside ErrVerdictUnparseable.
func ParseVerdict(text string) (*domain.Verdict, error) {
	for _, strategy := range verdictStrategies {
		if v, ok := strategy.parse(text); ok {
			return v, nil
		}
	}
	return &domain.Verdict{
		Outcome:  domain.OutcomeRetry,
		Feedback: genericRetryFeedback,
	}, ErrVerdictUnparseable
}

// wireVerdict is the JSON shape the auditor is asked to produce.
type wireVerdict struct {
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

// normalizeOutcome maps a verdict word to an outcome, tolerating common
// synonyms.
func normalizeOutcome(word string) (domain.Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "done", "complete", "completed", "success", "approved":
		return domain.OutcomeDone, true
	case "retry", "rework", "incomplete", "revise":
		return domain.OutcomeRetry, true
	case "impossible", "infeasible", "unachievable":
		return domain.OutcomeImpossible, true
	default:
		return "", false
	}
}

func buildVerdict(wire wireVerdict) (*domain.Verdict, bool) {
	outcome, ok := normalizeOutcome(wire.Verdict)
	if !ok {
		return nil, false
	}
	v := &domain.Verdict{Outcome: outcome, Feedback: strings.TrimSpace(wire.Feedback)}
	if v.Outcome == domain.OutcomeRetry && v.Feedback == "" {
		v.Feedback = genericRetryFeedback
	}
	return v, true
}

// parseStrictVerdict accepts only a document that is exactly the requested
// JSON object.
func parseStrictVerdict(text string) (*domain.Verdict, bool) {
	var wire wireVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &wire); err != nil {
		return nil, false
	}
	return buildVerdict(wire)
}

// parseEmbeddedVerdict tolerates prose and code fences around the verdict
// object.
func parseEmbeddedVerdict(text string) (*domain.Verdict, bool) {
	extracted, err := executor.ExtractJSON(text)
	if err != nil {
		return nil, false
	}
	var wire wireVerdict
	if err := json.Unmarshal([]byte(extracted), &wire); err != nil {
		return nil, false
	}
	return buildVerdict(wire)
}

// Keyword patterns for the last-resort scan. Checked in precedence order
// impossible > retry > done so an explicit refusal or rework request is
// never mistaken for approval when both words appear.
var (
	impossibleRe = regexp.MustCompile(`(?i)\b(impossible|infeasible|unachievable|cannot be done)\b`)
	retryRe      = regexp.MustCompile(`(?i)\b(retry|rework|incomplete|not done|needs more work|revise)\b`)
	doneRe       = regexp.MustCompile(`(?i)\b(done|complete|completed|lgtm|approved)\b`)
)

// parseKeywordVerdict scans plain text for completion keywords.
func parseKeywordVerdict(text string) (*domain.Verdict, bool) {
	switch {
	case impossibleRe.MatchString(text):
		return &domain.Verdict{Outcome: domain.OutcomeImpossible, Feedback: strings.TrimSpace(text)}, true
	case retryRe.MatchString(text):
		return &domain.Verdict{Outcome: domain.OutcomeRetry, Feedback: strings.TrimSpace(text)}, true
	case doneRe.MatchString(text):
		return &domain.Verdict{Outcome: domain.OutcomeDone}, true
	default:
		return nil, false
	}
}
