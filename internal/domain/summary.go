package domain

import "encoding/json"

// ResultSummary is the extractor's pick of the single event most likely to
// be the worker's final answer, with a little surrounding context for the
// auditor. BestCandidate is always a payload that actually appeared in the
// activity log for the iteration; the extractor never fabricates content.
type ResultSummary struct {
	BestCandidate   json.RawMessage `json:"best_candidate"`
	Score           int             `json:"score"`
	LeadingContext  []ActivityEvent `json:"leading_context,omitempty"`
	TrailingContext []ActivityEvent `json:"trailing_context,omitempty"`
}

// RecoveryResult is the product of an executor's forensic recovery path:
// activity reconstructed from the agent's own on-disk state after the live
// stream was lost. Recovery is best-effort; Recovered is false when no
// usable state exists, which is never an error. ImpliedOutcome hints the
// likely verdict (commits landing after a lost run imply Done); the hint
// is informational only and the salvaged activity is still judged by the
// auditor.
type RecoveryResult struct {
	Recovered      bool
	Salvaged       []json.RawMessage
	ImpliedOutcome *Outcome
}
