package domain

// Outcome is the auditor's judgment of a worker result.
type Outcome string

const (
	// OutcomeDone indicates the auditor accepted the result.
	OutcomeDone Outcome = "done"
	// OutcomeRetry indicates the worker should try again with feedback.
	OutcomeRetry Outcome = "retry"
	// OutcomeImpossible indicates the auditor judged the task unachievable.
	OutcomeImpossible Outcome = "impossible"
)

// Verdict is the auditor's structured judgment of one iteration.
// Feedback is required when the outcome is Retry and optional otherwise.
type Verdict struct {
	Outcome  Outcome `json:"outcome"`
	Feedback string  `json:"feedback,omitempty"`
}
