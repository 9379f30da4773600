// Package session persists the execution context of one task invocation:
// everything needed to resume the worker-auditor loop after a crash or
// interruption.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/richhaase/agentic-task-loop/internal/vcs"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreated     Status = "created"
	StatusRunning     Status = "running"
	StatusIdle        Status = "idle"
	StatusInterrupted Status = "interrupted"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further transitions can leave this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable reports whether a persisted session in this status can re-enter
// the state machine.
func (s Status) Resumable() bool {
	return s == StatusRunning || s == StatusIdle || s == StatusInterrupted
}

// Session is the persisted record of one task invocation. OriginalPrompt is
// immutable once set; every rework iteration references it unchanged.
// Unknown fields found in a persisted file are preserved across load/save
// so older binaries never destroy newer state.
type Session struct {
	ID                  string       `json:"session_id"`
	Status              Status       `json:"status"`
	OriginalPrompt      string       `json:"original_prompt"`
	Iteration           int          `json:"iteration"`
	LastAuditorFeedback string       `json:"last_auditor_feedback,omitempty"`
	WorkerKind          string       `json:"worker_executor"`
	AuditorKind         string       `json:"auditor_executor"`
	Model               string       `json:"model,omitempty"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	BaselineRev         string       `json:"baseline_rev,omitempty"`
	Commits             []vcs.Commit `json:"commits,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`

	// extra holds fields this version does not know about.
	extra map[string]json.RawMessage
}

// sessionKeys lists every JSON key owned by this version of the schema.
// Keys not in this list round-trip through extra untouched.
var sessionKeys = []string{
	"session_id", "status", "original_prompt", "iteration",
	"last_auditor_feedback", "worker_executor", "auditor_executor",
	"model", "failure_reason", "baseline_rev", "commits",
	"created_at", "updated_at",
}

// New creates a session in the Created state with a stable
// timestamp-derived identifier.
func New(prompt, workerKind, auditorKind string) *Session {
	now := time.Now()
	return &Session{
		ID:             fmt.Sprintf("ses-%s-%s", now.UTC().Format("20060102T150405"), uuid.NewString()[:8]),
		Status:         StatusCreated,
		OriginalPrompt: prompt,
		WorkerKind:     workerKind,
		AuditorKind:    auditorKind,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Touch records a mutation time. Called by the orchestrator before each
// persist; Save itself never mutates, so load-then-save round-trips
// unchanged.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// sessionAlias strips the custom codec so the known fields can be encoded
// with plain struct marshaling.
type sessionAlias Session

// UnmarshalJSON decodes the known fields and stashes everything else.
func (s *Session) UnmarshalJSON(data []byte) error {
	var alias sessionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, key := range sessionKeys {
		delete(all, key)
	}

	*s = Session(alias)
	if len(all) > 0 {
		s.extra = all
	}
	return nil
}

// MarshalJSON encodes the known fields and merges back any preserved
// unknown fields.
func (s Session) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(sessionAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return known, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.extra {
		if _, owned := merged[key]; !owned {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}
