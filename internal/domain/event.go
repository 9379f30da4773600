// Package domain provides core types for the task loop engine.
package domain

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the loop an executor run serves.
type Role string

const (
	// RoleWorker is the execution role that attempts to complete the task.
	RoleWorker Role = "worker"
	// RoleAuditor is the execution role that judges the worker's result.
	RoleAuditor Role = "auditor"
)

// ActivityEvent is one timestamped, logged unit of output from an executor
// run. The Raw payload is stored exactly as the executor produced it and is
// never mutated. IngestedAt is the local wall-clock time the engine received
// the chunk, not any timestamp the agent reported, because local ingestion
// time is what proves the agent is still alive.
type ActivityEvent struct {
	Sequence   int             `json:"sequence"`
	IngestedAt time.Time       `json:"ingested_at"`
	Executor   string          `json:"executor"`
	Role       Role            `json:"role"`
	Raw        json.RawMessage `json:"raw"`
}
