package terminal

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

const statusInterval = 200 * time.Millisecond

var spinnerFrames = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// RunStatus displays an animated status line for a live agent run, showing
// which role is running, the current iteration, and how long ago the agent
// last produced output. LastActivity holds a unix-nano timestamp updated by
// the streaming pipeline from its goroutine, so all access is atomic.
type RunStatus struct {
	isTTY        bool
	lastActivity *atomic.Int64
	role         atomic.Value // string
	iteration    atomic.Int32
}

// NewRunStatus creates a new run status line.
func NewRunStatus() *RunStatus {
	s := &RunStatus{
		isTTY:        IsStderrTTY(),
		lastActivity: &atomic.Int64{},
	}
	s.role.Store("")
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// LastActivity returns a pointer to the atomic timestamp the pipeline
// updates on every ingested chunk.
func (s *RunStatus) LastActivity() *atomic.Int64 {
	return s.lastActivity
}

// SetPhase updates the displayed role and iteration.
func (s *RunStatus) SetPhase(role string, iteration int) {
	s.role.Store(role)
	s.iteration.Store(int32(iteration))
	s.lastActivity.Store(time.Now().UnixNano())
}

// Run animates the status line until the context is cancelled.
// On a non-TTY it stays silent so piped output remains clean.
func (s *RunStatus) Run(ctx context.Context) {
	if !s.isTTY {
		<-ctx.Done()
		return
	}

	idx := 0
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprint(os.Stderr, "\r"+fmt.Sprintf("%80s", "")+"\r")
			return

		case <-ticker.C:
			frame := string(spinnerFrames[idx%len(spinnerFrames)])
			role, _ := s.role.Load().(string)
			quiet := time.Since(time.Unix(0, s.lastActivity.Load())).Truncate(time.Second)
			tag := fmt.Sprintf("%s[%s%satl%s%s]%s",
				Color(Dim), Color(Reset), Color(Cyan), Color(Reset), Color(Dim), Color(Reset))
			line := fmt.Sprintf("\r%s %s%s%s %s iteration %d %s(last activity %s ago)%s",
				tag, Color(Cyan), frame, Color(Reset), role, s.iteration.Load(),
				Color(Dim), quiet, Color(Reset))
			fmt.Fprint(os.Stderr, line+"          ")
			idx++
		}
	}
}
