// Package pipeline runs one executor invocation to completion or timeout,
// producing an ordered, durably-logged, liveness-checked activity stream.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
)

// asciiEOT is the end-of-transmission byte written to the child's terminal
// after the prompt, signalling end of input on a PTY where closing the
// stream is not possible.
const asciiEOT = 0x04

// Options configures one pipeline run.
type Options struct {
	// InactivityTimeout is the maximum silence tolerated before the run
	// is terminated. Must be > 0.
	InactivityTimeout time.Duration
	// GracePeriod is how long a graceful termination signal is given to
	// work before the process group is force-killed.
	GracePeriod time.Duration
	// ReadBuffer is the size of the chunk reads from the stream.
	ReadBuffer int
	// Role and ExecutorName annotate the produced events.
	Role         domain.Role
	ExecutorName string
	// Logger receives discard warnings. Optional.
	Logger *terminal.Logger
	// HTTPClient issues the request for HTTP-backed commands. Defaults
	// to a client with no overall timeout (liveness handles hangs).
	HTTPClient *http.Client
	// LastActivity, when set, is the shared timestamp the run loop
	// touches on every flush, letting a status line observe liveness.
	LastActivity *atomic.Int64
	// OnStall and OnResume are invoked by the liveness monitor when
	// activity slows past half the timeout and when it returns. Optional.
	OnStall  func()
	OnResume func()
}

// RunResult carries the outcome of one run. Events may be non-empty even
// when Run also returns an error: a timed-out run keeps everything it
// ingested before the silence.
type RunResult struct {
	Events   []domain.ActivityEvent
	ExitCode int
}

// Run executes one fully-built command under liveness supervision. CLI
// commands run under a pseudo-terminal so the child believes it has an
// interactive terminal; many CLIs switch to full-block buffering on a plain
// pipe, which would starve the liveness monitor. HTTP commands stream the
// response body through the same stages. Every flushed chunk is validated,
// timestamped with local ingestion time, appended to the activity log, and
// returned in order.
func Run(ctx context.Context, cmd *executor.Command, framer executor.Framer, log *ActivityLog, opts Options) (*RunResult, error) {
	if opts.InactivityTimeout <= 0 {
		return nil, fmt.Errorf("inactivity timeout must be > 0, got %s", opts.InactivityTimeout)
	}
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = 4096
	}
	if cmd.HTTP != nil {
		return runHTTP(ctx, cmd, framer, log, opts)
	}
	return runPTY(ctx, cmd, framer, log, opts)
}

// runPTY launches the child under a pseudo-terminal and streams its merged
// output.
func runPTY(ctx context.Context, cmd *executor.Command, framer executor.Framer, log *ActivityLog, opts Options) (*RunResult, error) {
	// #nosec G204 - Path is always one of the known agent CLIs built by
	// an executor, not user input.
	c := exec.Command(cmd.Path, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	ptmx, err := pty.Start(c)
	if err != nil {
		return nil, &LaunchError{Target: cmd.Path, Err: err}
	}
	defer func() { _ = ptmx.Close() }()

	// pty.Start runs the child in its own session, so the process group
	// id equals the pid and kill(-pid) reaches the whole group.
	pid := c.Process.Pid
	terminate := func() {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		grace := opts.GracePeriod
		if grace <= 0 {
			grace = 5 * time.Second
		}
		time.AfterFunc(grace, func() {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
		})
		// Unblock the read loop immediately.
		_ = ptmx.Close()
	}

	if len(cmd.Stdin) > 0 {
		// The pty echoes written input back into the output stream by
		// default, which would re-ingest the prompt as activity. Turn
		// echo off before the prompt is written; canonical mode stays on
		// so EOT still signals end of input.
		disableEcho(ptmx)
		prompt := cmd.Stdin
		if !bytes.HasSuffix(prompt, []byte("\n")) {
			prompt = append(append([]byte(nil), prompt...), '\n')
		}
		if _, err := ptmx.Write(append(prompt, asciiEOT)); err != nil {
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			_ = c.Wait()
			return nil, &LaunchError{Target: cmd.Path, Err: fmt.Errorf("failed to write prompt: %w", err)}
		}
	}

	events, timeoutErr, streamErr := stream(ctx, ptmx, framer, log, opts, terminate)

	// Reap the child on every exit path. On cancellation or stream error
	// make sure nothing in the group survives.
	if ctx.Err() != nil || streamErr != nil {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	exitCode := 0
	if err := c.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	result := &RunResult{Events: events, ExitCode: exitCode}
	if streamErr != nil {
		return result, streamErr
	}
	if timeoutErr != nil {
		return result, timeoutErr
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// runHTTP issues the single request and streams the response body.
func runHTTP(ctx context.Context, cmd *executor.Command, framer executor.Framer, log *ActivityLog, opts Options) (*RunResult, error) {
	req, err := http.NewRequestWithContext(ctx, cmd.HTTP.Method, cmd.HTTP.URL, bytes.NewReader(cmd.HTTP.Body))
	if err != nil {
		return nil, &LaunchError{Target: cmd.HTTP.URL, Err: err}
	}
	for k, v := range cmd.HTTP.Header {
		req.Header.Set(k, v)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &LaunchError{Target: cmd.HTTP.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	terminate := func() { _ = resp.Body.Close() }
	events, timeoutErr, streamErr := stream(ctx, resp.Body, framer, log, opts, terminate)

	result := &RunResult{Events: events, ExitCode: 0}
	if streamErr != nil {
		return result, streamErr
	}
	if timeoutErr != nil {
		return result, timeoutErr
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// stream is the shared ingest loop: read, frame, validate, timestamp, log.
// It returns the ordered events, the timeout error if the liveness monitor
// fired, and any fatal persistence error.
func stream(ctx context.Context, src io.Reader, framer executor.Framer, log *ActivityLog, opts Options, terminate func()) ([]domain.ActivityEvent, error, error) {
	last := opts.LastActivity
	if last == nil {
		last = &atomic.Int64{}
	}

	monitor := newLiveness(last, opts.InactivityTimeout, terminate, opts.OnStall, opts.OnResume)
	monitor.start()
	defer monitor.halt()

	// A blocked read never observes cancellation on its own; terminate the
	// child the moment the context dies so the read unblocks and the group
	// does not outlive the caller.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			terminate()
		case <-watchDone:
		}
	}()

	var events []domain.ActivityEvent
	sequence := 0

	ingest := func(payloads [][]byte) error {
		for _, payload := range payloads {
			if !json.Valid(payload) {
				// Discard, never repair or guess.
				if opts.Logger != nil {
					opts.Logger.Logf(terminal.StyleWarning, "%v (%d bytes)", ErrMalformedActivity, len(payload))
				}
				continue
			}
			if log != nil {
				if err := log.Append(payload); err != nil {
					return err
				}
			}
			events = append(events, domain.ActivityEvent{
				Sequence:   sequence,
				IngestedAt: time.Now(),
				Executor:   opts.ExecutorName,
				Role:       opts.Role,
				Raw:        json.RawMessage(payload),
			})
			sequence++
			last.Store(time.Now().UnixNano())
		}
		return nil
	}

	buf := make([]byte, opts.ReadBuffer)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if perr := ingest(framer.Feed(buf[:n])); perr != nil {
				return events, nil, perr
			}
		}
		if err != nil {
			// A PTY read after child exit reports an error rather
			// than io.EOF on Linux; both mean end of stream.
			break
		}
		if ctx.Err() != nil {
			terminate()
			break
		}
	}

	if perr := ingest(framer.Flush()); perr != nil {
		return events, nil, perr
	}

	monitor.halt()
	return events, monitor.err(), nil
}
