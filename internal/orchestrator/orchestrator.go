// Package orchestrator drives the worker-auditor loop: run the worker,
// extract its most plausible final answer, ask the auditor to judge it, and
// either finish or launch another iteration carrying only the auditor's
// feedback.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
	"github.com/richhaase/agentic-task-loop/internal/extract"
	"github.com/richhaase/agentic-task-loop/internal/pipeline"
	"github.com/richhaase/agentic-task-loop/internal/session"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
	"github.com/richhaase/agentic-task-loop/internal/vcs"
)

// ErrIterationBudget is the terminal failure reason when the auditor keeps
// asking for rework past the configured iteration limit. Distinguishable
// from an Impossible verdict.
var ErrIterationBudget = errors.New("iteration budget exhausted")

// Options configures an Orchestrator.
type Options struct {
	Worker  executor.Executor
	Auditor executor.Executor
	Store   *session.Store
	Logger  *terminal.Logger

	// MaxIterations caps how many worker runs one session may consume.
	MaxIterations int
	// InactivityTimeout and GracePeriod are passed through to each
	// pipeline run.
	InactivityTimeout time.Duration
	GracePeriod       time.Duration
	// ReadBuffer is the pipeline's chunk read size.
	ReadBuffer int
	// Retries is how many times a failed worker run (timeout with no
	// salvage, or no usable output) is relaunched within one iteration.
	Retries int
	// WorkDir is where the agents run. Defaults to the process cwd.
	WorkDir string
	// HTTPClient is used by HTTP-backed executors. Optional.
	HTTPClient *http.Client
	// Status, when set, is updated with the live role and iteration.
	Status *terminal.RunStatus
}

// Orchestrator runs the state machine for one session at a time.
type Orchestrator struct {
	opts   Options
	logger *terminal.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = terminal.NewLogger()
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 5
	}
	return &Orchestrator{opts: opts, logger: opts.Logger}
}

// Run executes a fresh session to a terminal state and returns the exit
// code the process should report.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session) (domain.ExitCode, error) {
	return o.loop(ctx, sess, nil)
}

// Resume re-enters the state machine for a previously persisted session at
// its stored iteration, using its stored feedback. If the worker left
// forensic state behind, it is salvaged first and judged before any new
// worker run. A non-empty prompt override replaces the original task;
// otherwise the original prompt is preserved verbatim.
func (o *Orchestrator) Resume(ctx context.Context, sess *session.Session, promptOverride string) (domain.ExitCode, error) {
	if sess.Status.Terminal() {
		return domain.ExitError, fmt.Errorf("session %s already finished with status %s", sess.ID, sess.Status)
	}
	if promptOverride != "" {
		sess.OriginalPrompt = promptOverride
	}

	var pending []domain.ActivityEvent
	rec, err := o.opts.Worker.Recover(ctx, o.handle(sess))
	if err == nil && rec.Recovered {
		o.logger.Logf(terminal.StyleInfo, "salvaged %d events from %s state", len(rec.Salvaged), o.opts.Worker.Name())
		o.noteImpliedOutcome(rec)
		pending = o.salvagedEvents(sess, rec, 0)
	}

	return o.loop(ctx, sess, pending)
}

// loop is the shared iteration cycle. pending, when non-empty, is activity
// recovered before the loop started; it is judged in place of a first
// worker run.
func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, pending []domain.ActivityEvent) (domain.ExitCode, error) {
	log := pipeline.NewActivityLog(o.opts.Store.ActivityLogPath(sess.ID))
	defer log.Close()

	if err := o.transition(sess, session.StatusRunning); err != nil {
		return domain.ExitError, err
	}

	for {
		events := pending
		pending = nil

		if len(events) == 0 {
			var code domain.ExitCode
			var err error
			events, code, err = o.runWorker(ctx, sess, log)
			if err != nil {
				return code, err
			}
		}

		summary, ok := extract.Summarize(events)
		if !ok {
			// Nothing extractable even after retries; terminal.
			return o.fail(sess, "worker produced no usable activity")
		}

		verdict, err := o.runAuditor(ctx, sess, log, summary)
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupt(sess)
			}
			return domain.ExitError, err
		}

		switch verdict.Outcome {
		case domain.OutcomeDone:
			if err := o.transition(sess, session.StatusCompleted); err != nil {
				return domain.ExitError, err
			}
			o.logger.Logf(terminal.StyleSuccess, "session %s completed after %d iteration(s)", sess.ID, sess.Iteration+1)
			return domain.ExitCompleted, nil

		case domain.OutcomeImpossible:
			return o.fail(sess, "auditor judged the task impossible")

		case domain.OutcomeRetry:
			sess.LastAuditorFeedback = verdict.Feedback
			sess.Iteration++
			if sess.Iteration >= o.opts.MaxIterations {
				return o.fail(sess, fmt.Sprintf("%v after %d iterations", ErrIterationBudget, sess.Iteration))
			}
			if err := o.persist(sess); err != nil {
				return domain.ExitError, err
			}
			o.logger.Logf(terminal.StyleWarning, "auditor asked for rework (iteration %d): %s", sess.Iteration, verdict.Feedback)
		}

		if ctx.Err() != nil {
			return o.interrupt(sess)
		}
	}
}

// runWorker executes the worker role for the current iteration, salvaging
// from forensic state on timeout and relaunching per the retry policy.
func (o *Orchestrator) runWorker(ctx context.Context, sess *session.Session, log *pipeline.ActivityLog) ([]domain.ActivityEvent, domain.ExitCode, error) {
	prompt := BuildWorkerPrompt(sess.OriginalPrompt, sess.LastAuditorFeedback, sess.Iteration)

	for attempt := 0; ; attempt++ {
		if o.opts.Status != nil {
			o.opts.Status.SetPhase("worker", sess.Iteration)
		}
		o.logger.Logf(terminal.StylePhase, "worker run (iteration %d, %s)", sess.Iteration, o.opts.Worker.Name())

		if o.opts.Worker.CapturesVCSState() && vcs.IsRepo(ctx, o.workDir()) {
			if head, err := vcs.Head(ctx, o.workDir()); err == nil {
				sess.BaselineRev = head
				if err := o.persist(sess); err != nil {
					return nil, domain.ExitError, err
				}
			}
		}

		events, err := o.runRole(ctx, o.opts.Worker, domain.RoleWorker, prompt, sess, log)

		if o.opts.Worker.CapturesVCSState() && sess.BaselineRev != "" && vcs.IsRepo(ctx, o.workDir()) {
			if commits, cerr := vcs.CommitsSince(ctx, o.workDir(), sess.BaselineRev); cerr == nil {
				sess.Commits = commits
			}
		}

		if err != nil {
			var timeout *pipeline.InactivityTimeoutError
			switch {
			case errors.As(err, &timeout):
				o.logger.Logf(terminal.StyleWarning, "worker went silent (%s), attempting recovery", timeout.Silence)
				rec, rerr := o.opts.Worker.Recover(ctx, o.handle(sess))
				if rerr == nil && rec.Recovered {
					o.noteImpliedOutcome(rec)
					salvaged := o.salvagedEvents(sess, rec, len(events))
					for _, ev := range salvaged {
						// Salvaged activity is held to the same
						// durability bar as streamed activity.
						if aerr := log.Append(ev.Raw); aerr != nil {
							if _, ferr := o.fail(sess, aerr.Error()); ferr != nil {
								return nil, domain.ExitError, ferr
							}
							return nil, domain.ExitError, aerr
						}
					}
					return append(events, salvaged...), 0, nil
				}
				o.logger.Log("no recoverable state found", terminal.StyleWarning)
				// Fall through to the retry policy below.

			case ctx.Err() != nil:
				code, ierr := o.interrupt(sess)
				if ierr == nil {
					ierr = ctx.Err()
				}
				return nil, code, ierr

			default:
				// Launch and transport failures are fatal for the
				// session, never retried automatically.
				if _, ferr := o.fail(sess, err.Error()); ferr != nil {
					return nil, domain.ExitError, ferr
				}
				return nil, domain.ExitError, err
			}
		} else if len(events) > 0 {
			return events, 0, nil
		}

		if attempt >= o.opts.Retries {
			code, ferr := o.fail(sess, fmt.Sprintf("worker run produced nothing usable after %d attempt(s)", attempt+1))
			if ferr != nil {
				return nil, domain.ExitError, ferr
			}
			return nil, code, fmt.Errorf("worker run failed for session %s", sess.ID)
		}
		o.logger.Logf(terminal.StyleWarning, "relaunching worker (attempt %d of %d)", attempt+2, o.opts.Retries+1)
	}
}

// runAuditor executes the auditor role over the extracted summary and
// parses its output into a verdict.
func (o *Orchestrator) runAuditor(ctx context.Context, sess *session.Session, log *pipeline.ActivityLog, summary *domain.ResultSummary) (*domain.Verdict, error) {
	if o.opts.Status != nil {
		o.opts.Status.SetPhase("auditor", sess.Iteration)
	}
	o.logger.Logf(terminal.StylePhase, "auditor run (iteration %d, %s)", sess.Iteration, o.opts.Auditor.Name())

	prompt := BuildAuditorPrompt(sess.OriginalPrompt, summary)
	events, err := o.runRole(ctx, o.opts.Auditor, domain.RoleAuditor, prompt, sess, log)
	if err != nil {
		var timeout *pipeline.InactivityTimeoutError
		if !errors.As(err, &timeout) {
			return nil, err
		}
		// A silent auditor is judged on whatever it said before the
		// silence; an empty transcript degrades to Retry below.
	}

	verdict, perr := ParseVerdict(auditorText(events))
	if perr != nil {
		o.logger.Logf(terminal.StyleWarning, "%v, treating as retry", perr)
	}
	return verdict, nil
}

// runRole performs one pipeline run for one role.
func (o *Orchestrator) runRole(ctx context.Context, exec executor.Executor, role domain.Role, prompt string, sess *session.Session, log *pipeline.ActivityLog) ([]domain.ActivityEvent, error) {
	cmd, err := exec.BuildCommand(role, prompt)
	if err != nil {
		return nil, err
	}
	if cmd.HTTP == nil && cmd.Dir == "" {
		cmd.Dir = o.opts.WorkDir
	}

	opts := pipeline.Options{
		InactivityTimeout: o.opts.InactivityTimeout,
		GracePeriod:       o.opts.GracePeriod,
		ReadBuffer:        o.opts.ReadBuffer,
		Role:              role,
		ExecutorName:      exec.Name(),
		Logger:            o.logger,
		HTTPClient:        o.opts.HTTPClient,
		OnStall:           func() { o.markIdle(sess, true) },
		OnResume:          func() { o.markIdle(sess, false) },
	}
	if o.opts.Status != nil {
		opts.LastActivity = o.opts.Status.LastActivity()
	}

	result, err := pipeline.Run(ctx, cmd, exec.NewFramer(), log, opts)
	if result == nil {
		return nil, err
	}
	if err == nil && result.ExitCode != 0 {
		// Non-zero exit is a failure signal, but partial output may
		// still hold the answer; extraction proceeds on what we have.
		o.logger.Logf(terminal.StyleWarning, "%s exited with code %d", exec.Name(), result.ExitCode)
	}
	return result.Events, err
}

// markIdle flips the session between Idle and Running as the liveness
// monitor observes stalls. Observability only: persistence here is best
// effort and never aborts the run.
func (o *Orchestrator) markIdle(sess *session.Session, idle bool) {
	if idle {
		sess.Status = session.StatusIdle
		o.logger.Log("activity slowed, session idle", terminal.StyleDim)
	} else {
		sess.Status = session.StatusRunning
		o.logger.Log("activity resumed", terminal.StyleDim)
	}
	sess.Touch()
	_ = o.opts.Store.Save(sess)
}

// noteImpliedOutcome surfaces a recovery's verdict hint. The hint never
// bypasses the auditor: the salvaged activity is judged like any other
// worker output, so the hint is observability only.
func (o *Orchestrator) noteImpliedOutcome(rec *domain.RecoveryResult) {
	if rec.ImpliedOutcome != nil && *rec.ImpliedOutcome == domain.OutcomeDone {
		o.logger.Log("recovered state includes commits, work likely landed", terminal.StyleInfo)
	}
}

// salvagedEvents wraps recovered payloads as activity events continuing the
// run's sequence from base.
func (o *Orchestrator) salvagedEvents(sess *session.Session, rec *domain.RecoveryResult, base int) []domain.ActivityEvent {
	events := make([]domain.ActivityEvent, 0, len(rec.Salvaged))
	for i, payload := range rec.Salvaged {
		events = append(events, domain.ActivityEvent{
			Sequence:   base + i,
			IngestedAt: time.Now(),
			Executor:   o.opts.Worker.Name(),
			Role:       domain.RoleWorker,
			Raw:        payload,
		})
	}
	return events
}

func (o *Orchestrator) handle(sess *session.Session) executor.SessionHandle {
	return executor.SessionHandle{
		SessionID:   sess.ID,
		WorkDir:     o.workDir(),
		BaselineRev: sess.BaselineRev,
	}
}

func (o *Orchestrator) workDir() string {
	if o.opts.WorkDir != "" {
		return o.opts.WorkDir
	}
	return "."
}

// transition moves the session to a new status and persists it. A failed
// persist aborts the session.
func (o *Orchestrator) transition(sess *session.Session, status session.Status) error {
	sess.Status = status
	return o.persist(sess)
}

func (o *Orchestrator) persist(sess *session.Session) error {
	sess.Touch()
	if err := o.opts.Store.Save(sess); err != nil {
		return fmt.Errorf("failed to persist session %s, aborting: %w", sess.ID, err)
	}
	return nil
}

// fail moves the session to Failed with a reason and reports the exit code.
func (o *Orchestrator) fail(sess *session.Session, reason string) (domain.ExitCode, error) {
	sess.FailureReason = reason
	if err := o.transition(sess, session.StatusFailed); err != nil {
		return domain.ExitError, err
	}
	o.logger.Logf(terminal.StyleError, "session %s failed at iteration %d: %s", sess.ID, sess.Iteration, reason)
	if sess.LastAuditorFeedback != "" {
		o.logger.Logf(terminal.StyleDim, "last auditor feedback: %s", sess.LastAuditorFeedback)
	}
	return domain.ExitFailed, nil
}

// interrupt moves the session to Interrupted, persisting enough state to
// resume later.
func (o *Orchestrator) interrupt(sess *session.Session) (domain.ExitCode, error) {
	if err := o.transition(sess, session.StatusInterrupted); err != nil {
		return domain.ExitError, err
	}
	o.logger.Logf(terminal.StyleWarning, "session %s interrupted at iteration %d", sess.ID, sess.Iteration)
	return domain.ExitInterrupted, nil
}

// auditorText flattens the auditor's events into the text the verdict
// parser sees. Chat-completion bodies contribute their message content;
// other payloads contribute their textual fields, or their raw JSON when
// no textual field exists.
func auditorText(events []domain.ActivityEvent) string {
	var parts []string
	for _, ev := range events {
		raw := []byte(ev.Raw)
		if content := gjson.GetBytes(raw, "choices.0.message.content"); content.Type == gjson.String {
			parts = append(parts, content.String())
			continue
		}
		found := false
		for _, key := range []string{"text", "content", "message", "result"} {
			if v := gjson.GetBytes(raw, key); v.Type == gjson.String && v.String() != "" {
				parts = append(parts, v.String())
				found = true
				break
			}
		}
		if !found {
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
