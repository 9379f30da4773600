package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/richhaase/agentic-task-loop/internal/config"
	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
	"github.com/richhaase/agentic-task-loop/internal/orchestrator"
	"github.com/richhaase/agentic-task-loop/internal/session"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
)

func runTasks(cmd *cobra.Command, args []string) error {
	// Disable colors if stdout is not a TTY
	if !terminal.IsStdoutTTY() {
		terminal.DisableColors()
	}
	logger := terminal.NewLogger()

	ctx, cancel := signalContext(logger)
	defer cancel()

	resolved, err := resolveConfig(cmd, logger)
	if err != nil {
		logger.Logf(terminal.StyleError, "Config error: %v", err)
		return exitCode(domain.ExitError)
	}

	worker, auditor, err := buildExecutors(resolved.Worker, resolved.Auditor, resolved)
	if err != nil {
		logger.Logf(terminal.StyleError, "%v", err)
		return exitCode(domain.ExitError)
	}

	store := session.NewStore(resolved.SessionDir)

	if len(args) == 1 {
		code := runOne(ctx, args[0], worker, auditor, store, resolved, logger, true)
		return exitCode(code)
	}

	// Multiple tasks run as independent sessions through a bounded pool.
	// The live status line is single-session only; concurrent runs log
	// plain lines instead.
	logger.Logf(terminal.StyleInfo, "Running %d tasks %s(%d concurrent)%s",
		len(args), terminal.Color(terminal.Dim), resolved.Concurrency, terminal.Color(terminal.Reset))

	codes := make([]domain.ExitCode, len(args))
	fns := make([]func(ctx context.Context) error, len(args))
	for i, task := range args {
		fns[i] = func(ctx context.Context) error {
			codes[i] = runOne(ctx, task, worker, auditor, store, resolved, logger, false)
			return nil
		}
	}

	pool := orchestrator.NewPool(resolved.Concurrency)
	for i, err := range pool.RunAll(ctx, fns) {
		if err != nil {
			codes[i] = domain.ExitInterrupted
		}
	}

	return exitCode(worstCode(codes))
}

// runOne drives a single fresh session to a terminal state.
func runOne(ctx context.Context, task string, worker, auditor executor.Executor, store *session.Store, resolved config.ResolvedConfig, logger *terminal.Logger, showStatus bool) domain.ExitCode {
	sess := session.New(task, worker.Name(), auditor.Name())
	if worker.Name() == "api" || auditor.Name() == "api" {
		sess.Model = resolved.APIModel
	}

	opts := orchestratorOptions(worker, auditor, store, resolved, logger)

	var statusCancel context.CancelFunc
	if showStatus && terminal.IsStderrTTY() {
		status := terminal.NewRunStatus()
		opts.Status = status
		var statusCtx context.Context
		statusCtx, statusCancel = context.WithCancel(context.Background())
		go status.Run(statusCtx)
	}

	code, err := orchestrator.New(opts).Run(ctx, sess)
	if statusCancel != nil {
		statusCancel()
	}
	if err != nil && code == domain.ExitError {
		logger.Logf(terminal.StyleError, "%v", err)
	}
	logger.Logf(terminal.StyleDim, "session record: %s", store.Path(sess.ID))
	return code
}

// worstCode aggregates per-task exit codes into the process exit code.
// Interrupted outranks error outranks failed outranks completed.
func worstCode(codes []domain.ExitCode) domain.ExitCode {
	worst := domain.ExitCompleted
	rank := func(c domain.ExitCode) int {
		switch c {
		case domain.ExitInterrupted:
			return 3
		case domain.ExitError:
			return 2
		case domain.ExitFailed:
			return 1
		default:
			return 0
		}
	}
	for _, c := range codes {
		if rank(c) > rank(worst) {
			worst = c
		}
	}
	return worst
}
