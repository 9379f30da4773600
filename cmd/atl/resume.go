package main

import (
	"github.com/spf13/cobra"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/orchestrator"
	"github.com/richhaase/agentic-task-loop/internal/session"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
)

func newResumeCmd() *cobra.Command {
	var taskOverride string

	cmd := &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume an interrupted session from its persisted state",
		Long: `Resume a session that was interrupted or left running by a crash.

The loop re-enters at the stored iteration with the stored auditor
feedback. If the worker left forensic state behind (conversation files,
history files, commits), it is salvaged and judged before any new worker
run. Executor kinds are taken from the session record, not from flags.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			store := session.NewStore(resolved.SessionDir)
			sess, err := store.Load(args[0])
			if err != nil {
				logger.Logf(terminal.StyleError, "Cannot load session %s: %v", args[0], err)
				return exitCode(domain.ExitError)
			}
			if !sess.Status.Resumable() {
				logger.Logf(terminal.StyleError, "Session %s is %s and cannot be resumed", sess.ID, sess.Status)
				return exitCode(domain.ExitError)
			}

			worker, auditor, err := buildExecutors(sess.WorkerKind, sess.AuditorKind, resolved)
			if err != nil {
				logger.Logf(terminal.StyleError, "%v", err)
				return exitCode(domain.ExitError)
			}

			logger.Logf(terminal.StyleInfo, "Resuming session %s %s(iteration %d, %s)%s",
				sess.ID, terminal.Color(terminal.Dim), sess.Iteration, sess.Status, terminal.Color(terminal.Reset))

			opts := orchestratorOptions(worker, auditor, store, resolved, logger)
			code, rerr := orchestrator.New(opts).Resume(ctx, sess, taskOverride)
			if rerr != nil && code == domain.ExitError {
				logger.Logf(terminal.StyleError, "%v", rerr)
			}
			return exitCode(code)
		},
	}

	cmd.Flags().StringVar(&taskOverride, "task", "",
		"Replace the original task text for the resumed run")

	return cmd
}
