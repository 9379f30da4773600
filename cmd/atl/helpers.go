package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/richhaase/agentic-task-loop/internal/config"
	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
	"github.com/richhaase/agentic-task-loop/internal/orchestrator"
	"github.com/richhaase/agentic-task-loop/internal/session"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
)

// exitCodeError is a wrapper type for returning exit codes via error interface.
type exitCodeError struct {
	code domain.ExitCode
}

func (e exitCodeError) Error() string {
	switch e.code {
	case domain.ExitFailed:
		return "task failed"
	case domain.ExitError:
		return "run failed with error"
	case domain.ExitInterrupted:
		return "run was interrupted"
	default:
		return fmt.Sprintf("exit code %d", e.code)
	}
}

func exitCode(code domain.ExitCode) error {
	if code == domain.ExitCompleted {
		return nil
	}
	return exitCodeError{code: code}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. The
// orchestrator observes the cancellation and parks the session as
// Interrupted before the process exits.
func signalContext(logger *terminal.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr)
		logger.Log("Interrupted, shutting down...", terminal.StyleWarning)
		cancel()
	}()

	return ctx, cancel
}

// resolveConfig loads .atl.yaml (unless --no-config), merges env vars and
// explicitly set flags, and returns the final configuration.
func resolveConfig(cmd *cobra.Command, logger *terminal.Logger) (config.ResolvedConfig, error) {
	var cfg *config.Config
	if !noConfig {
		dir := workDir
		if dir == "" {
			dir = "."
		}
		result, err := config.LoadFromDirWithWarnings(dir)
		if err != nil {
			return config.ResolvedConfig{}, err
		}
		cfg = result.Config
		for _, warning := range result.Warnings {
			logger.Logf(terminal.StyleWarning, "Warning: %s", warning)
		}
	}

	flagState := config.FlagState{
		WorkerSet:            cmd.Flags().Changed("worker"),
		AuditorSet:           cmd.Flags().Changed("auditor"),
		MaxIterationsSet:     cmd.Flags().Changed("max-iterations"),
		InactivityTimeoutSet: cmd.Flags().Changed("timeout"),
		GracePeriodSet:       cmd.Flags().Changed("grace-period"),
		FlushBytesSet:        cmd.Flags().Changed("flush-bytes"),
		SessionDirSet:        cmd.Flags().Changed("session-dir"),
		RetriesSet:           cmd.Flags().Changed("retries"),
		ConcurrencySet:       cmd.Flags().Changed("concurrency"),
		APIBaseURLSet:        cmd.Flags().Changed("api-url"),
		APIModelSet:          cmd.Flags().Changed("model"),
	}

	flagValues := config.ResolvedConfig{
		Worker:            workerKind,
		Auditor:           auditorKind,
		MaxIterations:     maxIterations,
		InactivityTimeout: inactivityTimeout,
		GracePeriod:       gracePeriod,
		FlushBytes:        flushBytes,
		SessionDir:        sessionDir,
		Retries:           retries,
		Concurrency:       concurrency,
		APIBaseURL:        apiBaseURL,
		APIModel:          apiModel,
	}

	return config.Resolve(cfg, config.LoadEnvState(), flagState, flagValues), nil
}

// orchestratorOptions maps the resolved configuration onto one session's
// orchestrator options.
func orchestratorOptions(worker, auditor executor.Executor, store *session.Store, resolved config.ResolvedConfig, logger *terminal.Logger) orchestrator.Options {
	return orchestrator.Options{
		Worker:            worker,
		Auditor:           auditor,
		Store:             store,
		Logger:            logger,
		MaxIterations:     resolved.MaxIterations,
		InactivityTimeout: resolved.InactivityTimeout,
		GracePeriod:       resolved.GracePeriod,
		ReadBuffer:        resolved.FlushBytes,
		Retries:           resolved.Retries,
		WorkDir:           workDir,
	}
}

// buildExecutors constructs and preflights the worker and auditor for the
// given kinds. Availability failures surface before any session starts.
func buildExecutors(workerKind, auditorKind string, resolved config.ResolvedConfig) (executor.Executor, executor.Executor, error) {
	api := executor.APIOptions{
		BaseURL: resolved.APIBaseURL,
		Model:   resolved.APIModel,
		APIKey:  resolved.APIKey,
	}

	worker, err := executor.New(workerKind, api)
	if err != nil {
		return nil, nil, err
	}
	auditor, err := executor.New(auditorKind, api)
	if err != nil {
		return nil, nil, err
	}

	if err := worker.IsAvailable(); err != nil {
		return nil, nil, fmt.Errorf("worker (%s): %w", workerKind, err)
	}
	if err := auditor.IsAvailable(); err != nil {
		return nil, nil, fmt.Errorf("auditor (%s): %w", auditorKind, err)
	}

	return worker, auditor, nil
}
