// Package main provides the CLI entry point for the agentic task loop.
package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/richhaase/agentic-task-loop/internal/domain"
)

var (
	workerKind        string
	auditorKind       string
	maxIterations     int
	inactivityTimeout time.Duration
	gracePeriod       time.Duration
	flushBytes        int
	sessionDir        string
	retries           int
	concurrency       int
	apiBaseURL        string
	apiModel          string
	workDir           string
	noConfig          bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:   "atl <task> [task...]",
		Short: "Agentic task loop - run worker/auditor agent sessions",
		Long: `Run tasks through an autonomous worker-auditor loop: a worker agent
attempts the task, an auditor agent judges the extracted result, and the
loop iterates on the auditor's feedback until done or out of budget.

Exit codes:
  0 - Task completed
  1 - Task failed (rework budget exhausted or judged impossible)
  2 - Error
  130 - Interrupted`,
		Args:          cobra.MinimumNArgs(1),
		RunE:          runTasks,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       buildVersionString(),
	}

	rootCmd.SetVersionTemplate("{{.Version}}\n")

	// Configuration flags (defaults are resolved via config.Resolve with precedence: flag > env > config > default)
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&workerKind, "worker", "w", "",
		"Worker executor: claude, cursor, aider, gemini, api (default: claude, env: ATL_WORKER)")
	pf.StringVarP(&auditorKind, "auditor", "a", "",
		"Auditor executor: claude, cursor, aider, gemini, api (default: claude, env: ATL_AUDITOR)")
	pf.IntVarP(&maxIterations, "max-iterations", "n", 0,
		"Max worker runs per session (default: 5, env: ATL_MAX_ITERATIONS)")
	pf.DurationVarP(&inactivityTimeout, "timeout", "t", 0,
		"Inactivity timeout per agent run (default: 2m, env: ATL_INACTIVITY_TIMEOUT)")
	pf.DurationVar(&gracePeriod, "grace-period", 0,
		"Grace between SIGTERM and SIGKILL on a stalled agent (default: 5s, env: ATL_GRACE_PERIOD)")
	pf.IntVar(&flushBytes, "flush-bytes", 0,
		"Prose flush threshold in bytes for unstructured agents (default: 4096, env: ATL_FLUSH_BYTES)")
	pf.StringVar(&sessionDir, "session-dir", "",
		"Directory for session records and activity logs (default: .atl/sessions, env: ATL_SESSION_DIR)")
	pf.IntVarP(&retries, "retries", "R", 0,
		"Relaunch an unproductive worker run N times (default: 1, env: ATL_RETRIES)")
	pf.IntVarP(&concurrency, "concurrency", "c", 0,
		"Max concurrent sessions when given multiple tasks (default: 2, env: ATL_CONCURRENCY)")
	pf.StringVar(&apiBaseURL, "api-url", "",
		"Base URL for the api executor (env: ATL_API_BASE_URL)")
	pf.StringVar(&apiModel, "model", "",
		"Model name for the api executor (env: ATL_API_MODEL)")
	pf.StringVarP(&workDir, "dir", "C", "",
		"Working directory the agents run in (default: current directory)")
	pf.BoolVar(&noConfig, "no-config", false,
		"Skip loading .atl.yaml config file")

	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		// Check if this is an exit code wrapper (not a real error)
		if exitErr, ok := err.(exitCodeError); ok {
			return exitErr.code.Int()
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return domain.ExitError.Int()
	}

	return 0
}

func buildVersionString() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}
