package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/session"
	"github.com/richhaase/agentic-task-loop/internal/terminal"
)

// taskPreviewLen caps how much of the original task the listing shows.
const taskPreviewLen = 48

func newSessionsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !terminal.IsStdoutTTY() {
				terminal.DisableColors()
			}
			logger := terminal.NewLogger()

			resolved, err := resolveConfig(cmd, logger)
			if err != nil {
				logger.Logf(terminal.StyleError, "Config error: %v", err)
				return exitCode(domain.ExitError)
			}

			store := session.NewStore(resolved.SessionDir)
			sessions, err := store.List()
			if err != nil {
				logger.Logf(terminal.StyleError, "Cannot list sessions: %v", err)
				return exitCode(domain.ExitError)
			}

			if !all {
				resumable := sessions[:0]
				for _, s := range sessions {
					if s.Status.Resumable() {
						resumable = append(resumable, s)
					}
				}
				sessions = resumable
			}

			if len(sessions) == 0 {
				if all {
					logger.Log("No sessions found", terminal.StyleDim)
				} else {
					logger.Log("No resumable sessions (use --all for finished ones)", terminal.StyleDim)
				}
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATUS\tITER\tUPDATED\tTASK")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.ID, s.Status, s.Iteration, relativeTime(s.UpdatedAt), taskPreview(s.OriginalPrompt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include completed and failed sessions")

	return cmd
}

func taskPreview(task string) string {
	if len(task) <= taskPreviewLen {
		return task
	}
	return task[:taskPreviewLen-3] + "..."
}

// relativeTime formats a timestamp as a coarse age for the listing.
func relativeTime(t time.Time) string {
	age := time.Since(t)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}
