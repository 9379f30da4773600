package domain

// ExitCode represents the exit status of the task loop.
type ExitCode int

const (
	// ExitCompleted indicates the auditor accepted the worker's result.
	ExitCompleted ExitCode = 0
	// ExitFailed indicates a terminal failure: the auditor judged the task
	// impossible or the iteration budget was exhausted.
	ExitFailed ExitCode = 1
	// ExitError indicates the loop failed due to an error.
	ExitError ExitCode = 2
	// ExitInterrupted indicates the loop was interrupted by a signal.
	ExitInterrupted ExitCode = 130
)

// Int returns the exit code as an int for use with os.Exit.
func (e ExitCode) Int() int {
	return int(e)
}
