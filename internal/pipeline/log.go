package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// ActivityLog is the durable, append-only, newline-delimited record of one
// session's activity. Each line is one payload exactly as the executor
// produced it; the log never wraps payloads in metadata. File creation is
// lazy: no file exists until the first valid payload is appended, and an
// empty file is removed at session end.
type ActivityLog struct {
	path  string
	file  *os.File
	lines int
}

// NewActivityLog creates a log handle for the given path. No file is
// created until the first Append.
func NewActivityLog(path string) *ActivityLog {
	return &ActivityLog{path: path}
}

// Path returns the log's on-disk location.
func (l *ActivityLog) Path() string {
	return l.path
}

// Count returns the number of payloads appended through this handle.
func (l *ActivityLog) Count() int {
	return l.lines
}

// Append writes one payload as a single line and flushes it to disk before
// returning, so a reader tailing the file sees events no later than the
// caller does.
func (l *ActivityLog) Append(payload []byte) error {
	if l.file == nil {
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open activity log: %w", err)
		}
		l.file = f
	}

	if _, err := l.file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("failed to append to activity log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush activity log: %w", err)
	}
	l.lines++
	return nil
}

// Close releases the underlying file, removing it if nothing was written.
func (l *ActivityLog) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if l.lines == 0 {
		_ = os.Remove(l.path)
	}
	return err
}

// ReadAll loads every payload from an activity log file, skipping lines
// that fail validation. A missing file yields no payloads and no error.
func ReadAll(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}
	defer f.Close()

	var payloads []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 100*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		payloads = append(payloads, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}
	return payloads, nil
}
