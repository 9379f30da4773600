package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
)

func shCommand(script string) *executor.Command {
	return &executor.Command{Path: "sh", Args: []string{"-c", script}}
}

func testOptions() Options {
	return Options{
		InactivityTimeout: 5 * time.Second,
		GracePeriod:       200 * time.Millisecond,
		ExecutorName:      "test",
		Role:              domain.RoleWorker,
	}
}

func TestRunOrderedEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "activity.jsonl")
	log := NewActivityLog(logPath)
	defer log.Close()

	cmd := shCommand(`printf '{"phase":"thinking"}\n{"phase":"tool_call"}\n{"phase":"completion_result"}\n'`)
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), log, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if len(result.Events) != 3 {
		t.Fatalf("got %d events, want 3", len(result.Events))
	}

	for i, ev := range result.Events {
		if ev.Sequence != i {
			t.Errorf("event %d has sequence %d", i, ev.Sequence)
		}
		if ev.Executor != "test" || ev.Role != domain.RoleWorker {
			t.Errorf("event %d missing annotations: %+v", i, ev)
		}
		if i > 0 && ev.IngestedAt.Before(result.Events[i-1].IngestedAt) {
			t.Errorf("ingestion timestamps regressed at event %d", i)
		}
	}
	if !strings.Contains(string(result.Events[2].Raw), "completion_result") {
		t.Errorf("event order lost: %s", result.Events[2].Raw)
	}
}

func TestRunMalformedChunksDiscarded(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "activity.jsonl")
	log := NewActivityLog(logPath)

	cmd := shCommand(`printf 'this is not json\n{"ok":true}\ntrailing garbage\n'`)
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), log, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1 (malformed discarded)", len(result.Events))
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	// Log purity: every persisted line parses.
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if !json.Valid([]byte(line)) {
			t.Errorf("log contains malformed line: %q", line)
		}
	}
}

func TestRunLazyLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "activity.jsonl")
	log := NewActivityLog(logPath)

	cmd := shCommand(`printf 'nothing structured here\n'`)
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), log, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(result.Events))
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Error("expected no log file for a session with zero valid activity")
	}
}

func TestRunInactivityTimeout(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "activity.jsonl")
	log := NewActivityLog(logPath)
	defer log.Close()

	opts := testOptions()
	opts.InactivityTimeout = 300 * time.Millisecond
	opts.GracePeriod = 100 * time.Millisecond

	start := time.Now()
	cmd := shCommand(`printf '{"phase":"thinking"}\n'; sleep 30`)
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), log, opts)
	elapsed := time.Since(start)

	var timeoutErr *InactivityTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected InactivityTimeoutError, got %v", err)
	}
	if timeoutErr.Silence < opts.InactivityTimeout {
		t.Errorf("reported silence %s below threshold", timeoutErr.Silence)
	}
	if elapsed > 10*time.Second {
		t.Errorf("run was not terminated promptly, took %s", elapsed)
	}
	if result == nil || len(result.Events) != 1 {
		t.Fatalf("expected the pre-silence event to be kept, got %+v", result)
	}
	if result.ExitCode == 0 {
		t.Error("exit code should reflect forced termination")
	}
}

func TestRunContextCancelTerminatesSilentChild(t *testing.T) {
	// Cancellation must reach a child that is alive but silent, without
	// waiting out the inactivity timeout.
	opts := testOptions()
	opts.InactivityTimeout = 30 * time.Second
	opts.GracePeriod = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	cmd := shCommand(`printf '{"phase":"thinking"}\n'; sleep 60`)
	result, err := Run(ctx, cmd, executor.NewLineFramer(), nil, opts)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("run returned %s after cancellation; child was not terminated promptly", elapsed)
	}
	if result == nil || len(result.Events) != 1 {
		t.Fatalf("expected the pre-cancel event to be kept, got %+v", result)
	}
}

func TestRunPromptNotEchoed(t *testing.T) {
	// The pty echoes input by default; the prompt must not re-enter the
	// activity stream even when it is itself valid JSON.
	cmd := &executor.Command{
		Path:  "sh",
		Args:  []string{"-c", `cat >/dev/null; printf '{"source":"child"}\n'`},
		Stdin: []byte(`{"source":"prompt"}`),
	}
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want only the child's own output: %v", len(result.Events), result.Events)
	}
	if strings.Contains(string(result.Events[0].Raw), "prompt") {
		t.Errorf("prompt text leaked into the activity stream: %s", result.Events[0].Raw)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	cmd := shCommand(`printf '{"partial":true}\n'; exit 3`)
	result, err := Run(context.Background(), cmd, executor.NewLineFramer(), nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	// Partial output remains available for extraction.
	if len(result.Events) != 1 {
		t.Errorf("got %d events, want 1", len(result.Events))
	}
}

func TestRunLaunchError(t *testing.T) {
	cmd := &executor.Command{Path: "definitely-not-a-real-binary-xyz"}
	_, err := Run(context.Background(), cmd, executor.NewLineFramer(), nil, testOptions())
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestRunRejectsZeroTimeout(t *testing.T) {
	opts := testOptions()
	opts.InactivityTimeout = 0
	_, err := Run(context.Background(), shCommand("true"), executor.NewLineFramer(), nil, opts)
	if err == nil {
		t.Fatal("expected error for zero inactivity timeout")
	}
}

func TestRunHTTP(t *testing.T) {
	body := `{"choices":[{"message":{"content":"Canberra"}}]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "activity.jsonl")
	log := NewActivityLog(logPath)
	defer log.Close()

	cmd := &executor.Command{HTTP: &executor.HTTPRequest{
		Method: "POST",
		URL:    srv.URL,
		Header: map[string]string{"Content-Type": "application/json"},
		Body:   []byte(`{"model":"m","messages":[]}`),
	}}

	result, err := Run(context.Background(), cmd, executor.NewBodyFramer(), log, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(result.Events))
	}
	if string(result.Events[0].Raw) != body {
		t.Errorf("event payload = %s", result.Events[0].Raw)
	}
}

func TestRunHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cmd := &executor.Command{HTTP: &executor.HTTPRequest{Method: "POST", URL: srv.URL}}
	_, err := Run(context.Background(), cmd, executor.NewBodyFramer(), nil, testOptions())

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", statusErr.StatusCode)
	}
}

func TestRunHTTPConnectionRefused(t *testing.T) {
	cmd := &executor.Command{HTTP: &executor.HTTPRequest{Method: "POST", URL: "http://127.0.0.1:1/v1/chat/completions"}}
	_, err := Run(context.Background(), cmd, executor.NewBodyFramer(), nil, testOptions())

	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}
