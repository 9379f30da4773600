package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richhaase/agentic-task-loop/internal/domain"
	"github.com/richhaase/agentic-task-loop/internal/executor"
	"github.com/richhaase/agentic-task-loop/internal/session"
)

// agentServer scripts an OpenAI-compatible endpoint: each request gets the
// next canned content, and every received prompt is kept for inspection.
type agentServer struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	srv       *httptest.Server
}

func newAgentServer(t *testing.T, responses ...string) *agentServer {
	t.Helper()
	a := &agentServer{responses: responses}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)

		a.mu.Lock()
		if len(req.Messages) > 0 {
			a.prompts = append(a.prompts, req.Messages[0].Content)
		}
		content := "no script left"
		if len(a.responses) > 0 {
			content = a.responses[0]
			a.responses = a.responses[1:]
		}
		a.mu.Unlock()

		resp, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(resp)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *agentServer) executor() executor.Executor {
	return executor.NewAPIExecutor(executor.APIOptions{BaseURL: a.srv.URL, Model: "test-model"})
}

func (a *agentServer) promptCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

func (a *agentServer) prompt(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prompts[i]
}

func newTestOrchestrator(t *testing.T, worker, auditor executor.Executor, maxIterations int) (*Orchestrator, *session.Store) {
	t.Helper()
	store := session.NewStore(t.TempDir())
	o := New(Options{
		Worker:            worker,
		Auditor:           auditor,
		Store:             store,
		MaxIterations:     maxIterations,
		InactivityTimeout: 10 * time.Second,
		GracePeriod:       time.Second,
	})
	return o, store
}

func TestRunCompletesOnDone(t *testing.T) {
	worker := newAgentServer(t, "The capital of Australia is Canberra.")
	auditor := newAgentServer(t, `{"verdict": "done"}`)

	o, store := newTestOrchestrator(t, worker.executor(), auditor.executor(), 3)
	sess := session.New("what is the capital of Australia", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Errorf("exit code = %d, want %d", code, domain.ExitCompleted)
	}
	if sess.Status != session.StatusCompleted {
		t.Errorf("status = %q, want completed", sess.Status)
	}

	// The persisted record matches the in-memory outcome.
	loaded, err := store.Load(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != session.StatusCompleted {
		t.Errorf("persisted status = %q", loaded.Status)
	}

	// Auditor saw the task and the worker's answer, never a full log dump.
	if auditor.promptCount() != 1 {
		t.Fatalf("auditor ran %d times, want 1", auditor.promptCount())
	}
	ap := auditor.prompt(0)
	if !strings.Contains(ap, "capital of Australia") || !strings.Contains(ap, "Canberra") {
		t.Errorf("auditor prompt missing task or candidate: %q", ap)
	}
}

func TestRunLenientVerdict(t *testing.T) {
	worker := newAgentServer(t, "did the thing")
	auditor := newAgentServer(t, "Looks complete, DONE.")

	o, _ := newTestOrchestrator(t, worker.executor(), auditor.executor(), 3)
	sess := session.New("task", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Errorf("exit code = %d, want completed", code)
	}
}

func TestRunPromptIsolation(t *testing.T) {
	const rawMarker = "UNIQUE_RAW_OUTPUT_MARKER_42"
	worker := newAgentServer(t,
		"first attempt containing "+rawMarker,
		"second attempt, now with a test",
	)
	auditor := newAgentServer(t,
		`{"verdict": "retry", "feedback": "add a unit test"}`,
		`{"verdict": "done"}`,
	)

	o, _ := newTestOrchestrator(t, worker.executor(), auditor.executor(), 5)
	sess := session.New("write a haiku about rivers", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Fatalf("exit code = %d, want completed", code)
	}
	if worker.promptCount() != 2 {
		t.Fatalf("worker ran %d times, want 2", worker.promptCount())
	}

	first := worker.prompt(0)
	if first != "write a haiku about rivers" {
		t.Errorf("iteration 0 prompt should be the bare task, got %q", first)
	}

	second := worker.prompt(1)
	if !strings.Contains(second, "write a haiku about rivers") {
		t.Error("rework prompt missing the literal original task")
	}
	if !strings.Contains(second, "add a unit test") {
		t.Error("rework prompt missing the literal auditor feedback")
	}
	if strings.Contains(second, rawMarker) {
		t.Error("rework prompt leaked iteration 0's raw worker output")
	}
}

func TestRunBudgetExhausted(t *testing.T) {
	worker := newAgentServer(t, "attempt 1", "attempt 2", "attempt 3", "attempt 4")
	auditor := newAgentServer(t,
		`{"verdict": "retry", "feedback": "fix one"}`,
		`{"verdict": "retry", "feedback": "fix two"}`,
		`{"verdict": "retry", "feedback": "fix three"}`,
	)

	o, store := newTestOrchestrator(t, worker.executor(), auditor.executor(), 3)
	sess := session.New("task", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitFailed {
		t.Errorf("exit code = %d, want failed", code)
	}
	if worker.promptCount() != 3 {
		t.Errorf("worker ran %d times, want exactly 3 (never a fourth)", worker.promptCount())
	}

	loaded, err := store.Load(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != session.StatusFailed {
		t.Errorf("status = %q, want failed", loaded.Status)
	}
	if !strings.Contains(loaded.FailureReason, "iteration budget exhausted") {
		t.Errorf("failure reason %q does not name the budget", loaded.FailureReason)
	}
	if loaded.LastAuditorFeedback != "fix three" {
		t.Errorf("last feedback = %q, want the final retry's", loaded.LastAuditorFeedback)
	}
}

func TestRunImpossible(t *testing.T) {
	worker := newAgentServer(t, "tried and failed")
	auditor := newAgentServer(t, `{"verdict": "impossible", "feedback": "the referenced file does not exist"}`)

	o, _ := newTestOrchestrator(t, worker.executor(), auditor.executor(), 3)
	sess := session.New("task", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitFailed {
		t.Errorf("exit code = %d, want failed", code)
	}
	if sess.Status != session.StatusFailed {
		t.Errorf("status = %q, want failed", sess.Status)
	}
	if strings.Contains(sess.FailureReason, "budget") {
		t.Errorf("impossible must be distinguishable from budget exhaustion: %q", sess.FailureReason)
	}
}

func TestRunUnparseableAuditorRetries(t *testing.T) {
	worker := newAgentServer(t, "attempt 1", "attempt 2")
	auditor := newAgentServer(t,
		"mumbling with no judgment at all",
		`{"verdict": "done"}`,
	)

	o, _ := newTestOrchestrator(t, worker.executor(), auditor.executor(), 5)
	sess := session.New("task", "api", "api")

	code, err := o.Run(context.Background(), sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Errorf("exit code = %d, want completed after second iteration", code)
	}
	if worker.promptCount() != 2 {
		t.Errorf("worker ran %d times, want 2", worker.promptCount())
	}
}

func TestResume(t *testing.T) {
	worker := newAgentServer(t, "resumed attempt")
	auditor := newAgentServer(t, `{"verdict": "done"}`)

	o, store := newTestOrchestrator(t, worker.executor(), auditor.executor(), 5)

	sess := session.New("original task", "api", "api")
	sess.Status = session.StatusInterrupted
	sess.Iteration = 2
	sess.LastAuditorFeedback = "tighten the second stanza"
	if err := store.Save(sess); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	code, err := o.Resume(context.Background(), loaded, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Errorf("exit code = %d, want completed", code)
	}

	prompt := worker.prompt(0)
	if !strings.Contains(prompt, "original task") {
		t.Error("resumed prompt missing the preserved original task")
	}
	if !strings.Contains(prompt, "tighten the second stanza") {
		t.Error("resumed prompt missing the stored feedback")
	}
}

func TestResumeTerminalSessionRejected(t *testing.T) {
	worker := newAgentServer(t)
	auditor := newAgentServer(t)
	o, _ := newTestOrchestrator(t, worker.executor(), auditor.executor(), 3)

	sess := session.New("task", "api", "api")
	sess.Status = session.StatusCompleted

	if _, err := o.Resume(context.Background(), sess, ""); err == nil {
		t.Error("expected error resuming a completed session")
	}
}

// recoveringExecutor wraps another executor and reports canned forensic
// state on Recover.
type recoveringExecutor struct {
	executor.Executor
	salvaged []json.RawMessage
	implied  *domain.Outcome
}

func (r *recoveringExecutor) Recover(ctx context.Context, handle executor.SessionHandle) (*domain.RecoveryResult, error) {
	return &domain.RecoveryResult{
		Recovered:      len(r.salvaged) > 0,
		Salvaged:       r.salvaged,
		ImpliedOutcome: r.implied,
	}, nil
}

func TestResumeJudgesSalvagedState(t *testing.T) {
	worker := newAgentServer(t)
	auditor := newAgentServer(t, `{"verdict": "done"}`)

	done := domain.OutcomeDone
	rec := &recoveringExecutor{
		Executor: worker.executor(),
		salvaged: []json.RawMessage{[]byte(`{"type":"result","result":"already finished the task"}`)},
		implied:  &done,
	}

	o, store := newTestOrchestrator(t, rec, auditor.executor(), 5)
	sess := session.New("task", "api", "api")
	sess.Status = session.StatusInterrupted
	sess.Iteration = 1
	if err := store.Save(sess); err != nil {
		t.Fatal(err)
	}

	code, err := o.Resume(context.Background(), sess, "")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if code != domain.ExitCompleted {
		t.Errorf("exit code = %d, want completed", code)
	}
	if worker.promptCount() != 0 {
		t.Errorf("worker ran %d times; salvaged state should be judged without a new run", worker.promptCount())
	}
	if auditor.promptCount() != 1 {
		t.Fatalf("auditor ran %d times, want 1", auditor.promptCount())
	}
	if !strings.Contains(auditor.prompt(0), "already finished the task") {
		t.Errorf("auditor prompt missing the salvaged candidate: %q", auditor.prompt(0))
	}
}

func TestWorkerSalvagePersistFailure(t *testing.T) {
	// Worker goes silent, recovery salvages state, but the activity log
	// path is unwritable; the run must abort like any other persistence
	// failure instead of judging unlogged activity.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer slow.Close()

	rec := &recoveringExecutor{
		Executor: executor.NewAPIExecutor(executor.APIOptions{BaseURL: slow.URL, Model: "test-model"}),
		salvaged: []json.RawMessage{[]byte(`{"type":"result","result":"salvaged"}`)},
	}
	auditor := newAgentServer(t)

	store := session.NewStore(t.TempDir())
	o := New(Options{
		Worker:            rec,
		Auditor:           auditor.executor(),
		Store:             store,
		MaxIterations:     3,
		InactivityTimeout: 200 * time.Millisecond,
		GracePeriod:       100 * time.Millisecond,
	})

	sess := session.New("task", "api", "api")
	// A directory at the log path makes every append fail.
	if err := os.MkdirAll(store.ActivityLogPath(sess.ID), 0755); err != nil {
		t.Fatal(err)
	}

	code, err := o.Run(context.Background(), sess)
	if err == nil {
		t.Fatal("expected an error when the activity log cannot be written")
	}
	if code != domain.ExitError {
		t.Errorf("exit code = %d, want %d", code, domain.ExitError)
	}
	if sess.Status != session.StatusFailed {
		t.Errorf("status = %q, want failed", sess.Status)
	}
	if auditor.promptCount() != 0 {
		t.Errorf("auditor ran %d times on unlogged salvage, want 0", auditor.promptCount())
	}
}

func TestRunInterrupted(t *testing.T) {
	// A slow worker is cancelled mid-run; the session must land in
	// Interrupted, not Failed.
	slowWorker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	defer slowWorker.Close()
	workerExec := executor.NewAPIExecutor(executor.APIOptions{BaseURL: slowWorker.URL, Model: "test-model"})

	auditor := newAgentServer(t)
	o, _ := newTestOrchestrator(t, workerExec, auditor.executor(), 5)
	sess := session.New("task", "api", "api")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	code, _ := o.Run(ctx, sess)
	if code != domain.ExitInterrupted {
		t.Errorf("exit code = %d, want interrupted", code)
	}
	if sess.Status != session.StatusInterrupted {
		t.Errorf("status = %q, want interrupted", sess.Status)
	}
}
