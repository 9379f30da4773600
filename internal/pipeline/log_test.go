package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestActivityLogAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.activity.jsonl")
	log := NewActivityLog(path)

	payloads := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	for _, p := range payloads {
		if err := log.Append([]byte(p)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if log.Count() != 3 {
		t.Errorf("Count = %d, want 3", log.Count())
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d payloads, want 3", len(got))
	}
	for i, p := range payloads {
		if string(got[i]) != p {
			t.Errorf("payload %d = %s, want %s", i, got[i], p)
		}
	}
}

func TestActivityLogLazyCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.activity.jsonl")
	log := NewActivityLog(path)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("log file created before first append")
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("closing an unused log left a file behind")
	}
}

func TestReadAllMissingFile(t *testing.T) {
	got, err := ReadAll(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("ReadAll on missing file: %v", err)
	}
	if got != nil {
		t.Errorf("expected no payloads, got %v", got)
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.activity.jsonl")
	content := "{\"ok\":1}\nnot json at all\n{\"ok\":2}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d payloads, want 2", len(got))
	}
}
