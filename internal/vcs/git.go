// Package vcs provides read-only git queries used to snapshot repository
// state around agent runs. Agents that auto-commit (claude, aider) leave
// their work in the git history, so the engine records the baseline revision
// before a run and lists the commits the run produced.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Commit is a single commit produced by an agent run.
type Commit struct {
	Hash    string `json:"hash"`
	Subject string `json:"subject"`
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = dir
	out, err := cmd.Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// Head returns the current HEAD revision of the repository containing dir.
func Head(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CommitsSince lists the commits reachable from HEAD but not from rev,
// oldest first. An empty result is normal for runs that committed nothing.
func CommitsSince(ctx context.Context, dir, rev string) ([]Commit, error) {
	cmd := exec.CommandContext(ctx, "git", "log", "--reverse", "--format=%H%x00%s", rev+"..HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list commits since %s: %w", rev, err)
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		hash, subject, ok := strings.Cut(line, "\x00")
		if !ok {
			continue
		}
		commits = append(commits, Commit{Hash: hash, Subject: subject})
	}
	return commits, nil
}
