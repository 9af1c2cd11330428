// Package gitgw implements the Git Gateway of spec.md §4.2: the sole
// writer of the working tree's version history, shelling out to the git
// binary rather than linking a Git implementation (the pack retrieves no
// go-git dependency anywhere, and the teacher's own adapters favor a
// thin wrapper over the real client — e.g. the Postgres/Redis connection
// managers wrap a driver instead of reimplementing one).
//
// All mutating operations are serialized through a single in-process
// mutex (the "git:writer" lock of spec.md §5): git's own index file is
// not safe for concurrent writers, so each Stage, Commit, Unstage and
// Revert call holds the lock for its own duration (the lock is released
// between a Stage and the Commit that follows it). Identity (author name/email) is supplied per
// call, never read from global git config, so the gateway stays safe
// under concurrent callers acting as different users.
package gitgw

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// Identity is the author/committer identity attached to a commit. Callers
// supply it explicitly; the gateway never falls back to global git config.
type Identity struct {
	Name  string
	Email string
}

// Revision describes one entry of a path's commit history.
type Revision struct {
	Hash      string
	Author    string
	Email     string
	Message   string
	Timestamp time.Time
}

// Gateway is the single writer of the working tree's git history.
type Gateway struct {
	repoRoot string
	logger   mlog.Logger

	mu sync.Mutex // the "git:writer" lock (spec.md §5): one writer at a time.
}

func New(repoRoot string, logger mlog.Logger) *Gateway {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &Gateway{repoRoot: repoRoot, logger: logger}
}

// EnsureRepo lazily runs `git init` if repoRoot is not yet a git working
// tree. Safe to call repeatedly.
func (g *Gateway) EnsureRepo(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.run(ctx, "rev-parse", "--is-inside-work-tree"); err == nil {
		return nil
	}

	if _, err := g.run(ctx, "init"); err != nil {
		return cerrors.Operational("git_init", "failed to initialize repository", err)
	}

	return nil
}

// Stage runs `git add` for the given paths (relative to repoRoot).
func (g *Gateway) Stage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	args := append([]string{"add", "--"}, paths...)
	if _, err := g.run(ctx, args...); err != nil {
		return cerrors.Operational("git_stage", "failed to stage paths", err)
	}

	return nil
}

// Commit stages nothing further (callers Stage first) and commits the
// index with the given message and identity. Returns the new commit
// hash. NothingToCommit is returned when the index has no staged
// changes, so callers can treat it as a no-op rather than a failure.
func (g *Gateway) Commit(ctx context.Context, message string, identity Identity) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	status, err := g.run(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return "", cerrors.Operational("git_commit", "failed to inspect staged changes", err)
	}

	if strings.TrimSpace(status) == "" {
		return "", NothingToCommit()
	}

	args := []string{
		"-c", fmt.Sprintf("user.name=%s", identity.Name),
		"-c", fmt.Sprintf("user.email=%s", identity.Email),
		"commit", "-m", message,
	}

	if _, err := g.run(ctx, args...); err != nil {
		if strings.Contains(err.Error(), "conflict") {
			return "", MergeConflict(err)
		}

		return "", cerrors.Operational("git_commit", "commit failed", err)
	}

	hash, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", cerrors.Operational("git_commit", "failed to resolve new commit hash", err)
	}

	return strings.TrimSpace(hash), nil
}

// Unstage undoes a prior Stage for paths without touching the working
// tree, used when a commit attempt fails partway through so the index
// is left clean for the next caller (spec.md §5 "git:writer" lock
// discipline).
func (g *Gateway) Unstage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	args := append([]string{"reset", "--"}, paths...)
	if _, err := g.run(ctx, args...); err != nil {
		return cerrors.Operational("git_unstage", "failed to unstage paths", err)
	}

	return nil
}

// Revert creates a new commit that undoes hash, for saga compensation
// of an already-committed step (spec.md §4.6: "git revert of the
// commit"). Returns the revert commit's hash.
func (g *Gateway) Revert(ctx context.Context, hash string, identity Identity) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	args := []string{
		"-c", fmt.Sprintf("user.name=%s", identity.Name),
		"-c", fmt.Sprintf("user.email=%s", identity.Email),
		"revert", "--no-edit", hash,
	}

	if _, err := g.run(ctx, args...); err != nil {
		return "", cerrors.Operational("git_revert", "failed to revert commit "+hash, err)
	}

	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", cerrors.Operational("git_revert", "failed to resolve revert commit hash", err)
	}

	return strings.TrimSpace(out), nil
}

// Head returns the current HEAD commit hash.
func (g *Gateway) Head(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", cerrors.Operational("git_head", "failed to resolve HEAD", err)
	}

	return strings.TrimSpace(out), nil
}

// History returns the commit history touching path, most recent first.
func (g *Gateway) History(ctx context.Context, path string) ([]Revision, error) {
	const sep = "\x1f"
	format := strings.Join([]string{"%H", "%an", "%ae", "%s", "%cI"}, sep)

	args := []string{"log", "--follow", "--format=" + format, "--", path}

	out, err := g.run(ctx, args...)
	if err != nil {
		return nil, cerrors.Operational("git_history", "failed to read history", err)
	}

	var revisions []Revision

	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}

		fields := strings.Split(line, sep)
		if len(fields) != 5 {
			continue
		}

		ts, _ := time.Parse(time.RFC3339, fields[4])

		revisions = append(revisions, Revision{
			Hash:      fields[0],
			Author:    fields[1],
			Email:     fields[2],
			Message:   fields[3],
			Timestamp: ts,
		})
	}

	return revisions, nil
}

// Show returns path's content as it existed at rev.
func (g *Gateway) Show(ctx context.Context, rev, path string) (string, error) {
	out, err := g.run(ctx, "show", fmt.Sprintf("%s:%s", rev, path))
	if err != nil {
		return "", cerrors.NotFound("RecordRevision", fmt.Sprintf("%s@%s", path, rev))
	}

	return out, nil
}

// Diff returns a unified diff of path between rev1 and rev2.
func (g *Gateway) Diff(ctx context.Context, rev1, rev2, path string) (string, error) {
	out, err := g.run(ctx, "diff", rev1, rev2, "--", path)
	if err != nil {
		return "", cerrors.Operational("git_diff", "failed to diff revisions", err)
	}

	return out, nil
}

// IsDirty reports whether the working tree has unstaged or staged
// changes.
func (g *Gateway) IsDirty(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, cerrors.Operational("git_status", "failed to read status", err)
	}

	return strings.TrimSpace(out) != "", nil
}

func (g *Gateway) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		g.logger.Debugf("git %s failed: %s", strings.Join(args, " "), stderr.String())
		return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}
