package gitexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/jmellberg/deployctl/internal/domain"
)

// Runner drives the git binary. Every operation takes the working root
// explicitly; the process working directory is never touched.
type Runner struct{}

func New() *Runner { return &Runner{} }

func (r *Runner) Clone(ctx context.Context, repoURL, branch, dir string) error {
	return r.run(ctx, "", "clone", "--branch", branch, "--single-branch", repoURL, dir)
}

func (r *Runner) CreateBranch(ctx context.Context, dir, name string) error {
	return r.run(ctx, dir, "checkout", "-b", name)
}

func (r *Runner) Apply(ctx context.Context, dir, patchPath string, tolerant bool) error {
	args := []string{"apply", "--whitespace=nowarn"}
	if tolerant {
		args = append(args, "--reject")
	}
	args = append(args, patchPath)
	err := r.run(ctx, dir, args...)
	if err == nil || !tolerant {
		return err
	}

	// git apply --reject exits non-zero whenever any hunk lands in a .rej
	// sidecar, even though the remaining hunks were applied. A tolerant apply
	// only counts as failed when it left the tree untouched.
	dirty, derr := r.treeDirty(ctx, dir)
	if derr != nil || !dirty {
		return err
	}
	return nil
}

func (r *Runner) treeDirty(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func (r *Runner) AddAll(ctx context.Context, dir string) error {
	return r.run(ctx, dir, "add", "--all")
}

func (r *Runner) HasStagedChanges(ctx context.Context, dir string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "diff", "--cached", "--quiet")
	cmd.Dir = dir
	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("git diff --cached: %w", err)
}

func (r *Runner) Commit(ctx context.Context, dir, message string, author domain.Actor) error {
	return r.run(ctx, dir,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit",
		"--author", fmt.Sprintf("%s <%s>", author.Name, author.Email),
		"-m", message,
	)
}

func (r *Runner) Push(ctx context.Context, dir, branch string) error {
	return r.run(ctx, dir, "push", "origin", branch)
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if detail != "" {
			return fmt.Errorf("git %s: %w: %s", args[0], err, detail)
		}
		return fmt.Errorf("git %s: %w", args[0], err)
	}
	return nil
}
