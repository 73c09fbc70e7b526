package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// GitRunner runs one git invocation.
type GitRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// Repository runs git against a fixed working tree via "git -C <dir>".
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting dir.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Run executes git with args and returns combined output; git reports
// progress on stderr.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", r.dir}, args...)
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s in %s: %w (output: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(out.String()))
	}
	return out.String(), nil
}

// Step is the outcome of one git command in an update.
type Step struct {
	Args   []string
	Output string
	Err    error
}

// Updater hard-resets the bot's checkout to the remote branch.
type Updater struct {
	Git    GitRunner
	Remote string
	Branch string
}

// Steps is the command sequence Update runs.
func (u *Updater) Steps() [][]string {
	remote, branch := u.Remote, u.Branch
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = "main"
	}
	return [][]string{
		{"fetch", "--all"},
		{"reset", "--hard", remote + "/" + branch},
		{"pull"},
	}
}

// Update runs every step even when an earlier one fails and joins the errors.
func (u *Updater) Update(ctx context.Context) ([]Step, error) {
	var steps []Step
	var errs []error
	for _, args := range u.Steps() {
		out, err := u.Git.Run(ctx, args...)
		steps = append(steps, Step{Args: args, Output: out, Err: err})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return steps, errors.Join(errs...)
}
