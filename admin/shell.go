package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
)

// Backend selects how a shell command is executed.
type Backend string

const (
	// BackendSubprocess runs the tokenized argv directly.
	BackendSubprocess Backend = "subprocess"
	// BackendOS hands the raw line to sh -c.
	BackendOS Backend = "os"
)

// NoOutput is reported when a command writes nothing to stdout.
const NoOutput = "終端未傳回回應。"

var (
	ErrEmptyCommand     = errors.New("empty command")
	ErrForbiddenCommand = errors.New("command not allowed")
)

// Shell runs owner-issued commands on the host.
type Shell struct {
	Dir     string
	Timeout time.Duration // 0 = bounded only by ctx
	// Exec builds the process; tests substitute it. Defaults to exec.CommandContext.
	Exec func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// Run executes line with the given backend and returns its stdout. A
// non-zero exit status is not an error; a command that cannot start is.
// A line whose first token is "cmd" is refused.
func (s *Shell) Run(ctx context.Context, line string, backend Backend) (string, error) {
	argv, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("parse command: %w", err)
	}
	if len(argv) == 0 {
		return "", ErrEmptyCommand
	}
	if argv[0] == "cmd" {
		return "", ErrForbiddenCommand
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	mk := s.Exec
	if mk == nil {
		mk = exec.CommandContext
	}
	var cmd *exec.Cmd
	switch backend {
	case BackendSubprocess, "":
		cmd = mk(ctx, argv[0], argv[1:]...)
	case BackendOS:
		cmd = mk(ctx, "sh", "-c", line)
	default:
		return "", fmt.Errorf("unknown backend %q", backend)
	}
	cmd.Dir = s.Dir
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err = cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", fmt.Errorf("run %s: %w", argv[0], err)
	}
	if ctx.Err() != nil {
		return stdout.String(), fmt.Errorf("run %s: %w", argv[0], ctx.Err())
	}
	return stdout.String(), nil
}

// Display returns out, or NoOutput when out is blank.
func Display(out string) string {
	if strings.TrimSpace(out) == "" {
		return NoOutput
	}
	return out
}
