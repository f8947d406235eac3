// Package tools wraps the external programs and image operations the
// pipeline depends on: page rasterization, cropping and appending.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const maxErrorOutput = 512

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args, failing with ExternalToolError on a non-zero exit.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	slog.Debug("exec", slog.String("tool", name), slog.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return out.Bytes(), &ExternalToolError{
			Tool:     name,
			Args:     args,
			ExitCode: exitCode,
			Output:   tail(out.String(), maxErrorOutput),
			Err:      err,
		}
	}
	return out.Bytes(), nil
}

// ExternalToolError reports a failed external tool invocation.
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit code %d", e.Tool, strings.Join(e.Args, " "), e.ExitCode)
	if e.Output != "" {
		msg += ": " + strings.TrimSpace(e.Output)
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
