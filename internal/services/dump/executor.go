package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// DefaultExecutor is the default command executor using os/exec.
type DefaultExecutor struct{}

// RunStream runs the tool with stdout copied into out and stderr captured
// for diagnosis on failure.
func (e *DefaultExecutor) RunStream(ctx context.Context, env []string, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // tool and args are built from validated config
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("wiring %s stdout: %w", name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	if _, err := io.Copy(out, stdout); err != nil {
		_ = cmd.Wait()
		return fmt.Errorf("reading %s output: %w", name, err)
	}

	return wait(cmd, name, &stderr)
}

// Run runs the tool without consuming stdout, capturing stderr for
// diagnosis on failure.
func (e *DefaultExecutor) Run(ctx context.Context, env []string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // tool and args are built from validated config
	cmd.Env = append(os.Environ(), env...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", name, err)
	}

	return wait(cmd, name, &stderr)
}

func wait(cmd *exec.Cmd, name string, stderr *bytes.Buffer) error {
	err := cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ProducerError{
			Tool:     name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   excerpt(stderr.String()),
		}
	}
	return fmt.Errorf("waiting for %s: %w", name, err)
}

// excerpt keeps the tail of the diagnostic output; the most recent lines
// usually carry the actual failure.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrLimit {
		s = s[len(s)-stderrLimit:]
	}
	return s
}
