package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	apperrors "github.com/lupppig/sqlbackup/internal/errors"
)

// Runner executes an external tool. Stdout goes to w; stderr is folded into the returned error.
type Runner interface {
	Run(ctx context.Context, name string, args []string, w io.Writer) error
}

type LocalRunner struct{}

func (r *LocalRunner) Run(ctx context.Context, name string, args []string, w io.Writer) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.TypeDependency,
			fmt.Sprintf("%s not found", name),
			fmt.Sprintf("Install %s or set its full path in the configuration.", name))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	if w == nil {
		w = io.Discard
	}
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg == "" {
				return fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
			}
			return fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}
