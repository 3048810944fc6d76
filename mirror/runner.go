package mirror

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

// Result describes a finished command.
type Result struct {
	// ExitCode is -1 if the process never started or was killed by a signal.
	ExitCode int
	Duration time.Duration
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, argv []string) (*Result, error)
}

// ExecRunner runs commands as child processes. Output goes to Stdout and
// Stderr, which default to the console.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns an ExecRunner attached to the console.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts argv[0] with the remaining arguments and waits for it to exit.
// The process is killed if ctx is done first.
func (r *ExecRunner) Run(ctx context.Context, argv []string) (*Result, error) {
	if len(argv) == 0 {
		return &Result{ExitCode: -1}, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr

	start := time.Now()
	err := cmd.Run()
	result := &Result{Duration: time.Since(start)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		return result, errors.Wrapf(err, "run %s", argv[0])
	}
	return result, nil
}
