package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Runner executes an invocation synchronously and reports its exit status.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (int, error)
}

// ExecRunner launches the engine as a child process. When LogPath is set on the
// invocation, combined output goes there; otherwise it is inherited.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run returns 0 on success. A non-zero or signalled exit is returned as a
// *SimulationFailedError together with the code; any other error means the
// process could not be started at all.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (int, error) {
	cmd := exec.CommandContext(ctx, inv.Program, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Stdout, cmd.Stderr = r.Stdout, r.Stderr
	if inv.LogPath != "" {
		f, err := os.OpenFile(inv.LogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return 1, fmt.Errorf("open log: %w", err)
		}
		defer f.Close()
		cmd.Stdout, cmd.Stderr = f, f
	}

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, fmt.Errorf("start %s: %w", inv.Program, err)
	}
	fail := &SimulationFailedError{Code: exitErr.ExitCode()}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		fail.Signaled = true
		fail.Code = 128 + int(ws.Signal())
	}
	if fail.Code <= 0 {
		fail.Code = 1
	}
	return fail.Code, fail
}
