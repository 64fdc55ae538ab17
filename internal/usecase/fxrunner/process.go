package fxrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// Process is a started server process. The Runner is its only owner.
type Process interface {
	PID() int
	Stdin() io.Writer
	// Terminate asks the process to exit.
	Terminate() error
	// Wait blocks until the process exits and returns its exit code
	// (-1 when killed by a signal). err is set only for non-exit failures.
	Wait() (code int, err error)
}

// Starter launches processes. stdout and stderr receive the child's output.
type Starter interface {
	Start(ctx context.Context, spec LaunchSpec, stdout, stderr io.Writer) (Process, error)
}

// ExecStarter starts real OS processes with os/exec.
type ExecStarter struct {
	// WaitDelay bounds how long Wait keeps copying output after the process
	// exits, for grandchildren that inherited the pipes.
	WaitDelay time.Duration
}

// Start launches spec. The process is not bound to ctx: it outlives the request
// that spawned it and is stopped only through Terminate.
func (s ExecStarter) Start(_ context.Context, spec LaunchSpec, stdout, stderr io.Writer) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.WaitDelay
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	return &execProcess{cmd: cmd, stdin: stdin}, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Stdin() io.Writer { return p.stdin }

func (p *execProcess) Terminate() error {
	err := terminate(p.cmd.Process)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	p.stdin.Close()

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return code, nil
	}
	return code, err
}
