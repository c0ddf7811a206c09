package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// ContainerRuntime runs commands inside already running tenant containers.
type ContainerRuntime interface {
	// WaitReady blocks until the container accepts commands or the readiness
	// timeout expires.
	WaitReady(ctx context.Context, name string) error
	// Exec runs req inside the container and waits for it to exit. A non-zero
	// exit status is reported in ExecResult, not as an error.
	Exec(ctx context.Context, name string, req ExecRequest) (ExecResult, error)
}

// ExecRequest is one command to run inside a container.
type ExecRequest struct {
	Cmd   []string
	Env   []string
	Stdin string
}

// ExecResult is the outcome of a finished command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output joins stdout and stderr the way operators expect to read them.
func (r ExecResult) Output() string {
	out := r.Stdout
	if r.Stderr != "" {
		if out != "" {
			out += "\n"
		}
		out += r.Stderr
	}
	return out
}

// ReadyOptions bounds WaitReady.
type ReadyOptions struct {
	Timeout  time.Duration
	Interval time.Duration
	// Probe is run inside the container once it is running. Empty skips it.
	Probe []string
}

// ContainerNotReadyError is returned when a container does not become ready
// before the readiness timeout.
type ContainerNotReadyError struct {
	Container string
	Reason    string
	Err       error
}

func (e *ContainerNotReadyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %s not ready: %s: %v", e.Container, e.Reason, e.Err)
	}
	return fmt.Sprintf("container %s not ready: %s", e.Container, e.Reason)
}

func (e *ContainerNotReadyError) Unwrap() error {
	return e.Err
}
