package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	defaultReadyTimeout  = 60 * time.Second
	defaultReadyInterval = 2 * time.Second
	execExitPollInterval = 100 * time.Millisecond
)

// dockerAPI is the subset of the Docker Engine client the runtime uses.
type dockerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// DockerRuntime implements ContainerRuntime using the Docker Engine API.
type DockerRuntime struct {
	cli   dockerAPI
	log   *slog.Logger
	ready ReadyOptions
}

// NewDockerRuntime creates a runtime from the DOCKER_* environment.
func NewDockerRuntime(ready ReadyOptions) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return newDockerRuntime(cli, ready), nil
}

func newDockerRuntime(cli dockerAPI, ready ReadyOptions) *DockerRuntime {
	if ready.Timeout <= 0 {
		ready.Timeout = defaultReadyTimeout
	}
	if ready.Interval <= 0 {
		ready.Interval = defaultReadyInterval
	}
	return &DockerRuntime{
		cli:   cli,
		log:   slog.Default().With("component", "orchestrator"),
		ready: ready,
	}
}

// Close releases the Docker client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// WaitReady polls the container until it is running, healthy when it has a
// healthcheck, and the probe command exits 0. Every inspect and probe runs
// under the readiness timeout, so a hung probe cannot outlive it.
func (r *DockerRuntime) WaitReady(ctx context.Context, name string) error {
	r.log.Info("waiting for container", "container", name, "timeout", r.ready.Timeout)
	waitCtx, cancel := context.WithTimeout(ctx, r.ready.Timeout)
	defer cancel()

	for {
		reason, err := r.checkReady(waitCtx, name)
		if reason == "" {
			r.log.Info("container ready", "container", name)
			return nil
		}
		if ctx.Err() != nil {
			return &ContainerNotReadyError{Container: name, Reason: "cancelled", Err: ctx.Err()}
		}
		if waitCtx.Err() != nil {
			return r.timedOut(name, reason, err)
		}
		r.log.Debug("container not ready yet", "container", name, "reason", reason)

		select {
		case <-ctx.Done():
			return &ContainerNotReadyError{Container: name, Reason: "cancelled", Err: ctx.Err()}
		case <-waitCtx.Done():
			return r.timedOut(name, reason, err)
		case <-time.After(r.ready.Interval):
		}
	}
}

// timedOut reports the last observed reason, unless the check itself was cut
// off by the deadline.
func (r *DockerRuntime) timedOut(name, reason string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timed out after " + r.ready.Timeout.String()
	}
	r.log.Warn("container not ready", "container", name, "reason", reason, "err", err)
	return &ContainerNotReadyError{Container: name, Reason: reason, Err: err}
}

// Exec runs req inside the named container and returns its exit status and
// output.
func (r *DockerRuntime) Exec(ctx context.Context, name string, req ExecRequest) (ExecResult, error) {
	execResp, err := r.cli.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          req.Cmd,
		Env:          req.Env,
		AttachStdin:  req.Stdin != "",
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return ExecResult{}, &ContainerNotReadyError{Container: name, Reason: "container not found", Err: err}
		}
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()
	// The hijacked stream ignores ctx once attached; close it to unblock reads.
	stop := context.AfterFunc(ctx, attachResp.Close)
	defer stop()

	stdinErr := make(chan error, 1)
	if req.Stdin != "" {
		go func() {
			_, werr := io.WriteString(attachResp.Conn, req.Stdin)
			if werr == nil {
				werr = attachResp.CloseWrite()
			}
			stdinErr <- werr
		}()
	} else {
		stdinErr <- nil
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ExecResult{}, ctxErr
		}
		return ExecResult{}, fmt.Errorf("exec read: %w", err)
	}
	if err := <-stdinErr; err != nil {
		return ExecResult{}, fmt.Errorf("exec write stdin: %w", err)
	}

	code, err := r.waitExit(ctx, execResp.ID)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// waitExit returns the exit code once the daemon reports the exec finished.
func (r *DockerRuntime) waitExit(ctx context.Context, execID string) (int, error) {
	for {
		inspect, err := r.cli.ContainerExecInspect(ctx, execID)
		if err != nil {
			return 0, fmt.Errorf("exec inspect: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(execExitPollInterval):
		}
	}
}
