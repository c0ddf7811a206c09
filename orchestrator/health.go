package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// checkReady returns an empty reason when the container can take commands.
func (r *DockerRuntime) checkReady(ctx context.Context, name string) (string, error) {
	inspect, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return "container not found", err
		}
		return "inspect failed", err
	}
	if inspect.ContainerJSONBase == nil {
		return "no container state", nil
	}

	state := inspect.State
	if reason := notRunningReason(state); reason != "" {
		return reason, nil
	}
	if state.Health != nil && state.Health.Status != container.Healthy {
		return fmt.Sprintf("health status %s", state.Health.Status), nil
	}

	if len(r.ready.Probe) == 0 {
		return "", nil
	}
	res, err := r.Exec(ctx, name, ExecRequest{Cmd: r.ready.Probe})
	if err != nil {
		return "probe failed", err
	}
	if res.ExitCode != 0 {
		return fmt.Sprintf("probe exited %d", res.ExitCode), nil
	}
	return "", nil
}

// notRunningReason explains why a container in state cannot take exec
// commands yet. It is empty for a running container.
func notRunningReason(state *container.State) string {
	if state == nil {
		return "no container state"
	}
	switch status := strings.ToLower(strings.TrimSpace(string(state.Status))); status {
	case "running":
		return ""
	case "created":
		return "container has not started"
	case "exited":
		return fmt.Sprintf("container exited with code %d", state.ExitCode)
	case "":
		return "container status unknown"
	default:
		return "container is " + status
	}
}
