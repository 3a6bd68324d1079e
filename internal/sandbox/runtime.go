package sandbox

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Runtime validates the container runtime before launching anything and
// reaps containers a crashed caller may have left behind. Both are infra
// concerns: their failures must never be attributed to candidate programs.
type Runtime struct {
	cli *client.Client
}

// NewRuntime connects to the Docker daemon using the standard environment
// configuration (DOCKER_HOST etc).
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, infraErr("connect", err)
	}
	return &Runtime{cli: cli}, nil
}

// Check verifies that the daemon is reachable and the given images exist
// locally. Any failure is an *InfraError.
func (r *Runtime) Check(ctx context.Context, images ...string) error {
	if _, err := r.cli.ContainerList(ctx, container.ListOptions{Limit: 1}); err != nil {
		return infraErr("daemon", err)
	}
	for _, image := range images {
		if _, _, err := r.cli.ImageInspectWithRaw(ctx, image); err != nil {
			if client.IsErrNotFound(err) {
				return infraErr("image "+image, err)
			}
			return infraErr("inspect image "+image, err)
		}
	}
	return nil
}

// ReapStale force-removes containers left over from previous runs. Normal
// teardown is `--rm` plus the in-container timeout wrapper; this covers the
// case where the supervising process itself was killed.
func (r *Runtime) ReapStale(ctx context.Context) (int, error) {
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return 0, infraErr("list containers", err)
	}

	removed := 0
	for _, c := range containers {
		if !hasCruciblePrefix(c.Names) {
			continue
		}
		if err := r.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			return removed, infraErr("remove container", err)
		}
		removed++
	}
	return removed, nil
}

// Close releases the client connection.
func (r *Runtime) Close() error {
	return r.cli.Close()
}

func hasCruciblePrefix(names []string) bool {
	for _, name := range names {
		if strings.HasPrefix(strings.TrimPrefix(name, "/"), "crucible-") {
			return true
		}
	}
	return false
}
