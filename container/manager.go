package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

const (
	LabelAgent     = "agentfleet.agent"
	LabelRunID     = "agentfleet.run-id"
	LabelManagedBy = "agentfleet.managed-by"
	managedBy      = "agentfleet"

	DefaultImage   = "node:20-slim"
	DefaultWorkDir = "/app"
)

// createDockerClient creates a Docker client, trying multiple socket locations
// for compatibility with Docker Desktop on macOS.
func createDockerClient() (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                               // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = cli.Ping(ctx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, ErrDockerUnavailable
}

// ensureImage pulls an image if not present locally.
func ensureImage(ctx context.Context, cli *client.Client, imageName string) error {
	_, _, err := cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Consume the reader to complete the pull
	_, err = io.Copy(io.Discard, reader)
	return err
}

// listAgentContainers returns the IDs of every container the fleet created,
// running or not.
func listAgentContainers(ctx context.Context, cli *client.Client) ([]string, error) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManagedBy+"="+managedBy),
		),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// removeContainer force-removes a container, ignoring ones already gone.
func removeContainer(ctx context.Context, cli *client.Client, id string) error {
	err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
