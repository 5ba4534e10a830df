package deploy

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/zpdzap/codelive/internal/docker"
)

// Docker is the subset of the docker client used for deployments.
type Docker interface {
	Build(ctx context.Context, dir, tag string) error
	Run(ctx context.Context, spec docker.RunSpec) (string, error)
	Remove(ctx context.Context, name string) error
	Ports(ctx context.Context, name string) (map[string]string, error)
}

// Container deploys the production build into a local container that
// runs until the next deployment of the same app replaces it.
type Container struct {
	Docker    Docker
	Source    Source
	WorkDir   string
	BaseImage string
	Port      int
	Host      string
}

func (c *Container) Name() string { return "docker" }

// Deploy builds an image and (re)starts the app's container.
func (c *Container) Deploy(ctx context.Context, appID string) (Result, error) {
	port := c.Port
	if port == 0 {
		port = 4173
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	base := c.BaseImage
	if base == "" {
		base = "node:20-alpine"
	}

	if err := os.MkdirAll(c.WorkDir, 0o755); err != nil {
		return Result{}, err
	}
	dir, err := os.MkdirTemp(c.WorkDir, "deploy-")
	if err != nil {
		return Result{}, fmt.Errorf("creating build dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := c.Source.CopyTo(appID, dir); err != nil {
		return Result{}, fmt.Errorf("copying app: %w", err)
	}
	dockerfile := docker.NodeDockerfile(base, port,
		[]string{"npm", "run", "build"},
		[]string{"npx", "vite", "preview", "--host", "0.0.0.0", "--port", strconv.Itoa(port)})
	if err := docker.WriteBuildContext(dir, dockerfile); err != nil {
		return Result{}, err
	}

	name := containerName(appID)
	if err := c.Docker.Build(ctx, dir, name); err != nil {
		return Result{}, err
	}
	// a previous deployment may still hold the name
	c.Docker.Remove(ctx, name)

	id, err := c.Docker.Run(ctx, docker.RunSpec{
		Name:   name,
		Image:  name,
		Ports:  []int{port},
		Env:    map[string]string{"PORT": strconv.Itoa(port), "NODE_ENV": "production"},
		Labels: map[string]string{"codelive.app": appID, "codelive.deployment": "true"},
	})
	if err != nil {
		return Result{}, err
	}
	ports, err := c.Docker.Ports(ctx, name)
	if err != nil {
		return Result{}, err
	}
	hostPort, ok := ports[strconv.Itoa(port)]
	if !ok {
		return Result{}, fmt.Errorf("container %s published no port for %d", name, port)
	}
	return Result{
		URL:    fmt.Sprintf("http://%s:%s", host, hostPort),
		Output: fmt.Sprintf("started container %s (%s)", name, id),
	}, nil
}

func containerName(appID string) string {
	id := appID
	if len(id) > 12 {
		id = id[:12]
	}
	return "codelive-app-" + id
}
