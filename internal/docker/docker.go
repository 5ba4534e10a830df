// Package docker drives the docker CLI.
package docker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zpdzap/codelive/internal/shell"
)

// ErrNoContainer is returned by Inspect when the container does not exist.
var ErrNoContainer = errors.New("no such container")

// Client runs docker commands through a shell.Runner.
type Client struct {
	runner shell.Runner
}

// New returns a Client. A nil runner uses the host shell.
func New(runner shell.Runner) *Client {
	if runner == nil {
		runner = shell.Exec{}
	}
	return &Client{runner: runner}
}

func (c *Client) docker(ctx context.Context, args ...string) (string, error) {
	return c.runner.Run(ctx, shell.New("docker", args...))
}

// Build builds the image tag from the Dockerfile in dir.
func (c *Client) Build(ctx context.Context, dir, tag string) error {
	if _, err := c.runner.Run(ctx, shell.New("docker", "build", "-q", "-t", tag, ".").In(dir)); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}
	return nil
}

// RunSpec describes a detached container.
type RunSpec struct {
	Name   string
	Image  string
	Ports  []int // container ports published on random host ports
	Env    map[string]string
	CPUs   string
	Memory string // Kubernetes style ("1Gi") or docker style ("1g")
	Labels map[string]string
}

// Args returns the docker run arguments for s.
func (s RunSpec) Args() ([]string, error) {
	args := []string{"run", "-d", "--name", s.Name}
	for _, p := range s.Ports {
		args = append(args, "-p", fmt.Sprintf("0:%d", p))
	}
	if s.CPUs != "" {
		args = append(args, "--cpus", s.CPUs)
	}
	if s.Memory != "" {
		mem, err := MemoryLimit(s.Memory)
		if err != nil {
			return nil, err
		}
		args = append(args, "--memory", mem)
	}
	for _, k := range sortedKeys(s.Labels) {
		args = append(args, "--label", k+"="+s.Labels[k])
	}
	for _, k := range sortedKeys(s.Env) {
		args = append(args, "-e", k+"="+s.Env[k])
	}
	return append(args, s.Image), nil
}

// Run starts a detached container and returns its short id.
func (c *Client) Run(ctx context.Context, spec RunSpec) (string, error) {
	args, err := spec.Args()
	if err != nil {
		return "", err
	}
	out, err := c.docker(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("docker run failed: %w", err)
	}
	id := strings.TrimSpace(out)
	if i := strings.LastIndex(id, "\n"); i >= 0 {
		id = id[i+1:] // pull progress may precede the id
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id, nil
}

// Stop stops a container.
func (c *Client) Stop(ctx context.Context, name string) error {
	if _, err := c.docker(ctx, "stop", name); err != nil {
		return fmt.Errorf("docker stop failed: %w", err)
	}
	return nil
}

// Remove force-removes a container.
func (c *Client) Remove(ctx context.Context, name string) error {
	if _, err := c.docker(ctx, "rm", "-f", name); err != nil {
		return fmt.Errorf("docker rm failed: %w", err)
	}
	return nil
}

// RemoveImage deletes an image.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	if _, err := c.docker(ctx, "rmi", "-f", tag); err != nil {
		return fmt.Errorf("docker rmi failed: %w", err)
	}
	return nil
}

// Inspect returns the container state (running, exited, ...).
func (c *Client) Inspect(ctx context.Context, name string) (string, error) {
	out, err := c.docker(ctx, "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		if strings.Contains(strings.ToLower(out), "no such") {
			return "", ErrNoContainer
		}
		return "", fmt.Errorf("docker inspect failed: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Ports returns container port → host port for a running container.
func (c *Client) Ports(ctx context.Context, name string) (map[string]string, error) {
	out, err := c.docker(ctx, "port", name)
	if err != nil {
		return nil, fmt.Errorf("docker port failed: %w", err)
	}
	return ParsePorts(out), nil
}

// ParsePorts parses `docker port` output such as "5173/tcp -> 0.0.0.0:49321".
// IPv6 bindings of the same port are ignored once an IPv4 one is seen.
func ParsePorts(out string) map[string]string {
	ports := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, " -> ", 2)
		if len(parts) != 2 {
			continue
		}
		containerPort := strings.SplitN(strings.TrimSpace(parts[0]), "/", 2)[0]
		hostAddr := strings.TrimSpace(parts[1])
		i := strings.LastIndex(hostAddr, ":")
		if i < 0 {
			continue
		}
		if _, seen := ports[containerPort]; !seen {
			ports[containerPort] = hostAddr[i+1:]
		}
	}
	return ports
}

var memPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)([A-Za-z]*)$`)

// MemoryLimit converts a Kubernetes style quantity to a docker --memory
// value: "1Gi" → "1g", "512Mi" → "512m".
func MemoryLimit(q string) (string, error) {
	m := memPattern.FindStringSubmatch(strings.TrimSpace(q))
	if m == nil {
		return "", fmt.Errorf("invalid memory quantity %q", q)
	}
	num, unit := m[1], m[2]
	suffix := map[string]string{
		"": "b", "b": "b",
		"Ki": "k", "K": "k", "k": "k",
		"Mi": "m", "M": "m", "m": "m",
		"Gi": "g", "G": "g", "g": "g",
	}[unit]
	if suffix == "" {
		return "", fmt.Errorf("invalid memory unit %q", unit)
	}
	if strings.Contains(num, ".") {
		// docker wants integers; scale fractional values down a unit
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return "", err
		}
		lower := map[string]string{"g": "m", "m": "k", "k": "b"}[suffix]
		if lower == "" {
			return "", fmt.Errorf("invalid memory quantity %q", q)
		}
		return strconv.Itoa(int(f*1024)) + lower, nil
	}
	return num + suffix, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
