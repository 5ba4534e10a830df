// Package sandbox runs apps in Docker containers with a time to live.
// Unlike previews, sandboxes are persisted and survive a server restart.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/docker"
	"github.com/zpdzap/codelive/internal/metrics"
)

// ErrNotFound is returned for unknown sandbox ids.
var ErrNotFound = errors.New("sandbox not found")

// Docker is the subset of the docker client the manager uses.
type Docker interface {
	Build(ctx context.Context, dir, tag string) error
	Run(ctx context.Context, spec docker.RunSpec) (string, error)
	Stop(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	RemoveImage(ctx context.Context, tag string) error
	Inspect(ctx context.Context, name string) (string, error)
	Ports(ctx context.Context, name string) (map[string]string, error)
}

// Source copies an app's files into a directory.
type Source interface {
	CopyTo(appID, dst string) error
}

// Options configure new sandboxes.
type Options struct {
	WorkDir   string
	BaseImage string
	Port      int
	TTL       time.Duration
	Resources Resources
	Host      string
}

// Config is what a caller asks for when creating a sandbox.
type Config struct {
	Port      int // container port the dev server listens on; 0 uses Options.Port
	TTL       time.Duration
	Resources Resources
	Env       map[string]string
}

// Manager handles container lifecycle and persistent state.
type Manager struct {
	mu        sync.Mutex
	statePath string
	opts      Options
	source    Source
	docker    Docker
	log       logrus.FieldLogger
	state     *State
	timers    map[string]*time.Timer
	now       func() time.Time
}

// NewManager loads state from statePath. A corrupt state file is logged
// and replaced with an empty one.
func NewManager(statePath string, source Source, d Docker, opts Options, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.BaseImage == "" {
		opts.BaseImage = "node:20-alpine"
	}
	if opts.Port == 0 {
		opts.Port = 5173
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	state, err := loadState(statePath)
	if err != nil {
		log.WithError(err).Warn("ignoring unreadable sandbox state")
		state = newState()
	}
	return &Manager{
		statePath: statePath,
		opts:      opts,
		source:    source,
		docker:    d,
		log:       log,
		state:     state,
		timers:    make(map[string]*time.Timer),
		now:       time.Now,
	}
}

// Create builds an image from the app and starts it. The call blocks for
// the duration of the docker build.
func (m *Manager) Create(ctx context.Context, appID string, cfg Config) (Sandbox, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return Sandbox{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Port == 0 {
		cfg.Port = m.opts.Port
	}
	if cfg.TTL <= 0 {
		cfg.TTL = m.opts.TTL
	}
	if cfg.Resources.CPU == "" {
		cfg.Resources.CPU = m.opts.Resources.CPU
	}
	if cfg.Resources.Memory == "" {
		cfg.Resources.Memory = m.opts.Resources.Memory
	}
	if _, err := docker.MemoryLimit(cfg.Resources.Memory); cfg.Resources.Memory != "" && err != nil {
		return Sandbox{}, err
	}

	id := uuid.NewString()
	short := id[:8]
	now := m.now()
	sb := &Sandbox{
		ID:        id,
		AppID:     appID,
		Container: "codelive-" + short,
		Image:     "codelive-sandbox-" + short,
		Status:    StatusCreating,
		Port:      cfg.Port,
		Resources: cfg.Resources,
		CreatedAt: now,
		ExpiresAt: now.Add(cfg.TTL),
	}

	m.mu.Lock()
	m.state.Sandboxes[id] = sb
	m.armLocked(id, cfg.TTL)
	m.persistLocked()
	m.mu.Unlock()
	metrics.SandboxStarted()

	log := m.log.WithFields(logrus.Fields{"app_id": appID, "sandbox_id": id})
	log.Info("creating sandbox")

	if err := m.launch(ctx, sb, cfg); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted mid-launch. Release what was started after Delete's cleanup ran.
			log.Info("sandbox deleted while starting")
			m.cleanup(ctx, sb)
			return Sandbox{}, err
		}
		log.WithError(err).Warn("sandbox failed to start")
		m.mu.Lock()
		sb.Status = StatusError
		sb.Error = err.Error()
		m.persistLocked()
		out := *sb
		m.mu.Unlock()
		m.cleanup(ctx, sb)
		return out, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return *sb, nil
}

func (m *Manager) launch(ctx context.Context, sb *Sandbox, cfg Config) error {
	if err := os.MkdirAll(m.opts.WorkDir, 0o755); err != nil {
		return fmt.Errorf("creating work dir: %w", err)
	}
	dir, err := os.MkdirTemp(m.opts.WorkDir, "sandbox-")
	if err != nil {
		return fmt.Errorf("creating build dir: %w", err)
	}
	m.mu.Lock()
	sb.BuildDir = dir
	m.mu.Unlock()

	if err := m.source.CopyTo(sb.AppID, dir); err != nil {
		return fmt.Errorf("copying app: %w", err)
	}
	dockerfile := docker.NodeDockerfile(m.opts.BaseImage, sb.Port, nil,
		[]string{"npm", "run", "dev", "--", "--host", "0.0.0.0", "--port", fmt.Sprint(sb.Port)})
	if err := docker.WriteBuildContext(dir, dockerfile); err != nil {
		return err
	}

	if err := m.docker.Build(ctx, dir, sb.Image); err != nil {
		return err
	}
	if m.isRemoved(sb) {
		return ErrNotFound
	}

	env := map[string]string{"PORT": fmt.Sprint(sb.Port)}
	for k, v := range cfg.Env {
		env[k] = v
	}
	containerID, err := m.docker.Run(ctx, docker.RunSpec{
		Name:   sb.Container,
		Image:  sb.Image,
		Ports:  []int{sb.Port},
		Env:    env,
		CPUs:   sb.Resources.CPU,
		Memory: sb.Resources.Memory,
		Labels: map[string]string{"codelive.app": sb.AppID, "codelive.sandbox": sb.ID},
	})
	if err != nil {
		return err
	}
	if m.isRemoved(sb) {
		return ErrNotFound
	}

	status, err := m.docker.Inspect(ctx, sb.Container)
	if err != nil {
		return err
	}
	ports, _ := m.docker.Ports(ctx, sb.Container)

	m.mu.Lock()
	defer m.mu.Unlock()
	if sb.removed {
		return ErrNotFound
	}
	sb.ContainerID = containerID
	sb.Status = dockerToStatus(status)
	m.applyPortsLocked(sb, ports)
	m.persistLocked()
	if sb.Status != StatusReady {
		return fmt.Errorf("container is %s", status)
	}
	return nil
}

func (m *Manager) isRemoved(sb *Sandbox) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sb.removed
}

// Get returns a copy of a sandbox.
func (m *Manager) Get(appID, id string) (Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.state.Sandboxes[id]
	if !ok || sb.AppID != appID {
		return Sandbox{}, ErrNotFound
	}
	return *sb, nil
}

// List returns the app's sandboxes sorted by creation time. An empty appID
// lists every sandbox.
func (m *Manager) List(appID string) []Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Sandbox, 0, len(m.state.Sandboxes))
	for _, sb := range m.state.Sandboxes {
		if appID == "" || sb.AppID == appID {
			result = append(result, *sb)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Delete stops and removes the container, its image and build dir. It
// reports whether the sandbox existed.
func (m *Manager) Delete(ctx context.Context, appID, id string) bool {
	sb, ok := m.remove(appID, id)
	if !ok {
		return false
	}
	m.cleanup(ctx, sb)
	metrics.SandboxEnded("deleted")
	m.log.WithFields(logrus.Fields{"app_id": appID, "sandbox_id": id}).Info("deleted sandbox")
	return true
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	sb, ok := m.state.Sandboxes[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if _, ok := m.remove(sb.AppID, id); !ok {
		return
	}
	m.cleanup(context.Background(), sb)
	metrics.SandboxEnded("expired")
	m.log.WithFields(logrus.Fields{"app_id": sb.AppID, "sandbox_id": id}).Info("sandbox expired")
}

func (m *Manager) remove(appID, id string) (*Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.state.Sandboxes[id]
	if !ok || sb.AppID != appID {
		return nil, false
	}
	delete(m.state.Sandboxes, id)
	sb.removed = true
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
	m.persistLocked()
	return sb, true
}

// cleanup releases docker resources and the build dir. Slow docker calls
// run without the lock; failures are logged since the record is gone.
func (m *Manager) cleanup(ctx context.Context, sb *Sandbox) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()
	log := m.log.WithField("sandbox_id", sb.ID)

	m.mu.Lock()
	container, image, dir := sb.Container, sb.Image, sb.BuildDir
	m.mu.Unlock()

	if _, err := m.docker.Inspect(ctx, container); err == nil {
		if err := m.docker.Stop(ctx, container); err != nil {
			log.WithError(err).Debug("stop")
		}
		if err := m.docker.Remove(ctx, container); err != nil {
			log.WithError(err).Warn("removing container")
		}
	}
	if err := m.docker.RemoveImage(ctx, image); err != nil {
		log.WithError(err).Debug("removing image")
	}
	if dir != "" {
		os.RemoveAll(dir)
	}
}

// Reconcile syncs state with the containers docker actually has: records
// whose container is gone are dropped, statuses and ports are refreshed,
// and expiry timers are re-armed. Sandboxes already past their expiry are
// deleted.
func (m *Manager) Reconcile(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.state.Sandboxes))
	for id := range m.state.Sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	now := m.now()
	var expired []*Sandbox
	for _, id := range ids {
		m.mu.Lock()
		sb, ok := m.state.Sandboxes[id]
		var container string
		if ok {
			container = sb.Container
		}
		m.mu.Unlock()
		if !ok {
			continue
		}

		status, err := m.docker.Inspect(ctx, container)
		if errors.Is(err, docker.ErrNoContainer) {
			m.mu.Lock()
			delete(m.state.Sandboxes, id)
			m.mu.Unlock()
			if sb.BuildDir != "" {
				os.RemoveAll(sb.BuildDir)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("reconciling %s: %w", id, err)
		}

		var ports map[string]string
		newStatus := dockerToStatus(status)
		if newStatus == StatusReady {
			ports, _ = m.docker.Ports(ctx, container)
		}

		m.mu.Lock()
		sb.Status = newStatus
		if ports != nil {
			m.applyPortsLocked(sb, ports)
		}
		if sb.expired(now) {
			expired = append(expired, sb)
		} else {
			m.armLocked(id, sb.ExpiresAt.Sub(now))
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.persistLocked()
	metrics.SetSandboxes(len(m.state.Sandboxes) - len(expired))
	m.mu.Unlock()

	for _, sb := range expired {
		if _, ok := m.remove(sb.AppID, sb.ID); ok {
			m.cleanup(ctx, sb)
			m.log.WithField("sandbox_id", sb.ID).Info("sandbox expired while server was down")
		}
	}
	return nil
}

// Close stops expiry timers. Containers keep running and are picked up by
// Reconcile on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) armLocked(id string, ttl time.Duration) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
	}
	m.timers[id] = time.AfterFunc(ttl, func() { m.expire(id) })
}

func (m *Manager) applyPortsLocked(sb *Sandbox, ports map[string]string) {
	if hp, ok := ports[fmt.Sprint(sb.Port)]; ok {
		sb.HostPort = hp
		sb.URL = fmt.Sprintf("http://%s:%s", m.opts.Host, hp)
	}
}

func (m *Manager) persistLocked() {
	if err := saveState(m.statePath, m.state); err != nil {
		m.log.WithError(err).Warn("failed to save sandbox state")
	}
}

func dockerToStatus(dockerStatus string) Status {
	switch dockerStatus {
	case "running":
		return StatusReady
	case "exited", "dead":
		return StatusStopped
	case "created", "restarting":
		return StatusCreating
	default:
		return StatusError
	}
}
