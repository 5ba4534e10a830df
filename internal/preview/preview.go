// Package preview runs an app's dev server in a scratch directory and
// tracks it until it is deleted or its time to live runs out.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/metrics"
	"github.com/zpdzap/codelive/internal/shell"
)

type Status string

const (
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusError    Status = "error"
	StatusExpired  Status = "expired"
)

const (
	DefaultCPU         = "1"
	DefaultMemory      = "1Gi"
	DefaultReadyMarker = "Local:"
	DefaultTTL         = 30 * time.Minute

	maxLogLines = 500
	subBuffer   = 128
)

// ErrNotFound is returned for ids the manager does not know about.
var ErrNotFound = errors.New("preview not found")

// Resources are the limits requested for a preview. They are recorded and
// echoed back; the host process is not constrained by them.
type Resources struct {
	CPU    string `json:"cpu"`
	Memory string `json:"memory"`
}

// Config is what a caller asks for when creating a preview.
type Config struct {
	Port      int
	TTL       time.Duration
	Resources Resources
	Env       map[string]string
}

// Preview is a snapshot of a running (or failed) preview.
type Preview struct {
	ID        string    `json:"id"`
	AppID     string    `json:"appId"`
	Status    Status    `json:"status"`
	Port      int       `json:"port"`
	URL       string    `json:"url"`
	Resources Resources `json:"resources"`
	Error     string    `json:"error,omitempty"`
	Logs      []string  `json:"logs"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Dir       string    `json:"-"`
}

// Source copies an app's files into a directory.
type Source interface {
	CopyTo(appID, dst string) error
}

// Options configure a Manager. Zero values fall back to defaults; an empty
// RunCommand means the command is detected from the app's files.
type Options struct {
	WorkDir        string
	InstallCommand []string
	RunCommand     []string
	ReadyMarker    string
	TTL            time.Duration
	Resources      Resources
	Host           string
	StopGrace      time.Duration
}

type instance struct {
	info    Preview
	cmd     *exec.Cmd
	done    chan struct{}
	timer   *time.Timer
	subs    map[chan string]struct{}
	removed bool
}

// Manager owns every preview started by this process.
type Manager struct {
	opts   Options
	source Source
	runner shell.Runner
	log    logrus.FieldLogger
	now    func() time.Time

	mu       sync.Mutex
	previews map[string]*instance
}

// NewManager returns a Manager that copies apps from source. runner is
// used for the install step; nil uses the host shell.
func NewManager(source Source, runner shell.Runner, opts Options, log logrus.FieldLogger) *Manager {
	if runner == nil {
		runner = shell.Exec{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	return &Manager{
		opts:     opts,
		source:   source,
		runner:   runner,
		log:      log,
		now:      time.Now,
		previews: make(map[string]*instance),
	}
}

func (m *Manager) withDefaults(cfg Config) Config {
	if cfg.TTL <= 0 {
		cfg.TTL = m.opts.TTL
	}
	if cfg.Resources.CPU == "" {
		cfg.Resources.CPU = m.opts.Resources.CPU
	}
	if cfg.Resources.CPU == "" {
		cfg.Resources.CPU = DefaultCPU
	}
	if cfg.Resources.Memory == "" {
		cfg.Resources.Memory = m.opts.Resources.Memory
	}
	if cfg.Resources.Memory == "" {
		cfg.Resources.Memory = DefaultMemory
	}
	return cfg
}

// Create copies the app into a fresh directory, installs dependencies and
// starts the dev server. It returns once the server process is running;
// the status flips to ready when the server prints its ready marker.
//
// A failure keeps the preview in the registry with StatusError so callers
// can read the error and logs. The returned Preview is valid in both cases.
func (m *Manager) Create(ctx context.Context, appID string, cfg Config) (Preview, error) {
	cfg = m.withDefaults(cfg)
	if cfg.Port == 0 {
		port, err := freePort()
		if err != nil {
			return Preview{}, fmt.Errorf("picking a port: %w", err)
		}
		cfg.Port = port
	}

	if err := os.MkdirAll(m.opts.WorkDir, 0o755); err != nil {
		return Preview{}, fmt.Errorf("creating work dir: %w", err)
	}
	dir, err := os.MkdirTemp(m.opts.WorkDir, "preview-")
	if err != nil {
		return Preview{}, fmt.Errorf("creating preview dir: %w", err)
	}

	now := m.now()
	id := uuid.NewString()
	inst := &instance{
		info: Preview{
			ID:        id,
			AppID:     appID,
			Status:    StatusCreating,
			Port:      cfg.Port,
			URL:       fmt.Sprintf("http://%s:%d", m.opts.Host, cfg.Port),
			Resources: cfg.Resources,
			Logs:      []string{},
			CreatedAt: now,
			ExpiresAt: now.Add(cfg.TTL),
			Dir:       dir,
		},
		done: make(chan struct{}),
		subs: make(map[chan string]struct{}),
	}

	m.mu.Lock()
	m.previews[id] = inst
	inst.timer = time.AfterFunc(cfg.TTL, func() { m.expire(id) })
	m.mu.Unlock()
	metrics.PreviewStarted()

	log := m.log.WithFields(logrus.Fields{"app_id": appID, "preview_id": id, "port": cfg.Port})
	log.Info("creating preview")

	if err := m.start(ctx, inst, cfg, log); err != nil {
		m.fail(inst, err)
		log.WithError(err).Warn("preview failed to start")
		return m.snapshot(inst), err
	}
	return m.snapshot(inst), nil
}

// Get returns a copy of the preview.
func (m *Manager) Get(appID, id string) (Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.lookup(appID, id)
	if !ok {
		return Preview{}, ErrNotFound
	}
	return snapshotLocked(inst), nil
}

// List returns the app's previews, oldest first.
func (m *Manager) List(appID string) []Preview {
	m.mu.Lock()
	out := []Preview{}
	for _, inst := range m.previews {
		if inst.info.AppID == appID {
			out = append(out, snapshotLocked(inst))
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Logs returns the buffered output lines of a preview.
func (m *Manager) Logs(appID, id string) ([]string, error) {
	p, err := m.Get(appID, id)
	if err != nil {
		return nil, err
	}
	return p.Logs, nil
}

// Subscribe streams new output lines. The channel is closed when the
// preview goes away; cancel stops the subscription early.
func (m *Manager) Subscribe(appID, id string) (<-chan string, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.lookup(appID, id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch := make(chan string, subBuffer)
	inst.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := inst.subs[ch]; ok {
				delete(inst.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

// Delete stops the preview and removes its directory. It reports whether
// the preview existed.
func (m *Manager) Delete(appID, id string) bool {
	inst, ok := m.remove(appID, id, "")
	if !ok {
		return false
	}
	m.teardown(inst)
	metrics.PreviewEnded("deleted")
	m.log.WithFields(logrus.Fields{"app_id": appID, "preview_id": id}).Info("deleted preview")
	return true
}

// Shutdown deletes every preview. Used when the server stops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*instance, 0, len(m.previews))
	for _, inst := range m.previews {
		all = append(all, inst)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range all {
		if _, ok := m.remove(inst.info.AppID, inst.info.ID, ""); !ok {
			continue
		}
		wg.Add(1)
		go func(inst *instance) {
			defer wg.Done()
			m.teardown(inst)
			metrics.PreviewEnded("shutdown")
		}(inst)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	inst, ok := m.previews[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	if _, ok := m.remove(inst.info.AppID, id, StatusExpired); !ok {
		return
	}
	m.teardown(inst)
	metrics.PreviewEnded("expired")
	m.log.WithFields(logrus.Fields{"app_id": inst.info.AppID, "preview_id": id}).Info("preview expired")
}

// remove takes the preview out of the registry, cancels its timer and
// closes subscribers. status, when set, is recorded as the final status.
func (m *Manager) remove(appID, id string, status Status) (*instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.lookup(appID, id)
	if !ok {
		return nil, false
	}
	delete(m.previews, id)
	inst.removed = true
	if inst.timer != nil {
		inst.timer.Stop()
	}
	if status != "" {
		inst.info.Status = status
		for ch := range inst.subs {
			select {
			case ch <- fmt.Sprintf("preview %s", status):
			default:
			}
		}
	}
	for ch := range inst.subs {
		close(ch)
	}
	inst.subs = map[chan string]struct{}{}
	return inst, true
}

func (m *Manager) lookup(appID, id string) (*instance, bool) {
	inst, ok := m.previews[id]
	if !ok || inst.info.AppID != appID {
		return nil, false
	}
	return inst, true
}

// fail records err on a preview that could not start and releases what it
// holds. The entry stays registered until deleted or expired.
func (m *Manager) fail(inst *instance, err error) {
	m.mu.Lock()
	if !inst.removed {
		inst.info.Status = StatusError
		inst.info.Error = err.Error()
	}
	m.mu.Unlock()
	m.stopProcess(inst)
	os.RemoveAll(inst.info.Dir)
}

func (m *Manager) teardown(inst *instance) {
	m.stopProcess(inst)
	if err := os.RemoveAll(inst.info.Dir); err != nil {
		m.log.WithError(err).WithField("preview_id", inst.info.ID).Warn("removing preview dir")
	}
}

func (m *Manager) snapshot(inst *instance) Preview {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshotLocked(inst)
}

func snapshotLocked(inst *instance) Preview {
	p := inst.info
	p.Logs = append([]string(nil), inst.info.Logs...)
	return p
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
