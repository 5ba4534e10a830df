package sandbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpdzap/codelive/internal/docker"
	"github.com/zpdzap/codelive/internal/logging"
)

type fakeSource struct{}

func (fakeSource) CopyTo(appID, dst string) error {
	return os.WriteFile(filepath.Join(dst, "package.json"), []byte(`{"name":"`+appID+`"}`), 0o644)
}

// fakeDocker keeps containers in memory.
type fakeDocker struct {
	mu         sync.Mutex
	containers map[string]string // name → state
	removed    []string
	images     []string
	runs       []docker.RunSpec
	buildErr   error
	// beforeBuild and beforeRun run outside the lock, before the call takes
	// effect, so tests can interleave a Delete.
	beforeBuild func()
	beforeRun   func()
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{containers: map[string]string{}}
}

func (f *fakeDocker) Build(_ context.Context, dir, tag string) error {
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err != nil {
		return err
	}
	if f.beforeBuild != nil {
		f.beforeBuild()
	}
	return f.buildErr
}

func (f *fakeDocker) Run(_ context.Context, spec docker.RunSpec) (string, error) {
	if f.beforeRun != nil {
		f.beforeRun()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, spec)
	f.containers[spec.Name] = "running"
	return "c0ffee", nil
}

func (f *fakeDocker) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = "exited"
	return nil
}

func (f *fakeDocker) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, name)
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeDocker) RemoveImage(_ context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = append(f.images, tag)
	return nil
}

func (f *fakeDocker) Inspect(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.containers[name]
	if !ok {
		return "", docker.ErrNoContainer
	}
	return s, nil
}

func (f *fakeDocker) Ports(_ context.Context, name string) (map[string]string, error) {
	return map[string]string{"5173": "49321"}, nil
}

func newTestManager(t *testing.T, d *fakeDocker, statePath string) *Manager {
	t.Helper()
	m := NewManager(statePath, fakeSource{}, d, Options{
		WorkDir:   t.TempDir(),
		Resources: Resources{CPU: "1", Memory: "1Gi"},
	}, logging.Discard())
	t.Cleanup(m.Close)
	return m
}

func TestCreateRunsContainer(t *testing.T) {
	d := newFakeDocker()
	statePath := filepath.Join(t.TempDir(), "sandboxes.json")
	m := newTestManager(t, d, statePath)

	sb, err := m.Create(context.Background(), "app-1", Config{Env: map[string]string{"API_KEY": "k"}})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, sb.Status)
	assert.Equal(t, "http://localhost:49321", sb.URL)
	assert.Equal(t, Resources{CPU: "1", Memory: "1Gi"}, sb.Resources)
	assert.Equal(t, "c0ffee", sb.ContainerID)

	require.Len(t, d.runs, 1)
	run := d.runs[0]
	assert.Equal(t, "1Gi", run.Memory)
	assert.Equal(t, "k", run.Env["API_KEY"])
	assert.Equal(t, "5173", run.Env["PORT"])

	data, err := os.ReadFile(filepath.Join(sb.BuildDir, "Dockerfile"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "FROM node:20-alpine"))

	loaded, err := loadState(statePath)
	require.NoError(t, err)
	assert.Contains(t, loaded.Sandboxes, sb.ID, "state persisted")
}

func TestCreateBuildFailure(t *testing.T) {
	d := newFakeDocker()
	d.buildErr = errors.New("docker build failed: boom")
	m := newTestManager(t, d, filepath.Join(t.TempDir(), "s.json"))

	sb, err := m.Create(context.Background(), "app-1", Config{})
	require.Error(t, err)
	assert.Equal(t, StatusError, sb.Status)
	assert.Contains(t, sb.Error, "boom")

	got, err := m.Get("app-1", sb.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)

	_, statErr := os.Stat(sb.BuildDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeleteAndGet(t *testing.T) {
	d := newFakeDocker()
	m := newTestManager(t, d, filepath.Join(t.TempDir(), "s.json"))
	ctx := context.Background()

	assert.False(t, m.Delete(ctx, "app-1", "missing"))

	sb, err := m.Create(ctx, "app-1", Config{})
	require.NoError(t, err)

	_, err = m.Get("app-2", sb.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.True(t, m.Delete(ctx, "app-1", sb.ID))
	assert.Contains(t, d.removed, sb.Container)
	assert.Contains(t, d.images, sb.Image)

	_, err = m.Get("app-1", sb.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, m.Delete(ctx, "app-1", sb.ID))
}

// pause returns a hook that signals entered and blocks until release closes.
func pause(entered chan<- struct{}, release <-chan struct{}) func() {
	return func() {
		close(entered)
		<-release
	}
}

func (f *fakeDocker) running() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name, state := range f.containers {
		if state == "running" {
			names = append(names, name)
		}
	}
	return names
}

type createResult struct {
	sb  Sandbox
	err error
}

func TestDeleteDuringBuild(t *testing.T) {
	d := newFakeDocker()
	entered, release := make(chan struct{}), make(chan struct{})
	d.beforeBuild = pause(entered, release)
	m := newTestManager(t, d, filepath.Join(t.TempDir(), "s.json"))
	ctx := context.Background()

	done := make(chan createResult, 1)
	go func() {
		sb, err := m.Create(ctx, "app-1", Config{})
		done <- createResult{sb, err}
	}()
	<-entered

	list := m.List("app-1")
	require.Len(t, list, 1)
	assert.True(t, m.Delete(ctx, "app-1", list[0].ID))
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, ErrNotFound)
	assert.Empty(t, d.runs, "no container started for a deleted sandbox")
	assert.Empty(t, d.running())
	assert.Empty(t, m.List(""))
	assert.Contains(t, d.images, list[0].Image)
}

func TestDeleteDuringRun(t *testing.T) {
	d := newFakeDocker()
	entered, release := make(chan struct{}), make(chan struct{})
	d.beforeRun = pause(entered, release)
	statePath := filepath.Join(t.TempDir(), "s.json")
	m := newTestManager(t, d, statePath)
	ctx := context.Background()

	done := make(chan createResult, 1)
	go func() {
		sb, err := m.Create(ctx, "app-1", Config{})
		done <- createResult{sb, err}
	}()
	<-entered

	list := m.List("app-1")
	require.Len(t, list, 1)
	assert.True(t, m.Delete(ctx, "app-1", list[0].ID))
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, ErrNotFound)
	require.Len(t, d.runs, 1)
	assert.Empty(t, d.running(), "container started after Delete must be removed")
	assert.Contains(t, d.removed, list[0].Container)

	loaded, err := loadState(statePath)
	require.NoError(t, err)
	assert.Empty(t, loaded.Sandboxes)
}

func TestCreateUsesRequestedPort(t *testing.T) {
	d := newFakeDocker()
	m := newTestManager(t, d, filepath.Join(t.TempDir(), "s.json"))

	sb, err := m.Create(context.Background(), "app-1", Config{Port: 3000})
	require.NoError(t, err)
	assert.Equal(t, 3000, sb.Port)
	require.Len(t, d.runs, 1)
	assert.Equal(t, []int{3000}, d.runs[0].Ports)
	assert.Equal(t, "3000", d.runs[0].Env["PORT"])

	_, err = m.Create(context.Background(), "app-1", Config{Port: -1})
	assert.Error(t, err)
}

func TestExpiryRemovesContainer(t *testing.T) {
	d := newFakeDocker()
	m := newTestManager(t, d, filepath.Join(t.TempDir(), "s.json"))

	sb, err := m.Create(context.Background(), "app-1", Config{TTL: 100 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := m.Get("app-1", sb.ID)
		return errors.Is(err, ErrNotFound)
	}, 3*time.Second, 20*time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.NotContains(t, d.containers, sb.Container)
}

func TestReconcile(t *testing.T) {
	d := newFakeDocker()
	statePath := filepath.Join(t.TempDir(), "s.json")
	now := time.Now()

	state := newState()
	state.Sandboxes["live"] = &Sandbox{ID: "live", AppID: "a", Container: "codelive-live", Port: 5173, Status: StatusCreating, ExpiresAt: now.Add(time.Hour)}
	state.Sandboxes["gone"] = &Sandbox{ID: "gone", AppID: "a", Container: "codelive-gone", Port: 5173, ExpiresAt: now.Add(time.Hour)}
	state.Sandboxes["old"] = &Sandbox{ID: "old", AppID: "a", Container: "codelive-old", Port: 5173, ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, saveState(statePath, state))

	d.containers["codelive-live"] = "running"
	d.containers["codelive-old"] = "running"

	m := newTestManager(t, d, statePath)
	require.NoError(t, m.Reconcile(context.Background()))

	list := m.List("")
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0].ID)
	assert.Equal(t, StatusReady, list[0].Status)
	assert.Equal(t, "49321", list[0].HostPort)

	assert.Contains(t, d.removed, "codelive-old", "expired sandbox cleaned up")

	m.mu.Lock()
	_, armed := m.timers["live"]
	m.mu.Unlock()
	assert.True(t, armed, "expiry timer re-armed")
}

func TestDockerToStatus(t *testing.T) {
	tests := map[string]Status{
		"running":    StatusReady,
		"exited":     StatusStopped,
		"dead":       StatusStopped,
		"created":    StatusCreating,
		"restarting": StatusCreating,
		"paused":     StatusError,
	}
	for in, want := range tests {
		if got := dockerToStatus(in); got != want {
			t.Errorf("dockerToStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
