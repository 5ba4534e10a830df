package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zpdzap/codelive/internal/ai"
	"github.com/zpdzap/codelive/internal/logging"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/sandbox"
	"github.com/zpdzap/codelive/internal/srcbook"
	"github.com/zpdzap/codelive/internal/store"
	"github.com/zpdzap/codelive/internal/workspace"
)

type fakePreviews struct {
	mu       sync.Mutex
	previews map[string]preview.Preview
	lastCfg  preview.Config
	lines    chan string
}

func newFakePreviews() *fakePreviews {
	return &fakePreviews{previews: map[string]preview.Preview{}, lines: make(chan string, 8)}
}

func (f *fakePreviews) Create(_ context.Context, appID string, cfg preview.Config) (preview.Preview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCfg = cfg
	p := preview.Preview{ID: "p1", AppID: appID, Status: preview.StatusCreating, Port: cfg.Port,
		Resources: preview.Resources{CPU: "1", Memory: "1Gi"}, Logs: []string{"installing"}}
	f.previews[p.ID] = p
	return p, nil
}

func (f *fakePreviews) Get(appID, id string) (preview.Preview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.previews[id]
	if !ok || p.AppID != appID {
		return preview.Preview{}, preview.ErrNotFound
	}
	return p, nil
}

func (f *fakePreviews) List(appID string) []preview.Preview {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []preview.Preview{}
	for _, p := range f.previews {
		if p.AppID == appID {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakePreviews) Logs(appID, id string) ([]string, error) {
	p, err := f.Get(appID, id)
	return p.Logs, err
}

func (f *fakePreviews) Subscribe(appID, id string) (<-chan string, func(), error) {
	if _, err := f.Get(appID, id); err != nil {
		return nil, nil, err
	}
	return f.lines, func() {}, nil
}

func (f *fakePreviews) Delete(appID, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.previews[id]
	if !ok || p.AppID != appID {
		return false
	}
	delete(f.previews, id)
	return true
}

type fakeSandboxes struct{}

func (fakeSandboxes) Create(_ context.Context, appID string, cfg sandbox.Config) (sandbox.Sandbox, error) {
	return sandbox.Sandbox{ID: "s1", AppID: appID, Status: sandbox.StatusReady, Port: cfg.Port, Resources: cfg.Resources}, nil
}
func (fakeSandboxes) Get(appID, id string) (sandbox.Sandbox, error) {
	return sandbox.Sandbox{}, sandbox.ErrNotFound
}
func (fakeSandboxes) List(string) []sandbox.Sandbox               { return []sandbox.Sandbox{} }
func (fakeSandboxes) Delete(context.Context, string, string) bool { return false }

type fakeDeployer struct{}

func (fakeDeployer) Providers() []string { return []string{"docker", "modal"} }
func (fakeDeployer) Deploy(_ context.Context, appID, provider string) (store.Deployment, error) {
	return store.Deployment{ID: "d1", AppID: appID, Provider: provider, Status: store.DeploymentSucceeded, URL: "https://x.modal.run"}, nil
}

type fakeAI struct {
	plan workspace.Plan
	err  error
}

func (f fakeAI) Healthcheck(context.Context) error { return f.err }
func (f fakeAI) GenerateApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error) {
	return f.plan, f.err
}
func (f fakeAI) EditApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error) {
	return f.plan, f.err
}
func (f fakeAI) GenerateSrcbook(context.Context, string) (string, error) {
	return "# Generated\n", f.err
}

type testServer struct {
	*Server
	previews *fakePreviews
	handler  http.Handler
}

func newTestServer(t *testing.T, gen Generator) *testServer {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	previews := newFakePreviews()
	s := New(Deps{
		Store:       st,
		Workspace:   workspace.New(filepath.Join(dir, "apps"), nil, logging.Discard()),
		Srcbooks:    srcbook.NewStore(filepath.Join(dir, "srcbooks")),
		Previews:    previews,
		Sandboxes:   fakeSandboxes{},
		Deployer:    fakeDeployer{},
		AI:          gen,
		Log:         logging.Discard(),
		CORSOrigins: []string{"http://localhost:5173"},
	})
	return &testServer{Server: s, previews: previews, handler: s.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeResult[T any](t *testing.T, env envelope) T {
	t.Helper()
	raw, err := json.Marshal(env.Result)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func (ts *testServer) createApp(t *testing.T) store.App {
	t.Helper()
	rec, env := ts.do(t, http.MethodPost, "/api/apps", map[string]string{"name": "Todo"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeResult[store.App](t, env)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{preview.ErrNotFound, http.StatusNotFound},
		{workspace.ErrInvalidPath, http.StatusBadRequest},
		{invalid("nope"), http.StatusBadRequest},
		{ai.ErrNoAPIKey, http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealthzAndUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, _ := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, env.Error)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/apps", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAppLifecycle(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, nil)
	app := ts.createApp(t)

	rec, env := ts.do(t, http.MethodGet, "/api/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]store.App](t, env), 1)

	rec, env = ts.do(t, http.MethodPut, "/api/apps/"+app.ExternalID, map[string]string{"name": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Renamed", decodeResult[store.App](t, env).Name)

	rec, _ = ts.do(t, http.MethodPost, "/api/apps", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, "/api/apps/"+app.ExternalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = ts.do(t, http.MethodGet, "/api/apps/"+app.ExternalID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, env.Error)
}

func TestCreateAppRollsBackFailedGeneration(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, fakeAI{err: errors.New("model unavailable")})

	rec, env := ts.do(t, http.MethodPost, "/api/apps", map[string]string{"name": "Todo", "prompt": "a todo list"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, env.Error)

	rec, env = ts.do(t, http.MethodGet, "/api/apps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeResult[[]store.App](t, env))

	entries, err := os.ReadDir(ts.Workspace.Root())
	if err == nil {
		assert.Empty(t, entries, "app directory left behind")
	}
}

func TestFilesAndHistory(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, nil)
	app := ts.createApp(t)
	base := "/api/apps/" + app.ExternalID

	rec, _ := ts.do(t, http.MethodPost, base+"/files", map[string]string{"path": "src/util.ts", "contents": "export const answer = 42\n"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := ts.do(t, http.MethodGet, base+"/files?path=src/util.ts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "export const answer = 42\n", decodeResult[map[string]string](t, env)["contents"])

	rec, env = ts.do(t, http.MethodGet, base+"/files?path=../../etc/passwd", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, env.Error)

	rec, env = ts.do(t, http.MethodGet, base+"/search?q=ANSWER", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decodeResult[[]workspace.Match](t, env)
	require.Len(t, matches, 1)
	assert.Equal(t, "src/util.ts", matches[0].Path)

	rec, env = ts.do(t, http.MethodGet, base+"/directories?path=src", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decodeResult[[]workspace.Entry](t, env))

	rec, env = ts.do(t, http.MethodPost, base+"/commit", map[string]string{"message": "Add util"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeResult[commitResponse](t, env).Committed)

	rec, env = ts.do(t, http.MethodPost, base+"/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeResult[commitResponse](t, env).Committed, "clean tree")

	rec, env = ts.do(t, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]map[string]any](t, env), 2)

	rec, _ = ts.do(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
}

func TestEditAppStreamsPlan(t *testing.T) {
	requireGit(t)
	plan := workspace.Plan{
		Description: "Add about page",
		Actions: []workspace.Action{
			{Type: workspace.ActionFile, Description: "About", Path: "src/About.tsx", Content: "export const About = () => null\n"},
		},
	}
	ts := newTestServer(t, fakeAI{plan: plan})
	app := ts.createApp(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/apps/"+app.ExternalID+"/edit", map[string]string{"query": "add an about page"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var types []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var ev ai.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{ai.EventDescription, ai.EventFile, ai.EventDone}, types)

	content, err := ts.Workspace.ReadFile(app.ExternalID, "src/About.tsx")
	require.NoError(t, err)
	assert.Contains(t, content, "About")
}

func TestEditAppReportsGenerationError(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, fakeAI{err: errors.New("model unavailable")})
	app := ts.createApp(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/apps/"+app.ExternalID+"/edit", map[string]string{"query": "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	var ev ai.Event
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(rec.Body.Bytes()), &ev))
	assert.Equal(t, ai.EventError, ev.Type)
	assert.Equal(t, "model unavailable", ev.Error)
}

func TestPreviewLifecycle(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, nil)
	app := ts.createApp(t)
	base := "/api/apps/" + app.ExternalID + "/preview-sandbox"

	require.NoError(t, ts.Store.PutSecret(context.Background(), "API_TOKEN", "s3cret"))
	require.NoError(t, ts.Store.AssociateSecret(context.Background(), "API_TOKEN", app.ExternalID))

	rec, env := ts.do(t, http.MethodPost, base, map[string]any{"port": 4000, "ttlSeconds": 60, "env": map[string]string{"DEBUG": "1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeResult[preview.Preview](t, env)
	assert.Equal(t, "1", p.Resources.CPU)
	assert.Equal(t, "1Gi", p.Resources.Memory)
	assert.Equal(t, 4000, ts.previews.lastCfg.Port)
	assert.Equal(t, time.Minute, ts.previews.lastCfg.TTL)
	assert.Equal(t, map[string]string{"API_TOKEN": "s3cret", "DEBUG": "1"}, ts.previews.lastCfg.Env)

	rec, _ = ts.do(t, http.MethodGet, base+"/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(t, http.MethodGet, base+"/"+p.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"installing"}, decodeResult[[]string](t, env))

	rec, _ = ts.do(t, http.MethodDelete, base+"/"+p.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, base+"/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, base+"/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, base, map[string]any{"port": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSandboxPassesPort(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, nil)
	app := ts.createApp(t)
	base := "/api/apps/" + app.ExternalID + "/sandboxes"

	rec, env := ts.do(t, http.MethodPost, base, map[string]any{"port": 3000})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 3000, decodeResult[sandbox.Sandbox](t, env).Port)

	rec, _ = ts.do(t, http.MethodPost, base, map[string]any{"port": 70000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewLogStream(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, nil)
	app := ts.createApp(t)
	base := "/api/apps/" + app.ExternalID + "/preview-sandbox"
	rec, env := ts.do(t, http.MethodPost, base, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeResult[preview.Preview](t, env)

	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + base + "/" + p.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "installing", string(msg))

	ts.previews.lines <- "  Local: http://localhost:4000"
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), "Local:")

	close(ts.previews.lines)
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

func TestSettingsRedactKeys(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/settings", map[string]string{"aiProvider": "openai", "openaiKey": "sk-live"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decodeResult[store.Settings](t, env)
	assert.Equal(t, "openai", st.AIProvider)
	assert.Equal(t, redacted, st.OpenAIKey)

	got, err := ts.Store.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-live", got.OpenAIKey)

	rec, _ = ts.do(t, http.MethodPost, "/api/settings", map[string]string{"aiModel": "gpt-4o-mini", "openaiKey": redacted})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err = ts.Store.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sk-live", got.OpenAIKey)
	assert.Equal(t, "gpt-4o-mini", got.AIModel)

	rec, _ = ts.do(t, http.MethodPost, "/api/settings", map[string]string{"defaultLanguage": "rust"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecrets(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, _ := ts.do(t, http.MethodPost, "/api/secrets", map[string]string{"name": "not valid", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/secrets", map[string]string{"name": "OPENAI_KEY", "value": "x"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/secrets/OPENAI_KEY/sessions/sb-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(t, http.MethodGet, "/api/secrets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	secrets := decodeResult[[]store.Secret](t, env)
	require.Len(t, secrets, 1)
	assert.Equal(t, []string{"sb-1"}, secrets[0].Sessions)

	rec, _ = ts.do(t, http.MethodDelete, "/api/secrets/OPENAI_KEY/sessions/sb-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, "/api/secrets/OPENAI_KEY", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodDelete, "/api/secrets/OPENAI_KEY", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSrcbooks(t *testing.T) {
	ts := newTestServer(t, fakeAI{})

	rec, env := ts.do(t, http.MethodPost, "/api/srcbooks", map[string]string{"name": "Notes"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sb := decodeResult[srcbook.Srcbook](t, env)
	assert.Equal(t, "Notes", sb.Title())

	rec, _ = ts.do(t, http.MethodPost, "/api/srcbooks/generate", map[string]string{"query": "something"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env = ts.do(t, http.MethodGet, "/api/srcbooks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeResult[[]srcbook.Summary](t, env), 2)

	rec, _ = ts.do(t, http.MethodGet, "/api/srcbooks/"+sb.ID+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# Notes")

	rec, _ = ts.do(t, http.MethodPost, "/api/srcbooks/import", map[string]string{"text": "no title here"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, "/api/srcbooks/"+sb.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(t, http.MethodGet, "/api/srcbooks/"+sb.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeployAndHealthcheck(t *testing.T) {
	requireGit(t)
	ts := newTestServer(t, fakeAI{err: errors.New("no key")})
	app := ts.createApp(t)

	rec, env := ts.do(t, http.MethodPost, "/api/apps/"+app.ExternalID+"/deploy", map[string]string{"provider": "modal"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://x.modal.run", decodeResult[store.Deployment](t, env).URL)

	rec, env = ts.do(t, http.MethodGet, "/api/deploy/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"docker", "modal"}, decodeResult[[]string](t, env))

	rec, env = ts.do(t, http.MethodPost, "/api/ai/healthcheck", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeResult[map[string]any](t, env)["ok"])
}
