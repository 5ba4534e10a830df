// Package httpapi serves the JSON API under /api.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/ai"
	"github.com/zpdzap/codelive/internal/deploy"
	"github.com/zpdzap/codelive/internal/metrics"
	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/sandbox"
	"github.com/zpdzap/codelive/internal/srcbook"
	"github.com/zpdzap/codelive/internal/store"
	"github.com/zpdzap/codelive/internal/workspace"
)

// Previews runs dev-server previews.
type Previews interface {
	Create(ctx context.Context, appID string, cfg preview.Config) (preview.Preview, error)
	Get(appID, id string) (preview.Preview, error)
	List(appID string) []preview.Preview
	Logs(appID, id string) ([]string, error)
	Subscribe(appID, id string) (<-chan string, func(), error)
	Delete(appID, id string) bool
}

// Sandboxes runs apps in containers.
type Sandboxes interface {
	Create(ctx context.Context, appID string, cfg sandbox.Config) (sandbox.Sandbox, error)
	Get(appID, id string) (sandbox.Sandbox, error)
	List(appID string) []sandbox.Sandbox
	Delete(ctx context.Context, appID, id string) bool
}

// Deployer ships apps.
type Deployer interface {
	Providers() []string
	Deploy(ctx context.Context, appID, provider string) (store.Deployment, error)
}

// Generator produces code with a language model.
type Generator interface {
	Healthcheck(ctx context.Context) error
	GenerateApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error)
	EditApp(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error)
	GenerateSrcbook(ctx context.Context, prompt string) (string, error)
}

// Deps are the services the API exposes.
type Deps struct {
	Store       *store.Store
	Workspace   *workspace.Workspace
	Srcbooks    *srcbook.Store
	Previews    Previews
	Sandboxes   Sandboxes
	Deployer    Deployer
	AI          Generator
	Log         logrus.FieldLogger
	CORSOrigins []string
}

type Server struct {
	Deps
	router *mux.Router
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	s := &Server{Deps: d, router: mux.NewRouter()}
	s.routes()
	return s
}

// Handler returns the router wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = cors(s.CORSOrigins)(h)
	h = metrics.InstrumentHandler(h)
	h = requestLogger(s.Log)(h)
	return h
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/srcbooks", s.listSrcbooks).Methods(http.MethodGet)
	api.HandleFunc("/srcbooks", s.createSrcbook).Methods(http.MethodPost)
	api.HandleFunc("/srcbooks/import", s.importSrcbook).Methods(http.MethodPost)
	api.HandleFunc("/srcbooks/generate", s.generateSrcbook).Methods(http.MethodPost)
	api.HandleFunc("/srcbooks/{id}", s.getSrcbook).Methods(http.MethodGet)
	api.HandleFunc("/srcbooks/{id}", s.deleteSrcbook).Methods(http.MethodDelete)
	api.HandleFunc("/srcbooks/{id}/export", s.exportSrcbook).Methods(http.MethodGet)

	api.HandleFunc("/apps", s.listApps).Methods(http.MethodGet)
	api.HandleFunc("/apps", s.createApp).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}", s.getApp).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}", s.renameApp).Methods(http.MethodPut)
	api.HandleFunc("/apps/{id}", s.deleteApp).Methods(http.MethodDelete)
	api.HandleFunc("/apps/{id}/edit", s.editApp).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/export", s.exportApp).Methods(http.MethodGet)

	api.HandleFunc("/apps/{id}/files", s.readFile).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/files", s.writeFile).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/files", s.deleteFile).Methods(http.MethodDelete)
	api.HandleFunc("/apps/{id}/files/rename", s.renameEntry).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/directories", s.listDirectory).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/directories", s.createDirectory).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/directories", s.deleteDirectory).Methods(http.MethodDelete)
	api.HandleFunc("/apps/{id}/directories/rename", s.renameEntry).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/search", s.search).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/lint", s.lint).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/dependencies/install", s.installDependencies).Methods(http.MethodPost)

	api.HandleFunc("/apps/{id}/history", s.history).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/commit", s.commit).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/checkout", s.checkout).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/changes", s.changes).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/diff", s.diff).Methods(http.MethodGet)

	api.HandleFunc("/apps/{id}/deploy", s.deployApp).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/deployments", s.listDeployments).Methods(http.MethodGet)
	api.HandleFunc("/deploy/providers", s.listProviders).Methods(http.MethodGet)

	api.HandleFunc("/apps/{id}/preview-sandbox", s.createPreview).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/preview-sandbox", s.listPreviews).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/preview-sandbox/{sandboxId}", s.getPreview).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/preview-sandbox/{sandboxId}", s.deletePreview).Methods(http.MethodDelete)
	api.HandleFunc("/apps/{id}/preview-sandbox/{sandboxId}/logs", s.previewLogs).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/preview-sandbox/{sandboxId}/stream", s.streamPreviewLogs).Methods(http.MethodGet)

	api.HandleFunc("/apps/{id}/sandboxes", s.createSandbox).Methods(http.MethodPost)
	api.HandleFunc("/apps/{id}/sandboxes", s.listSandboxes).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/sandboxes/{sandboxId}", s.getSandbox).Methods(http.MethodGet)
	api.HandleFunc("/apps/{id}/sandboxes/{sandboxId}", s.deleteSandbox).Methods(http.MethodDelete)

	api.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.updateSettings).Methods(http.MethodPost)
	api.HandleFunc("/secrets", s.listSecrets).Methods(http.MethodGet)
	api.HandleFunc("/secrets", s.putSecret).Methods(http.MethodPost)
	api.HandleFunc("/secrets/{name}", s.deleteSecret).Methods(http.MethodDelete)
	api.HandleFunc("/secrets/{name}/sessions/{sessionId}", s.associateSecret).Methods(http.MethodPost)
	api.HandleFunc("/secrets/{name}/sessions/{sessionId}", s.disassociateSecret).Methods(http.MethodDelete)

	api.HandleFunc("/ai/healthcheck", s.aiHealthcheck).Methods(http.MethodPost)

	api.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("no such route"))
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// envelope is the shape of every /api response body.
type envelope struct {
	Error  bool `json:"error"`
	Result any  `json:"result"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeResult(w http.ResponseWriter, status int, result any) {
	writeJSON(w, status, envelope{Result: result})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{Error: true, Result: err.Error()})
}

// fail maps err to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.Log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeError(w, status, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, srcbook.ErrNotFound),
		errors.Is(err, preview.ErrNotFound),
		errors.Is(err, sandbox.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrInvalidPath),
		errors.Is(err, store.ErrInvalidSettings),
		errors.Is(err, srcbook.ErrInvalid),
		errors.Is(err, deploy.ErrUnknownProvider),
		errors.Is(err, deploy.ErrMissingToken),
		errors.Is(err, ai.ErrUnknownProvider),
		errors.Is(err, ai.ErrNoAPIKey),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

// badRequest marks err as a client error while keeping its message.
type badRequest struct{ err error }

func (b badRequest) Error() string   { return b.err.Error() }
func (b badRequest) Unwrap() []error { return []error{b.err, errBadRequest} }

func invalid(msg string) error { return badRequest{errors.New(msg)} }

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return badRequest{err}
	}
	return nil
}
