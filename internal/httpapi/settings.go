package httpapi

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/zpdzap/codelive/internal/store"
)

// getSettings never returns provider keys, only whether they are set.
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.Store.GetSettings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, redact(st))
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var u store.SettingsUpdate
	if err := decode(r, &u); err != nil {
		s.fail(w, r, err)
		return
	}
	// A redacted key echoed back from a settings form keeps the stored value.
	for _, k := range []**string{&u.OpenAIKey, &u.AnthropicKey, &u.XAIKey, &u.GeminiKey, &u.CustomAPIKey} {
		if *k != nil && **k == redacted {
			*k = nil
		}
	}
	st, err := s.Store.UpdateSettings(r.Context(), u)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, redact(st))
}

const redacted = "********"

func redact(st store.Settings) store.Settings {
	for _, k := range []*string{&st.OpenAIKey, &st.AnthropicKey, &st.XAIKey, &st.GeminiKey, &st.CustomAPIKey} {
		if *k != "" {
			*k = redacted
		}
	}
	return st
}

// envName is what a secret name must look like to be exported to a process.
var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := s.Store.ListSecrets(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, secrets)
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !envName.MatchString(req.Name) {
		s.fail(w, r, invalid("name must be a valid environment variable name"))
		return
	}
	if err := s.Store.PutSecret(r.Context(), req.Name, req.Value); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteSecret(r.Context(), mux.Vars(r)["name"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) associateSecret(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Store.AssociateSecret(r.Context(), v["name"], v["sessionId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"name": v["name"], "sessionId": v["sessionId"]})
}

func (s *Server) disassociateSecret(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.Store.DisassociateSecret(r.Context(), v["name"], v["sessionId"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) aiHealthcheck(w http.ResponseWriter, r *http.Request) {
	if s.AI == nil {
		writeResult(w, http.StatusOK, map[string]any{"ok": false, "error": "ai is not configured"})
		return
	}
	if err := s.AI.Healthcheck(r.Context()); err != nil {
		writeResult(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeResult(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) deployApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Provider == "" {
		req.Provider = "modal"
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.Deployer.Deploy(r.Context(), app.ExternalID, req.Provider)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, d)
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	ds, err := s.Store.ListDeployments(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, ds)
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, s.Deployer.Providers())
}
