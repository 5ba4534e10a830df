package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zpdzap/codelive/internal/preview"
	"github.com/zpdzap/codelive/internal/sandbox"
)

// resourceRequest is the body shared by preview and sandbox creation.
type resourceRequest struct {
	Port       int               `json:"port"`
	TTLSeconds int               `json:"ttlSeconds"`
	CPU        string            `json:"cpu"`
	Memory     string            `json:"memory"`
	Env        map[string]string `json:"env"`
	SessionID  string            `json:"sessionId"`
}

func (req resourceRequest) ttl() time.Duration {
	return time.Duration(req.TTLSeconds) * time.Second
}

// env merges the secrets of the session (the app id by default) under the
// explicit env of the request.
func (s *Server) env(r *http.Request, appID string, req resourceRequest) (map[string]string, error) {
	session := req.SessionID
	if session == "" {
		session = appID
	}
	env, err := s.Store.SecretsForSession(r.Context(), session)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Env {
		env[k] = v
	}
	return env, nil
}

func (s *Server) createPreview(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Port < 0 || req.Port > 65535 || req.TTLSeconds < 0 {
		s.fail(w, r, invalid("port and ttlSeconds must be in range"))
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	env, err := s.env(r, app.ExternalID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.Previews.Create(r.Context(), app.ExternalID, preview.Config{
		Port:      req.Port,
		TTL:       req.ttl(),
		Resources: preview.Resources{CPU: req.CPU, Memory: req.Memory},
		Env:       env,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, p)
}

func (s *Server) listPreviews(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, s.Previews.List(mux.Vars(r)["id"]))
}

func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	p, err := s.Previews.Get(v["id"], v["sandboxId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, p)
}

func (s *Server) deletePreview(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if !s.Previews.Delete(v["id"], v["sandboxId"]) {
		s.fail(w, r, preview.ErrNotFound)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) previewLogs(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	logs, err := s.Previews.Logs(v["id"], v["sandboxId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, logs)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// streamPreviewLogs sends the buffered logs and then every new line over a
// websocket. The socket closes when the preview goes away.
func (s *Server) streamPreviewLogs(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	appID, id := v["id"], v["sandboxId"]
	backlog, err := s.Previews.Logs(appID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	lines, cancel, err := s.Previews.Subscribe(appID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	log := s.Log.WithFields(logrus.Fields{"app_id": appID, "preview_id": id})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(line string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			log.WithError(err).Debug("log stream write failed")
			return false
		}
		return true
	}
	for _, line := range backlog {
		if !send(line) {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "preview ended"),
					time.Now().Add(writeWait))
				return
			}
			if !send(line) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) createSandbox(w http.ResponseWriter, r *http.Request) {
	var req resourceRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Port < 0 || req.Port > 65535 || req.TTLSeconds < 0 {
		s.fail(w, r, invalid("port and ttlSeconds must be in range"))
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	env, err := s.env(r, app.ExternalID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sb, err := s.Sandboxes.Create(r.Context(), app.ExternalID, sandbox.Config{
		Port:      req.Port,
		TTL:       req.ttl(),
		Resources: sandbox.Resources{CPU: req.CPU, Memory: req.Memory},
		Env:       env,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, sb)
}

func (s *Server) listSandboxes(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, s.Sandboxes.List(mux.Vars(r)["id"]))
}

func (s *Server) getSandbox(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	sb, err := s.Sandboxes.Get(v["id"], v["sandboxId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, sb)
}

func (s *Server) deleteSandbox(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if !s.Sandboxes.Delete(r.Context(), v["id"], v["sandboxId"]) {
		s.fail(w, r, sandbox.ErrNotFound)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}
