package httpapi

import (
	"net/http"
	"strconv"

	"github.com/zpdzap/codelive/internal/git"
)

func (s *Server) readFile(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	path := r.URL.Query().Get("path")
	content, err := s.Workspace.ReadFile(app.ExternalID, path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"path": path, "contents": content})
}

func (s *Server) writeFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path     string `json:"path"`
		Contents string `json:"contents"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.Workspace.WriteFile(app.ExternalID, req.Path, req.Contents)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = s.Store.TouchApp(r.Context(), app.ExternalID)
	writeResult(w, http.StatusOK, entry)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Workspace.DeleteFile(app.ExternalID, r.URL.Query().Get("path")); err != nil {
		s.fail(w, r, err)
		return
	}
	_ = s.Store.TouchApp(r.Context(), app.ExternalID)
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

// renameEntry serves both file and directory renames.
func (s *Server) renameEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.Workspace.Rename(app.ExternalID, req.From, req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	_ = s.Store.TouchApp(r.Context(), app.ExternalID)
	writeResult(w, http.StatusOK, entry)
}

func (s *Server) listDirectory(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.Workspace.ListDirectory(app.ExternalID, r.URL.Query().Get("path"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, entries)
}

func (s *Server) createDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.Workspace.CreateDirectory(app.ExternalID, req.Path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, entry)
}

func (s *Server) deleteDirectory(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Workspace.DeleteDirectory(app.ExternalID, r.URL.Query().Get("path")); err != nil {
		s.fail(w, r, err)
		return
	}
	_ = s.Store.TouchApp(r.Context(), app.ExternalID)
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.fail(w, r, invalid("limit must be a positive integer"))
			return
		}
	}
	commits, err := s.Workspace.History(r.Context(), app.ExternalID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, commits)
}

type commitResponse struct {
	Committed bool        `json:"committed"`
	Commit    *git.Commit `json:"commit,omitempty"`
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, ok, err := s.Workspace.Commit(r.Context(), app.ExternalID, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := commitResponse{Committed: ok}
	if ok {
		resp.Commit = &c
	}
	writeResult(w, http.StatusOK, resp)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SHA string `json:"sha"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.SHA == "" {
		s.fail(w, r, invalid("sha is required"))
		return
	}
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Workspace.Checkout(r.Context(), app.ExternalID, req.SHA); err != nil {
		s.fail(w, r, err)
		return
	}
	_ = s.Store.TouchApp(r.Context(), app.ExternalID)
	writeResult(w, http.StatusOK, map[string]string{"sha": req.SHA})
}

func (s *Server) changes(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changes, err := s.Workspace.Changes(r.Context(), app.ExternalID, r.URL.Query().Get("base"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, changes)
}

func (s *Server) diff(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	patch, err := s.Workspace.Diff(r.Context(), app.ExternalID, r.URL.Query().Get("base"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"diff": patch})
}
