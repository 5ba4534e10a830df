package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) listSrcbooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.Srcbooks.List()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, list)
}

func (s *Server) createSrcbook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Language string `json:"language"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		s.fail(w, r, invalid("name is required"))
		return
	}
	if req.Language == "" {
		if st, err := s.Store.GetSettings(r.Context()); err == nil {
			req.Language = st.DefaultLanguage
		}
	}
	sb, err := s.Srcbooks.Create(req.Name, req.Language)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, sb)
}

func (s *Server) importSrcbook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sb, err := s.Srcbooks.Import(req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, sb)
}

func (s *Server) generateSrcbook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Query == "" {
		s.fail(w, r, invalid("query is required"))
		return
	}
	if s.AI == nil {
		s.fail(w, r, fmt.Errorf("ai is not configured"))
		return
	}
	text, err := s.AI.GenerateSrcbook(r.Context(), req.Query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sb, err := s.Srcbooks.Import(text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusCreated, sb)
}

func (s *Server) getSrcbook(w http.ResponseWriter, r *http.Request) {
	sb, err := s.Srcbooks.Get(mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, sb)
}

func (s *Server) deleteSrcbook(w http.ResponseWriter, r *http.Request) {
	if err := s.Srcbooks.Delete(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

// exportSrcbook returns the raw .src.md text rather than the JSON envelope.
func (s *Server) exportSrcbook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	text, err := s.Srcbooks.Export(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".src.md"))
	_, _ = w.Write([]byte(text))
}
