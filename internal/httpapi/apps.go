package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/zpdzap/codelive/internal/ai"
	"github.com/zpdzap/codelive/internal/store"
	"github.com/zpdzap/codelive/internal/workspace"
)

// app loads the app named in the route and confirms its directory exists.
func (s *Server) app(r *http.Request) (store.App, error) {
	app, err := s.Store.GetApp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return store.App{}, err
	}
	if !s.Workspace.Exists(app.ExternalID) {
		return store.App{}, fmt.Errorf("app %s files: %w", app.ExternalID, workspace.ErrNotFound)
	}
	return app, nil
}

func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	order := r.URL.Query().Get("sort")
	if order == "" {
		order = "desc"
	}
	apps, err := s.Store.ListApps(r.Context(), order)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, apps)
}

type createAppRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

type createAppResponse struct {
	store.App
	Plan *workspace.Plan `json:"plan,omitempty"`
}

// createApp makes the app row and directory. With a prompt, the starter is
// rewritten by the model before returning.
func (s *Server) createApp(w http.ResponseWriter, r *http.Request) {
	var req createAppRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		s.fail(w, r, invalid("name is required"))
		return
	}

	ctx := r.Context()
	app, err := s.Store.CreateApp(ctx, req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Workspace.Create(ctx, app.ExternalID, app.Name); err != nil {
		_ = s.Store.DeleteApp(context.WithoutCancel(ctx), app.ExternalID)
		s.fail(w, r, err)
		return
	}

	resp := createAppResponse{App: app}
	if req.Prompt != "" && s.AI != nil {
		plan, err := s.generate(ctx, app.ExternalID, req.Prompt, s.AI.GenerateApp)
		if err == nil {
			_, err = s.Workspace.ApplyPlan(ctx, app.ExternalID, plan, nil)
		}
		if err != nil {
			s.discardApp(ctx, app.ExternalID)
			s.fail(w, r, err)
			return
		}
		resp.Plan = &plan
	}
	writeResult(w, http.StatusCreated, resp)
}

// discardApp removes an app whose creation did not complete.
func (s *Server) discardApp(ctx context.Context, appID string) {
	ctx = context.WithoutCancel(ctx)
	log := s.Log.WithField("app_id", appID)
	if err := s.Workspace.Delete(appID); err != nil {
		log.WithError(err).Warn("removing app directory")
	}
	if err := s.Store.DeleteApp(ctx, appID); err != nil {
		log.WithError(err).Warn("removing app row")
	}
}

type planFunc func(ctx context.Context, files []workspace.File, prompt string) (workspace.Plan, error)

func (s *Server) generate(ctx context.Context, appID, prompt string, fn planFunc) (workspace.Plan, error) {
	files, err := s.Workspace.Files(appID)
	if err != nil {
		return workspace.Plan{}, err
	}
	return fn(ctx, files, prompt)
}

func (s *Server) getApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.Store.GetApp(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, app)
}

func (s *Server) renameApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Name == "" {
		s.fail(w, r, invalid("name is required"))
		return
	}
	app, err := s.Store.RenameApp(r.Context(), mux.Vars(r)["id"], req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, app)
}

// deleteApp stops the app's previews and sandboxes before removing it.
func (s *Server) deleteApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetApp(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.Previews != nil {
		for _, p := range s.Previews.List(id) {
			s.Previews.Delete(id, p.ID)
		}
	}
	if s.Sandboxes != nil {
		for _, sb := range s.Sandboxes.List(id) {
			s.Sandboxes.Delete(ctx, id, sb.ID)
		}
	}
	if err := s.Workspace.Delete(id); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Store.DeleteApp(ctx, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]bool{"deleted": true})
}

// editApp streams the plan for a prompt as NDJSON while applying it.
func (s *Server) editApp(w http.ResponseWriter, r *http.Request) {
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
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	log := s.Log.WithField("app_id", app.ExternalID)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	events := ai.NewEventWriter(w)

	plan, err := s.generate(ctx, app.ExternalID, req.Query, s.AI.EditApp)
	if err != nil {
		log.WithError(err).Warn("generating plan")
		_ = events.Fail(err)
		return
	}
	_ = events.Description(plan.Description)

	commit, err := s.Workspace.ApplyPlan(ctx, app.ExternalID, plan, func(a workspace.Action) {
		_ = events.Action(a)
	})
	if err != nil {
		log.WithError(err).Warn("applying plan")
		_ = events.Fail(err)
		return
	}
	_ = s.Store.TouchApp(ctx, app.ExternalID)
	_ = events.Done(commit.SHA)
}

func (s *Server) exportApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", app.ExternalID+".zip"))
	if err := s.Workspace.Export(app.ExternalID, w); err != nil {
		s.Log.WithError(err).WithField("app_id", app.ExternalID).Error("exporting app")
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.fail(w, r, invalid("q is required"))
		return
	}
	limit := workspace.DefaultSearchLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			s.fail(w, r, invalid("limit must be a positive integer"))
			return
		}
	}
	matches, err := s.Workspace.Search(app.ExternalID, query, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, matches)
}

func (s *Server) lint(w http.ResponseWriter, r *http.Request) {
	app, err := s.app(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	diags, err := s.Workspace.Lint(r.Context(), app.ExternalID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, diags)
}

func (s *Server) installDependencies(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Packages []string `json:"packages"`
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
	out, err := s.Workspace.InstallDependencies(r.Context(), app.ExternalID, req.Packages)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeResult(w, http.StatusOK, map[string]string{"output": out})
}
