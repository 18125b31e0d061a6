package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
	"git.home.luguber.info/inful/rtdbuild/internal/version"
)

// writeJSON encodes into a buffer first so a failed encode never sends a
// partial response.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("failed writing JSON response body", logfields.Error(err))
		return err
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		s.errs.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryInternal, "failed to encode response").Build())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.errs.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryRuntime, "database unavailable").Build())
		return
	}
	resp := map[string]any{"status": "healthy", "version": version.Version}
	if s.deps.Jobs != nil {
		resp["queue_length"] = s.deps.Jobs.Length()
	}
	s.respond(w, r, http.StatusOK, resp)
}

func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayload))
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "failed to read payload").Build()
	}
	return body, nil
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-GitHub-Event") == "ping" {
		s.respond(w, r, http.StatusOK, map[string]string{"status": "pong"})
		return
	}
	s.handlePush(w, r, orchestrator.ParseGitHub)
}

func (s *Server) handleBitbucket(w http.ResponseWriter, r *http.Request) {
	s.handlePush(w, r, orchestrator.ParseBitbucket)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request, parse func([]byte) (orchestrator.Push, error)) {
	body, err := s.readPayload(w, r)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	push, err := parse(body)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	triggered, err := s.deps.Trigger.FromPush(r.Context(), push)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, map[string]any{"projects": triggered})
}

func (s *Server) handleBuildProject(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPayload)
	force, _ := strconv.ParseBool(r.FormValue("force"))
	triggered, err := s.deps.Trigger.Project(r.Context(), chi.URLParam(r, "project"), r.FormValue("version"), force)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	s.respond(w, r, http.StatusAccepted, triggered)
}

type buildEventView struct {
	State   models.BuildState `json:"state"`
	Message string            `json:"message,omitempty"`
	At      time.Time         `json:"at"`
}

type buildView struct {
	ID         string            `json:"id"`
	ProjectID  int64             `json:"project_id"`
	VersionID  int64             `json:"version_id"`
	Type       string            `json:"type"`
	State      models.BuildState `json:"state"`
	Success    bool              `json:"success"`
	ExitCode   int               `json:"exit_code"`
	Commit     string            `json:"commit,omitempty"`
	Builder    string            `json:"builder,omitempty"`
	Date       time.Time         `json:"date"`
	Length     float64           `json:"length_seconds"`
	Setup      string            `json:"setup,omitempty"`
	SetupError string            `json:"setup_error,omitempty"`
	Output     string            `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"`
	Events     []buildEventView  `json:"events,omitempty"`
}

func viewBuild(b *models.Build) buildView {
	return buildView{
		ID:         b.ID,
		ProjectID:  b.ProjectID,
		VersionID:  b.VersionID,
		Type:       b.Type,
		State:      b.State,
		Success:    b.Success,
		ExitCode:   b.ExitCode,
		Commit:     b.Commit,
		Builder:    b.Builder,
		Date:       b.Date,
		Length:     b.Length.Seconds(),
		Setup:      b.Setup,
		SetupError: b.SetupError,
		Output:     b.Output,
		Error:      b.Error,
	}
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.deps.Store.GetBuild(r.Context(), id)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	events, err := s.deps.Store.ListBuildEvents(r.Context(), id)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	view := viewBuild(b)
	for _, e := range events {
		view.Events = append(view.Events, buildEventView{State: e.State, Message: e.Message, At: e.At})
	}
	s.respond(w, r, http.StatusOK, view)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.deps.Jobs.JobSnapshot(id)
	if !ok {
		s.errs.WriteErrorResponse(w, r, errors.NotFoundError("job not found").WithContext("job_id", id).Build())
		return
	}
	s.respond(w, r, http.StatusOK, job)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	builds, err := s.deps.Store.ListBuilds(r.Context(), p.ID, limit)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	views := make([]buildView, 0, len(builds))
	for _, b := range builds {
		views = append(views, viewBuild(b))
	}
	s.respond(w, r, http.StatusOK, views)
}

type versionView struct {
	Slug        string              `json:"slug"`
	VerboseName string              `json:"verbose_name"`
	Identifier  string              `json:"identifier"`
	Type        models.VersionType  `json:"type"`
	Built       bool                `json:"built"`
	Privacy     models.PrivacyLevel `json:"privacy_level"`
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.deps.Resolver.Versions(r.Context(), chi.URLParam(r, "slug"), s.user(r))
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	views := make([]versionView, 0, len(versions))
	for _, v := range versions {
		views = append(views, versionView{
			Slug:        v.Slug,
			VerboseName: v.VerboseName,
			Identifier:  v.Identifier,
			Type:        v.Type,
			Built:       v.Built,
			Privacy:     v.Privacy,
		})
	}
	s.respond(w, r, http.StatusOK, views)
}

// handleResolve answers what a documentation request would do without
// serving it. forced_only=true evaluates only forced redirect rules.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := serve.Request{
		Project:  q.Get("project"),
		Lang:     q.Get("lang"),
		Version:  q.Get("version"),
		Filename: q.Get("path"),
		User:     s.user(r),
	}
	if req.Project == "" {
		s.errs.WriteErrorResponse(w, r, errors.ValidationError("project is required").Build())
		return
	}
	if forced, _ := strconv.ParseBool(q.Get("forced_only")); forced {
		res, ok, err := s.deps.Resolver.Redirect(r.Context(), req, true)
		if err != nil {
			s.errs.WriteErrorResponse(w, r, err)
			return
		}
		if !ok {
			res = &serve.Result{Kind: serve.KindNone, Project: req.Project}
		}
		s.respond(w, r, http.StatusOK, res)
		return
	}
	res, err := s.deps.Resolver.Resolve(r.Context(), req)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, res)
}

func (s *Server) handleVersionCompare(w http.ResponseWriter, r *http.Request) {
	cmp, err := s.deps.Resolver.Compare(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "version"))
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, cmp)
}
