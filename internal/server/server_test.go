package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
	"git.home.luguber.info/inful/rtdbuild/internal/store"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

type recordingQueue struct {
	mu   sync.Mutex
	reqs []orchestrator.Request
	jobs map[string]*orchestrator.Job
}

func (q *recordingQueue) Enqueue(req orchestrator.Request) (*orchestrator.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs = append(q.reqs, req)
	job := &orchestrator.Job{ID: "job-" + req.Version, Request: req, Status: orchestrator.JobQueued}
	q.jobs[job.ID] = job
	return job, nil
}

func (q *recordingQueue) JobSnapshot(id string) (*orchestrator.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	return j, ok
}

func (q *recordingQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

type env struct {
	st      *store.Store
	layout  workspace.Layout
	project *models.Project
	queue   *recordingQueue
	handler http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := t.Context()

	root := t.TempDir()
	layout := workspace.Layout{BuildRoot: filepath.Join(root, "builds"), CheckoutRoot: filepath.Join(root, "co")}
	p := &models.Project{Slug: "pip", RepoURL: "https://github.com/pypa/pip.git", RepoType: models.RepoGit}
	require.NoError(t, st.CreateProject(ctx, p))
	for _, v := range []*models.Version{
		{ProjectID: p.ID, Slug: "latest", VerboseName: "latest", Identifier: "master", Active: true, Built: true, Machine: true},
		{ProjectID: p.ID, Slug: "1.0", VerboseName: "1.0", Identifier: "1.0", Type: models.VersionTag, Active: true, Built: true},
		{ProjectID: p.ID, Slug: "2.0", VerboseName: "2.0", Identifier: "2.0", Type: models.VersionTag, Active: true, Built: true},
		{ProjectID: p.ID, Slug: "internal", VerboseName: "internal", Active: true, Built: true, Privacy: models.PrivacyPrivate},
	} {
		require.NoError(t, st.CreateVersion(ctx, v))
		dir := layout.HTML("pip", v.Slug)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>"+v.Slug+"</h1>"), 0o644))
	}
	require.NoError(t, st.AddMaintainer(ctx, p.ID, "alice"))
	require.NoError(t, st.CreateRedirect(ctx, &models.Redirect{ProjectID: p.ID, Type: models.RedirectPage, FromURL: "/old.html", ToURL: "/index.html", HTTPStatus: 302}))

	reg := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	q := &recordingQueue{jobs: map[string]*orchestrator.Job{}}
	srv := New(Deps{
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0", PublicDomain: "docs.test", TrustedUserHeader: "X-Remote-User"},
		Store:    st,
		Trigger:  orchestrator.NewTrigger(st, q),
		Jobs:     q,
		Resolver: serve.NewResolver(st, layout, rec),
		Hosts:    serve.NewHosts("docs.test", st, nil, time.Minute, rec),
		Gatherer: reg,
	})
	return &env{st: st, layout: layout, project: p, queue: q, handler: srv.Handler()}
}

func (e *env) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestGitHubWebhook(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/github", `{"ref":"refs/heads/master","repository":{"url":"https://github.com/pypa/pip"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, e.queue.reqs, 1)
	assert.Equal(t, "latest", e.queue.reqs[0].Version)

	rec = e.do(t, http.MethodPost, "/github", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/github", `{"ref":"refs/heads/master","repository":{"url":"https://github.com/else/where"}}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/github", "", map[string]string{"X-GitHub-Event": "ping"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBitbucketWebhook(t *testing.T) {
	e := newEnv(t)
	e.project.RepoURL = "https://bitbucket.org/pypa/pip"
	require.NoError(t, e.st.UpdateProject(t.Context(), e.project))

	rec := e.do(t, http.MethodPost, "/bitbucket", `{"canon_url":"https://bitbucket.org","repository":{"absolute_url":"/pypa/pip/"},"commits":[{"branch":"master"}]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, e.queue.reqs, 1)
}

func TestBuildProjectAndJobStatus(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/build/pip?version=1.0&force=true", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, e.queue.reqs, 1)
	assert.Equal(t, "1.0", e.queue.reqs[0].Version)
	assert.True(t, e.queue.reqs[0].Force)

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/job-1.0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", decode(t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/api/v1/jobs/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/build/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildStatusWithEvents(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	b := &models.Build{ID: "b-1", ProjectID: e.project.ID, Type: "html", State: models.BuildTriggered, Date: time.Now()}
	require.NoError(t, e.st.CreateBuild(ctx, b))
	require.NoError(t, e.st.AppendBuildEvent(ctx, "b-1", models.BuildTriggered, ""))
	require.NoError(t, e.st.AppendBuildEvent(ctx, "b-1", models.BuildCloning, ""))

	rec := e.do(t, http.MethodGet, "/api/v1/builds/b-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "triggered", body["state"])
	assert.Len(t, body["events"], 2)

	rec = e.do(t, http.MethodGet, "/api/v1/projects/pip/builds", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = e.do(t, http.MethodGet, "/api/v1/builds/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeDocs(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/docs/pip/en/latest/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>latest</h1>")

	rec = e.do(t, http.MethodGet, "/docs/pip/", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/docs/pip/en/latest/", rec.Header().Get("Location"))

	rec = e.do(t, http.MethodGet, "/docs/pip/en/1.0/old.html", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/docs/pip/en/1.0/index.html", rec.Header().Get("Location"))

	rec = e.do(t, http.MethodGet, "/docs/pip/en/latest/missing.html", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	details, _ := decode(t, rec)["details"].(map[string]any)
	assert.Equal(t, "page_not_found", details["miss"])

	rec = e.do(t, http.MethodGet, "/docs/nope/en/latest/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	details, _ = decode(t, rec)["details"].(map[string]any)
	assert.Equal(t, "project_not_found", details["miss"])
}

func TestServePrivateDocs(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/docs/pip/en/internal/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/docs/pip/en/internal/", "", map[string]string{"X-Remote-User": "mallory"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/docs/pip/en/internal/", "", map[string]string{"X-Remote-User": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "private", rec.Header().Get("Cache-Control"))
}

func TestHostRouting(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.st.CreateDomain(t.Context(), &models.Domain{ProjectID: e.project.ID, Domain: "pip.pypa.io"}))

	for _, host := range []string{"pip.docs.test", "pip.pypa.io"} {
		req := httptest.NewRequest(http.MethodGet, "/en/2.0/", nil)
		req.Host = host
		rec := httptest.NewRecorder()
		e.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, host)
		assert.Contains(t, rec.Body.String(), "<h1>2.0</h1>")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "pip.docs.test"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/en/latest/", rec.Header().Get("Location"))
}

func TestResolveAPI(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/resolve?project=pip&lang=en&version=latest&path=old.html", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "redirect", body["kind"])
	assert.Equal(t, "/en/latest/index.html", body["location"])
	assert.EqualValues(t, 302, body["status"])

	rec = e.do(t, http.MethodGet, "/api/v1/resolve?project=pip&lang=en&version=latest&path=old.html&forced_only=true", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "none", decode(t, rec)["kind"])

	rec = e.do(t, http.MethodGet, "/api/v1/resolve", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersionsAndCompareAPI(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/projects/pip/versions", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.Len(t, versions, 3)

	rec = e.do(t, http.MethodGet, "/api/v1/version_compare/pip/1.0", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["is_highest"])
	assert.Equal(t, "2.0", body["slug"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/docs/pip/en/latest/", "", nil)

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "file")
}
