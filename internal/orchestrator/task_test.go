package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/builders"
	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/events"
	"git.home.luguber.info/inful/rtdbuild/internal/lock"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
	"git.home.luguber.info/inful/rtdbuild/internal/runner/runnertest"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
	"git.home.luguber.info/inful/rtdbuild/internal/store"
	"git.home.luguber.info/inful/rtdbuild/internal/vcs"
)

// recordingPublisher keeps every event it is handed.
type recordingPublisher struct {
	events.Noop
	mu       sync.Mutex
	finished []events.BuildNotification
	indexed  []search.Payload
}

func (r *recordingPublisher) BuildFinished(_ context.Context, n events.BuildNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, n)
	return nil
}

func (r *recordingPublisher) Index(_ context.Context, p search.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, p)
	return nil
}

type fixture struct {
	store  *store.Store
	fake   *runnertest.Fake
	locker *lock.Local
	pub    *recordingPublisher
	cfg    *config.Config
	orch   *Orchestrator
	proj   *models.Project
}

// staticPlugin renders index.html into its output directory.
var staticPlugin = builders.PluginSpec{
	Type:    "static",
	Command: []string{"render", "{output}"},
	Output:  "site",
	Publish: "html",
}

func renders(content string) func(runner.Command) {
	return func(cmd runner.Command) {
		_ = os.MkdirAll(cmd.Args[0], 0o750)
		_ = os.WriteFile(filepath.Join(cmd.Args[0], "index.html"), []byte(content), 0o600)
	}
}

func newFixture(t *testing.T, plugins ...builders.PluginSpec) *fixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		CheckoutRoot: filepath.Join(root, "checkouts"),
		BuildRoot:    filepath.Join(root, "builds"),
		MediaRoot:    filepath.Join(root, "media"),
	}

	fake := (&runnertest.Fake{}).
		On("git show-ref --tags", runnertest.Exit(0, "1111 refs/tags/0.1\n2222 refs/tags/0.2\n", "")).
		On("git branch -r", runnertest.Exit(0, "  origin/HEAD -> origin/master\n  origin/master\n  origin/feature\n", "")).
		On("git rev-parse HEAD", runnertest.Exit(0, "abc123\n", "")).
		OnDo("render", runnertest.Exit(0, "rendered", ""), renders("<h1>pip</h1>"))

	reg, err := builders.NewRegistry(nil, append([]builders.PluginSpec{staticPlugin}, plugins...))
	require.NoError(t, err)
	locker := lock.NewLocal(lock.Options{Wait: 20 * time.Millisecond, Poll: 5 * time.Millisecond})
	pub := &recordingPublisher{}

	orch, err := New(Deps{
		Config:   cfg,
		Store:    st,
		VCS:      vcs.NewRegistry(),
		Builders: reg,
		Locker:   locker,
		Events:   pub,
		Runner:   fake,
	})
	require.NoError(t, err)

	p := &models.Project{
		Slug:              "pip",
		Name:              "Pip",
		RepoURL:           "https://github.com/pypa/pip",
		RepoType:          models.RepoGit,
		DocumentationType: "static",
	}
	require.NoError(t, st.CreateProject(t.Context(), p))

	return &fixture{store: st, fake: fake, locker: locker, pub: pub, cfg: cfg, orch: orch, proj: p}
}

func (f *fixture) states(t *testing.T, buildID string) []models.BuildState {
	t.Helper()
	evs, err := f.store.ListBuildEvents(t.Context(), buildID)
	require.NoError(t, err)
	out := make([]models.BuildState, 0, len(evs))
	for _, e := range evs {
		if len(out) == 0 || out[len(out)-1] != e.State {
			out = append(out, e.State)
		}
	}
	return out
}

func TestUpdateDocsBuildsAndPublishes(t *testing.T) {
	f := newFixture(t)

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.Success, b.Error)
	assert.Equal(t, models.BuildFinished, b.State)
	assert.Equal(t, "abc123", b.Commit)
	assert.Equal(t, "static", b.Builder)
	assert.Contains(t, b.Output, "rendered")

	html, err := os.ReadFile(filepath.Join(f.orch.layout.HTML("pip", "latest"), "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>pip</h1>", string(html))

	latest, err := f.store.GetVersionBySlug(t.Context(), f.proj.ID, models.LatestSlug)
	require.NoError(t, err)
	assert.True(t, latest.Built)
	assert.True(t, latest.Active)
	assert.Equal(t, "master", latest.Identifier)

	for _, slug := range []string{"0.1", "0.2", "master", "feature"} {
		_, err := f.store.GetVersionBySlug(t.Context(), f.proj.ID, slug)
		assert.NoError(t, err, slug)
	}

	assert.Equal(t, []models.BuildState{
		models.BuildTriggered, models.BuildCloning, models.BuildInstalling, models.BuildBuilding, models.BuildFinished,
	}, f.states(t, b.ID))

	stored, err := f.store.GetBuild(t.Context(), b.ID)
	require.NoError(t, err)
	assert.True(t, stored.Success)
	assert.Equal(t, models.BuildFinished, stored.State)

	require.Len(t, f.pub.finished, 1)
	assert.True(t, f.pub.finished[0].Success)
	assert.Equal(t, "latest", f.pub.finished[0].Version)
	assert.True(t, f.fake.Ran("git checkout --force --quiet origin/master"))
	assert.False(t, f.locker.Held(lock.Key("pip")))
}

func TestUpdateDocsImportFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.On("git clone", runnertest.Exit(128, "", "fatal: repository not found"))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.Error(t, err)
	assert.True(t, vcs.IsImportFailure(err))
	require.NotNil(t, b)
	assert.False(t, b.Success)
	assert.Equal(t, models.ExitImportFailed, b.ExitCode)
	assert.Contains(t, b.Error, "repository not found")
	assert.False(t, f.fake.Ran("render"))

	stored, err := f.store.GetBuild(t.Context(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuildFinished, stored.State)
	require.Len(t, f.pub.finished, 1)
	assert.Equal(t, models.ExitImportFailed, f.pub.finished[0].ExitCode)
}

func TestUpdateDocsBuildFailurePublishesNothing(t *testing.T) {
	f := newFixture(t)
	f.fake.On("render", runnertest.Exit(2, "partial", "render: broken toctree"))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	assert.False(t, b.Success)
	assert.Equal(t, 2, b.ExitCode)
	assert.Contains(t, b.Error, "broken toctree")

	_, statErr := os.Stat(f.orch.layout.HTML("pip", "latest"))
	assert.True(t, os.IsNotExist(statErr))

	latest, err := f.store.GetVersionBySlug(t.Context(), f.proj.ID, models.LatestSlug)
	require.NoError(t, err)
	assert.False(t, latest.Built)
}

func TestUpdateDocsLockContention(t *testing.T) {
	f := newFixture(t)
	lease, err := f.locker.Acquire(t.Context(), lock.Key("pip"))
	require.NoError(t, err)

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip", BuildID: "b-1"})
	require.Error(t, err)
	assert.True(t, lock.IsTimeout(err))
	assert.Equal(t, models.ExitLockContention, b.ExitCode)
	assert.Empty(t, f.fake.Calls())
	assert.Empty(t, f.pub.finished)

	require.NoError(t, lease.Release(t.Context()))
	b, err = f.orch.UpdateDocs(t.Context(), Request{Project: "pip", BuildID: "b-1"})
	require.NoError(t, err)
	assert.True(t, b.Success)
	assert.Equal(t, "b-1", b.ID)
	assert.Zero(t, b.ExitCode)

	builds, err := f.store.ListBuilds(t.Context(), f.proj.ID, 10)
	require.NoError(t, err)
	assert.Len(t, builds, 1)
}

func TestUpdateDocsUnknownBuilder(t *testing.T) {
	f := newFixture(t)
	f.proj.DocumentationType = "doxygen"
	require.NoError(t, f.store.UpdateProject(t.Context(), f.proj))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	assert.False(t, b.Success)
	assert.Contains(t, b.Error, "doxygen")
}

func TestUpdateDocsUnknownRepoType(t *testing.T) {
	f := newFixture(t)
	f.proj.RepoType = "cvs"
	require.NoError(t, f.store.UpdateProject(t.Context(), f.proj))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.Error(t, err)
	assert.Contains(t, b.Error, "cvs")
	assert.Empty(t, f.fake.Calls())
}

func TestUpdateDocsSkippedProject(t *testing.T) {
	f := newFixture(t)
	f.proj.Skip = true
	require.NoError(t, f.store.UpdateProject(t.Context(), f.proj))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSecondaryFailureDoesNotFailBuild(t *testing.T) {
	f := newFixture(t,
		builders.PluginSpec{Type: "sphinx", Command: []string{"render", "{output}"}, Output: "site", Publish: "html"},
		builders.PluginSpec{Type: "sphinx_search", Command: []string{"index-pages"}, Output: "json", Publish: "json"},
	)
	f.cfg.Search.Enabled = true
	f.fake.On("index-pages", runnertest.Exit(1, "", "json builder crashed"))
	f.proj.DocumentationType = "sphinx"
	require.NoError(t, f.store.UpdateProject(t.Context(), f.proj))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	assert.True(t, b.Success)
	assert.True(t, f.fake.Ran("index-pages"))

	evs, err := f.store.ListBuildEvents(t.Context(), b.ID)
	require.NoError(t, err)
	var messages []string
	for _, e := range evs {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "sphinx_search failed")
	assert.Empty(t, f.pub.indexed)
}

func TestSearchPayloadPublished(t *testing.T) {
	f := newFixture(t,
		builders.PluginSpec{Type: "sphinx", Command: []string{"render", "{output}"}, Output: "site", Publish: "html"},
		builders.PluginSpec{Type: "sphinx_search", Command: []string{"index-pages", "{output}"}, Output: "json", Publish: "json"},
	)
	f.cfg.Search.Enabled = true
	f.fake.OnDo("index-pages", runnertest.Exit(0, "", ""), func(cmd runner.Command) {
		_ = search.Write(cmd.Args[0], []search.Page{{Path: "index.html", Title: "Pip"}})
	})
	f.proj.DocumentationType = "sphinx"
	require.NoError(t, f.store.UpdateProject(t.Context(), f.proj))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip"})
	require.NoError(t, err)
	require.True(t, b.Success)
	require.Len(t, f.pub.indexed, 1)
	assert.Equal(t, "pip", f.pub.indexed[0].Project)
	assert.Equal(t, "abc123", f.pub.indexed[0].Commit)
	assert.Equal(t, "Pip", f.pub.indexed[0].Pages[0].Title)
}

func TestSecondaryTypes(t *testing.T) {
	f := newFixture(t)
	f.cfg.Search.Enabled = true
	f.cfg.Builders.PDF = true
	f.cfg.Builders.EPUB = true
	f.cfg.Builders.LocalMedia = true

	sphinx := &models.Project{Slug: "pip", DocumentationType: "sphinx"}
	assert.Equal(t, []string{"sphinx_search", "sphinx_singlehtmllocalmedia", "sphinx_pdf", "sphinx_epub"}, f.orch.secondaryTypes(sphinx))

	f.cfg.Builders.HTMLOnly = []string{"pip"}
	assert.Equal(t, []string{"sphinx_search"}, f.orch.secondaryTypes(sphinx))

	assert.Equal(t, []string{"mkdocs_json"}, f.orch.secondaryTypes(&models.Project{Slug: "m", DocumentationType: "mkdocs"}))
	assert.Empty(t, f.orch.secondaryTypes(&models.Project{Slug: "a", DocumentationType: "asciidoc"}))
}

func TestTranslationLinkedIntoParent(t *testing.T) {
	f := newFixture(t)
	es := &models.Project{
		Slug:              "pip-es",
		RepoURL:           "https://github.com/pypa/pip-es",
		RepoType:          models.RepoGit,
		DocumentationType: "static",
		Language:          "es",
		TranslationOf:     "pip",
	}
	require.NoError(t, f.store.CreateProject(t.Context(), es))

	b, err := f.orch.UpdateDocs(t.Context(), Request{Project: "pip-es"})
	require.NoError(t, err)
	require.True(t, b.Success)

	link := f.orch.layout.Translation("pip", "es", "latest")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, f.orch.layout.HTML("pip-es", "latest"), target)
}

func TestSetBuildersSwapsRegistry(t *testing.T) {
	f := newFixture(t)
	before := f.orch.Builders()
	next, err := builders.NewRegistry(nil, nil)
	require.NoError(t, err)
	f.orch.SetBuilders(next)
	assert.NotSame(t, before, f.orch.Builders())
	f.orch.SetBuilders(nil)
	assert.Same(t, next, f.orch.Builders())
}

func TestSetConfigAppliesToNextBuild(t *testing.T) {
	f := newFixture(t)
	sphinx := &models.Project{Slug: "pip", DocumentationType: "sphinx"}
	assert.Empty(t, f.orch.secondaryTypes(sphinx))

	next := config.Default()
	next.Search.Enabled = true
	next.Builders.PDF = true
	f.orch.SetConfig(next)
	assert.Same(t, next, f.orch.Config())
	assert.Equal(t, []string{"sphinx_search", "sphinx_pdf"}, f.orch.secondaryTypes(sphinx))

	f.orch.SetConfig(nil)
	assert.Same(t, next, f.orch.Config())
}

func TestCleanupStale(t *testing.T) {
	f := newFixture(t)
	old := &models.Build{ID: "old", ProjectID: f.proj.ID, Type: "html", State: models.BuildBuilding, Date: time.Now().Add(-5 * time.Hour)}
	fresh := &models.Build{ID: "fresh", ProjectID: f.proj.ID, Type: "html", State: models.BuildCloning, Date: time.Now()}
	require.NoError(t, f.store.CreateBuild(t.Context(), old))
	require.NoError(t, f.store.CreateBuild(t.Context(), fresh))

	closed, err := f.orch.CleanupStale(t.Context(), 3*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, closed)

	got, err := f.store.GetBuild(t.Context(), "old")
	require.NoError(t, err)
	assert.Equal(t, models.BuildFinished, got.State)
	assert.Equal(t, models.ExitStale, got.ExitCode)
	assert.False(t, got.Success)

	got, err = f.store.GetBuild(t.Context(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.BuildCloning, got.State)
}

func TestSyncVersions(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.SyncVersions(t.Context(), "pip")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0.1", "0.2", "master", "feature"}, res.Added)
	assert.Equal(t, "2222", res.Stable)
	assert.False(t, f.fake.Ran("render"))

	f.fake.On("git show-ref --tags", runnertest.Exit(0, "2222 refs/tags/0.2\n", ""))
	res, err = f.orch.SyncVersions(t.Context(), "pip")
	require.NoError(t, err)
	assert.Equal(t, []string{"0.1"}, res.Deleted)
	_, err = f.store.GetVersionBySlug(t.Context(), f.proj.ID, models.LatestSlug)
	assert.NoError(t, err)
}

func TestSyncVersionsListingFailure(t *testing.T) {
	f := newFixture(t)
	f.fake.On("git branch -r", runnertest.Exit(128, "", "fatal: not a git repository"))
	_, err := f.orch.SyncVersions(t.Context(), "pip")
	require.Error(t, err)
}
