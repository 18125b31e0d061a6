package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/store"
)

type recordingQueue struct {
	mu   sync.Mutex
	reqs []Request
}

func (r *recordingQueue) Enqueue(req Request) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return &Job{ID: "job-" + req.Version, Request: req}, nil
}

func (r *recordingQueue) versions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.reqs))
	for _, req := range r.reqs {
		out = append(out, req.Version)
	}
	return out
}

func TestParseGitHub(t *testing.T) {
	push, err := ParseGitHub([]byte(`{"ref":"refs/heads/develop","repository":{"url":"https://github.com/pypa/pip"}}`))
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/pypa/pip", push.RepoURL)
	assert.Equal(t, []string{"develop"}, push.Branches)

	_, err = ParseGitHub([]byte(`{"ref":"refs/heads/main"}`))
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	_, err = ParseGitHub([]byte(`not json`))
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
}

func TestParseBitbucket(t *testing.T) {
	push, err := ParseBitbucket([]byte(`{
		"canon_url": "https://bitbucket.org",
		"repository": {"absolute_url": "/team/docs/"},
		"commits": [{"branch": "default"}, {"branch": "stable"}, {"branch": "default"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "https://bitbucket.org/team/docs/", push.RepoURL)
	assert.Equal(t, []string{"default", "stable"}, push.Branches)

	_, err = ParseBitbucket([]byte(`{"commits": []}`))
	assert.Error(t, err)
}

func TestRepoFragment(t *testing.T) {
	cases := map[string]string{
		"https://github.com/pypa/pip":      "github.com/pypa/pip",
		"http://github.com/pypa/pip.git":   "github.com/pypa/pip",
		"git@github.com:pypa/pip.git":      "github.com/pypa/pip",
		"https://bitbucket.org/team/docs/": "bitbucket.org/team/docs",
		"":                                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, repoFragment(in), in)
	}
}

func triggerFixture(t *testing.T) (*store.Store, *models.Project, *recordingQueue, *Trigger) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &models.Project{Slug: "pip", RepoURL: "https://github.com/pypa/pip.git", RepoType: models.RepoGit}
	require.NoError(t, st.CreateProject(t.Context(), p))
	for _, v := range []*models.Version{
		{ProjectID: p.ID, Slug: "latest", VerboseName: "latest", Identifier: "master", Type: models.VersionBranch, Active: true, Machine: true},
		{ProjectID: p.ID, Slug: "master", VerboseName: "master", Identifier: "origin/master", Type: models.VersionBranch, Active: true},
		{ProjectID: p.ID, Slug: "feature", VerboseName: "feature", Identifier: "origin/feature", Type: models.VersionBranch, Active: true},
		{ProjectID: p.ID, Slug: "old", VerboseName: "old", Identifier: "origin/old", Type: models.VersionBranch},
	} {
		require.NoError(t, st.CreateVersion(t.Context(), v))
	}
	q := &recordingQueue{}
	return st, p, q, NewTrigger(st, q)
}

func TestTriggerFromPushBuildsActiveVersions(t *testing.T) {
	_, _, q, trig := triggerFixture(t)

	res, err := trig.FromPush(t.Context(), Push{RepoURL: "https://github.com/pypa/pip", Branches: []string{"feature", "old"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, []string{"feature"}, res[0].Building)
	assert.Equal(t, []string{"old"}, res[0].NotBuilding)
	assert.Equal(t, []string{"feature"}, q.versions())
	assert.True(t, q.reqs[0].Force)
}

func TestTriggerDefaultBranchBuildsLatest(t *testing.T) {
	_, _, q, trig := triggerFixture(t)

	_, err := trig.FromPush(t.Context(), Push{RepoURL: "git@github.com:pypa/pip.git", Branches: []string{"master"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"latest", "master"}, q.versions())
}

func TestTriggerDefaultBranchWithoutTrackingVersion(t *testing.T) {
	st, p, q, trig := triggerFixture(t)
	p.DefaultBranch = "main"
	require.NoError(t, st.UpdateProject(t.Context(), p))

	res, err := trig.BuildBranches(t.Context(), p, []string{"main"})
	require.NoError(t, err)
	assert.Equal(t, []string{"latest"}, res.Building)
	assert.Equal(t, []string{"latest"}, q.versions())
}

func TestTriggerUnknownRepository(t *testing.T) {
	_, _, q, trig := triggerFixture(t)
	_, err := trig.FromPush(t.Context(), Push{RepoURL: "https://github.com/other/repo", Branches: []string{"master"}})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	assert.Empty(t, q.versions())
}

func TestTriggerProject(t *testing.T) {
	_, _, q, trig := triggerFixture(t)
	res, err := trig.Project(t.Context(), "pip", "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"latest"}, res.Building)
	assert.Equal(t, []string{"job-latest"}, res.Jobs)
	assert.False(t, q.reqs[0].Force)

	_, err = trig.Project(t.Context(), "missing", "", false)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}
