package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Push is a repository push reduced to what a build trigger needs.
type Push struct {
	RepoURL  string
	Branches []string
}

type githubPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		URL      string `json:"url"`
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

type bitbucketPayload struct {
	CanonURL   string `json:"canon_url"`
	Repository struct {
		AbsoluteURL string `json:"absolute_url"`
	} `json:"repository"`
	Commits []struct {
		Branch string `json:"branch"`
	} `json:"commits"`
}

// ParseGitHub reads a GitHub push payload.
func ParseGitHub(body []byte) (Push, error) {
	var p githubPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Push{}, errors.WrapError(err, errors.CategoryValidation, "invalid GitHub payload").Build()
	}
	url := p.Repository.URL
	if url == "" {
		url = p.Repository.CloneURL
	}
	if url == "" || p.Ref == "" {
		return Push{}, errors.ValidationError("GitHub payload lacks repository.url or ref").Build()
	}
	// Tag pushes carry refs/tags/; only branches map to versions.
	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	return Push{RepoURL: url, Branches: []string{branch}}, nil
}

// ParseBitbucket reads a Bitbucket POST hook payload.
func ParseBitbucket(body []byte) (Push, error) {
	var p bitbucketPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Push{}, errors.WrapError(err, errors.CategoryValidation, "invalid Bitbucket payload").Build()
	}
	if p.Repository.AbsoluteURL == "" {
		return Push{}, errors.ValidationError("Bitbucket payload lacks repository.absolute_url").Build()
	}
	var branches []string
	for _, c := range p.Commits {
		if c.Branch != "" && !slices.Contains(branches, c.Branch) {
			branches = append(branches, c.Branch)
		}
	}
	return Push{RepoURL: strings.TrimSuffix(p.CanonURL, "/") + p.Repository.AbsoluteURL, Branches: branches}, nil
}

// repoFragment strips the scheme and trailing noise so one fragment
// matches https, ssh and .git spellings of the same repository.
func repoFragment(url string) string {
	url = strings.TrimSpace(url)
	for _, prefix := range []string{"https://", "http://", "ssh://", "git://", "git@"} {
		url = strings.TrimPrefix(url, prefix)
	}
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	if host, path, ok := strings.Cut(url, ":"); ok && !strings.Contains(host, "/") {
		url = host + "/" + path
	}
	return url
}

// Enqueuer accepts build requests.
type Enqueuer interface {
	Enqueue(req Request) (*Job, error)
}

// Triggered reports what a trigger queued for one project.
type Triggered struct {
	Project     string   `json:"project"`
	Building    []string `json:"building"`
	NotBuilding []string `json:"not_building,omitempty"`
	Jobs        []string `json:"jobs,omitempty"`
}

// Trigger maps pushes and manual requests onto queued builds.
type Trigger struct {
	store Store
	queue Enqueuer
}

func NewTrigger(store Store, queue Enqueuer) *Trigger {
	return &Trigger{store: store, queue: queue}
}

// FromPush queues builds for every project whose repository matches the
// push. No matching project is a not_found error.
func (t *Trigger) FromPush(ctx context.Context, push Push) ([]Triggered, error) {
	fragment := repoFragment(push.RepoURL)
	if fragment == "" {
		return nil, errors.ValidationError("push has no repository").Build()
	}
	projects, err := t.store.FindProjectsByRepo(ctx, fragment)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, errors.NotFoundError(fmt.Sprintf("no project matches repository %s", push.RepoURL)).
			WithContext("repo_url", push.RepoURL).
			Build()
	}
	out := make([]Triggered, 0, len(projects))
	for _, p := range projects {
		res, err := t.BuildBranches(ctx, p, push.Branches)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// BuildBranches queues every active version tracking one of branches. A
// push to the default branch also builds latest.
func (t *Trigger) BuildBranches(ctx context.Context, p *models.Project, branches []string) (Triggered, error) {
	res := Triggered{Project: p.Slug}
	if p.Skip {
		return res, nil
	}
	seen := map[string]bool{}
	var toBuild []string
	for _, branch := range branches {
		versions, err := t.store.VersionsForBranch(ctx, p.ID, branch)
		if err != nil {
			return res, err
		}
		if branch == defaultBranch(p) && !slices.ContainsFunc(versions, isLatest) {
			if latest, err := t.store.GetVersionBySlug(ctx, p.ID, models.LatestSlug); err == nil {
				versions = append(versions, latest)
			}
		}
		for _, v := range versions {
			if seen[v.Slug] {
				continue
			}
			seen[v.Slug] = true
			if v.Active {
				toBuild = append(toBuild, v.Slug)
			} else {
				res.NotBuilding = append(res.NotBuilding, v.Slug)
			}
		}
	}
	for _, slugName := range toBuild {
		job, err := t.queue.Enqueue(Request{Project: p.Slug, Version: slugName, Force: true})
		if err != nil {
			return res, err
		}
		res.Building = append(res.Building, slugName)
		res.Jobs = append(res.Jobs, job.ID)
	}
	slog.Info("Webhook builds queued", logfields.Project(p.Slug),
		slog.Any("building", res.Building), slog.Any("not_building", res.NotBuilding))
	return res, nil
}

// Project queues one build of a project. An empty version builds latest.
func (t *Trigger) Project(ctx context.Context, slugName, version string, force bool) (Triggered, error) {
	p, err := t.store.GetProjectBySlug(ctx, slugName)
	if err != nil {
		return Triggered{}, err
	}
	if version == "" {
		version = models.LatestSlug
	}
	job, err := t.queue.Enqueue(Request{Project: p.Slug, Version: version, Force: force})
	if err != nil {
		return Triggered{}, err
	}
	return Triggered{Project: p.Slug, Building: []string{version}, Jobs: []string{job.ID}}, nil
}

func defaultBranch(p *models.Project) string {
	if p.DefaultBranch != "" {
		return p.DefaultBranch
	}
	switch p.RepoType {
	case models.RepoHg:
		return "default"
	case models.RepoGit:
		return "master"
	}
	return ""
}

func isLatest(v *models.Version) bool { return v.Slug == models.LatestSlug }
