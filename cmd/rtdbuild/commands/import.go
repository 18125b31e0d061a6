package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
	"git.home.luguber.info/inful/rtdbuild/internal/slug"
	"git.home.luguber.info/inful/rtdbuild/internal/store"
)

// ImportCmd implements the 'import' command.
type ImportCmd struct {
	Name          string   `arg:"" help:"Project name; the slug is derived from it"`
	Repo          string   `arg:"" help:"Repository URL"`
	RepoType      string   `name:"repo-type" help:"Version control system" enum:"git,hg,svn,bzr,launchpad" default:"git"`
	DocType       string   `name:"doc-type" help:"Documentation type" default:"sphinx"`
	DefaultBranch string   `name:"default-branch" help:"Branch that latest tracks"`
	Language      string   `help:"Documentation language" default:"en"`
	TranslationOf string   `name:"translation-of" help:"Slug of the project this one translates"`
	Privacy       string   `help:"Privacy level" enum:"public,protected,private" default:"public"`
	SingleVersion bool     `name:"single-version" help:"Serve one version at the project root"`
	Maintainers   []string `help:"Usernames allowed to read private documentation"`
	Domains       []string `help:"Custom domains serving this project"`
	NoBuild       bool     `name:"no-build" help:"Register only; do not build latest"`
}

func (i *ImportCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := i.register(ctx, a.store)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(stdout, "Imported %s as %s\n", i.Name, p.Slug); err != nil {
		return err
	}
	if i.NoBuild {
		return nil
	}
	build, err := a.orch.UpdateDocs(ctx, orchestrator.Request{Project: p.Slug, Force: true})
	if err != nil {
		return err
	}
	return reportBuild(build)
}

// register creates the project with a unique slug along with its
// maintainers and domains.
func (i *ImportCmd) register(ctx context.Context, st *store.Store) (*models.Project, error) {
	if i.TranslationOf != "" {
		if _, err := st.GetProjectBySlug(ctx, i.TranslationOf); err != nil {
			return nil, err
		}
	}
	candidate := slug.Make(i.Name)
	if candidate == "" {
		return nil, errors.ValidationError("project name is required").Build()
	}
	p := &models.Project{
		Slug: slug.Unique(candidate, func(s string) bool {
			_, err := st.GetProjectBySlug(ctx, s)
			return err == nil
		}),
		Name:              i.Name,
		RepoURL:           i.Repo,
		RepoType:          models.RepoType(i.RepoType),
		DefaultBranch:     i.DefaultBranch,
		DocumentationType: i.DocType,
		Language:          i.Language,
		TranslationOf:     i.TranslationOf,
		Privacy:           models.PrivacyLevel(i.Privacy),
		SingleVersion:     i.SingleVersion,
	}
	if err := st.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	for _, user := range i.Maintainers {
		if err := st.AddMaintainer(ctx, p.ID, user); err != nil {
			return nil, err
		}
	}
	for _, domain := range i.Domains {
		if err := st.CreateDomain(ctx, &models.Domain{ProjectID: p.ID, Domain: domain}); err != nil {
			return nil, err
		}
	}
	slog.Info("Project imported", logfields.Project(p.Slug), logfields.RepoType(string(p.RepoType)))
	return p, nil
}
