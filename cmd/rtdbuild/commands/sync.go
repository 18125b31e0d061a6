package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/reconcile"
)

// SyncVersionsCmd implements the 'sync-versions' command.
type SyncVersionsCmd struct {
	Projects []string `arg:"" optional:"" help:"Project slugs; all projects when omitted"`
}

func (s *SyncVersionsCmd) Run(g *Global, root *CLI) error {
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

	slugs := s.Projects
	if len(slugs) == 0 {
		projects, err := a.store.ListProjects(ctx)
		if err != nil {
			return err
		}
		for _, p := range projects {
			if !p.Skip {
				slugs = append(slugs, p.Slug)
			}
		}
	}

	results := make(map[string]reconcile.Result, len(slugs))
	var failed []string
	for _, slug := range slugs {
		res, err := a.orch.SyncVersions(ctx, slug)
		if err != nil {
			slog.Error("Version sync failed", logfields.Project(slug), logfields.Error(err))
			failed = append(failed, slug)
			continue
		}
		results[slug] = res
	}
	if err := printJSON(results); err != nil {
		return err
	}
	if len(failed) > 0 {
		return errors.VCSError("version sync failed for some projects").
			WithContext("projects", failed).
			Build()
	}
	return nil
}
