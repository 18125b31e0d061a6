package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/rtdbuild/internal/builders"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// secondaryTypes lists the extra formats built after a successful HTML
// build.
func (o *Orchestrator) secondaryTypes(p *models.Project) []string {
	cfg := o.cfg.Load()
	var out []string
	switch {
	case p.IsMkDocs():
		if cfg.Search.Enabled && p.DocumentationType != "mkdocs_json" {
			out = append(out, "mkdocs_json")
		}
	case p.IsSphinx():
		if cfg.Search.Enabled {
			out = append(out, "sphinx_search")
		}
		if cfg.IsHTMLOnly(p.Slug) {
			break
		}
		b := cfg.Builders
		if b.LocalMedia {
			out = append(out, "sphinx_singlehtmllocalmedia")
		}
		if b.PDF {
			out = append(out, "sphinx_pdf")
		}
		if b.EPUB {
			out = append(out, "sphinx_epub")
		}
	}
	return out
}

// secondaryBuilds runs the extra formats. A failure is logged and
// recorded as a build event; it never fails the build.
func (o *Orchestrator) secondaryBuilds(ctx context.Context, run *buildRun, registry *builders.Registry, env builders.Env) {
	for _, docType := range o.secondaryTypes(run.project) {
		if docType == run.project.DocumentationType || !registry.Has(docType) {
			continue
		}
		b, err := registry.New(docType, env)
		if err != nil {
			continue
		}
		out, err := builders.Run(ctx, b, o.recorder)
		if err == nil && out.OK() {
			o.event(ctx, run.build, models.BuildBuilding, docType+" succeeded")
			continue
		}
		msg := docType + " failed"
		attrs := []any{
			logfields.BuildID(run.build.ID),
			logfields.Project(run.project.Slug),
			logfields.DocType(docType),
			logfields.ExitCode(out.ExitCode),
		}
		if err != nil {
			attrs = append(attrs, logfields.Error(err))
		}
		slog.Warn("Secondary build failed", attrs...)
		o.event(ctx, run.build, models.BuildBuilding, msg)
	}
}

// finishBuild runs after a successful HTML build: it marks the version
// built, publishes the artifacts, links translations and sends the search
// payload.
func (o *Orchestrator) finishBuild(ctx context.Context, run *buildRun) {
	ctx = context.WithoutCancel(ctx)
	p, v := run.project, run.version

	if !v.Active || !v.Built {
		v.Active, v.Built = true, true
		if err := o.store.UpdateVersion(ctx, v); err != nil {
			slog.Error("Failed to mark version built", logfields.Project(p.Slug), logfields.Version(v.Slug), logfields.Error(err))
		}
	}

	for _, path := range o.artifacts(p.Slug, v.Slug) {
		if err := o.syncer.Sync(ctx, path); err != nil {
			slog.Warn("Failed to sync artifact", logfields.Project(p.Slug), logfields.Path(path), logfields.Error(err))
		}
	}

	o.linkTranslations(ctx, p, v.Slug)

	if o.cfg.Load().Search.Enabled {
		o.index(ctx, run)
	}
}

// artifacts lists the published paths of a version that exist on disk.
func (o *Orchestrator) artifacts(project, version string) []string {
	paths := []string{o.layout.HTML(project, version)}
	for kind, ext := range workspace.MediaKinds {
		paths = append(paths, o.layout.Media(kind, project, version, ext))
	}
	out := paths[:0]
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// linkTranslations links a translation's HTML into its parent project, and
// a parent's translations into its own tree.
func (o *Orchestrator) linkTranslations(ctx context.Context, p *models.Project, version string) {
	if p.IsTranslation() {
		o.link(o.layout.HTML(p.Slug, version), o.layout.Translation(p.TranslationOf, p.Language, version))
		return
	}
	translations, err := o.store.ListTranslations(ctx, p.Slug)
	if err != nil {
		slog.Warn("Failed to list translations", logfields.Project(p.Slug), logfields.Error(err))
		return
	}
	for _, t := range translations {
		src := o.layout.HTML(t.Slug, version)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		o.link(src, o.layout.Translation(p.Slug, t.Language, version))
	}
}

// link replaces dst with a symlink to src.
func (o *Orchestrator) link(src, dst string) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		slog.Warn("Failed to create translation dir", logfields.Path(dst), logfields.Error(err))
		return
	}
	if cur, err := os.Readlink(dst); err == nil && cur == src {
		return
	}
	if err := os.RemoveAll(dst); err != nil {
		slog.Warn("Failed to remove stale translation", logfields.Path(dst), logfields.Error(err))
		return
	}
	if err := os.Symlink(src, dst); err != nil {
		slog.Warn("Failed to link translation", logfields.Path(dst), logfields.Error(err))
	}
}

// index sends the harvested pages of the version to the search indexer.
func (o *Orchestrator) index(ctx context.Context, run *buildRun) {
	p, v := run.project, run.version
	dir := o.layout.JSON(p.Slug, v.Slug)
	if _, err := os.Stat(dir); err != nil {
		return
	}
	pages, err := search.Load(dir)
	if err != nil {
		slog.Warn("Failed to load search pages", logfields.Project(p.Slug), logfields.Version(v.Slug), logfields.Error(err))
		return
	}
	if len(pages) == 0 {
		return
	}
	payload := search.Payload{
		Project:   p.Slug,
		ProjectID: p.ID,
		Version:   v.Slug,
		VersionID: v.ID,
		Commit:    run.build.Commit,
		Pages:     pages,
	}
	if err := o.events.Index(ctx, payload); err != nil {
		slog.Warn("Failed to publish search payload", logfields.Project(p.Slug), logfields.Error(err))
		return
	}
	slog.Info("Search payload published", logfields.Project(p.Slug), logfields.Version(v.Slug), slog.Int("pages", len(pages)))
}
