package commands

import (
	"context"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
)

// ResolveCmd implements the 'resolve' command.
type ResolveCmd struct {
	Path    string `arg:"" help:"Request path, e.g. /en/latest/install.html"`
	Project string `short:"p" help:"Project slug"`
	Host    string `help:"Request host; maps a subdomain or custom domain to its project"`
	User    string `short:"u" help:"Authenticated username"`
}

func (r *ResolveCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	project := r.Project
	if project == "" && r.Host != "" {
		hosts := serve.NewHosts(cfg.HTTP.PublicDomain, a.store, a.redis, cfg.Redis.CacheTTL, a.recorder)
		slug, ok, err := hosts.ProjectSlug(ctx, r.Host)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFoundError("no project serves this host").WithContext("host", r.Host).Build()
		}
		project = slug
	}
	if project == "" {
		return errors.ValidationError("either --project or --host is required").Build()
	}

	res, err := serve.NewResolver(a.store, a.layout, a.recorder).ResolvePath(ctx, project, r.Path, r.User)
	if err != nil {
		return err
	}
	return printJSON(res)
}
