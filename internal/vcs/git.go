package vcs

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Git drives the git command line. Repository metadata (origin URL, HEAD)
// is read with go-git so no output parsing is needed for it.
type Git struct {
	base
}

func NewGit(opts Options) *Git {
	g := &Git{base: newBase(models.RepoGit, "git", opts)}
	g.env["GIT_TERMINAL_PROMPT"] = "0"
	return g
}

func (g *Git) SupportsTags() bool     { return true }
func (g *Git) SupportsBranches() bool { return true }
func (g *Git) FallbackBranch() string { return "master" }

// gitDir pins read-only commands to this checkout so a parent repository is
// never picked up.
func (g *Git) gitDir() map[string]string {
	return map[string]string{"GIT_DIR": filepath.Join(g.opts.WorkingDir, ".git")}
}

func (g *Git) Update(ctx context.Context) error {
	if err := g.ensureDir(); err != nil {
		return err
	}
	if !g.runEnv(ctx, "status", g.gitDir(), "status").OK() {
		return g.clone(ctx)
	}
	origin, err := g.originURL(ctx)
	if err != nil || !sameRemote(origin, g.opts.RepoURL) {
		slog.Warn("checkout points at a different remote, recloning",
			logfields.Path(g.opts.WorkingDir),
			logfields.RepoURL(g.opts.RepoURL),
			slog.String("origin", origin))
		return g.clone(ctx)
	}
	if _, err := g.required(ctx, "fetch", "fetch", "--tags", "--prune", "origin"); err != nil {
		return err
	}
	g.recoverable(ctx, "reset", "reset", "--hard", "origin/"+g.branchOr(g.FallbackBranch()))
	return nil
}

// clone starts from an empty directory; git refuses to clone into a
// non-empty one.
func (g *Git) clone(ctx context.Context) error {
	if err := g.purge(); err != nil {
		return err
	}
	_, err := g.required(ctx, "clone", "clone", "--recursive", "--quiet", g.opts.RepoURL, ".")
	return err
}

func (g *Git) Checkout(ctx context.Context, identifier string) error {
	if identifier == "" {
		identifier = g.branchOr(g.FallbackBranch())
	}
	ref := g.findRef(ctx, identifier)
	if _, err := g.required(ctx, "checkout", "checkout", "--force", "--quiet", ref); err != nil {
		return err
	}
	g.recoverable(ctx, "clean", "clean", "-d", "-f", "-f")
	if _, err := os.Stat(filepath.Join(g.opts.WorkingDir, ".gitmodules")); err == nil {
		g.recoverable(ctx, "submodule", "submodule", "sync")
		g.recoverable(ctx, "submodule", "submodule", "update", "--init", "--recursive", "--force")
	}
	return nil
}

// findRef prefers the remote-tracking ref so a stale local branch of the
// same name is never checked out.
func (g *Git) findRef(ctx context.Context, ref string) string {
	if strings.HasPrefix(ref, "origin/") {
		return ref
	}
	if g.runEnv(ctx, "show-ref", g.gitDir(), "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+ref).OK() {
		return "origin/" + ref
	}
	return ref
}

func (g *Git) Tags(ctx context.Context) ([]Version, error) {
	res := g.runEnv(ctx, "tags", g.gitDir(), "show-ref", "--tags")
	// show-ref exits 1 when there are no tags.
	if res.ExitCode == 1 && strings.TrimSpace(res.Stdout) == "" {
		return nil, nil
	}
	if !res.OK() {
		return nil, g.listFailed("tags", res)
	}
	return g.parseTags(res.Stdout), nil
}

// parseTags reads "<hash> refs/tags/<name>" lines.
func (g *Git) parseTags(out string) []Version {
	var tags []Version
	for _, line := range lines(out) {
		hash, ref, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		name := strings.TrimPrefix(strings.TrimSpace(ref), "refs/tags/")
		if name == "" || strings.HasSuffix(name, "^{}") {
			continue
		}
		tags = append(tags, g.version(hash, name))
	}
	return tags
}

func (g *Git) Branches(ctx context.Context) ([]Version, error) {
	res := g.runEnv(ctx, "branches", g.gitDir(), "branch", "-r")
	if !res.OK() {
		return nil, g.listFailed("branches", res)
	}
	return g.parseBranches(res.Stdout), nil
}

// parseBranches reads `git branch -r`. The identifier keeps the remote
// prefix; the verbose name drops it. HEAD aliases are skipped.
func (g *Git) parseBranches(out string) []Version {
	var branches []Version
	for _, line := range lines(out) {
		line = strings.TrimPrefix(line, "* ")
		if strings.Contains(line, "->") {
			continue
		}
		name := strings.TrimPrefix(line, "remotes/")
		name = strings.TrimPrefix(name, "origin/")
		if name == "" || name == "HEAD" {
			continue
		}
		branches = append(branches, g.version(line, name))
	}
	return branches
}

func (g *Git) Commit(ctx context.Context) string {
	repo, err := gogit.PlainOpen(g.opts.WorkingDir)
	if err == nil {
		if head, herr := repo.Head(); herr == nil {
			return head.Hash().String()
		}
	}
	res := g.runEnv(ctx, "rev-parse", g.gitDir(), "rev-parse", "HEAD")
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

// originURL reads remote.origin.url, falling back to `git config` when the
// repository cannot be opened directly.
func (g *Git) originURL(ctx context.Context) (string, error) {
	repo, err := gogit.PlainOpen(g.opts.WorkingDir)
	if err == nil {
		remote, rerr := repo.Remote("origin")
		if rerr != nil {
			return "", rerr
		}
		if urls := remote.Config().URLs; len(urls) > 0 {
			return urls[0], nil
		}
		return "", nil
	}
	res := g.runEnv(ctx, "config", g.gitDir(), "config", "--get", "remote.origin.url")
	if !res.OK() {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// sameRemote compares URLs ignoring a trailing slash or .git suffix.
func sameRemote(a, b string) bool {
	norm := func(s string) string {
		s = strings.TrimSpace(s)
		s = strings.TrimSuffix(s, "/")
		return strings.TrimSuffix(s, ".git")
	}
	return norm(a) == norm(b)
}
