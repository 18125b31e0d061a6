package vcs

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Hg drives mercurial.
type Hg struct {
	base
}

func NewHg(opts Options) *Hg {
	h := &Hg{base: newBase(models.RepoHg, "hg", opts)}
	h.env["HGPLAIN"] = "1"
	return h
}

func (h *Hg) SupportsTags() bool     { return true }
func (h *Hg) SupportsBranches() bool { return true }
func (h *Hg) FallbackBranch() string { return "default" }

func (h *Hg) Update(ctx context.Context) error {
	if err := h.ensureDir(); err != nil {
		return err
	}
	if h.run(ctx, "status", "status").OK() {
		remote := h.remote(ctx)
		if !h.moved(remote, sameRemote(remote, h.opts.RepoURL)) {
			if _, err := h.required(ctx, "pull", "pull"); err != nil {
				return err
			}
			_, err := h.required(ctx, "update", "update", "-C")
			return err
		}
		if err := h.purge(); err != nil {
			return err
		}
	}
	_, err := h.required(ctx, "clone", "clone", h.opts.RepoURL, ".")
	return err
}

// remote returns the default pull path, or "" when none is recorded.
func (h *Hg) remote(ctx context.Context) string {
	res := h.run(ctx, "paths", "paths", "default")
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (h *Hg) Checkout(ctx context.Context, identifier string) error {
	if identifier == "" {
		identifier = h.branchOr(h.FallbackBranch())
	}
	_, err := h.required(ctx, "checkout", "update", "-C", identifier)
	return err
}

func (h *Hg) Branches(ctx context.Context) ([]Version, error) {
	res := h.run(ctx, "branches", "branches", "-q")
	if !res.OK() {
		return nil, h.listFailed("branches", res)
	}
	var out []Version
	for _, name := range lines(res.Stdout) {
		out = append(out, h.version(name, name))
	}
	return out, nil
}

func (h *Hg) Tags(ctx context.Context) ([]Version, error) {
	res := h.run(ctx, "tags", "tags")
	if !res.OK() {
		return nil, h.listFailed("tags", res)
	}
	return h.parseTags(res.Stdout), nil
}

// parseTags reads "<name>   <rev>:<hash>" lines. Names may contain spaces
// so the split is on the last run of whitespace. The tip pseudo-tag is
// skipped.
func (h *Hg) parseTags(out string) []Version {
	var tags []Version
	for _, line := range lines(out) {
		i := strings.LastIndexAny(line, " \t")
		if i < 0 {
			continue
		}
		name := strings.TrimSpace(line[:i])
		rev := strings.TrimSpace(line[i+1:])
		if name == "" || name == "tip" {
			continue
		}
		_, hash, ok := strings.Cut(rev, ":")
		if !ok || hash == "" {
			continue
		}
		tags = append(tags, h.version(hash, name))
	}
	return tags
}

func (h *Hg) Commit(ctx context.Context) string {
	res := h.run(ctx, "identify", "identify", "--id")
	if !res.OK() {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(res.Stdout), "+")
}
