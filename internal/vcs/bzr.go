package vcs

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Bzr drives bazaar. Launchpad projects reuse it with an lp: URL.
type Bzr struct {
	base
}

func NewBzr(opts Options) *Bzr {
	return &Bzr{base: newBase(models.RepoBzr, "bzr", opts)}
}

// NewLaunchpad returns a bazaar backend for a Launchpad branch.
func NewLaunchpad(opts Options) *Bzr {
	opts.RepoURL = LaunchpadURL(opts.RepoURL)
	return &Bzr{base: newBase(models.RepoLaunchpad, "bzr", opts)}
}

// LaunchpadURL rewrites code.launchpad.net and bazaar.launchpad.net links to
// the lp: shorthand bzr understands.
func LaunchpadURL(url string) string {
	for _, prefix := range []string{
		"https://code.launchpad.net/",
		"http://code.launchpad.net/",
		"https://bazaar.launchpad.net/",
		"http://bazaar.launchpad.net/",
		"bzr+ssh://bazaar.launchpad.net/",
	} {
		if strings.HasPrefix(url, prefix) {
			return "lp:" + strings.TrimSuffix(strings.TrimPrefix(url, prefix), "/")
		}
	}
	return url
}

func (b *Bzr) SupportsTags() bool     { return true }
func (b *Bzr) SupportsBranches() bool { return false }
func (b *Bzr) FallbackBranch() string { return "" }

func (b *Bzr) Update(ctx context.Context) error {
	if err := b.ensureDir(); err != nil {
		return err
	}
	if b.run(ctx, "status", "status").OK() {
		remote := b.remote(ctx)
		if !b.moved(remote, sameBranch(remote, b.opts.RepoURL)) {
			b.recoverable(ctx, "revert", "revert")
			_, err := b.required(ctx, "update", "up")
			return err
		}
		if err := b.purge(); err != nil {
			return err
		}
	}
	_, err := b.required(ctx, "checkout", "checkout", b.opts.RepoURL, ".")
	return err
}

// remote reads the branch a checkout is bound to from `bzr info`, falling
// back to the parent branch. It returns "" when neither is listed.
func (b *Bzr) remote(ctx context.Context) string {
	res := b.run(ctx, "info", "info")
	if !res.OK() {
		return ""
	}
	return parseBranchLocation(res.Stdout)
}

func parseBranchLocation(out string) string {
	var parent string
	for _, line := range lines(out) {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "checkout of branch", "bound to branch":
			return value
		case "parent branch":
			parent = value
		}
	}
	return parent
}

// sameBranch compares bzr locations after folding Launchpad forms to lp:.
func sameBranch(a, b string) bool {
	norm := func(s string) string {
		return strings.Replace(LaunchpadURL(strings.TrimSpace(s)), "lp:+branch/", "lp:", 1)
	}
	return sameRemote(norm(a), norm(b))
}

// Checkout with no identifier and no default branch just updates in place.
func (b *Bzr) Checkout(ctx context.Context, identifier string) error {
	if identifier == "" {
		identifier = b.branchOr("")
	}
	if identifier == "" {
		_, err := b.required(ctx, "update", "up")
		return err
	}
	_, err := b.required(ctx, "checkout", "switch", identifier)
	return err
}

func (b *Bzr) Tags(ctx context.Context) ([]Version, error) {
	res := b.run(ctx, "tags", "tags")
	if !res.OK() {
		return nil, b.listFailed("tags", res)
	}
	return b.parseTags(res.Stdout), nil
}

// parseTags reads "<name> <revno>" lines. The name may contain spaces; the
// revision is the last field and "?" marks a tag whose revision is not in
// the branch, which is skipped.
func (b *Bzr) parseTags(out string) []Version {
	var tags []Version
	for _, line := range lines(out) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		rev := fields[len(fields)-1]
		if rev == "?" {
			continue
		}
		name := strings.Join(fields[:len(fields)-1], " ")
		tags = append(tags, b.version(rev, name))
	}
	return tags
}

func (b *Bzr) Branches(context.Context) ([]Version, error) { return nil, nil }

func (b *Bzr) Commit(ctx context.Context) string {
	res := b.run(ctx, "revno", "revno")
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}
