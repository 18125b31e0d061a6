// Package vcs normalizes git, mercurial, subversion, bazaar and launchpad
// checkouts behind one Backend interface. Every backend shells out through a
// runner.Runner, so command failures come back as results rather than errors
// and each backend decides which steps are required and which are best-effort.
package vcs

import (
	"context"
	"sort"

	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
)

// Version is a tag or branch as reported by a backend. It is never stored
// directly; the reconciler turns it into a models.Version.
type Version struct {
	Repository  string
	Identifier  string
	VerboseName string
}

// Backend is the capability set shared by all version control systems.
type Backend interface {
	// Update brings the working copy up to date, cloning when none exists.
	Update(ctx context.Context) error
	// Checkout moves the working copy to identifier. An empty identifier
	// means the project's default branch or the backend's fallback.
	Checkout(ctx context.Context, identifier string) error
	Tags(ctx context.Context) ([]Version, error)
	Branches(ctx context.Context) ([]Version, error)
	// Commit returns the revision currently checked out, or "".
	Commit(ctx context.Context) string
	SupportsTags() bool
	SupportsBranches() bool
	FallbackBranch() string
}

// Options carries the per-operation context a backend is constructed with.
type Options struct {
	Runner        runner.Runner
	WorkingDir    string
	RepoURL       string
	DefaultBranch string
	Metrics       metrics.Recorder
}

// Factory constructs a Backend.
type Factory func(Options) Backend

// Registry maps repository types to backend factories. It is built once and
// never mutated; With returns a new Registry.
type Registry struct {
	factories map[models.RepoType]Factory
}

// NewRegistry returns a registry with every built-in backend.
func NewRegistry() *Registry {
	return &Registry{factories: map[models.RepoType]Factory{
		models.RepoGit:       func(o Options) Backend { return NewGit(o) },
		models.RepoHg:        func(o Options) Backend { return NewHg(o) },
		models.RepoSvn:       func(o Options) Backend { return NewSvn(o) },
		models.RepoBzr:       func(o Options) Backend { return NewBzr(o) },
		models.RepoLaunchpad: func(o Options) Backend { return NewLaunchpad(o) },
	}}
}

// With returns a copy of r with kind bound to f.
func (r *Registry) With(kind models.RepoType, f Factory) *Registry {
	next := make(map[models.RepoType]Factory, len(r.factories)+1)
	for k, v := range r.factories {
		next[k] = v
	}
	next[kind] = f
	return &Registry{factories: next}
}

// New constructs the backend for kind. Unknown kinds report false so callers
// can answer "no backend" instead of failing.
func (r *Registry) New(kind models.RepoType, opts Options) (Backend, bool) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, false
	}
	return f(opts), true
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind models.RepoType) bool {
	_, ok := r.factories[kind]
	return ok
}

// Kinds lists the registered repository types in sorted order.
func (r *Registry) Kinds() []models.RepoType {
	out := make([]models.RepoType, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
