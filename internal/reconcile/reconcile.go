// Package reconcile keeps a project's stored versions in step with the tags
// and branches its repository reports.
//
// Versions are matched by verbose name, never by identifier: a tag that is
// re-pointed at a new commit is the same version with a new identifier, so
// its slug and build history survive.
package reconcile

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/slug"
	"git.home.luguber.info/inful/rtdbuild/internal/vcs"
	"git.home.luguber.info/inful/rtdbuild/internal/versioning"
)

// VersionStore is the persistence the reconciler needs.
type VersionStore interface {
	ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error)
	CreateVersion(ctx context.Context, v *models.Version) error
	UpdateVersion(ctx context.Context, v *models.Version) error
	UpdateVersionIdentifier(ctx context.Context, id int64, identifier string, vtype models.VersionType) error
	SetVersionTypeByNames(ctx context.Context, projectID int64, names []string, vtype models.VersionType) error
	DeleteVersions(ctx context.Context, ids []int64) error
}

// Reconciler applies discovered versions to the store.
type Reconciler struct {
	store VersionStore
}

func New(store VersionStore) *Reconciler {
	return &Reconciler{store: store}
}

// Result summarizes one full reconciliation.
type Result struct {
	Added   []string `json:"added"`
	Deleted []string `json:"deleted"`
	Stable  string   `json:"stable,omitempty"`
}

// SyncVersions records discovered versions of one type. Existing versions
// whose identifier moved are updated in place; unknown names are created
// with a slug unique within the project. It returns the slugs created.
func (r *Reconciler) SyncVersions(ctx context.Context, p *models.Project, discovered []vcs.Version, vtype models.VersionType) ([]string, error) {
	if len(discovered) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(discovered))
	for _, d := range discovered {
		names = append(names, d.VerboseName)
	}
	if err := r.store.SetVersionTypeByNames(ctx, p.ID, names, vtype); err != nil {
		return nil, err
	}

	existing, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*models.Version, len(existing))
	taken := make(map[string]bool, len(existing))
	for _, v := range existing {
		byName[v.VerboseName] = v
		taken[v.Slug] = true
	}

	var added []string
	for _, d := range discovered {
		if v, ok := byName[d.VerboseName]; ok {
			if v.Identifier == d.Identifier && !v.Machine {
				continue
			}
			if err := r.store.UpdateVersionIdentifier(ctx, v.ID, d.Identifier, vtype); err != nil {
				return added, err
			}
			slog.Info("version identifier updated",
				logfields.Project(p.Slug),
				logfields.Version(v.Slug),
				slog.String("from", v.Identifier),
				slog.String("to", d.Identifier))
			v.Identifier, v.Type, v.Machine = d.Identifier, vtype, false
			continue
		}

		v := &models.Version{
			ProjectID:   p.ID,
			Slug:        slug.UniqueIn(slug.Make(d.VerboseName), taken),
			Identifier:  d.Identifier,
			VerboseName: d.VerboseName,
			Type:        vtype,
			Privacy:     defaultPrivacy(p),
		}
		if err := r.store.CreateVersion(ctx, v); err != nil {
			return added, err
		}
		taken[v.Slug] = true
		byName[v.VerboseName] = v
		added = append(added, v.Slug)
	}
	if len(added) > 0 {
		slog.Info("versions added", logfields.Project(p.Slug), slog.Any("slugs", added))
	}
	return added, nil
}

// DeleteVersions removes versions whose identifier is no longer reported.
// Active, uploaded and synthetic versions are never removed.
func (r *Reconciler) DeleteVersions(ctx context.Context, p *models.Project, current []vcs.Version) ([]string, error) {
	live := make(map[string]bool, len(current))
	for _, d := range current {
		live[d.Identifier] = true
	}
	existing, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var (
		ids     []int64
		deleted []string
	)
	for _, v := range existing {
		if v.Active || v.Uploaded || v.Machine || models.IsNonRepositoryVersion(v.Slug) {
			continue
		}
		if live[v.Identifier] {
			continue
		}
		ids = append(ids, v.ID)
		deleted = append(deleted, v.Slug)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := r.store.DeleteVersions(ctx, ids); err != nil {
		return nil, err
	}
	slog.Info("versions deleted", logfields.Project(p.Slug), slog.Any("slugs", deleted))
	return deleted, nil
}

// Sync reconciles tags and branches together, removes versions neither
// reports, and then refreshes the synthetic latest and stable versions.
func (r *Reconciler) Sync(ctx context.Context, p *models.Project, tags, branches []vcs.Version) (Result, error) {
	var res Result
	added, err := r.SyncVersions(ctx, p, tags, models.VersionTag)
	if err != nil {
		return res, err
	}
	res.Added = append(res.Added, added...)
	added, err = r.SyncVersions(ctx, p, branches, models.VersionBranch)
	if err != nil {
		return res, err
	}
	res.Added = append(res.Added, added...)

	all := make([]vcs.Version, 0, len(tags)+len(branches))
	all = append(all, tags...)
	all = append(all, branches...)
	if res.Deleted, err = r.DeleteVersions(ctx, p, all); err != nil {
		return res, err
	}
	stable, err := r.UpdateStable(ctx, p)
	if err != nil {
		return res, err
	}
	if stable != nil {
		res.Stable = stable.Identifier
	}
	return res, nil
}

// EnsureLatest creates the synthetic "latest" version tracking identifier,
// or repoints an existing machine-managed one. A user branch named latest
// is left alone.
func (r *Reconciler) EnsureLatest(ctx context.Context, p *models.Project, identifier string) (*models.Version, error) {
	return r.ensureMachine(ctx, p, models.LatestSlug, identifier, models.VersionBranch)
}

// UpdateStable points the synthetic "stable" version at the newest release.
// It returns nil when no version qualifies or when a user-owned stable
// version exists.
func (r *Reconciler) UpdateStable(ctx context.Context, p *models.Project) (*models.Version, error) {
	existing, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	target, ok := versioning.StableCandidate(existing)
	if !ok {
		return nil, nil
	}
	return r.ensureMachine(ctx, p, models.StableSlug, target.Identifier, target.Type)
}

func (r *Reconciler) ensureMachine(ctx context.Context, p *models.Project, slugName, identifier string, vtype models.VersionType) (*models.Version, error) {
	existing, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if v.Slug != slugName {
			continue
		}
		if !v.Machine {
			return nil, nil
		}
		if v.Identifier == identifier && v.Type == vtype {
			return v, nil
		}
		v.Identifier, v.Type = identifier, vtype
		if err := r.store.UpdateVersion(ctx, v); err != nil {
			return nil, err
		}
		slog.Info("synthetic version moved", logfields.Project(p.Slug), logfields.Version(slugName),
			slog.String("identifier", identifier))
		return v, nil
	}
	v := &models.Version{
		ProjectID:   p.ID,
		Slug:        slugName,
		Identifier:  identifier,
		VerboseName: slugName,
		Type:        vtype,
		Active:      true,
		Machine:     true,
		Privacy:     defaultPrivacy(p),
	}
	if err := r.store.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

func defaultPrivacy(p *models.Project) models.PrivacyLevel {
	if p.Privacy.Valid() {
		return p.Privacy
	}
	return models.PrivacyPublic
}
