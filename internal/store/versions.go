package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

const versionColumns = `id, project_id, slug, identifier, verbose_name, type, active, built,
	uploaded, machine, privacy_level, created_at`

func scanVersion(r rowScanner) (*models.Version, error) {
	var (
		v                                models.Version
		vtype, privacy                   string
		active, built, uploaded, machine int
		created                          int64
	)
	if err := r.Scan(&v.ID, &v.ProjectID, &v.Slug, &v.Identifier, &v.VerboseName, &vtype,
		&active, &built, &uploaded, &machine, &privacy, &created); err != nil {
		return nil, err
	}
	v.Type = models.VersionType(vtype)
	v.Privacy = models.PrivacyLevel(privacy)
	v.Active = active == 1
	v.Built = built == 1
	v.Uploaded = uploaded == 1
	v.Machine = machine == 1
	v.CreatedAt = time.Unix(created, 0)
	return &v, nil
}

// CreateVersion inserts v. The caller supplies a slug unique within the project.
func (s *Store) CreateVersion(ctx context.Context, v *models.Version) error {
	if v.Privacy == "" {
		v.Privacy = models.PrivacyPublic
	}
	if v.Type == "" {
		v.Type = models.VersionUnknown
	}
	v.CreatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO versions (project_id, slug, identifier,
		verbose_name, type, active, built, uploaded, machine, privacy_level, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		v.ProjectID, v.Slug, v.Identifier, v.VerboseName, string(v.Type), boolInt(v.Active),
		boolInt(v.Built), boolInt(v.Uploaded), boolInt(v.Machine), string(v.Privacy), v.CreatedAt.Unix())
	if err != nil {
		return storeErr(err, "insert version")
	}
	v.ID, err = res.LastInsertId()
	return err
}

// UpdateVersion writes the mutable columns of v. The slug never changes.
func (s *Store) UpdateVersion(ctx context.Context, v *models.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE versions SET identifier=?, verbose_name=?, type=?,
		active=?, built=?, uploaded=?, machine=?, privacy_level=? WHERE id=?`,
		v.Identifier, v.VerboseName, string(v.Type), boolInt(v.Active), boolInt(v.Built),
		boolInt(v.Uploaded), boolInt(v.Machine), string(v.Privacy), v.ID)
	if err != nil {
		return storeErr(err, "update version")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("version", v.Slug)
	}
	return nil
}

// UpdateVersionIdentifier re-points a version in place, keeping its slug and
// build history.
func (s *Store) UpdateVersionIdentifier(ctx context.Context, id int64, identifier string, vtype models.VersionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE versions SET identifier = ?, type = ?, machine = 0 WHERE id = ?",
		identifier, string(vtype), id)
	if err != nil {
		return storeErr(err, "update version identifier")
	}
	return nil
}

// SetVersionTypeByNames sets the type of every version of the project whose
// verbose name is in names.
func (s *Store) SetVersionTypeByNames(ctx context.Context, projectID int64, names []string, vtype models.VersionType) error {
	if len(names) == 0 {
		return nil
	}
	args := make([]any, 0, len(names)+2)
	args = append(args, string(vtype), projectID)
	for _, n := range names {
		args = append(args, n)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE versions SET type = ? WHERE project_id = ? AND machine = 0 AND verbose_name IN ("+placeholders+")",
		args...)
	if err != nil {
		return storeErr(err, "update version types")
	}
	return nil
}

// GetVersion loads a version by ID.
func (s *Store) GetVersion(ctx context.Context, id int64) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := scanVersion(s.db.QueryRowContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", "")
	}
	if err != nil {
		return nil, storeErr(err, "query version")
	}
	return v, nil
}

// GetVersionBySlug loads a version of a project by slug.
func (s *Store) GetVersionBySlug(ctx context.Context, projectID int64, slug string) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := scanVersion(s.db.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE project_id = ? AND slug = ?", projectID, slug))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", slug)
	}
	if err != nil {
		return nil, storeErr(err, "query version")
	}
	return v, nil
}

func (s *Store) queryVersions(ctx context.Context, where string, args ...any) ([]*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT "+versionColumns+" FROM versions WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, storeErr(err, "query versions")
	}
	defer rows.Close()
	var out []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storeErr(err, "scan version")
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListVersions returns every version of a project in creation order.
func (s *Store) ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error) {
	return s.queryVersions(ctx, "project_id = ?", projectID)
}

// VersionsForBranch returns versions tracking branch, matching both the bare
// name and remote-tracking forms of the identifier.
func (s *Store) VersionsForBranch(ctx context.Context, projectID int64, branch string) ([]*models.Version, error) {
	return s.queryVersions(ctx,
		"project_id = ? AND identifier IN (?, ?, ?)",
		projectID, branch, "origin/"+branch, "remotes/origin/"+branch)
}

// DeleteVersions removes the versions with the given IDs.
func (s *Store) DeleteVersions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM versions WHERE id IN ("+placeholders+")", args...); err != nil {
		return storeErr(err, "delete versions")
	}
	return nil
}
