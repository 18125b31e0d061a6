package store

import (
	"context"
	"database/sql"
	stderrors "errors"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// CreateRedirect inserts r. A zero HTTPStatus defaults to 301.
func (s *Store) CreateRedirect(ctx context.Context, r *models.Redirect) error {
	switch r.Type {
	case models.RedirectPrefix, models.RedirectPage, models.RedirectExact,
		models.RedirectSphinxHTML, models.RedirectSphinxHTMLDir:
	default:
		return errors.ValidationError("unknown redirect type").WithContext("type", string(r.Type)).Build()
	}
	if r.HTTPStatus == 0 {
		r.HTTPStatus = 301
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO redirects (project_id, type, from_url, to_url,
		http_status, forced, position) VALUES (?,?,?,?,?,?,?)`,
		r.ProjectID, string(r.Type), r.FromURL, r.ToURL, r.HTTPStatus, boolInt(r.Force), r.Position)
	if err != nil {
		return storeErr(err, "insert redirect")
	}
	r.ID, err = res.LastInsertId()
	return err
}

// ListRedirects returns the rules of a project in evaluation order.
func (s *Store) ListRedirects(ctx context.Context, projectID int64) ([]models.Redirect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, type, from_url, to_url, http_status,
		forced, position FROM redirects WHERE project_id = ? ORDER BY position, id`, projectID)
	if err != nil {
		return nil, storeErr(err, "query redirects")
	}
	defer rows.Close()
	var out []models.Redirect
	for rows.Next() {
		var (
			r     models.Redirect
			rtype string
			force int
		)
		if err := rows.Scan(&r.ID, &r.ProjectID, &rtype, &r.FromURL, &r.ToURL, &r.HTTPStatus, &force, &r.Position); err != nil {
			return nil, storeErr(err, "scan redirect")
		}
		r.Type = models.RedirectType(rtype)
		r.Force = force == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateDomain maps a custom hostname to a project.
func (s *Store) CreateDomain(ctx context.Context, d *models.Domain) error {
	d.Domain = models.NormalizeDomain(d.Domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO domains (project_id, domain, canonical) VALUES (?, ?, ?)",
		d.ProjectID, d.Domain, boolInt(d.Canonical))
	if err != nil {
		return storeErr(err, "insert domain")
	}
	d.ID, err = res.LastInsertId()
	return err
}

// ProjectSlugForDomain resolves a custom hostname to a project slug.
func (s *Store) ProjectSlugForDomain(ctx context.Context, host string) (string, error) {
	host = models.NormalizeDomain(host)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var slug string
	err := s.db.QueryRowContext(ctx,
		"SELECT p.slug FROM domains d JOIN projects p ON p.id = d.project_id WHERE d.domain = ?", host).Scan(&slug)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", notFound("domain", host)
	}
	if err != nil {
		return "", storeErr(err, "query domain")
	}
	return slug, nil
}

// AddMaintainer grants username access to a project.
func (s *Store) AddMaintainer(ctx context.Context, projectID int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO maintainers (project_id, username) VALUES (?, ?)", projectID, username)
	if err != nil {
		return storeErr(err, "insert maintainer")
	}
	return nil
}

// IsMaintainer reports whether username has access to a project.
func (s *Store) IsMaintainer(ctx context.Context, projectID int64, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM maintainers WHERE project_id = ? AND username = ?", projectID, username).Scan(&n)
	if err != nil {
		return false, storeErr(err, "query maintainer")
	}
	return n > 0, nil
}
