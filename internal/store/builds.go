package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

const buildColumns = `id, project_id, COALESCE(version_id, 0), type, state, success, setup,
	setup_error, output, error, exit_code, commit_hash, builder, date, length_ms`

func scanBuild(r rowScanner) (*models.Build, error) {
	var (
		b            models.Build
		state        string
		success      int
		date, length int64
	)
	if err := r.Scan(&b.ID, &b.ProjectID, &b.VersionID, &b.Type, &state, &success, &b.Setup,
		&b.SetupError, &b.Output, &b.Error, &b.ExitCode, &b.Commit, &b.Builder, &date, &length); err != nil {
		return nil, err
	}
	b.State = models.BuildState(state)
	b.Success = success == 1
	b.Date = time.Unix(date, 0)
	b.Length = time.Duration(length) * time.Millisecond
	return &b, nil
}

// CreateBuild inserts b. b.ID must be set by the caller.
func (s *Store) CreateBuild(ctx context.Context, b *models.Build) error {
	if b.Date.IsZero() {
		b.Date = time.Now()
	}
	if b.State == "" {
		b.State = models.BuildTriggered
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO builds (id, project_id, version_id, type, state,
		success, setup, setup_error, output, error, exit_code, commit_hash, builder, date, length_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.ProjectID, nullableID(b.VersionID), b.Type, string(b.State), boolInt(b.Success),
		b.Setup, b.SetupError, b.Output, b.Error, b.ExitCode, b.Commit, b.Builder,
		unix(b.Date), b.Length.Milliseconds())
	if err != nil {
		return storeErr(err, "insert build")
	}
	return nil
}

// UpdateBuild writes every mutable column of b.
func (s *Store) UpdateBuild(ctx context.Context, b *models.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE builds SET state=?, success=?, setup=?, setup_error=?,
		output=?, error=?, exit_code=?, commit_hash=?, builder=?, length_ms=? WHERE id=?`,
		string(b.State), boolInt(b.Success), b.Setup, b.SetupError, b.Output, b.Error,
		b.ExitCode, b.Commit, b.Builder, b.Length.Milliseconds(), b.ID)
	if err != nil {
		return storeErr(err, "update build")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("build", b.ID)
	}
	return nil
}

// GetBuild loads a build by ID.
func (s *Store) GetBuild(ctx context.Context, id string) (*models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, err := scanBuild(s.db.QueryRowContext(ctx, "SELECT "+buildColumns+" FROM builds WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("build", id)
	}
	if err != nil {
		return nil, storeErr(err, "query build")
	}
	return b, nil
}

func (s *Store) queryBuilds(ctx context.Context, q string, args ...any) ([]*models.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, "SELECT "+buildColumns+" FROM builds "+q, args...)
	if err != nil {
		return nil, storeErr(err, "query builds")
	}
	defer rows.Close()
	var out []*models.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, storeErr(err, "scan build")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListBuilds returns the most recent builds of a project, newest first.
func (s *Store) ListBuilds(ctx context.Context, projectID int64, limit int) ([]*models.Build, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryBuilds(ctx, "WHERE project_id = ? ORDER BY date DESC, rowid DESC LIMIT ?", projectID, limit)
}

// ListUnfinishedBuilds returns builds started before cutoff that never
// reached the finished state.
func (s *Store) ListUnfinishedBuilds(ctx context.Context, cutoff time.Time) ([]*models.Build, error) {
	return s.queryBuilds(ctx, "WHERE state != ? AND date < ? ORDER BY date",
		string(models.BuildFinished), cutoff.Unix())
}

// AppendBuildEvent records a build state transition.
func (s *Store) AppendBuildEvent(ctx context.Context, buildID string, state models.BuildState, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO build_events (build_id, state, message, at) VALUES (?, ?, ?, ?)",
		buildID, string(state), message, time.Now().UnixMilli())
	if err != nil {
		return storeErr(err, "insert build event")
	}
	return nil
}

// ListBuildEvents returns the transitions of a build in order.
func (s *Store) ListBuildEvents(ctx context.Context, buildID string) ([]models.BuildEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, state, message, at FROM build_events WHERE build_id = ? ORDER BY id", buildID)
	if err != nil {
		return nil, storeErr(err, "query build events")
	}
	defer rows.Close()
	var out []models.BuildEvent
	for rows.Next() {
		var (
			e     models.BuildEvent
			state string
			at    int64
		)
		if err := rows.Scan(&e.ID, &e.BuildID, &state, &e.Message, &at); err != nil {
			return nil, storeErr(err, "scan build event")
		}
		e.State = models.BuildState(state)
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
