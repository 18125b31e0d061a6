// Package store persists projects, versions, builds, redirects and domains in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
)

// ErrNotFound is returned when a lookup matches no row. Compare with errors.Is.
var ErrNotFound = errors.NotFoundError("record not found").Build()

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the database at dbPath. ":memory:" gives a
// private in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

const schema = `
PRAGMA foreign_keys = ON;
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	repo_url TEXT NOT NULL,
	repo_type TEXT NOT NULL,
	default_branch TEXT NOT NULL DEFAULT '',
	default_version TEXT NOT NULL DEFAULT 'latest',
	documentation_type TEXT NOT NULL,
	conf_py_file TEXT NOT NULL DEFAULT '',
	requirements_file TEXT NOT NULL DEFAULT '',
	install_project INTEGER NOT NULL DEFAULT 0,
	python_interpreter TEXT NOT NULL DEFAULT 'python3',
	privacy_level TEXT NOT NULL DEFAULT 'public',
	language TEXT NOT NULL DEFAULT 'en',
	translation_of TEXT NOT NULL DEFAULT '',
	use_virtualenv INTEGER NOT NULL DEFAULT 0,
	single_version INTEGER NOT NULL DEFAULT 0,
	allow_comments INTEGER NOT NULL DEFAULT 0,
	skip INTEGER NOT NULL DEFAULT 0,
	num_major INTEGER NOT NULL DEFAULT 2,
	num_minor INTEGER NOT NULL DEFAULT 2,
	num_point INTEGER NOT NULL DEFAULT 2,
	created_at INTEGER NOT NULL,
	modified_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS versions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	slug TEXT NOT NULL,
	identifier TEXT NOT NULL,
	verbose_name TEXT NOT NULL,
	type TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 0,
	built INTEGER NOT NULL DEFAULT 0,
	uploaded INTEGER NOT NULL DEFAULT 0,
	machine INTEGER NOT NULL DEFAULT 0,
	privacy_level TEXT NOT NULL DEFAULT 'public',
	created_at INTEGER NOT NULL,
	UNIQUE(project_id, slug)
);
CREATE INDEX IF NOT EXISTS idx_versions_verbose ON versions(project_id, verbose_name);
CREATE TABLE IF NOT EXISTS builds (
	id TEXT PRIMARY KEY,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	version_id INTEGER REFERENCES versions(id) ON DELETE SET NULL,
	type TEXT NOT NULL,
	state TEXT NOT NULL,
	success INTEGER NOT NULL DEFAULT 0,
	setup TEXT NOT NULL DEFAULT '',
	setup_error TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	exit_code INTEGER NOT NULL DEFAULT 0,
	commit_hash TEXT NOT NULL DEFAULT '',
	builder TEXT NOT NULL DEFAULT '',
	date INTEGER NOT NULL,
	length_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_builds_project ON builds(project_id, date);
CREATE INDEX IF NOT EXISTS idx_builds_state ON builds(state, date);
CREATE TABLE IF NOT EXISTS build_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
	state TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_build_events_build ON build_events(build_id);
CREATE TABLE IF NOT EXISTS redirects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	from_url TEXT NOT NULL DEFAULT '',
	to_url TEXT NOT NULL DEFAULT '',
	http_status INTEGER NOT NULL DEFAULT 301,
	forced INTEGER NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS domains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	domain TEXT NOT NULL UNIQUE,
	canonical INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS maintainers (
	project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	username TEXT NOT NULL,
	PRIMARY KEY(project_id, username)
);
`

func (s *Store) initialize() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().Unix()
	}
	return t.Unix()
}

// notFound wraps ErrNotFound with the lookup that missed.
func notFound(kind, key string) error {
	return ErrNotFound.WithContext("kind", kind).WithContext("key", key)
}

// storeErr classifies a database failure.
func storeErr(err error, op string) error {
	return errors.WrapError(err, errors.CategoryStore, op).Build()
}

type rowScanner interface {
	Scan(dest ...any) error
}
