package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

const projectColumns = `id, slug, name, repo_url, repo_type, default_branch, default_version,
	documentation_type, conf_py_file, requirements_file, install_project, python_interpreter,
	privacy_level, language, translation_of, use_virtualenv, single_version, allow_comments,
	skip, num_major, num_minor, num_point, created_at, modified_at`

func scanProject(r rowScanner) (*models.Project, error) {
	var (
		p                                     models.Project
		install, venv, single, comments, skip int
		repoType, privacy                     string
		created, modified                     int64
	)
	err := r.Scan(&p.ID, &p.Slug, &p.Name, &p.RepoURL, &repoType, &p.DefaultBranch, &p.DefaultVersion,
		&p.DocumentationType, &p.ConfPyFile, &p.RequirementsFile, &install, &p.PythonInterpreter,
		&privacy, &p.Language, &p.TranslationOf, &venv, &single, &comments,
		&skip, &p.NumMajor, &p.NumMinor, &p.NumPoint, &created, &modified)
	if err != nil {
		return nil, err
	}
	p.RepoType = models.RepoType(repoType)
	p.Privacy = models.PrivacyLevel(privacy)
	p.InstallProject = install == 1
	p.UseVirtualenv = venv == 1
	p.SingleVersion = single == 1
	p.AllowComments = comments == 1
	p.Skip = skip == 1
	p.CreatedAt = time.Unix(created, 0)
	p.ModifiedAt = time.Unix(modified, 0)
	return &p, nil
}

func applyProjectDefaults(p *models.Project) {
	if p.Name == "" {
		p.Name = p.Slug
	}
	if p.DefaultVersion == "" {
		p.DefaultVersion = models.LatestSlug
	}
	if p.DocumentationType == "" {
		p.DocumentationType = models.DocTypeSphinx
	}
	if p.PythonInterpreter == "" {
		p.PythonInterpreter = "python3"
	}
	if p.Privacy == "" {
		p.Privacy = models.PrivacyPublic
	}
	if p.Language == "" {
		p.Language = "en"
	}
}

// CreateProject inserts p and sets its ID and timestamps.
func (s *Store) CreateProject(ctx context.Context, p *models.Project) error {
	if p.Slug == "" || p.RepoURL == "" || p.RepoType == "" {
		return errors.ValidationError("project requires slug, repo_url and repo_type").
			WithContext("slug", p.Slug).Build()
	}
	applyProjectDefaults(p)
	now := time.Now()
	p.CreatedAt, p.ModifiedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `INSERT INTO projects (slug, name, repo_url, repo_type,
		default_branch, default_version, documentation_type, conf_py_file, requirements_file,
		install_project, python_interpreter, privacy_level, language, translation_of,
		use_virtualenv, single_version, allow_comments, skip, num_major, num_minor, num_point,
		created_at, modified_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.Slug, p.Name, p.RepoURL, string(p.RepoType), p.DefaultBranch, p.DefaultVersion,
		p.DocumentationType, p.ConfPyFile, p.RequirementsFile, boolInt(p.InstallProject),
		p.PythonInterpreter, string(p.Privacy), p.Language, p.TranslationOf,
		boolInt(p.UseVirtualenv), boolInt(p.SingleVersion), boolInt(p.AllowComments), boolInt(p.Skip),
		p.NumMajor, p.NumMinor, p.NumPoint, now.Unix(), now.Unix())
	if err != nil {
		return storeErr(err, "insert project")
	}
	p.ID, err = res.LastInsertId()
	return err
}

// UpdateProject writes every mutable column of p.
func (s *Store) UpdateProject(ctx context.Context, p *models.Project) error {
	applyProjectDefaults(p)
	p.ModifiedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE projects SET name=?, repo_url=?, repo_type=?,
		default_branch=?, default_version=?, documentation_type=?, conf_py_file=?,
		requirements_file=?, install_project=?, python_interpreter=?, privacy_level=?,
		language=?, translation_of=?, use_virtualenv=?, single_version=?, allow_comments=?,
		skip=?, num_major=?, num_minor=?, num_point=?, modified_at=? WHERE id=?`,
		p.Name, p.RepoURL, string(p.RepoType), p.DefaultBranch, p.DefaultVersion,
		p.DocumentationType, p.ConfPyFile, p.RequirementsFile, boolInt(p.InstallProject),
		p.PythonInterpreter, string(p.Privacy), p.Language, p.TranslationOf,
		boolInt(p.UseVirtualenv), boolInt(p.SingleVersion), boolInt(p.AllowComments),
		boolInt(p.Skip), p.NumMajor, p.NumMinor, p.NumPoint, p.ModifiedAt.Unix(), p.ID)
	if err != nil {
		return storeErr(err, "update project")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("project", p.Slug)
	}
	return nil
}

func (s *Store) getProject(ctx context.Context, where string, arg any, key string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE "+where, arg)
	p, err := scanProject(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound("project", key)
	}
	if err != nil {
		return nil, storeErr(err, "query project")
	}
	return p, nil
}

// GetProject loads a project by ID.
func (s *Store) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	return s.getProject(ctx, "id = ?", id, "")
}

// GetProjectBySlug loads a project by slug.
func (s *Store) GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	return s.getProject(ctx, "slug = ?", slug, slug)
}

func (s *Store) queryProjects(ctx context.Context, where string, args ...any) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := "SELECT " + projectColumns + " FROM projects"
	if where != "" {
		q += " WHERE " + where
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY slug", args...)
	if err != nil {
		return nil, storeErr(err, "query projects")
	}
	defer rows.Close()
	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, storeErr(err, "scan project")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListProjects returns all projects ordered by slug.
func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return s.queryProjects(ctx, "")
}

// FindProjectsByRepo returns projects whose repository URL contains fragment.
func (s *Store) FindProjectsByRepo(ctx context.Context, fragment string) ([]*models.Project, error) {
	return s.queryProjects(ctx, "instr(repo_url, ?) > 0", fragment)
}

// ListTranslations returns projects translating parentSlug.
func (s *Store) ListTranslations(ctx context.Context, parentSlug string) ([]*models.Project, error) {
	return s.queryProjects(ctx, "translation_of = ?", parentSlug)
}

// GetTranslation returns the translation of parentSlug in language.
func (s *Store) GetTranslation(ctx context.Context, parentSlug, language string) (*models.Project, error) {
	projects, err := s.queryProjects(ctx, "translation_of = ? AND language = ?", parentSlug, language)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, notFound("translation", parentSlug+"/"+language)
	}
	return projects[0], nil
}

// DeleteProject removes a project and cascades to its versions, builds,
// redirects, domains and maintainers.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id); err != nil {
		return storeErr(err, "delete project")
	}
	return nil
}
