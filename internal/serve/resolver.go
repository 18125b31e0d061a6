// Package serve maps documentation requests onto built artifacts. It applies
// project redirect rules, version privacy and per documentation type
// filename normalization, and reports typed misses so callers can tell an
// unknown project from an unbuilt version or a missing page.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/versioning"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// Store is the persistence the resolver reads.
type Store interface {
	GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error)
	GetTranslation(ctx context.Context, parentSlug, language string) (*models.Project, error)
	GetVersionBySlug(ctx context.Context, projectID int64, slug string) (*models.Version, error)
	ListVersions(ctx context.Context, projectID int64) ([]*models.Version, error)
	ListRedirects(ctx context.Context, projectID int64) ([]models.Redirect, error)
	IsMaintainer(ctx context.Context, projectID int64, username string) (bool, error)
}

// Request identifies a page. Empty Lang and Version fall back to the
// project's language and default version.
type Request struct {
	Project  string
	Lang     string
	Version  string
	Filename string
	// User is the authenticated username, empty for anonymous requests.
	User string
}

// Kind tells a caller what to do with a Result.
type Kind string

const (
	KindRedirect Kind = "redirect"
	KindFile     Kind = "file"
	// KindNone answers a forced-only lookup that matched no rule.
	KindNone Kind = "none"
)

// Result is a resolved request: either a redirect or a file on disk.
type Result struct {
	Kind     Kind   `json:"kind"`
	Status   int    `json:"status"`
	Location string `json:"location,omitempty"`
	Path     string `json:"path,omitempty"`
	Project  string `json:"project"`
	Lang     string `json:"lang,omitempty"`
	Version  string `json:"version,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Resolver resolves documentation requests.
type Resolver struct {
	store    Store
	layout   workspace.Layout
	recorder metrics.Recorder
}

func NewResolver(store Store, layout workspace.Layout, rec metrics.Recorder) *Resolver {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Resolver{store: store, layout: layout, recorder: rec}
}

// Resolve runs a request through redirect rules, the privacy check and
// path resolution, in that order. Misses are not_found errors carrying a
// MissReason; privacy failures are auth errors.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	res, err := r.resolve(ctx, req)
	switch {
	case err == nil:
		r.recorder.IncResolve(string(res.Kind))
	case errors.HasCategory(err, errors.CategoryAuth):
		r.recorder.IncResolve("unauthorized")
	default:
		if reason, ok := MissReasonOf(err); ok {
			r.recorder.IncResolve(string(reason))
		}
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Result, error) {
	p, err := r.project(ctx, req)
	if err != nil {
		return nil, err
	}
	if !p.SingleVersion && req.Version == "" {
		lang := req.Lang
		if lang == "" {
			lang = p.Language
		}
		return &Result{
			Kind:     KindRedirect,
			Status:   http.StatusFound,
			Location: FullPath(p, lang, defaultVersion(p), ""),
			Project:  p.Slug,
			Lang:     lang,
		}, nil
	}
	req = withDefaults(p, req)

	if res, ok, err := r.redirect(ctx, p, req, false); err != nil || ok {
		return res, err
	}

	target := p
	if req.Lang != p.Language {
		target, err = r.store.GetTranslation(ctx, p.Slug, req.Lang)
		if err != nil {
			return nil, missOr(err, MissTranslation, req)
		}
	}
	v, err := r.store.GetVersionBySlug(ctx, target.ID, req.Version)
	if err != nil {
		return nil, missOr(err, MissVersion, req)
	}
	if !v.Active && !v.Uploaded {
		return nil, miss(MissVersion, req)
	}
	if err := r.authorize(ctx, p, target, v, req.User); err != nil {
		return nil, err
	}
	if !v.Built {
		return nil, miss(MissNotBuilt, req)
	}

	filename := NormalizeFilename(target.IsHTMLDir(), req.Filename)
	file, ok := r.locate(p, target, req.Lang, v.Slug, filename)
	if !ok {
		slog.Debug("Page not found", logfields.Project(p.Slug), logfields.Version(v.Slug), logfields.Path(filename))
		return nil, miss(MissPage, req)
	}
	return &Result{
		Kind:     KindFile,
		Status:   http.StatusOK,
		Path:     file,
		Project:  p.Slug,
		Lang:     req.Lang,
		Version:  v.Slug,
		Filename: filename,
	}, nil
}

// ResolvePath resolves a public URL path of the project slug, such as
// "/en/latest/install.html".
func (r *Resolver) ResolvePath(ctx context.Context, slugName, urlPath, user string) (*Result, error) {
	p, err := r.project(ctx, Request{Project: slugName})
	if err != nil {
		return nil, err
	}
	req := SplitPath(p, urlPath)
	req.User = user
	return r.Resolve(ctx, req)
}

// Redirect evaluates only a project's redirect rules. With forcedOnly set,
// rules without the force flag are skipped.
func (r *Resolver) Redirect(ctx context.Context, req Request, forcedOnly bool) (*Result, bool, error) {
	p, err := r.project(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return r.redirect(ctx, p, withDefaults(p, req), forcedOnly)
}

func (r *Resolver) redirect(ctx context.Context, p *models.Project, req Request, forcedOnly bool) (*Result, bool, error) {
	rules, err := r.store.ListRedirects(ctx, p.ID)
	if err != nil {
		return nil, false, err
	}
	rule, to, ok := Match(p, rules, req.Lang, req.Version, req.Filename, forcedOnly)
	if !ok {
		return nil, false, nil
	}
	slog.Debug("Redirect matched", logfields.Project(p.Slug),
		slog.String("type", string(rule.Type)), slog.String("from", rule.FromURL), slog.String("to", to))
	return &Result{
		Kind:     KindRedirect,
		Status:   rule.HTTPStatus,
		Location: to,
		Project:  p.Slug,
		Lang:     req.Lang,
		Version:  req.Version,
		Filename: req.Filename,
	}, true, nil
}

func (r *Resolver) project(ctx context.Context, req Request) (*models.Project, error) {
	p, err := r.store.GetProjectBySlug(ctx, req.Project)
	if err != nil {
		return nil, missOr(err, MissProject, req)
	}
	return p, nil
}

// authorize lets anyone see public and protected docs. Private projects and
// versions need a maintainer of the serving project or of its parent.
func (r *Resolver) authorize(ctx context.Context, parent, target *models.Project, v *models.Version, user string) error {
	if target.Privacy != models.PrivacyPrivate && v.Privacy != models.PrivacyPrivate {
		return nil
	}
	ok, err := r.isMaintainer(ctx, user, target, parent)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return errors.AuthError(fmt.Sprintf("version %s of %s is private", v.Slug, target.Slug)).
		WithContext("project", target.Slug).
		WithContext("version", v.Slug).
		Build()
}

func (r *Resolver) isMaintainer(ctx context.Context, user string, projects ...*models.Project) (bool, error) {
	if user == "" {
		return false, nil
	}
	for _, p := range projects {
		ok, err := r.store.IsMaintainer(ctx, p.ID, user)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// locate finds filename in the served tree. Translations are served from
// the parent's translations directory and fall back to the translation's
// own output.
func (r *Resolver) locate(parent, target *models.Project, lang, version, filename string) (string, bool) {
	roots := []string{r.layout.HTML(parent.Slug, version)}
	if target != parent {
		roots = []string{
			r.layout.Translation(parent.Slug, lang, version),
			r.layout.HTML(target.Slug, version),
		}
	}
	for _, root := range roots {
		file := filepath.Join(root, filepath.FromSlash(filename))
		if info, err := os.Stat(file); err == nil && !info.IsDir() && servable(root, file) {
			return file, true
		}
	}
	return "", false
}

// servable reports whether file, with symlinks resolved, is still inside
// root. root itself may be a link, as translation trees are.
func servable(root, file string) bool {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return false
	}
	realFile, err := filepath.EvalSymlinks(file)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(realRoot, realFile)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		slog.Warn("Refusing to serve file outside the build output", logfields.Path(file))
		return false
	}
	return true
}

// Versions lists the active versions of a project visible to user, limited
// by the project's version window. Protected and private versions are only
// listed for maintainers.
func (r *Resolver) Versions(ctx context.Context, slugName, user string) ([]*models.Version, error) {
	p, err := r.store.GetProjectBySlug(ctx, slugName)
	if err != nil {
		return nil, missOr(err, MissProject, Request{Project: slugName})
	}
	maintainer, err := r.isMaintainer(ctx, user, p)
	if err != nil {
		return nil, err
	}
	if p.Privacy == models.PrivacyPrivate && !maintainer {
		return nil, errors.AuthError(fmt.Sprintf("project %s is private", p.Slug)).
			WithContext("project", p.Slug).
			Build()
	}
	all, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	// The window only bounds releases; branches and synthetic versions are
	// always listed.
	var named, releases []*models.Version
	for _, v := range all {
		if !v.Active {
			continue
		}
		if v.Privacy != models.PrivacyPublic && v.Privacy != "" && !maintainer {
			continue
		}
		if _, ok := versioning.Parse(v.VerboseName); ok {
			releases = append(releases, v)
		} else {
			named = append(named, v)
		}
	}
	return append(named, versioning.Window(releases, versioning.PolicyFor(p))...), nil
}

// Compare reports whether version is the highest public release of a
// project.
func (r *Resolver) Compare(ctx context.Context, slugName, version string) (versioning.Comparison, error) {
	p, err := r.store.GetProjectBySlug(ctx, slugName)
	if err != nil {
		return versioning.Comparison{}, missOr(err, MissProject, Request{Project: slugName})
	}
	versions, err := r.store.ListVersions(ctx, p.ID)
	if err != nil {
		return versioning.Comparison{}, err
	}
	if v, err := r.store.GetVersionBySlug(ctx, p.ID, version); err == nil {
		version = v.VerboseName
	}
	return versioning.Compare(p.Slug, versions, version), nil
}

// FullPath is the public URL path of a page.
func FullPath(p *models.Project, lang, version, filename string) string {
	filename = strings.TrimPrefix(filename, "/")
	if p.SingleVersion {
		return "/" + filename
	}
	return "/" + lang + "/" + version + "/" + filename
}

// SplitPath splits a public URL path into language, version and filename.
// Single version projects serve every path from their default version.
func SplitPath(p *models.Project, urlPath string) Request {
	req := Request{Project: p.Slug}
	rest := strings.TrimPrefix(urlPath, "/")
	if p.SingleVersion {
		req.Filename = rest
		return req
	}
	req.Lang, rest, _ = strings.Cut(rest, "/")
	req.Version, req.Filename, _ = strings.Cut(rest, "/")
	return req
}

// NormalizeFilename maps a requested filename onto the file a builder
// wrote. Directory requests get index.html; directory style builders also
// get it for extensionless pages outside the static asset folders.
func NormalizeFilename(htmlDir bool, filename string) string {
	clean := strings.TrimPrefix(path.Clean("/"+filename), "/")
	if filename == "" || strings.HasSuffix(filename, "/") {
		return path.Join(clean, "index.html")
	}
	if htmlDir && path.Ext(clean) == "" && !isAsset(clean) {
		return clean + "/index.html"
	}
	return clean
}

func isAsset(filename string) bool {
	return strings.HasPrefix(filename, "_static/") ||
		strings.HasPrefix(filename, "_images/") ||
		path.Base(filename) == "objects.inv"
}

func defaultVersion(p *models.Project) string {
	if p.DefaultVersion != "" {
		return p.DefaultVersion
	}
	return models.LatestSlug
}

func withDefaults(p *models.Project, req Request) Request {
	if p.SingleVersion {
		req.Lang = p.Language
		req.Version = defaultVersion(p)
	}
	if req.Lang == "" {
		req.Lang = p.Language
	}
	if req.Version == "" {
		req.Version = defaultVersion(p)
	}
	return req
}
