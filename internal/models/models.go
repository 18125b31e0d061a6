// Package models holds the persisted domain types: projects, versions,
// builds, redirects and domains.
package models

import (
	"strings"
	"time"
)

// RepoType selects a VCS backend.
type RepoType string

const (
	RepoGit       RepoType = "git"
	RepoHg        RepoType = "hg"
	RepoSvn       RepoType = "svn"
	RepoBzr       RepoType = "bzr"
	RepoLaunchpad RepoType = "launchpad"
)

// PrivacyLevel controls who may see a project or version.
type PrivacyLevel string

const (
	PrivacyPublic PrivacyLevel = "public"
	// PrivacyProtected versions are served to anyone holding the URL but are
	// not listed to users without project access.
	PrivacyProtected PrivacyLevel = "protected"
	PrivacyPrivate   PrivacyLevel = "private"
)

// Valid reports a known privacy level.
func (p PrivacyLevel) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyProtected, PrivacyPrivate:
		return true
	}
	return false
}

// VersionType is the VCS kind of a version.
type VersionType string

const (
	VersionBranch  VersionType = "branch"
	VersionTag     VersionType = "tag"
	VersionUnknown VersionType = "unknown"
)

// Synthetic versions managed by the platform rather than the repository.
const (
	LatestSlug = "latest"
	StableSlug = "stable"
)

// IsNonRepositoryVersion reports slugs never removed by reconciliation.
func IsNonRepositoryVersion(slug string) bool {
	return slug == LatestSlug || slug == StableSlug
}

// Documentation types stored on a project.
const (
	DocTypeSphinx           = "sphinx"
	DocTypeSphinxHTMLDir    = "sphinx_htmldir"
	DocTypeSphinxSingleHTML = "sphinx_singlehtml"
	DocTypeMkDocs           = "mkdocs"
	DocTypeAsciidoc         = "asciidoc"
)

// Project is a documentation source.
type Project struct {
	ID                int64
	Slug              string
	Name              string
	RepoURL           string
	RepoType          RepoType
	DefaultBranch     string
	DefaultVersion    string
	DocumentationType string
	// ConfPyFile is a checkout-relative path to conf.py; empty means search.
	ConfPyFile        string
	RequirementsFile  string
	InstallProject    bool
	PythonInterpreter string
	Privacy           PrivacyLevel
	Language          string
	// TranslationOf is the slug of the main-language project, if any.
	TranslationOf string
	UseVirtualenv bool
	SingleVersion bool
	AllowComments bool
	Skip          bool
	NumMajor      int
	NumMinor      int
	NumPoint      int
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// IsTranslation reports whether the project translates another project.
func (p *Project) IsTranslation() bool { return p.TranslationOf != "" }

// IsHTMLDir reports documentation types served as directory indexes.
func (p *Project) IsHTMLDir() bool {
	return p.DocumentationType == DocTypeSphinxHTMLDir || p.DocumentationType == DocTypeMkDocs
}

// IsSphinx reports Sphinx based documentation types.
func (p *Project) IsSphinx() bool { return strings.HasPrefix(p.DocumentationType, "sphinx") }

// IsMkDocs reports MkDocs based documentation types.
func (p *Project) IsMkDocs() bool { return strings.HasPrefix(p.DocumentationType, "mkdocs") }

// Version is one buildable unit of a project.
type Version struct {
	ID          int64
	ProjectID   int64
	Slug        string
	Identifier  string
	VerboseName string
	Type        VersionType
	Active      bool
	Built       bool
	Uploaded    bool
	// Machine marks versions created by the platform (latest, stable).
	Machine   bool
	Privacy   PrivacyLevel
	CreatedAt time.Time
}

// BuildState is a step in the build lifecycle.
type BuildState string

const (
	BuildTriggered  BuildState = "triggered"
	BuildCloning    BuildState = "cloning"
	BuildInstalling BuildState = "installing"
	BuildBuilding   BuildState = "building"
	BuildFinished   BuildState = "finished"
)

// Exit codes recorded on builds that did not reach a builder.
const (
	ExitImportFailed   = 404
	ExitLockContention = 423
	ExitStale          = 408
)

// Build is one execution record of a builder run.
type Build struct {
	ID         string
	ProjectID  int64
	VersionID  int64
	Type       string
	State      BuildState
	Success    bool
	Setup      string
	SetupError string
	Output     string
	Error      string
	ExitCode   int
	Commit     string
	Builder    string
	Date       time.Time
	Length     time.Duration
}

// Finished reports whether the build reached its terminal state.
func (b *Build) Finished() bool { return b.State == BuildFinished }

// BuildEvent is one appended state transition of a build.
type BuildEvent struct {
	ID      int64
	BuildID string
	State   BuildState
	Message string
	At      time.Time
}

// RedirectType selects the matching rule of a redirect.
type RedirectType string

const (
	RedirectPrefix        RedirectType = "prefix"
	RedirectPage          RedirectType = "page"
	RedirectExact         RedirectType = "exact"
	RedirectSphinxHTML    RedirectType = "sphinx_html"
	RedirectSphinxHTMLDir RedirectType = "sphinx_htmldir"
)

// Redirect is a project scoped redirect rule. Rules are evaluated in
// (Position, ID) order.
type Redirect struct {
	ID         int64
	ProjectID  int64
	Type       RedirectType
	FromURL    string
	ToURL      string
	HTTPStatus int
	Force      bool
	Position   int
}

// Domain maps a custom hostname to a project.
type Domain struct {
	ID        int64
	ProjectID int64
	Domain    string
	Canonical bool
}

// NormalizeDomain lowercases a hostname and strips a port.
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
