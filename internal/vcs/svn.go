package vcs

import (
	"context"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// Svn drives subversion. When the repository URL points at a trunk, the
// parent is treated as a standard layout root and its tags/ directory is
// listed for tags.
type Svn struct {
	base
	baseURL      string
	supportsTags bool
}

func NewSvn(opts Options) *Svn {
	s := &Svn{base: newBase(models.RepoSvn, "svn", opts)}
	url := strings.TrimSuffix(opts.RepoURL, "/")
	if strings.HasSuffix(url, "/trunk") {
		s.supportsTags = true
		s.baseURL = strings.TrimSuffix(url, "/trunk")
	} else {
		s.baseURL = url
	}
	return s
}

func (s *Svn) SupportsTags() bool     { return s.supportsTags }
func (s *Svn) SupportsBranches() bool { return false }
func (s *Svn) FallbackBranch() string { return "/trunk/" }

// BaseURL returns the layout root the identifiers are relative to.
func (s *Svn) BaseURL() string { return s.baseURL }

func (s *Svn) Update(ctx context.Context) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	if res := s.run(ctx, "info", "info", "--show-item", "url"); res.OK() {
		url := strings.TrimSpace(res.Stdout)
		if !s.moved(url, s.owns(url)) {
			s.recoverable(ctx, "revert", "revert", "--recursive", ".")
			_, err := s.required(ctx, "update",
				"up", "--accept", "theirs-full", "--trust-server-cert", "--non-interactive")
			return err
		}
		if err := s.purge(); err != nil {
			return err
		}
	}
	_, err := s.required(ctx, "checkout", "checkout", "--quiet", s.opts.RepoURL, ".")
	return err
}

// owns reports whether a working copy URL lies under the layout root. A
// checkout switched to a tag still belongs to the project.
func (s *Svn) owns(url string) bool {
	url = strings.TrimSuffix(url, "/")
	return sameRemote(url, s.opts.RepoURL) || strings.HasPrefix(url+"/", s.baseURL+"/")
}

func (s *Svn) Checkout(ctx context.Context, identifier string) error {
	url := s.opts.RepoURL
	if identifier != "" || s.supportsTags {
		if identifier == "" {
			identifier = s.branchOr(s.FallbackBranch())
		}
		url = s.baseURL + identifier
	}
	if err := s.ensureDir(); err != nil {
		return err
	}
	if s.run(ctx, "info", "info").OK() {
		s.recoverable(ctx, "revert", "revert", "--recursive", ".")
		_, err := s.required(ctx, "checkout",
			"switch", "--ignore-ancestry", "--accept", "theirs-full", "--non-interactive", url)
		return err
	}
	_, err := s.required(ctx, "checkout", "checkout", "--quiet", url, ".")
	return err
}

func (s *Svn) Tags(ctx context.Context) ([]Version, error) {
	if !s.supportsTags {
		return nil, nil
	}
	res := s.run(ctx, "tags", "list", s.baseURL+"/tags/")
	if !res.OK() {
		return nil, s.listFailed("tags", res)
	}
	return s.parseTags(res.Stdout), nil
}

// parseTags reads `svn list` output where each tag is a directory entry.
func (s *Svn) parseTags(out string) []Version {
	var tags []Version
	for _, line := range lines(out) {
		name := strings.TrimSuffix(line, "/")
		if name == "" {
			continue
		}
		tags = append(tags, s.version("/tags/"+name+"/", name))
	}
	return tags
}

func (s *Svn) Branches(context.Context) ([]Version, error) { return nil, nil }

func (s *Svn) Commit(ctx context.Context) string {
	res := s.run(ctx, "info", "info", "--show-item", "revision")
	if !res.OK() {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}
