package server

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/serve"
)

// hostRouting serves documentation directly when the request host belongs
// to a project, either as a subdomain of the public domain or as a custom
// domain. Other hosts fall through to the router.
func (s *Server) hostRouting(next http.Handler) http.Handler {
	if s.deps.Hosts == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slug, ok, err := s.deps.Hosts.ProjectSlug(r.Context(), r.Host)
		if err != nil {
			s.errs.WriteErrorResponse(w, r, err)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			s.errs.WriteErrorResponse(w, r, errors.ValidationError("method not allowed").
				WithContext("method", r.Method).
				Build())
			return
		}
		s.serveDocs(w, r, slug, r.URL.Path, "")
	})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "project")
	s.serveDocs(w, r, slug, "/"+chi.URLParam(r, "*"), "/docs/"+slug)
}

// serveDocs resolves urlPath and answers with a redirect or the file.
// Relative redirect targets are mounted under prefix.
func (s *Server) serveDocs(w http.ResponseWriter, r *http.Request, slug, urlPath, prefix string) {
	res, err := s.deps.Resolver.ResolvePath(r.Context(), slug, urlPath, s.user(r))
	if err != nil {
		s.errs.WriteErrorResponse(w, r, err)
		return
	}
	if res.Kind == serve.KindRedirect {
		loc := res.Location
		if strings.HasPrefix(loc, "/") {
			loc = prefix + loc
		}
		http.Redirect(w, r, loc, res.Status)
		return
	}

	f, err := os.Open(res.Path)
	if err != nil {
		s.errs.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryFileSystem, "failed to open page").Build())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		s.errs.WriteErrorResponse(w, r, errors.WrapError(err, errors.CategoryFileSystem, "failed to stat page").Build())
		return
	}
	if s.user(r) != "" {
		w.Header().Set("Cache-Control", "private")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
