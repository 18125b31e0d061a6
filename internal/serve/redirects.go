package serve

import (
	"slices"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

// restSuffix marks an exact rule that forwards everything after its prefix.
const restSuffix = "$rest"

// Match returns the first rule that redirects the page, with its target.
// Forced rules are tested before the others; within each group rules keep
// their (position, id) order. A rule that would redirect a page to itself
// does not match.
func Match(p *models.Project, rules []models.Redirect, lang, version, filename string, forcedOnly bool) (models.Redirect, string, bool) {
	full := FullPath(p, lang, version, filename)
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b models.Redirect) int {
		switch {
		case a.Force == b.Force:
			return 0
		case a.Force:
			return -1
		}
		return 1
	})
	for _, rule := range ordered {
		if forcedOnly && !rule.Force {
			continue
		}
		to, ok := target(p, rule, lang, version, strings.TrimPrefix(filename, "/"), full)
		if ok && to != full {
			if rule.HTTPStatus == 0 {
				rule.HTTPStatus = 301
			}
			return rule, to, true
		}
	}
	return models.Redirect{}, "", false
}

// target applies one rule. Prefix and exact rules look at the full path;
// page and sphinx rules look at the filename inside a version.
func target(p *models.Project, rule models.Redirect, lang, version, filename, full string) (string, bool) {
	switch rule.Type {
	case models.RedirectPrefix:
		if rule.FromURL == "" || !strings.HasPrefix(full, rule.FromURL) {
			return "", false
		}
		return FullPath(p, lang, version, full[len(rule.FromURL):]), true

	case models.RedirectPage:
		if filename != strings.TrimPrefix(rule.FromURL, "/") {
			return "", false
		}
		return FullPath(p, lang, version, rule.ToURL), true

	case models.RedirectExact:
		if prefix, ok := strings.CutSuffix(rule.FromURL, restSuffix); ok {
			if !strings.HasPrefix(full, prefix) {
				return "", false
			}
			return rule.ToURL + full[len(prefix):], true
		}
		return rule.ToURL, full == rule.FromURL

	case models.RedirectSphinxHTML:
		if page, ok := strings.CutSuffix(filename, "/index.html"); ok {
			return FullPath(p, lang, version, page+".html"), page != ""
		}
		if page, ok := strings.CutSuffix(filename, "/"); ok && page != "" {
			return FullPath(p, lang, version, page+".html"), true
		}

	case models.RedirectSphinxHTMLDir:
		if page, ok := strings.CutSuffix(filename, ".html"); ok && page != "" && page != "index" {
			page = strings.TrimSuffix(page, "/index")
			return FullPath(p, lang, version, page+"/"), true
		}
	}
	return "", false
}
