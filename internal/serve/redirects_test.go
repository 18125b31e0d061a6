package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
)

func TestMatchByType(t *testing.T) {
	p := &models.Project{Slug: "pip"}
	cases := []struct {
		name     string
		rule     models.Redirect
		filename string
		want     string
		match    bool
	}{
		{"prefix", models.Redirect{Type: models.RedirectPrefix, FromURL: "/en/latest/old/"}, "old/page.html", "/en/latest/page.html", true},
		{"prefix miss", models.Redirect{Type: models.RedirectPrefix, FromURL: "/en/latest/old/"}, "new/page.html", "", false},
		{"page", models.Redirect{Type: models.RedirectPage, FromURL: "/a.html", ToURL: "/b.html"}, "a.html", "/en/latest/b.html", true},
		{"page is exact", models.Redirect{Type: models.RedirectPage, FromURL: "/a.html", ToURL: "/b.html"}, "sub/a.html", "", false},
		{"exact", models.Redirect{Type: models.RedirectExact, FromURL: "/en/latest/a.html", ToURL: "/en/stable/a.html"}, "a.html", "/en/stable/a.html", true},
		{"exact rest", models.Redirect{Type: models.RedirectExact, FromURL: "/en/latest/old/$rest", ToURL: "/new/"}, "old/foo/bar.html", "/new/foo/bar.html", true},
		{"sphinx_html slash", models.Redirect{Type: models.RedirectSphinxHTML}, "guide/", "/en/latest/guide.html", true},
		{"sphinx_html index", models.Redirect{Type: models.RedirectSphinxHTML}, "guide/index.html", "/en/latest/guide.html", true},
		{"sphinx_html page", models.Redirect{Type: models.RedirectSphinxHTML}, "guide.html", "", false},
		{"sphinx_htmldir", models.Redirect{Type: models.RedirectSphinxHTMLDir}, "guide.html", "/en/latest/guide/", true},
		{"sphinx_htmldir index", models.Redirect{Type: models.RedirectSphinxHTMLDir}, "index.html", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule, to, ok := Match(p, []models.Redirect{tc.rule}, "en", "latest", tc.filename, false)
			assert.Equal(t, tc.match, ok)
			assert.Equal(t, tc.want, to)
			if ok {
				assert.Equal(t, 301, rule.HTTPStatus)
			}
		})
	}
}

func TestMatchRestOnRootPaths(t *testing.T) {
	p := &models.Project{Slug: "pip", SingleVersion: true}
	_, to, ok := Match(p, []models.Redirect{
		{Type: models.RedirectExact, FromURL: "/old/$rest", ToURL: "/new/", HTTPStatus: 302},
	}, "en", "latest", "old/foo/bar.html", false)
	assert.True(t, ok)
	assert.Equal(t, "/new/foo/bar.html", to)
}

func TestMatchForcedFirstThenOrder(t *testing.T) {
	p := &models.Project{Slug: "pip"}
	rules := []models.Redirect{
		{ID: 1, Type: models.RedirectPage, FromURL: "/a.html", ToURL: "/first.html"},
		{ID: 2, Type: models.RedirectPage, FromURL: "/a.html", ToURL: "/second.html"},
		{ID: 3, Type: models.RedirectPage, FromURL: "/a.html", ToURL: "/forced.html", Force: true},
	}
	rule, to, ok := Match(p, rules, "en", "latest", "a.html", false)
	assert.True(t, ok)
	assert.Equal(t, int64(3), rule.ID)
	assert.Equal(t, "/en/latest/forced.html", to)

	rule, _, ok = Match(p, rules[:2], "en", "latest", "a.html", false)
	assert.True(t, ok)
	assert.Equal(t, int64(1), rule.ID)

	_, _, ok = Match(p, rules[:2], "en", "latest", "a.html", true)
	assert.False(t, ok)
}

func TestMatchSkipsSelfRedirect(t *testing.T) {
	p := &models.Project{Slug: "pip"}
	_, _, ok := Match(p, []models.Redirect{
		{Type: models.RedirectExact, FromURL: "/en/latest/index.html", ToURL: "/en/latest/index.html"},
	}, "en", "latest", "index.html", false)
	assert.False(t, ok)
}
