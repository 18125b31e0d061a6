package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestHarvestSphinx(t *testing.T) {
	dir := t.TempDir()
	page, err := json.Marshal(map[string]string{
		"current_page_name": "install",
		"title":             "Installation &amp; <em>setup</em>",
		"body": `<div class="section"><h1>Installation<a class="headerlink" href="#x">¶</a></h1>
<p>Run <code>pip install</code> now.</p><script>ignored()</script>
<h2>Upgrading</h2><p>Use -U.</p></div>`,
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "install.fjson"), string(page))
	writeFile(t, filepath.Join(dir, "genindex.fjson"), `{"title":"Index","body":""}`)
	writeFile(t, filepath.Join(dir, "broken.fjson"), `{not json`)

	pages, err := HarvestSphinx(dir)
	require.NoError(t, err)
	require.Len(t, pages, 1)

	p := pages[0]
	assert.Equal(t, "install.html", p.Path)
	assert.Equal(t, "Installation & setup", p.Title)
	assert.Equal(t, []string{"Installation", "Upgrading"}, p.Headers)
	assert.Equal(t, "Installation Run pip install now. Upgrading Use -U.", p.Content)
	assert.NotEmpty(t, p.Fingerprint)
	assert.NotContains(t, p.Content, "ignored")
}

func TestHarvestMkDocs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.md"), "# Welcome\n\nHello *world*.\n")
	writeFile(t, filepath.Join(dir, "guide", "install.md"),
		"---\ntitle: Install Guide\n---\n# Installing\n\n## Requirements\n\n```\npip install x\n```\n")
	writeFile(t, filepath.Join(dir, ".hidden", "skip.md"), "# Hidden\n")
	writeFile(t, filepath.Join(dir, "img.png"), "binary")

	pages, err := HarvestMkDocs(dir)
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "", pages[0].Path)
	assert.Equal(t, "Welcome", pages[0].Title)
	assert.Equal(t, "Welcome Hello world .", pages[0].Content)

	assert.Equal(t, "guide/install/", pages[1].Path)
	assert.Equal(t, "Install Guide", pages[1].Title)
	assert.Equal(t, []string{"Installing", "Requirements"}, pages[1].Headers)
	assert.Contains(t, pages[1].Content, "pip install x")
}

func TestFingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "# A\n\none\n")
	first, err := HarvestMkDocs(dir)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, "a.md"), "# A\n\ntwo\n")
	second, err := HarvestMkDocs(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].Fingerprint, second[0].Fingerprint)
}

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	pages := []Page{{Path: "a/", Title: "A", Content: "x", Fingerprint: "f"}}
	require.NoError(t, Write(dir, pages))

	got, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, pages, got)
}

func TestLoadFallsBackToFJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "index.fjson"), `{"current_page_name":"index","title":"Home","body":"<p>hi</p>"}`)
	got, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "index.html", got[0].Path)
}

func TestPagePath(t *testing.T) {
	assert.Equal(t, "", pagePath("index.md"))
	assert.Equal(t, "a/", pagePath("a/index.md"))
	assert.Equal(t, "a/b/", pagePath("a/b.md"))
}

func TestNoopIndexer(t *testing.T) {
	assert.NoError(t, NoopIndexer{}.Index(context.Background(), Payload{}))
}
