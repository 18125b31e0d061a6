package builders

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
	"git.home.luguber.info/inful/rtdbuild/internal/runner/runnertest"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

func testEnv(t *testing.T, fake *runnertest.Fake) Env {
	t.Helper()
	root := t.TempDir()
	layout := workspace.Layout{
		CheckoutRoot: filepath.Join(root, "co"),
		BuildRoot:    filepath.Join(root, "builds"),
		MediaRoot:    filepath.Join(root, "media"),
	}
	checkout, err := layout.PrepareCheckout("pip", "latest")
	require.NoError(t, err)
	return Env{
		Project:  &models.Project{ID: 1, Slug: "pip", Name: "Pip", Language: "en"},
		Version:  &models.Version{ID: 1, Slug: "latest", VerboseName: "latest", Identifier: "origin/master", Active: true},
		Checkout: checkout,
		Layout:   layout,
		Runner:   fake,
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func read(t *testing.T, path string) string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(raw)
}

// emit writes file below the command's working directory.
func emit(file, content string) func(cmd runner.Command) {
	return func(cmd runner.Command) {
		p := filepath.Join(cmd.Dir, file)
		_ = os.MkdirAll(filepath.Dir(p), 0o750)
		_ = os.WriteFile(p, []byte(content), 0o600)
	}
}

type recordingBuilder struct {
	clean, build Outcome
	moveErr      error
	stages       []string
}

func (r *recordingBuilder) Type() string { return "recording" }
func (r *recordingBuilder) Clean(context.Context) Outcome {
	r.stages = append(r.stages, "clean")
	return r.clean
}
func (r *recordingBuilder) Build(context.Context) Outcome {
	r.stages = append(r.stages, "build")
	return r.build
}
func (r *recordingBuilder) Move(context.Context) error {
	r.stages = append(r.stages, "move")
	return r.moveErr
}

func TestRunStopsBeforeMoveOnFailure(t *testing.T) {
	tests := []struct {
		name   string
		b      *recordingBuilder
		stages []string
		code   int
	}{
		{"success", &recordingBuilder{}, []string{"clean", "build", "move"}, 0},
		{"clean fails", &recordingBuilder{clean: Outcome{ExitCode: 1}}, []string{"clean"}, 1},
		{"build fails", &recordingBuilder{build: Outcome{ExitCode: 2}}, []string{"clean", "build"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Run(t.Context(), tt.b, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.code, out.ExitCode)
			assert.Equal(t, tt.stages, tt.b.stages)
		})
	}
}

func TestRunReturnsMoveError(t *testing.T) {
	b := &recordingBuilder{moveErr: errors.New("disk full")}
	out, err := Run(t.Context(), b, nil)
	require.Error(t, err)
	assert.True(t, out.OK())
}

func TestSphinxFailedBuildPublishesNothing(t *testing.T) {
	fake := (&runnertest.Fake{}).On("sphinx-build", runnertest.Exit(2, "", "Exception occurred"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "project = 'pip'\n")
	write(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html"), "old")

	b, err := mustRegistry(t).New("sphinx", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.ExitCode)
	assert.Equal(t, "old", read(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html")))
}

func TestSphinxFallsBackToSphinxBuild(t *testing.T) {
	fake := (&runnertest.Fake{}).OnDo("sphinx-build -b html", runnertest.Exit(0, "build succeeded.", ""),
		emit("_build/html/index.html", "<h1>pip</h1>"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "project = 'pip'\n")

	b, err := mustRegistry(t).New("sphinx", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), out.Stderr)

	assert.False(t, fake.Ran("make"))
	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(env.Checkout, "docs"), calls[0].Dir)
	assert.Contains(t, out.Stdout, "No Makefile found")
	assert.Equal(t, "<h1>pip</h1>", read(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html")))
}

func TestSphinxPrefersDocsMakefile(t *testing.T) {
	fake := (&runnertest.Fake{}).OnDo("make dirhtml", runnertest.Exit(0, "", ""),
		emit("_build/dirhtml/index.html", "dir"))
	env := testEnv(t, fake)
	env.Project.UseVirtualenv = true
	write(t, filepath.Join(env.Checkout, "Makefile"), "all:\n")
	write(t, filepath.Join(env.Checkout, "docs", "Makefile"), "dirhtml:\n")
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "")

	b, err := mustRegistry(t).New("sphinx_htmldir", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	require.True(t, out.OK())

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(env.Checkout, "docs"), calls[0].Dir)
	assert.Equal(t, []string{"dirhtml", "SPHINXBUILD=" + env.Layout.EnvBin("pip", "latest", "sphinx-build")}, calls[0].Args)
	assert.FileExists(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html"))
}

func TestSphinxCleanUntrustedReplacesConf(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	env.Settings = Settings{MediaURL: "https://media.example.org", PublicDomain: "docs.example.org"}
	conf := filepath.Join(env.Checkout, "docs", "conf.py")
	write(t, conf, "import os; os.system('rm -rf /')\n")

	out := (&Sphinx{env: env, variant: sphinxHTML}).Clean(t.Context())
	require.True(t, out.OK())

	got := read(t, conf)
	assert.NotContains(t, got, "os.system")
	assert.Contains(t, got, "project = 'Pip'")
	assert.Contains(t, got, "'single_version': False")
	assert.Contains(t, got, "https://media.example.org/pdf/pip/latest/pip.pdf")
	assert.Contains(t, got, "'canonical_url': 'https://pip.docs.example.org/en/latest/'")
}

func TestSphinxCleanTrustedPatchesOnce(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	env.Settings = Settings{Trusted: true, TemplateDir: "/srv/templates"}
	conf := filepath.Join(env.Checkout, "doc", "conf.py")
	write(t, conf, "extensions = ['sphinx.ext.autodoc']\ntemplates_path = ['_templates']\n")

	s := &Sphinx{env: env, variant: sphinxHTML}
	require.True(t, s.Clean(t.Context()).OK())
	require.True(t, s.Clean(t.Context()).OK())

	got := read(t, conf)
	assert.Contains(t, got, "extensions = ['sphinx.ext.autodoc']")
	assert.Contains(t, got, "templates_path = ['/srv/templates', '_templates']")
	assert.Equal(t, 1, strings.Count(got, blockBegin))
	assert.Equal(t, 1, strings.Count(got, "/srv/templates"))
}

func TestSphinxCleanWritesMissingConf(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	require.NoError(t, os.MkdirAll(filepath.Join(env.Checkout, "docs"), 0o750))

	require.True(t, (&Sphinx{env: env, variant: sphinxHTML}).Clean(t.Context()).OK())
	assert.FileExists(t, filepath.Join(env.Checkout, "docs", "conf.py"))
}

func TestSphinxCleanWriteFailureIsOutcome(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	env.Checkout = filepath.Join(env.Checkout, "missing")

	out := (&Sphinx{env: env, variant: sphinxHTML}).Clean(t.Context())
	assert.Equal(t, 1, out.ExitCode)
	assert.Equal(t, "Conf file not found.", out.Stdout)
	assert.NotEmpty(t, out.Stderr)
}

func TestPDFTwoPassWithIndex(t *testing.T) {
	fake := (&runnertest.Fake{}).
		OnDo("sphinx-build -b latex", runnertest.Exit(0, "", ""), func(cmd runner.Command) {
			emit("_build/latex/pip.tex", "\\documentclass{manual}")(cmd)
			emit("_build/latex/pip.idx", "")(cmd)
		}).
		OnDo("pdflatex", runnertest.Exit(1, "LaTeX Warning: Reference undefined", ""), emit("pip.pdf", "%PDF"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "")

	b, err := mustRegistry(t).New("sphinx_pdf", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	require.True(t, out.OK(), out.Stdout)

	var tools []string
	for _, c := range fake.Calls() {
		tools = append(tools, c.Name)
	}
	assert.Equal(t, []string{"sphinx-build", "pdflatex", "makeindex", "pdflatex"}, tools)
	assert.Equal(t, "%PDF", read(t, env.Layout.Media("pdf", "pip", "latest", "pdf")))
}

func TestPDFWithoutOutputFails(t *testing.T) {
	fake := (&runnertest.Fake{}).
		OnDo("sphinx-build -b latex", runnertest.Exit(0, "", ""), emit("_build/latex/pip.tex", "x")).
		On("pdflatex", runnertest.Exit(1, "", "Fatal error"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "")

	out, err := Run(t.Context(), newPDF(env), nil)
	require.NoError(t, err)
	assert.False(t, out.OK())
	assert.NoFileExists(t, env.Layout.Media("pdf", "pip", "latest", "pdf"))
}

func TestLocalMediaZip(t *testing.T) {
	fake := (&runnertest.Fake{}).OnDo("sphinx-build -b singlehtml", runnertest.Exit(0, "", ""), func(cmd runner.Command) {
		emit("_build/localmedia/index.html", "single")(cmd)
		emit("_build/localmedia/_static/style.css", "body{}")(cmd)
	})
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "")
	write(t, filepath.Join(env.Checkout, "docs", "Makefile"), "html:\n")

	b, err := mustRegistry(t).New("sphinx_singlehtmllocalmedia", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.False(t, fake.Ran("make"))

	zr, err := zip.OpenReader(env.Layout.Media("htmlzip", "pip", "latest", "zip"))
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"pip-latest/_static/style.css", "pip-latest/index.html"}, names)
}

func TestEPUBAndSearchPublish(t *testing.T) {
	fake := (&runnertest.Fake{}).
		OnDo("sphinx-build -b epub", runnertest.Exit(0, "", ""), emit("_build/epub/Pip.epub", "epub")).
		OnDo("sphinx-build -b json", runnertest.Exit(0, "", ""), emit("_build/json/index.fjson", `{"current_page_name":"index","title":"Pip","body":"<p>x</p>"}`))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "conf.py"), "")
	reg := mustRegistry(t)

	for _, docType := range []string{"sphinx_epub", "sphinx_search"} {
		b, err := reg.New(docType, env)
		require.NoError(t, err)
		out, err := Run(t.Context(), b, nil)
		require.NoError(t, err, docType)
		require.True(t, out.OK(), docType)
	}
	assert.Equal(t, "epub", read(t, env.Layout.Media("epub", "pip", "latest", "epub")))
	pages, err := search.Load(env.Layout.JSON("pip", "latest"))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "index.html", pages[0].Path)
}

func TestMkDocsCleanAndBuild(t *testing.T) {
	fake := (&runnertest.Fake{}).OnDo("mkdocs build", runnertest.Exit(0, "", ""), emit("_build/html/index.html", "mk"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "mkdocs.yml"), "site_name: Custom\nextra_javascript:\n  - extra.js\n")
	write(t, filepath.Join(env.Checkout, "docs", "index.md"), "# Home\n")

	b, err := mustRegistry(t).New("mkdocs", env)
	require.NoError(t, err)
	out, err := Run(t.Context(), b, nil)
	require.NoError(t, err)
	require.True(t, out.OK())

	cfg := read(t, filepath.Join(env.Checkout, "mkdocs.yml"))
	assert.Contains(t, cfg, "site_name: Custom")
	assert.Contains(t, cfg, "docs_dir: docs")
	assert.Contains(t, cfg, "theme: readthedocs")
	assert.Contains(t, cfg, "- extra.js")
	assert.Contains(t, cfg, "- readthedocs-data.js")
	assert.Contains(t, read(t, filepath.Join(env.Checkout, "docs", mkdocsData)), `"project":"pip"`)
	assert.Equal(t, []string{"build", "--clean", "--site-dir", filepath.Join("_build", "html")}, fake.Calls()[0].Args)
	assert.FileExists(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html"))
}

func TestMkDocsCleanRejectsBadYAML(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	write(t, filepath.Join(env.Checkout, "mkdocs.yml"), "site_name: [unclosed\n")
	out := newMkDocs(env).Clean(t.Context())
	assert.False(t, out.OK())
	assert.Contains(t, out.Stderr, "MkDocs YAML")
}

func TestMkDocsJSONHarvests(t *testing.T) {
	fake := &runnertest.Fake{}
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "index.md"), "# Home\n\nWelcome.\n")
	write(t, filepath.Join(env.Checkout, "docs", "usage.md"), "# Usage\n")

	out, err := Run(t.Context(), newMkDocsJSON(env), nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.Contains(t, out.Stdout, "Indexed 2 pages.")
	assert.Empty(t, fake.Calls())

	pages, err := search.Load(env.Layout.JSON("pip", "latest"))
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestAsciidocFallsBackToLegacyTool(t *testing.T) {
	fake := (&runnertest.Fake{}).
		On("asciidoctor", runnertest.Exit(runner.StartFailure, "", "not found")).
		OnDo("asciidoc ", runnertest.Exit(0, "", ""), emit("_build/html/index.html", "adoc"))
	env := testEnv(t, fake)
	write(t, filepath.Join(env.Checkout, "docs", "index.adoc"), "= Pip\n")

	out, err := Run(t.Context(), newAsciidoc(env), nil)
	require.NoError(t, err)
	require.True(t, out.OK())
	assert.True(t, fake.Ran("asciidoc -b html5"))
	assert.Equal(t, "adoc", read(t, filepath.Join(env.Layout.HTML("pip", "latest"), "index.html")))
}

func TestAsciidocWithoutIndexFails(t *testing.T) {
	env := testEnv(t, &runnertest.Fake{})
	out := newAsciidoc(env).Build(t.Context())
	assert.False(t, out.OK())
}

func TestPublishDirReplacesPreviousTree(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	write(t, filepath.Join(dst, "stale.html"), "stale")
	write(t, filepath.Join(src, "index.html"), "new")

	require.NoError(t, publishDir(src, dst))
	assert.NoFileExists(t, filepath.Join(dst, "stale.html"))
	assert.Equal(t, "new", read(t, filepath.Join(dst, "index.html")))
	assert.NoDirExists(t, dst+".prev")
	assert.NoDirExists(t, dst+".stage")

	require.Error(t, publishDir(filepath.Join(root, "missing"), dst))
	assert.FileExists(t, filepath.Join(dst, "index.html"))
}

func TestPublishDirDropsLinksOutsideOutput(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	dst := filepath.Join(root, "dst")
	host := filepath.Join(t.TempDir(), "secret.txt")
	write(t, host, "host secret")
	write(t, filepath.Join(src, "index.html"), "home")
	require.NoError(t, os.Symlink(host, filepath.Join(src, "leak.html")))
	require.NoError(t, os.Symlink(filepath.Dir(host), filepath.Join(src, "leakdir")))
	require.NoError(t, os.Symlink("index.html", filepath.Join(src, "alias.html")))

	require.NoError(t, publishDir(src, dst))
	assert.NoFileExists(t, filepath.Join(dst, "leak.html"))
	assert.NoDirExists(t, filepath.Join(dst, "leakdir"))
	assert.Equal(t, "home", read(t, filepath.Join(dst, "alias.html")))

	info, err := os.Lstat(filepath.Join(dst, "alias.html"))
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
}

func TestZipDirDropsLinksOutsideOutput(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "src")
	host := filepath.Join(t.TempDir(), "secret.txt")
	write(t, host, "host secret")
	write(t, filepath.Join(src, "index.html"), "home")
	require.NoError(t, os.Symlink(host, filepath.Join(src, "leak.html")))

	dst := filepath.Join(root, "out.zip")
	require.NoError(t, zipDir(src, dst, "pip-latest"))

	zr, err := zip.OpenReader(dst)
	require.NoError(t, err)
	defer func() { _ = zr.Close() }()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"pip-latest/index.html"}, names)
}

func TestFindFilesPrefersDoc(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "conf.py"), "")
	write(t, filepath.Join(root, "documentation", "source", "conf.py"), "")
	write(t, filepath.Join(root, ".git", "conf.py"), "")
	write(t, filepath.Join(root, "_build", "conf.py"), "")

	files := findFiles(root, "conf.py")
	assert.Len(t, files, 2)
	got, ok := preferDoc(root, files)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "documentation", "source", "conf.py"), got)
}
