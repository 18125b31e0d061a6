package builders

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// sphinxVariant captures what differs between the Sphinx builders.
type sphinxVariant struct {
	key string
	// builder is the sphinx-build -b argument.
	builder string
	// target is the Makefile target; empty forces sphinx-build.
	target string
	// outDir is the output directory below _build.
	outDir  string
	publish func(s *Sphinx, src string) error
}

// Sphinx builds any Sphinx output format.
type Sphinx struct {
	env     Env
	variant sphinxVariant
}

func newSphinx(v sphinxVariant) Factory {
	return func(env Env) Builder { return &Sphinx{env: env, variant: v} }
}

var (
	sphinxHTML = sphinxVariant{
		key: "sphinx", builder: "html", target: "html", outDir: "html", publish: publishHTML,
	}
	sphinxHTMLDir = sphinxVariant{
		key: "sphinx_htmldir", builder: "dirhtml", target: "dirhtml", outDir: "dirhtml", publish: publishHTML,
	}
	sphinxSingleHTML = sphinxVariant{
		key: "sphinx_singlehtml", builder: "singlehtml", target: "singlehtml", outDir: "singlehtml", publish: publishHTML,
	}
	sphinxEPUB = sphinxVariant{
		key: "sphinx_epub", builder: "epub", target: "epub", outDir: "epub", publish: publishEPUB,
	}
	sphinxSearch = sphinxVariant{
		key: "sphinx_search", builder: "json", target: "json", outDir: "json", publish: publishJSON,
	}
	sphinxLocalMedia = sphinxVariant{
		key: "sphinx_singlehtmllocalmedia", builder: "singlehtml", outDir: "localmedia", publish: publishLocalMedia,
	}
	sphinxMan = sphinxVariant{
		key: "sphinx_man", builder: "man", target: "man", outDir: "man", publish: publishMan,
	}
	sphinxLaTeX = sphinxVariant{
		key: "sphinx_pdf", builder: "latex", target: "latex", outDir: "latex", publish: publishPDF,
	}
)

func (s *Sphinx) Type() string { return s.variant.key }

// confFile locates conf.py. When none exists it returns where a fresh one
// should be written and false.
func (s *Sphinx) confFile() (string, bool) {
	root := s.env.Checkout
	if rel := s.env.Project.ConfPyFile; rel != "" {
		p := filepath.Join(root, filepath.Clean("/" + rel))
		return p, exists(p)
	}
	if p, ok := preferDoc(root, findFiles(root, "conf.py")); ok {
		return p, true
	}
	if docs := filepath.Join(root, "docs"); exists(docs) {
		return filepath.Join(docs, "conf.py"), false
	}
	return filepath.Join(root, "conf.py"), false
}

// Clean prepares conf.py. Trusted projects keep theirs with the platform
// block appended; everyone else gets the safe template.
func (s *Sphinx) Clean(_ context.Context) Outcome {
	path, found := s.confFile()
	data := newConfData(s.env)
	var err error
	if found && s.env.Settings.Trusted {
		err = patchConf(path, data)
	} else {
		if found {
			slog.Info("Replacing conf.py of untrusted project",
				logfields.Project(s.env.Project.Slug), logfields.Path(path))
		}
		err = writeConf(path, data)
	}
	if err != nil {
		slog.Warn("Unable to prepare conf.py",
			logfields.Project(s.env.Project.Slug), logfields.Path(path), logfields.Error(err))
		return Failure("Conf file not found.", err)
	}
	return Success("")
}

// workDir is where the tool runs: the directory holding the docs Makefile,
// or conf.py when there is none.
func (s *Sphinx) workDir() (string, bool) {
	if s.variant.target != "" {
		root := s.env.Checkout
		makefiles := findFiles(root, "Makefile")
		for _, mk := range makefiles {
			rel, _ := filepath.Rel(root, mk)
			if strings.Contains(strings.ToLower(filepath.Dir(rel)), "doc") {
				return filepath.Dir(mk), true
			}
		}
		conf, _ := s.confFile()
		if exists(filepath.Join(filepath.Dir(conf), "Makefile")) {
			return filepath.Dir(conf), true
		}
	}
	conf, _ := s.confFile()
	return filepath.Dir(conf), false
}

// outputDir is the tool output. Makefile targets share their name with
// outDir, so both invocations land in the same place.
func (s *Sphinx) outputDir() string {
	dir, _ := s.workDir()
	return filepath.Join(dir, "_build", s.variant.outDir)
}

func (s *Sphinx) Build(ctx context.Context) Outcome {
	dir, viaMake := s.workDir()
	if viaMake {
		args := []string{s.variant.target}
		if s.env.Project.UseVirtualenv {
			args = append(args, "SPHINXBUILD="+s.env.bin("sphinx-build"))
		}
		res := s.env.run(ctx, dir, "make", args...)
		if !res.Missing() {
			return fromResult(res)
		}
		slog.Warn("make not available, falling back to sphinx-build", logfields.Project(s.env.Project.Slug))
	}
	res := s.env.run(ctx, dir, s.env.bin("sphinx-build"),
		"-b", s.variant.builder,
		"-d", filepath.Join("_build", "doctrees-"+s.variant.outDir),
		".", filepath.Join("_build", s.variant.outDir))
	out := fromResult(res)
	if viaMake {
		return out
	}
	return Success("No Makefile found, building with sphinx-build.").then(out)
}

func (s *Sphinx) Move(_ context.Context) error {
	if err := s.variant.publish(s, s.outputDir()); err != nil {
		return fmt.Errorf("%s: %w", s.variant.key, err)
	}
	slog.Info("Moved build output",
		logfields.Project(s.env.Project.Slug),
		logfields.Version(s.env.Version.Slug),
		logfields.DocType(s.variant.key))
	return nil
}

func (s *Sphinx) slugs() (string, string) { return s.env.Project.Slug, s.env.Version.Slug }

func publishHTML(s *Sphinx, src string) error {
	p, v := s.slugs()
	return publishDir(src, s.env.Layout.HTML(p, v))
}

func publishJSON(s *Sphinx, src string) error {
	p, v := s.slugs()
	return publishDir(src, s.env.Layout.JSON(p, v))
}

func publishMan(s *Sphinx, src string) error {
	p, v := s.slugs()
	return publishDir(src, s.env.Layout.MediaDir("man", p, v))
}

func publishEPUB(s *Sphinx, src string) error {
	p, v := s.slugs()
	file, err := firstMatch(src, "*.epub", p+".epub")
	if err != nil {
		return err
	}
	dst := s.env.Layout.Media("epub", p, v, "epub")
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return publishFile(file, dst)
}

func publishPDF(s *Sphinx, src string) error {
	p, v := s.slugs()
	file, err := firstMatch(src, "*.pdf", p+".pdf")
	if err != nil {
		return err
	}
	dst := s.env.Layout.Media("pdf", p, v, "pdf")
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return publishFile(file, dst)
}

// publishLocalMedia zips the single page HTML with every entry below a
// <project>-<version> folder.
func publishLocalMedia(s *Sphinx, src string) error {
	p, v := s.slugs()
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("build output missing: %w", err)
	}
	return zipDir(src, s.env.Layout.Media("htmlzip", p, v, "zip"), p+"-"+v)
}
