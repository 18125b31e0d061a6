package builders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

var asciidocEntries = []string{"index.adoc", "index.asciidoc", "index.txt", "README.adoc"}

// Asciidoc renders a single index document to HTML with asciidoctor, or
// with the legacy asciidoc tool when asciidoctor is not installed.
type Asciidoc struct {
	env Env
}

func newAsciidoc(env Env) Builder { return &Asciidoc{env: env} }

func (a *Asciidoc) Type() string { return "asciidoc" }

func (a *Asciidoc) Clean(context.Context) Outcome { return Success("") }

func (a *Asciidoc) entry() (string, bool) {
	for _, name := range asciidocEntries {
		if p, ok := preferDoc(a.env.Checkout, findFiles(a.env.Checkout, name)); ok {
			return p, true
		}
	}
	return "", false
}

func (a *Asciidoc) outDir() string { return filepath.Join(a.env.Checkout, "_build", "html") }

func (a *Asciidoc) Build(ctx context.Context) Outcome {
	entry, ok := a.entry()
	if !ok {
		return Failure("", errors.New("no AsciiDoc index document found"))
	}
	if err := os.MkdirAll(a.outDir(), 0o750); err != nil {
		return Failure("", err)
	}
	rel, err := filepath.Rel(a.env.Checkout, entry)
	if err != nil {
		return Failure("", err)
	}
	target := filepath.Join("_build", "html", "index.html")
	res := a.env.run(ctx, a.env.Checkout, "asciidoctor", "-b", "html5", "-o", target, rel)
	if !res.Missing() {
		return fromResult(res)
	}
	slog.Info("asciidoctor not available, trying asciidoc", logfields.Project(a.env.Project.Slug))
	return fromResult(a.env.run(ctx, a.env.Checkout, "asciidoc",
		"-b", "html5", "-a", "icons", "-a", "data-uri", "-o", target, rel))
}

func (a *Asciidoc) Move(context.Context) error {
	p, v := a.env.Project.Slug, a.env.Version.Slug
	if err := publishDir(a.outDir(), a.env.Layout.HTML(p, v)); err != nil {
		return fmt.Errorf("asciidoc: %w", err)
	}
	slog.Info("Moved build output", logfields.Project(p), logfields.Version(v), logfields.DocType(a.Type()))
	return nil
}
