package builders

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
)

// PDF renders LaTeX with Sphinx and compiles it with two pdflatex passes
// around makeindex.
type PDF struct {
	*Sphinx
}

func newPDF(env Env) Builder {
	return &PDF{Sphinx: &Sphinx{env: env, variant: sphinxLaTeX}}
}

func (p *PDF) Build(ctx context.Context) Outcome {
	out := p.Sphinx.Build(ctx)
	if !out.OK() {
		return out
	}
	latexDir := p.outputDir()
	texs, _ := filepath.Glob(filepath.Join(latexDir, "*.tex"))
	if len(texs) == 0 {
		return out.then(Failure("", errors.New("no LaTeX output found")))
	}
	sort.Strings(texs)
	pdflatex := []string{"-interaction=nonstopmode"}
	for _, tex := range texs {
		name := filepath.Base(tex)
		stem := strings.TrimSuffix(name, ".tex")

		out = out.then(fromResult(p.env.run(ctx, latexDir, "pdflatex", append(pdflatex, name)...)))
		if exists(filepath.Join(latexDir, stem+".idx")) {
			// makeindex failures only cost the index.
			idx := fromResult(p.env.run(ctx, latexDir, "makeindex", "-s", "python.ist", stem+".idx"))
			idx.ExitCode = 0
			out = out.then(idx)
		}
		out = out.then(fromResult(p.env.run(ctx, latexDir, "pdflatex", append(pdflatex, name)...)))

		// pdflatex exits nonzero on warnings; the PDF existing is what counts.
		if exists(filepath.Join(latexDir, stem+".pdf")) {
			out.ExitCode = 0
		} else if out.ExitCode == 0 {
			out.ExitCode = 1
		}
		if !out.OK() {
			return out
		}
	}
	return out
}
