package builders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/search"
)

const (
	mkdocsConfig = "mkdocs.yml"
	mkdocsData   = "readthedocs-data.js"
	mkdocsTheme  = "readthedocs"
)

// MkDocs builds HTML with mkdocs. With json set it harvests the Markdown
// sources into search pages instead.
type MkDocs struct {
	env  Env
	json bool
}

func newMkDocs(env Env) Builder     { return &MkDocs{env: env} }
func newMkDocsJSON(env Env) Builder { return &MkDocs{env: env, json: true} }

func (m *MkDocs) Type() string {
	if m.json {
		return "mkdocs_json"
	}
	return "mkdocs"
}

func (m *MkDocs) configPath() string { return filepath.Join(m.env.Checkout, mkdocsConfig) }

func (m *MkDocs) loadConfig() (map[string]any, error) {
	cfg := map[string]any{}
	raw, err := os.ReadFile(m.configPath())
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("problem parsing MkDocs YAML configuration: %w", err)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

// docsDir resolves docs_dir relative to the checkout, defaulting to docs/
// when it exists.
func (m *MkDocs) docsDir(cfg map[string]any) string {
	if d, ok := cfg["docs_dir"].(string); ok && d != "" {
		return d
	}
	if exists(filepath.Join(m.env.Checkout, "docs")) {
		return "docs"
	}
	return "."
}

// Clean fills in mkdocs.yml and writes the theme data script.
func (m *MkDocs) Clean(_ context.Context) Outcome {
	cfg, err := m.loadConfig()
	if err != nil {
		return Failure("", err)
	}
	docs := m.docsDir(cfg)
	cfg["docs_dir"] = docs
	if _, ok := cfg["site_name"]; !ok {
		cfg["site_name"] = m.env.Project.Name
	}
	if _, ok := cfg["theme"]; !ok {
		cfg["theme"] = mkdocsTheme
	}
	cfg["extra_javascript"] = appendUnique(cfg["extra_javascript"], mkdocsData)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return Failure("", err)
	}
	if err := os.WriteFile(m.configPath(), raw, 0o644); err != nil {
		return Failure("Unable to write "+mkdocsConfig, err)
	}
	data, err := m.themeData(docs)
	if err != nil {
		return Failure("", err)
	}
	if err := os.WriteFile(filepath.Join(m.env.Checkout, docs, mkdocsData), data, 0o644); err != nil {
		return Failure("Unable to write "+mkdocsData, err)
	}
	return Success("")
}

func appendUnique(existing any, item string) []any {
	var out []any
	if list, ok := existing.([]any); ok {
		out = list
	}
	for _, v := range out {
		if v == item {
			return out
		}
	}
	return append(out, item)
}

func (m *MkDocs) themeData(docs string) ([]byte, error) {
	p, v := m.env.Project, m.env.Version
	payload, err := json.Marshal(map[string]any{
		"project":       p.Slug,
		"version":       v.Slug,
		"language":      p.Language,
		"page":          nil,
		"theme":         mkdocsTheme,
		"builder":       "mkdocs",
		"docroot":       docs,
		"source_suffix": ".md",
		"api_host":      m.env.Settings.PublicDomain,
		"commit":        m.env.Commit,
	})
	if err != nil {
		return nil, err
	}
	return []byte("var READTHEDOCS_DATA = " + string(payload) + ";\n"), nil
}

func (m *MkDocs) siteDir() string { return filepath.Join(m.env.Checkout, "_build", "html") }
func (m *MkDocs) jsonDir() string { return filepath.Join(m.env.Checkout, "_build", "json") }

func (m *MkDocs) Build(ctx context.Context) Outcome {
	if m.json {
		return m.harvest()
	}
	return fromResult(m.env.run(ctx, m.env.Checkout, m.env.bin("mkdocs"),
		"build", "--clean", "--site-dir", filepath.Join("_build", "html")))
}

func (m *MkDocs) harvest() Outcome {
	cfg, err := m.loadConfig()
	if err != nil {
		return Failure("", err)
	}
	pages, err := search.HarvestMkDocs(filepath.Join(m.env.Checkout, m.docsDir(cfg)))
	if err != nil {
		return Failure("", err)
	}
	if err := search.Write(m.jsonDir(), pages); err != nil {
		return Failure("", err)
	}
	return Success(fmt.Sprintf("Indexed %d pages.", len(pages)))
}

func (m *MkDocs) Move(_ context.Context) error {
	p, v := m.env.Project.Slug, m.env.Version.Slug
	var err error
	if m.json {
		err = publishDir(m.jsonDir(), m.env.Layout.JSON(p, v))
	} else {
		err = publishDir(m.siteDir(), m.env.Layout.HTML(p, v))
	}
	if err != nil {
		return fmt.Errorf("%s: %w", m.Type(), err)
	}
	slog.Info("Moved build output", logfields.Project(p), logfields.Version(v), logfields.DocType(m.Type()))
	return nil
}
