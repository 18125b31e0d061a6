package builders

import (
	"fmt"
	"log/slog"
	"sort"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Registry maps documentation types to builder factories. It is immutable;
// a configuration reload builds a new one.
type Registry struct {
	factories map[string]Factory
}

// builtins returns the factories shipped with the service.
func builtins() map[string]Factory {
	m := map[string]Factory{
		"mkdocs":      newMkDocs,
		"mkdocs_json": newMkDocsJSON,
		"asciidoc":    newAsciidoc,
		"sphinx_pdf":  newPDF,
	}
	for _, v := range []sphinxVariant{
		sphinxHTML, sphinxHTMLDir, sphinxSingleHTML, sphinxEPUB,
		sphinxSearch, sphinxLocalMedia, sphinxMan,
	} {
		m[v.key] = newSphinx(v)
	}
	return m
}

// NewRegistry registers the built-ins, then the overrides, then plugins.
// An override maps a type onto an already registered key. Plugins may
// replace built-ins.
func NewRegistry(overrides map[string]string, plugins []PluginSpec) (*Registry, error) {
	base := builtins()
	r := &Registry{factories: make(map[string]Factory, len(base)+len(overrides)+len(plugins))}
	for k, f := range base {
		r.factories[k] = f
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		target := overrides[k]
		f, ok := base[target]
		if !ok {
			return nil, errors.ConfigError(fmt.Sprintf("builder override %s points at unknown type %s", k, target)).
				WithContext("doc_type", k).
				Build()
		}
		r.factories[k] = f
	}
	for _, p := range plugins {
		if _, ok := r.factories[p.Type]; ok {
			slog.Info("Builder plugin replaces registered type", logfields.DocType(p.Type))
		}
		r.factories[p.Type] = pluginFactory(p)
	}
	return r, nil
}

// FromConfig builds the registry described by the builders section.
func FromConfig(cfg config.BuildersConfig) (*Registry, error) {
	plugins, err := LoadPlugins(cfg.PluginDir)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to load builder plugins").
			WithContext("plugin_dir", cfg.PluginDir).
			Build()
	}
	return NewRegistry(cfg.Overrides, plugins)
}

// Lookup returns the factory for docType. An unknown type is a not_found
// classified error, see IsUnknownBuilder.
func (r *Registry) Lookup(docType string) (Factory, error) {
	if f, ok := r.factories[docType]; ok {
		return f, nil
	}
	return nil, errors.NotFoundError(fmt.Sprintf("no builder registered for documentation type %q", docType)).
		WithContext("doc_type", docType).
		Build()
}

// New constructs the builder for docType.
func (r *Registry) New(docType string, env Env) (Builder, error) {
	f, err := r.Lookup(docType)
	if err != nil {
		return nil, err
	}
	return f(env), nil
}

func (r *Registry) Has(docType string) bool {
	_, ok := r.factories[docType]
	return ok
}

// Types lists the registered documentation types in order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsUnknownBuilder reports an error returned by Lookup for an unregistered
// documentation type.
func IsUnknownBuilder(err error) bool {
	ce, ok := errors.AsClassified(err)
	if !ok || !ce.IsCategory(errors.CategoryNotFound) {
		return false
	}
	_, has := ce.Context().Get("doc_type")
	return has
}
