package builders

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// PluginSpec declares a command builder in a YAML file:
//
//	type: hugo
//	conf: none
//	command: ["hugo", "--destination", "{output}"]
//	output: public
//	publish: html
//
// Command arguments may use {project}, {version}, {checkout} and {output}.
type PluginSpec struct {
	Type    string   `yaml:"type"`
	Conf    string   `yaml:"conf"`
	Command []string `yaml:"command"`
	Output  string   `yaml:"output"`
	Publish string   `yaml:"publish"`
}

var publishTargets = map[string]bool{"html": true, "json": true, "pdf": true, "epub": true, "htmlzip": true}

func (p PluginSpec) validate() error {
	switch {
	case p.Type == "":
		return fmt.Errorf("plugin type is required")
	case len(p.Command) == 0:
		return fmt.Errorf("plugin %s: command is required", p.Type)
	case p.Output == "" || filepath.IsAbs(p.Output) || strings.HasPrefix(filepath.Clean(p.Output), ".."):
		return fmt.Errorf("plugin %s: output must be a relative path inside the checkout", p.Type)
	case !publishTargets[p.Publish]:
		return fmt.Errorf("plugin %s: unknown publish target %q", p.Type, p.Publish)
	case p.Conf != "" && p.Conf != "none" && p.Conf != "sphinx" && p.Conf != "mkdocs":
		return fmt.Errorf("plugin %s: unknown conf %q", p.Type, p.Conf)
	}
	return nil
}

// LoadPlugins reads every *.yaml and *.yml file in dir. A missing or empty
// dir yields no plugins.
func LoadPlugins(dir string) ([]PluginSpec, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	var specs []PluginSpec
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var spec PluginSpec
		if err := yaml.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", e.Name(), err)
		}
		if err := spec.validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs, nil
}

// Plugin runs a configured command and publishes its output directory.
type Plugin struct {
	env  Env
	spec PluginSpec
}

func pluginFactory(spec PluginSpec) Factory {
	return func(env Env) Builder { return &Plugin{env: env, spec: spec} }
}

func (p *Plugin) Type() string { return p.spec.Type }

// Clean reuses the Sphinx or MkDocs configuration step when asked to.
func (p *Plugin) Clean(ctx context.Context) Outcome {
	switch p.spec.Conf {
	case "sphinx":
		return (&Sphinx{env: p.env, variant: sphinxHTML}).Clean(ctx)
	case "mkdocs":
		return (&MkDocs{env: p.env}).Clean(ctx)
	}
	return Success("")
}

func (p *Plugin) output() string { return filepath.Join(p.env.Checkout, filepath.Clean(p.spec.Output)) }

func (p *Plugin) Build(ctx context.Context) Outcome {
	r := strings.NewReplacer(
		"{project}", p.env.Project.Slug,
		"{version}", p.env.Version.Slug,
		"{checkout}", p.env.Checkout,
		"{output}", p.output(),
	)
	args := make([]string, len(p.spec.Command))
	for i, a := range p.spec.Command {
		args[i] = r.Replace(a)
	}
	return fromResult(p.env.run(ctx, p.env.Checkout, args[0], args[1:]...))
}

func (p *Plugin) Move(context.Context) error {
	proj, v := p.env.Project.Slug, p.env.Version.Slug
	l := p.env.Layout
	var err error
	switch p.spec.Publish {
	case "html":
		err = publishDir(p.output(), l.HTML(proj, v))
	case "json":
		err = publishDir(p.output(), l.JSON(proj, v))
	case "htmlzip":
		err = zipDir(p.output(), l.Media("htmlzip", proj, v, "zip"), proj+"-"+v)
	default:
		var file string
		file, err = firstMatch(p.output(), "*."+p.spec.Publish, proj+"."+p.spec.Publish)
		if err == nil {
			dst := l.Media(p.spec.Publish, proj, v, p.spec.Publish)
			if err = os.MkdirAll(filepath.Dir(dst), 0o750); err == nil {
				err = publishFile(file, dst)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", p.spec.Type, err)
	}
	slog.Info("Moved build output", logfields.Project(proj), logfields.Version(v), logfields.DocType(p.spec.Type))
	return nil
}
