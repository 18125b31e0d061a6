package builders

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var confTemplates = template.Must(template.New("conf").
	Funcs(template.FuncMap{"py": pyString, "pybool": pyBool}).
	ParseFS(templateFS, "templates/*.tmpl"))

const (
	blockBegin = "# -- rtdbuild begin --"
	blockEnd   = "# -- rtdbuild end --"
)

var templatesPathRe = regexp.MustCompile(`(?m)^templates_path\s*=\s*\[`)

// pyString renders s as a single quoted Python string literal.
func pyString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

type download struct {
	Kind string
	URL  string
}

type confData struct {
	Project      *models.Project
	Version      *models.Version
	Versions     []*models.Version
	Downloads    []download
	TemplateDir  string
	MediaURL     string
	Analytics    string
	Domain       string
	APIBase      string
	CanonicalURL string
	Copyright    string
	Commit       string
}

func newConfData(env Env) confData {
	d := confData{
		Project:     env.Project,
		Version:     env.Version,
		TemplateDir: env.Settings.TemplateDir,
		MediaURL:    env.Settings.MediaURL,
		Analytics:   env.Settings.Analytics,
		Domain:      env.Settings.PublicDomain,
		Copyright:   fmt.Sprintf("%d, %s", time.Now().Year(), env.Project.Name),
		Commit:      env.Commit,
	}
	for _, v := range env.Versions {
		if v.Active {
			d.Versions = append(d.Versions, v)
		}
	}
	if d.Domain != "" {
		d.APIBase = "https://" + d.Domain
		lang := env.Project.Language
		if lang == "" {
			lang = "en"
		}
		def := env.Project.DefaultVersion
		if def == "" {
			def = models.LatestSlug
		}
		d.CanonicalURL = fmt.Sprintf("https://%s.%s/%s/%s/", env.Project.Slug, d.Domain, lang, def)
	}
	if d.MediaURL != "" {
		base := strings.TrimSuffix(d.MediaURL, "/")
		for _, kind := range []string{"pdf", "htmlzip", "epub"} {
			d.Downloads = append(d.Downloads, download{
				Kind: kind,
				URL: fmt.Sprintf("%s/%s/%s/%s/%s.%s", base, kind,
					env.Project.Slug, env.Version.Slug, env.Project.Slug, workspace.MediaKinds[kind]),
			})
		}
	}
	return d
}

func render(name string, data confData) (string, error) {
	var buf bytes.Buffer
	if err := confTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// writeConf replaces path with a conf.py rendered from the safe template.
// The parent directory must exist.
func writeConf(path string, data confData) error {
	content, err := render("conf.py.tmpl", data)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// patchConf keeps the project's conf.py, adds the template directory to
// templates_path and appends the platform block. Patching twice replaces
// the earlier block.
func patchConf(path string, data confData) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := stripBlock(string(raw))
	if data.TemplateDir != "" && !strings.Contains(content, pyString(data.TemplateDir)) {
		content = templatesPathRe.ReplaceAllStringFunc(content, func(m string) string {
			return m + pyString(data.TemplateDir) + ", "
		})
	}
	block, err := render("rtd_block.tmpl", data)
	if err != nil {
		return err
	}
	content = strings.TrimRight(content, "\n") + "\n\n" + block
	return os.WriteFile(path, []byte(content), 0o644)
}

func stripBlock(content string) string {
	start := strings.Index(content, blockBegin)
	if start < 0 {
		return content
	}
	end := strings.Index(content[start:], blockEnd)
	if end < 0 {
		return content[:start]
	}
	end += start + len(blockEnd)
	return content[:start] + strings.TrimLeft(content[end:], "\n")
}
