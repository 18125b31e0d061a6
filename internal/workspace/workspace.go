// Package workspace owns the on-disk layout shared by builders, the
// artifact syncer and the serving resolver:
//
//	<checkout_root>/<project>/checkouts/<version>/              working copy
//	<checkout_root>/<project>/envs/<version>/                   virtualenv
//	<build_root>/<project>/rtd-builds/<version>/                served HTML
//	<build_root>/<project>/json/<version>/                      search pages
//	<build_root>/<project>/translations/<lang>/<version>/       translation link
//	<media_root>/<kind>/<project>/<version>/<project>.<ext>     downloads
//
// It also hands out scratch directories that are removed after use.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Layout resolves project and version paths under the configured roots.
type Layout struct {
	CheckoutRoot string
	BuildRoot    string
	MediaRoot    string
}

// NewLayout reads the roots from configuration.
func NewLayout(p config.PathsConfig) Layout {
	return Layout{CheckoutRoot: p.CheckoutRoot, BuildRoot: p.BuildRoot, MediaRoot: p.MediaRoot}
}

func (l Layout) ProjectCheckouts(project string) string {
	return filepath.Join(l.CheckoutRoot, project)
}

// Checkout is the working copy for one version.
func (l Layout) Checkout(project, version string) string {
	return filepath.Join(l.CheckoutRoot, project, "checkouts", version)
}

// Env is the virtualenv for one version.
func (l Layout) Env(project, version string) string {
	return filepath.Join(l.CheckoutRoot, project, "envs", version)
}

// EnvBin returns the path of an executable inside the version's virtualenv.
func (l Layout) EnvBin(project, version, name string) string {
	return filepath.Join(l.Env(project, version), "bin", name)
}

func (l Layout) ProjectBuilds(project string) string {
	return filepath.Join(l.BuildRoot, project)
}

// HTML is where the served HTML tree of a version lives.
func (l Layout) HTML(project, version string) string {
	return filepath.Join(l.BuildRoot, project, "rtd-builds", version)
}

// JSON holds the search builder output of a version.
func (l Layout) JSON(project, version string) string {
	return filepath.Join(l.BuildRoot, project, "json", version)
}

// Translation is where a translation of project in lang is linked.
func (l Layout) Translation(project, lang, version string) string {
	return filepath.Join(l.BuildRoot, project, "translations", lang, version)
}

// MediaDir holds downloadable artifacts of one kind (pdf, epub, htmlzip).
func (l Layout) MediaDir(kind, project, version string) string {
	return filepath.Join(l.MediaRoot, kind, project, version)
}

// Media is the downloadable artifact path.
func (l Layout) Media(kind, project, version, ext string) string {
	return filepath.Join(l.MediaDir(kind, project, version), project+"."+ext)
}

// MediaKinds lists the downloadable artifact kinds and their extensions.
var MediaKinds = map[string]string{
	"pdf":     "pdf",
	"epub":    "epub",
	"htmlzip": "zip",
	"man":     "1",
}

// PrepareCheckout ensures the checkout directory of a version exists.
func (l Layout) PrepareCheckout(project, version string) (string, error) {
	dir := l.Checkout(project, version)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create checkout directory: %w", err)
	}
	return dir, nil
}

// RemoveProject deletes every directory belonging to project.
func (l Layout) RemoveProject(project string) error {
	dirs := []string{l.ProjectCheckouts(project), l.ProjectBuilds(project)}
	for kind := range MediaKinds {
		dirs = append(dirs, filepath.Join(l.MediaRoot, kind, project))
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("failed to remove %s: %w", d, err)
		}
	}
	slog.Info("Removed project files", logfields.Project(project))
	return nil
}

// Scratch is a temporary directory removed by Cleanup.
type Scratch struct {
	dir string
}

// NewScratch creates a timestamped scratch directory under parent, or the
// system temp directory when parent is empty.
func NewScratch(parent, prefix string) (*Scratch, error) {
	if parent == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create scratch parent: %w", err)
	}
	dir, err := os.MkdirTemp(parent, fmt.Sprintf("%s-%s-", prefix, time.Now().Format("20060102-150405")))
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	slog.Debug("Created scratch directory", logfields.Path(dir))
	return &Scratch{dir: dir}, nil
}

func (s *Scratch) Path() string { return s.dir }

// Subdir creates and returns a directory inside the scratch area.
func (s *Scratch) Subdir(name string) (string, error) {
	if s.dir == "" {
		return "", fmt.Errorf("scratch directory already cleaned up")
	}
	sub := filepath.Join(s.dir, name)
	if err := os.MkdirAll(sub, 0o750); err != nil {
		return "", fmt.Errorf("failed to create subdirectory: %w", err)
	}
	return sub, nil
}

// Cleanup removes the scratch directory. It is safe to call twice.
func (s *Scratch) Cleanup() error {
	if s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("failed to cleanup scratch directory: %w", err)
	}
	slog.Debug("Cleaned up scratch directory", logfields.Path(s.dir))
	s.dir = ""
	return nil
}
