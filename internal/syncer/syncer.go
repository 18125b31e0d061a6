// Package syncer publishes finished artifacts from the build and media
// roots to where they are served from.
package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// Syncer publishes a file or directory below one of the artifact roots.
type Syncer interface {
	Sync(ctx context.Context, path string) error
}

// Roots names the artifact roots; the name prefixes every synced path.
type Roots map[string]string

// RootsFor returns the build and media roots of a layout.
func RootsFor(l workspace.Layout) Roots {
	return Roots{"builds": l.BuildRoot, "media": l.MediaRoot}
}

// Key maps path to "<root name>/<relative path>" in slash form.
func (r Roots) Key(path string) (string, error) {
	path = filepath.Clean(path)
	for name, root := range r {
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(filepath.Clean(root), path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if rel == "." {
			return name, nil
		}
		return name + "/" + filepath.ToSlash(rel), nil
	}
	return "", errors.ValidationError(fmt.Sprintf("%s is outside the artifact roots", path)).
		WithContext("path", path).
		Build()
}

// New returns the configured syncer.
func New(ctx context.Context, cfg config.StorageConfig, l workspace.Layout) (Syncer, error) {
	roots := RootsFor(l)
	switch cfg.Backend {
	case "", "local":
		return NewLocal(roots, cfg.Target), nil
	case "s3":
		return NewS3(ctx, cfg.S3, roots)
	}
	return nil, errors.ConfigError(fmt.Sprintf("unknown storage backend %q", cfg.Backend)).
		WithContext("backend", cfg.Backend).
		Build()
}
