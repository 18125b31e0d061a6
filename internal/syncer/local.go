package syncer

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Local mirrors artifacts into target. With an empty target the roots are
// served directly and Sync does nothing.
type Local struct {
	roots  Roots
	target string
}

func NewLocal(roots Roots, target string) *Local {
	return &Local{roots: roots, target: target}
}

func (l *Local) Sync(ctx context.Context, path string) error {
	if l.target == "" {
		return nil
	}
	key, err := l.roots.Key(path)
	if err != nil {
		return err
	}
	dst := filepath.Join(l.target, filepath.FromSlash(key))
	info, err := os.Stat(path)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "artifact missing").
			WithContext("path", path).
			Build()
	}
	if info.IsDir() {
		// Stale pages from an earlier build must not survive.
		if err := os.RemoveAll(dst); err != nil {
			return errors.WrapError(err, errors.CategoryFileSystem, "failed to clear sync target").
				WithContext("path", dst).
				Build()
		}
	}
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case !d.Type().IsRegular():
			skipIrregular(p)
			return nil
		}
		return copyFile(p, target)
	})
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "failed to sync artifact").
			WithContext("path", path).
			Build()
	}
	slog.Debug("Synced artifact", logfields.Path(dst))
	return nil
}

// skipIrregular logs a symlink or device left in a published tree. Only
// regular files are synced, so a link cannot pull in files from outside
// the artifact roots.
func skipIrregular(path string) {
	slog.Warn("Skipping non-regular file in artifact", logfields.Path(path))
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
