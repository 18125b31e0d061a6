package builders

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

var skipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true, ".bzr": true,
	"_build": true, "node_modules": true, ".tox": true, ".venv": true,
}

// findFiles returns every file called name under root, shallowest first.
func findFiles(root, name string) []string {
	var out []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			out = append(out, path)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], string(filepath.Separator)), strings.Count(out[j], string(filepath.Separator))
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}

// preferDoc picks the first path whose location relative to root mentions
// "doc", falling back to the first path.
func preferDoc(root string, paths []string) (string, bool) {
	if len(paths) == 0 {
		return "", false
	}
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(filepath.Dir(rel)), "doc") {
			return p, true
		}
	}
	return paths[0], true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// copyTree copies src into dst, creating dst. Symlinks are replaced by
// the file they point at when that file lies inside src; any other link is
// dropped so a build cannot publish files from elsewhere on the host.
func copyTree(src, dst string) error {
	realSrc, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type()&fs.ModeSymlink != 0:
			resolved, ok := linkedFile(realSrc, path)
			if !ok {
				return nil
			}
			return copyFile(resolved, target)
		case !d.Type().IsRegular():
			return nil
		default:
			return copyFile(path, target)
		}
	})
}

// linkedFile resolves the symlink at path and returns the regular file it
// points at if that file is below root.
func linkedFile(root, path string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil && isBelow(root, resolved) {
		if info, serr := os.Stat(resolved); serr == nil && info.Mode().IsRegular() {
			return resolved, true
		}
	}
	slog.Warn("Skipping symlink in build output", logfields.Path(path))
	return "", false
}

func isBelow(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
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
	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// publishDir replaces dst with a copy of src. The copy is staged next to
// dst and swapped in with renames so readers never see a partial tree.
func publishDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("build output missing: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("build output %s is not a directory", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	stage := dst + ".stage"
	prev := dst + ".prev"
	_ = os.RemoveAll(stage)
	if err := copyTree(src, stage); err != nil {
		_ = os.RemoveAll(stage)
		return fmt.Errorf("stage output: %w", err)
	}
	_ = os.RemoveAll(prev)
	if exists(dst) {
		if err := os.Rename(dst, prev); err != nil {
			_ = os.RemoveAll(stage)
			return fmt.Errorf("backup existing output: %w", err)
		}
	}
	if err := os.Rename(stage, dst); err != nil {
		if exists(prev) {
			_ = os.Rename(prev, dst)
		}
		return fmt.Errorf("promote output: %w", err)
	}
	if err := os.RemoveAll(prev); err != nil {
		slog.Warn("Failed to remove previous output", logfields.Path(prev), logfields.Error(err))
	}
	slog.Debug("Published directory", logfields.Path(dst))
	return nil
}

// publishFile copies src to dst through a temporary file and a rename.
func publishFile(src, dst string) error {
	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	slog.Debug("Published file", logfields.Path(dst))
	return nil
}

// zipDir archives src into dst with every entry below a top-level folder
// named root.
func zipDir(src, dst, root string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	f, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	realSrc, walkErr := filepath.EvalSymlinks(src)
	if walkErr == nil {
		walkErr = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			return zipEntry(zw, realSrc, src, path, d, root)
		})
	}
	closeErr := zw.Close()
	fileErr := f.Close()
	for _, e := range []error{walkErr, closeErr, fileErr} {
		if e != nil {
			_ = os.Remove(tmp)
			return e
		}
	}
	return os.Rename(tmp, dst)
}

// zipEntry adds the file at path to zw. Symlinks follow the copyTree rule.
func zipEntry(zw *zip.Writer, realSrc, src, path string, d fs.DirEntry, root string) error {
	file := path
	if d.Type()&fs.ModeSymlink != 0 {
		resolved, ok := linkedFile(realSrc, path)
		if !ok {
			return nil
		}
		file = resolved
	} else if !d.Type().IsRegular() {
		return nil
	}
	rel, err := filepath.Rel(src, path)
	if err != nil {
		return err
	}
	w, err := zw.Create(filepath.ToSlash(filepath.Join(root, rel)))
	if err != nil {
		return err
	}
	in, err := os.Open(filepath.Clean(file))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	_, err = io.Copy(w, in)
	return err
}

// firstMatch returns the first file in dir matching pattern, preferring
// preferred when it exists.
func firstMatch(dir, pattern, preferred string) (string, error) {
	if preferred != "" {
		if p := filepath.Join(dir, preferred); exists(p) {
			return p, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s found in %s", pattern, dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}
