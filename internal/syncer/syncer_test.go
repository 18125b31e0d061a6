package syncer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	ferrors "git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

func layout(t *testing.T) workspace.Layout {
	t.Helper()
	root := t.TempDir()
	return workspace.Layout{
		CheckoutRoot: filepath.Join(root, "co"),
		BuildRoot:    filepath.Join(root, "builds"),
		MediaRoot:    filepath.Join(root, "media"),
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestRootsKey(t *testing.T) {
	l := layout(t)
	roots := RootsFor(l)

	key, err := roots.Key(l.HTML("pip", "latest"))
	require.NoError(t, err)
	assert.Equal(t, "builds/pip/rtd-builds/latest", key)

	key, err = roots.Key(l.Media("pdf", "pip", "latest", "pdf"))
	require.NoError(t, err)
	assert.Equal(t, "media/pdf/pip/latest/pip.pdf", key)

	_, err = roots.Key(l.Checkout("pip", "latest"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestLocalMirrorsAndDropsStaleFiles(t *testing.T) {
	l := layout(t)
	target := filepath.Join(t.TempDir(), "web")
	s := NewLocal(RootsFor(l), target)

	html := l.HTML("pip", "latest")
	write(t, filepath.Join(html, "index.html"), "v1")
	write(t, filepath.Join(html, "old.html"), "old")
	require.NoError(t, s.Sync(t.Context(), html))
	assert.FileExists(t, filepath.Join(target, "builds", "pip", "rtd-builds", "latest", "old.html"))

	require.NoError(t, os.Remove(filepath.Join(html, "old.html")))
	write(t, filepath.Join(html, "index.html"), "v2")
	require.NoError(t, s.Sync(t.Context(), html))

	mirrored := filepath.Join(target, "builds", "pip", "rtd-builds", "latest")
	got, err := os.ReadFile(filepath.Join(mirrored, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))
	assert.NoFileExists(t, filepath.Join(mirrored, "old.html"))

	pdf := l.Media("pdf", "pip", "latest", "pdf")
	write(t, pdf, "%PDF")
	require.NoError(t, s.Sync(t.Context(), pdf))
	assert.FileExists(t, filepath.Join(target, "media", "pdf", "pip", "latest", "pip.pdf"))
}

func TestLocalWithoutTargetIsNoop(t *testing.T) {
	l := layout(t)
	assert.NoError(t, NewLocal(RootsFor(l), "").Sync(t.Context(), "/anywhere"))
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	fail    string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if key == f.fail {
		return nil, errors.New("SlowDown")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]string{}
		f.types = map[string]string{}
	}
	f.objects[key] = string(body)
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestS3UploadsTree(t *testing.T) {
	l := layout(t)
	html := l.HTML("pip", "latest")
	write(t, filepath.Join(html, "index.html"), "<h1>pip</h1>")
	write(t, filepath.Join(html, "_static", "app.css"), "body{}")
	write(t, filepath.Join(html, "objects.inv"), "inv")

	fake := &fakeS3{}
	s := newS3(fake, "docs", RootsFor(l), 2)
	require.NoError(t, s.Sync(t.Context(), html))

	assert.Equal(t, []string{
		"builds/pip/rtd-builds/latest/_static/app.css",
		"builds/pip/rtd-builds/latest/index.html",
		"builds/pip/rtd-builds/latest/objects.inv",
	}, fake.keys())
	assert.Equal(t, "<h1>pip</h1>", fake.objects["builds/pip/rtd-builds/latest/index.html"])
	assert.Contains(t, fake.types["builds/pip/rtd-builds/latest/index.html"], "text/html")
	assert.Equal(t, "application/octet-stream", fake.types["builds/pip/rtd-builds/latest/objects.inv"])
}

func TestS3UploadFailure(t *testing.T) {
	l := layout(t)
	pdf := l.Media("pdf", "pip", "latest", "pdf")
	write(t, pdf, "%PDF")

	s := newS3(&fakeS3{fail: "media/pdf/pip/latest/pip.pdf"}, "docs", RootsFor(l), 1)
	err := s.Sync(t.Context(), pdf)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNetwork))
	assert.True(t, ferrors.IsRetryable(err))
}

func TestSyncSkipsSymlinks(t *testing.T) {
	l := layout(t)
	html := l.HTML("pip", "latest")
	write(t, filepath.Join(html, "index.html"), "home")
	host := filepath.Join(t.TempDir(), "secret.txt")
	write(t, host, "host secret")
	require.NoError(t, os.Symlink(host, filepath.Join(html, "leak.html")))

	t.Run("local", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "web")
		require.NoError(t, NewLocal(RootsFor(l), target).Sync(t.Context(), html))
		mirrored := filepath.Join(target, "builds", "pip", "rtd-builds", "latest")
		assert.FileExists(t, filepath.Join(mirrored, "index.html"))
		assert.NoFileExists(t, filepath.Join(mirrored, "leak.html"))
	})

	t.Run("s3", func(t *testing.T) {
		fake := &fakeS3{}
		require.NoError(t, newS3(fake, "docs", RootsFor(l), 1).Sync(t.Context(), html))
		assert.Equal(t, []string{"builds/pip/rtd-builds/latest/index.html"}, fake.keys())
	})
}

func TestNewSelectsBackend(t *testing.T) {
	l := layout(t)
	s, err := New(t.Context(), config.StorageConfig{Backend: "local"}, l)
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	s, err = New(t.Context(), config.StorageConfig{Backend: "s3", S3: config.S3Config{Bucket: "docs", Region: "us-east-1"}}, l)
	require.NoError(t, err)
	assert.IsType(t, &S3{}, s)

	_, err = New(t.Context(), config.StorageConfig{Backend: "ftp"}, l)
	assert.Error(t, err)
}
