package syncer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// putter is the part of *s3.Client used for uploads.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads artifacts to a bucket under "<root name>/<relative path>".
type S3 struct {
	client      putter
	bucket      string
	roots       Roots
	concurrency int
}

// NewS3 builds a client for an S3 compatible endpoint with static
// credentials and path style addressing.
func NewS3(_ context.Context, cfg config.S3Config, roots Roots) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.ConfigError("s3 storage requires a bucket").Build()
	}
	client := s3.NewFromConfig(aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})
	return newS3(client, cfg.Bucket, roots, cfg.Concurrency), nil
}

func newS3(client putter, bucket string, roots Roots, concurrency int) *S3 {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &S3{client: client, bucket: bucket, roots: roots, concurrency: concurrency}
}

func (s *S3) Sync(ctx context.Context, root string) error {
	prefix, err := s.roots.Key(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "artifact missing").
			WithContext("path", root).
			Build()
	}
	if !info.IsDir() {
		return s.put(ctx, root, prefix)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	count := 0
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if !d.Type().IsRegular() {
			skipIrregular(p)
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		count++
		g.Go(func() error { return s.put(gctx, p, key) })
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if walkErr != nil {
		return errors.WrapError(walkErr, errors.CategoryFileSystem, "failed to walk artifact").
			WithContext("path", root).
			Build()
	}
	slog.Info("Uploaded artifact", logfields.Path(prefix), slog.Int("files", count))
	return nil
}

func (s *S3) put(ctx context.Context, file, key string) error {
	f, err := os.Open(filepath.Clean(file))
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()
	contentType := mime.TypeByExtension(filepath.Ext(file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType),
	}); err != nil {
		return errors.WrapError(err, errors.CategoryNetwork, "failed to upload artifact").
			WithContext("key", key).
			Retryable().
			Build()
	}
	return nil
}
