package config

import (
	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
)

// Validate checks enumerations and cross-field requirements.
func (c *Config) Validate() error {
	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.ValidationError("lock backend redis requires redis.addr").Build()
		}
	default:
		return errors.ValidationError("unsupported lock backend").
			WithContext("backend", c.Lock.Backend).Build()
	}

	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.ValidationError("storage backend s3 requires storage.s3.bucket").Build()
		}
	default:
		return errors.ValidationError("unsupported storage backend").
			WithContext("backend", c.Storage.Backend).Build()
	}

	if NormalizeRetryBackoff(c.Queue.Retry.Backoff) == "" {
		return errors.ValidationError("unsupported retry backoff mode").
			WithContext("backoff", c.Queue.Retry.Backoff).Build()
	}
	if c.Queue.Retry.MaxRetries < 0 {
		return errors.ValidationError("queue.retry.max_retries cannot be negative").Build()
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.ValidationError("unsupported logging format").
			WithContext("format", c.Logging.Format).Build()
	}

	for from, to := range c.Builders.Overrides {
		if from == "" || to == "" {
			return errors.ValidationError("builder override keys and targets must be non-empty").Build()
		}
	}
	return nil
}
