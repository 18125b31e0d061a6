package config

import "time"

const (
	defaultCheckoutRoot = "./var/checkouts"
	defaultBuildRoot    = "./var/user_builds"
	defaultMediaRoot    = "./var/media"
)

// ApplyDefaults fills unset fields. It is safe to call more than once.
func (c *Config) ApplyDefaults() {
	if c.Paths.CheckoutRoot == "" {
		c.Paths.CheckoutRoot = defaultCheckoutRoot
	}
	if c.Paths.BuildRoot == "" {
		c.Paths.BuildRoot = defaultBuildRoot
	}
	if c.Paths.MediaRoot == "" {
		c.Paths.MediaRoot = defaultMediaRoot
	}
	if c.Database.Path == "" {
		c.Database.Path = "./var/rtdbuild.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8000"
	}
	if c.HTTP.PublicDomain == "" {
		c.HTTP.PublicDomain = "readthedocs.localhost"
	}
	if c.HTTP.TrustedUserHeader == "" {
		c.HTTP.TrustedUserHeader = "X-Forwarded-User"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 100
	}
	if c.Queue.Retry.Backoff == "" {
		c.Queue.Retry.Backoff = string(RetryBackoffFixed)
	}
	if c.Queue.Retry.InitialDelay <= 0 {
		// Lock contention retries after five minutes.
		c.Queue.Retry.InitialDelay = 5 * time.Minute
	}
	if c.Queue.Retry.MaxDelay <= 0 {
		c.Queue.Retry.MaxDelay = 30 * time.Minute
	}
	if c.Queue.Retry.MaxRetries == 0 {
		c.Queue.Retry.MaxRetries = 3
	}
	if c.Lock.Backend == "" {
		if c.Redis.Addr != "" {
			c.Lock.Backend = "redis"
		} else {
			c.Lock.Backend = "local"
		}
	}
	if c.Lock.Wait <= 0 {
		c.Lock.Wait = 5 * time.Second
	}
	if c.Lock.MaxAge <= 0 {
		c.Lock.MaxAge = 30 * time.Minute
	}
	if c.Lock.Poll <= 0 {
		c.Lock.Poll = 250 * time.Millisecond
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = 10 * time.Minute
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "rtdbuild"
	}
	if c.NATS.StatusBucket == "" {
		c.NATS.StatusBucket = "rtdbuild-build-status"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "us-east-1"
	}
	if c.Storage.S3.Concurrency <= 0 {
		c.Storage.S3.Concurrency = 8
	}
	if c.Docker.Image == "" {
		c.Docker.Image = "readthedocs/build:latest"
	}
	if c.Docker.Timeout <= 0 {
		c.Docker.Timeout = 15 * time.Minute
	}
	if c.Builders.MediaURL == "" {
		c.Builders.MediaURL = "/media/"
	}
	if len(c.Builders.Packages) == 0 {
		c.Builders.Packages = []string{"sphinx", "sphinx_rtd_theme", "mkdocs", "readthedocs-sphinx-ext"}
	}
	if c.Schedule.StaleBuildCleanup <= 0 {
		c.Schedule.StaleBuildCleanup = 10 * time.Minute
	}
	if c.Schedule.StaleAfter <= 0 {
		c.Schedule.StaleAfter = 3 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
