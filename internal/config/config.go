package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
)

// Config is the rtdbuild configuration file.
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Queue    QueueConfig    `yaml:"queue"`
	Lock     LockConfig     `yaml:"lock"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Storage  StorageConfig  `yaml:"storage"`
	Docker   DockerConfig   `yaml:"docker"`
	Builders BuildersConfig `yaml:"builders"`
	Search   SearchConfig   `yaml:"search"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PathsConfig holds the on-disk roots.
type PathsConfig struct {
	CheckoutRoot string `yaml:"checkout_root"` // <checkout_root>/<project>/checkouts/<version>
	BuildRoot    string `yaml:"build_root"`    // served HTML trees
	MediaRoot    string `yaml:"media_root"`    // downloadable artifacts
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the serving and webhook listener.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	PublicDomain string `yaml:"public_domain"`
	// TrustedUserHeader carries the authenticated username set by the fronting proxy.
	TrustedUserHeader string `yaml:"trusted_user_header"`
}

type QueueConfig struct {
	Workers int         `yaml:"workers"`
	Size    int         `yaml:"size"`
	Retry   RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	Backoff      string        `yaml:"backoff"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	MaxRetries   int           `yaml:"max_retries"`
}

// LockConfig configures the per-project checkout lock.
type LockConfig struct {
	Backend string        `yaml:"backend"` // redis|local
	Wait    time.Duration `yaml:"wait"`
	MaxAge  time.Duration `yaml:"max_age"`
	Poll    time.Duration `yaml:"poll"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	StatusBucket  string `yaml:"status_bucket"`
}

type StorageConfig struct {
	Backend string `yaml:"backend"` // local|s3
	// Target mirrors artifacts into a second directory for the local
	// backend. Empty serves straight from the build and media roots.
	Target string   `yaml:"target"`
	S3     S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint    string `yaml:"endpoint"`
	Region      string `yaml:"region"`
	Bucket      string `yaml:"bucket"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Concurrency int    `yaml:"concurrency"`
}

type DockerConfig struct {
	Enabled bool          `yaml:"enabled"`
	Image   string        `yaml:"image"`
	Timeout time.Duration `yaml:"timeout"`
}

// BuildersConfig tunes the builder registry and build environment.
type BuildersConfig struct {
	// Overrides maps a documentation type onto another registered key.
	Overrides       map[string]string `yaml:"overrides"`
	PluginDir       string            `yaml:"plugin_dir"`
	TrustedProjects []string          `yaml:"trusted_projects"`
	HTMLOnly        []string          `yaml:"html_only"`
	PDF             bool              `yaml:"pdf"`
	EPUB            bool              `yaml:"epub"`
	LocalMedia      bool              `yaml:"localmedia"`
	TemplateDir     string            `yaml:"template_dir"`
	MediaURL        string            `yaml:"media_url"`
	Analytics       string            `yaml:"analytics_code"`
	Packages        []string          `yaml:"packages"`
}

type SearchConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ScheduleConfig struct {
	StaleBuildCleanup time.Duration `yaml:"stale_build_cleanup"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	VersionSync       time.Duration `yaml:"version_sync"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configPath, expanding ${VAR} references after loading .env files.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).Build()
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Fatal().Build()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with only defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// loadEnvFiles loads .env then .env.local; existing variables win.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			fmt.Fprintf(os.Stderr, "Note: could not load %s: %v\n", name, err)
		}
	}
}

// IsTrusted reports whether a project may keep its own Sphinx conf.py.
func (c *Config) IsTrusted(projectSlug string) bool {
	for _, s := range c.Builders.TrustedProjects {
		if s == projectSlug {
			return true
		}
	}
	return false
}

// IsHTMLOnly reports whether secondary formats are skipped for a project.
func (c *Config) IsHTMLOnly(projectSlug string) bool {
	for _, s := range c.Builders.HTMLOnly {
		if s == projectSlug {
			return true
		}
	}
	return false
}
