package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
)

// Global context passed to subcommands.
type Global struct {
	Logger *slog.Logger
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"rtdbuild.yaml" env:"RTDBUILD_CONFIG"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log format (text or json); defaults to logging.format"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve        ServeCmd        `cmd:"" help:"Run the build daemon, webhook receiver and documentation server"`
	Build        BuildCmd        `cmd:"" help:"Build one version of a project in the foreground"`
	SyncVersions SyncVersionsCmd `cmd:"" name:"sync-versions" help:"Reconcile project versions with their repositories"`
	Import       ImportCmd       `cmd:"" help:"Register a project from its repository URL"`
	Resolve      ResolveCmd      `cmd:"" help:"Show what a documentation URL resolves to"`
	Cleanup      CleanupCmd      `cmd:"" help:"Finish builds that stopped reporting progress"`
}

// AfterApply runs after flag parsing; setup logging once.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	g.Logger = newLogger(c.LogFormat, "", c.Verbose)
	slog.SetDefault(g.Logger)
	return nil
}

// loadConfig reads the configuration file and reapplies logging from it.
// Flags win over the file.
func (c *CLI) loadConfig(g *Global) (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	format := c.LogFormat
	if format == "" {
		format = cfg.Logging.Format
	}
	g.Logger = newLogger(format, cfg.Logging.Level, c.Verbose)
	slog.SetDefault(g.Logger)
	return cfg, nil
}

func newLogger(format, level string, verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	if verbose {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
