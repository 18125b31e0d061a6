// Package builders turns a version checkout into published documentation.
//
// Every builder runs the same three stages: Clean writes the tool
// configuration, Build invokes the tool, Move publishes the output. Clean
// and Build report tool failures as an Outcome rather than an error so the
// caller can record exit codes and captured output on the build.
package builders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/config"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
	"git.home.luguber.info/inful/rtdbuild/internal/workspace"
)

// Stage names a lifecycle step.
type Stage string

const (
	StageClean Stage = "clean"
	StageBuild Stage = "build"
	StageMove  Stage = "move"
)

// Outcome is the captured result of a stage.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (o Outcome) OK() bool { return o.ExitCode == 0 }

// Success is a passing Outcome carrying stdout.
func Success(stdout string) Outcome { return Outcome{Stdout: stdout} }

// Failure converts an error into a failing Outcome.
func Failure(stdout string, err error) Outcome {
	return Outcome{ExitCode: 1, Stdout: stdout, Stderr: err.Error()}
}

func fromResult(r runner.Result) Outcome {
	return Outcome{ExitCode: r.ExitCode, Stdout: r.Combined(), Stderr: r.Stderr}
}

// then appends next to o. The exit code is next's.
func (o Outcome) then(next Outcome) Outcome {
	return Outcome{
		ExitCode: next.ExitCode,
		Stdout:   joinOutput(o.Stdout, next.Stdout),
		Stderr:   joinOutput(o.Stderr, next.Stderr),
	}
}

func joinOutput(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case strings.HasSuffix(a, "\n"):
		return a + b
	}
	return a + "\n" + b
}

// Settings are the site-wide values injected into tool configuration.
type Settings struct {
	// Trusted projects keep their own conf.py and get the platform block
	// appended; others get a conf.py rendered from the safe template.
	Trusted      bool
	TemplateDir  string
	MediaURL     string
	Analytics    string
	PublicDomain string
}

// SettingsFor derives the settings for one project.
func SettingsFor(cfg *config.Config, projectSlug string) Settings {
	return Settings{
		Trusted:      cfg.IsTrusted(projectSlug),
		TemplateDir:  cfg.Builders.TemplateDir,
		MediaURL:     cfg.Builders.MediaURL,
		Analytics:    cfg.Builders.Analytics,
		PublicDomain: cfg.HTTP.PublicDomain,
	}
}

// Env is everything a builder needs for one (project, version) run.
type Env struct {
	Project  *models.Project
	Version  *models.Version
	Checkout string
	Layout   workspace.Layout
	Runner   runner.Runner
	Settings Settings
	// Versions are listed in the theme's version selector.
	Versions []*models.Version
	Commit   string
}

// bin resolves a tool, preferring the version's virtualenv.
func (e Env) bin(name string) string {
	if e.Project.UseVirtualenv {
		return e.Layout.EnvBin(e.Project.Slug, e.Version.Slug, name)
	}
	return name
}

func (e Env) run(ctx context.Context, dir, name string, args ...string) runner.Result {
	res := e.Runner.Run(ctx, runner.NewCommand(dir, name, args...))
	slog.Debug("builder command",
		logfields.Project(e.Project.Slug),
		logfields.Version(e.Version.Slug),
		logfields.Command(res.Command),
		logfields.ExitCode(res.ExitCode))
	return res
}

// Builder is one documentation tool and output format.
type Builder interface {
	Type() string
	Clean(ctx context.Context) Outcome
	Build(ctx context.Context) Outcome
	// Move publishes the build output. It must only be called after a
	// successful Build.
	Move(ctx context.Context) error
}

// Factory constructs a Builder for one run.
type Factory func(Env) Builder

// Run drives b through clean, build and move. A failing clean or build
// stops the run before anything is published.
func Run(ctx context.Context, b Builder, rec metrics.Recorder) (Outcome, error) {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	out := timed(rec, b.Type(), StageClean, func() Outcome { return b.Clean(ctx) })
	if !out.OK() {
		rec.IncStageResult(b.Type(), string(StageBuild), metrics.ResultSkipped)
		return out, nil
	}
	out = out.then(timed(rec, b.Type(), StageBuild, func() Outcome { return b.Build(ctx) }))
	if !out.OK() {
		rec.IncStageResult(b.Type(), string(StageMove), metrics.ResultSkipped)
		return out, nil
	}
	start := time.Now()
	err := b.Move(ctx)
	rec.ObserveStageDuration(b.Type(), string(StageMove), time.Since(start))
	if err != nil {
		rec.IncStageResult(b.Type(), string(StageMove), metrics.ResultFailed)
		return out, err
	}
	rec.IncStageResult(b.Type(), string(StageMove), metrics.ResultSuccess)
	return out, nil
}

func timed(rec metrics.Recorder, builder string, stage Stage, fn func() Outcome) Outcome {
	start := time.Now()
	out := fn()
	rec.ObserveStageDuration(builder, string(stage), time.Since(start))
	if out.OK() {
		rec.IncStageResult(builder, string(stage), metrics.ResultSuccess)
	} else {
		rec.IncStageResult(builder, string(stage), metrics.ResultFailed)
	}
	return out
}
