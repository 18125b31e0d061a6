package vcs

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
	"git.home.luguber.info/inful/rtdbuild/internal/metrics"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/runner"
)

// base holds what every backend shares: the tool name, the command runner
// and the environment overrides applied to each invocation.
type base struct {
	kind models.RepoType
	tool string
	opts Options
	env  map[string]string
}

func newBase(kind models.RepoType, tool string, opts Options) base {
	if opts.Runner == nil {
		opts.Runner = runner.NewLocal()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	return base{kind: kind, tool: tool, opts: opts, env: map[string]string{}}
}

// ensureDir creates the working directory so commands have somewhere to run.
func (b *base) ensureDir() error {
	if err := os.MkdirAll(b.opts.WorkingDir, 0o750); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "create working directory").
			WithContext("path", b.opts.WorkingDir).
			Build()
	}
	return nil
}

// purge removes and recreates the working directory.
func (b *base) purge() error {
	if err := os.RemoveAll(b.opts.WorkingDir); err != nil {
		return errors.WrapError(err, errors.CategoryFileSystem, "remove working directory").
			WithContext("path", b.opts.WorkingDir).
			Build()
	}
	return b.ensureDir()
}

// moved logs and reports a checkout whose recorded remote is not the
// configured one. An empty remote could not be read and is kept.
func (b *base) moved(remote string, matches bool) bool {
	if remote == "" || matches {
		return false
	}
	slog.Warn("checkout points at a different remote, recloning",
		logfields.Path(b.opts.WorkingDir),
		logfields.RepoURL(b.opts.RepoURL),
		slog.String("origin", remote))
	return true
}

// run invokes the backend's tool with args. op labels the command in metrics.
func (b *base) run(ctx context.Context, op string, args ...string) runner.Result {
	return b.runEnv(ctx, op, nil, args...)
}

func (b *base) runEnv(ctx context.Context, op string, extra map[string]string, args ...string) runner.Result {
	cmd := runner.NewCommand(b.opts.WorkingDir, b.tool, args...)
	for k, v := range b.env {
		cmd = cmd.WithEnv(k, v)
	}
	for k, v := range extra {
		cmd = cmd.WithEnv(k, v)
	}
	start := time.Now()
	res := b.opts.Runner.Run(ctx, cmd)
	b.opts.Metrics.ObserveVCSCommand(string(b.kind), op, time.Since(start), res.OK())
	slog.Debug("vcs command",
		logfields.RepoType(string(b.kind)),
		logfields.Command(res.Command),
		logfields.ExitCode(res.ExitCode))
	return res
}

// required runs a step whose failure aborts the import.
func (b *base) required(ctx context.Context, op string, args ...string) (runner.Result, error) {
	res := b.run(ctx, op, args...)
	if !res.OK() {
		return res, b.importFailed(op, res)
	}
	return res, nil
}

// recoverable runs a best-effort step; failures are logged and swallowed.
func (b *base) recoverable(ctx context.Context, op string, args ...string) runner.Result {
	res := b.run(ctx, op, args...)
	if !res.OK() {
		slog.Warn("vcs step failed, continuing",
			logfields.RepoType(string(b.kind)),
			logfields.RepoURL(b.opts.RepoURL),
			logfields.Command(res.Command),
			logfields.ExitCode(res.ExitCode),
			slog.String("stderr", strings.TrimSpace(res.Stderr)))
	}
	return res
}

func (b *base) importFailed(op string, res runner.Result) error {
	msg := "failed to " + op + " repository"
	if s := strings.TrimSpace(res.Stderr); s != "" {
		msg += ": " + firstLine(s)
	}
	return errors.ImportError(msg).
		WithContext("repo_url", b.opts.RepoURL).
		WithContext("repo_type", string(b.kind)).
		WithContext("exit_code", res.ExitCode).
		WithContext("command", res.Command).
		Build()
}

// listFailed wraps a failed listing command.
func (b *base) listFailed(what string, res runner.Result) error {
	return errors.VCSError("failed to list "+what).
		WithContext("repo_url", b.opts.RepoURL).
		WithContext("exit_code", res.ExitCode).
		WithContext("stderr", strings.TrimSpace(res.Stderr)).
		Build()
}

func (b *base) version(identifier, name string) Version {
	return Version{Repository: b.opts.RepoURL, Identifier: identifier, VerboseName: name}
}

// branchOr returns the configured default branch, or fallback.
func (b *base) branchOr(fallback string) string {
	if b.opts.DefaultBranch != "" {
		return b.opts.DefaultBranch
	}
	return fallback
}

// ExitCode extracts the exit_code context from an import failure, or 0.
func ExitCode(err error) int {
	ce, ok := errors.AsClassified(err)
	if !ok {
		return 0
	}
	if v, ok := ce.Context().Get("exit_code"); ok {
		if code, ok := v.(int); ok {
			return code
		}
	}
	return 0
}

// IsImportFailure reports whether err came from a required VCS step.
func IsImportFailure(err error) bool {
	return errors.HasCategory(err, errors.CategoryImport)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// lines splits output into trimmed, non-empty lines.
func lines(out string) []string {
	var res []string
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			res = append(res, l)
		}
	}
	return res
}
