package runner

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/logfields"
)

// Local runs commands on the host with os/exec.
type Local struct {
	// BaseEnv replaces os.Environ() when non-nil.
	BaseEnv []string
}

// NewLocal returns a Local runner inheriting the process environment.
func NewLocal() *Local { return &Local{} }

func (l *Local) Run(ctx context.Context, cmd Command) Result {
	start := time.Now()
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	base := l.BaseEnv
	if base == nil {
		base = os.Environ()
	}
	c.Env = mergeEnv(base, cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	res := Result{
		Command:  cmd.String(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			failed := startFailure(cmd, err, res.Duration)
			slog.Debug("Command failed to start", logfields.Command(res.Command), logfields.Path(cmd.Dir), logfields.Error(err))
			return failed
		}
		res.ExitCode = exitErr.ExitCode()
	}
	slog.Debug("Command finished",
		logfields.Command(res.Command),
		logfields.Path(cmd.Dir),
		logfields.ExitCode(res.ExitCode),
		logfields.DurationMS(float64(res.Duration.Milliseconds())))
	return res
}
