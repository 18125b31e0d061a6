package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.home.luguber.info/inful/rtdbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/rtdbuild/internal/models"
	"git.home.luguber.info/inful/rtdbuild/internal/orchestrator"
)

// stdout is where commands print their results.
var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Project string `arg:"" help:"Project slug"`
	Version string `short:"V" help:"Version slug" default:"latest"`
	Force   bool   `short:"f" help:"Rebuild even when the commit did not change"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	build, err := a.orch.UpdateDocs(ctx, orchestrator.Request{Project: b.Project, Version: b.Version, Force: b.Force})
	if err != nil {
		return err
	}
	return reportBuild(build)
}

// reportBuild prints the outcome and turns a failed build into an exit
// status.
func reportBuild(build *models.Build) error {
	if build == nil {
		_, err := fmt.Fprintln(stdout, "Nothing to build")
		return err
	}
	state := "passed"
	if !build.Success {
		state = "failed"
	}
	if _, err := fmt.Fprintf(stdout, "Build %s %s in %s (exit code %d)\n",
		build.ID, state, build.Length.Round(time.Millisecond), build.ExitCode); err != nil {
		return err
	}
	if build.Success {
		return nil
	}
	if build.Error != "" {
		_, _ = fmt.Fprintln(stdout, build.Error)
	}
	return errors.BuildError("documentation build failed").
		WithContext("build_id", build.ID).
		WithContext("exit_code", build.ExitCode).
		Build()
}
