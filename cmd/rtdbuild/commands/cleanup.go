package commands

import (
	"context"
	"fmt"
	"time"
)

// CleanupCmd implements the 'cleanup' command.
type CleanupCmd struct {
	OlderThan time.Duration `name:"older-than" help:"Age after which an unfinished build is stale; defaults to schedule.stale_after"`
}

func (c *CleanupCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig(g)
	if err != nil {
		return err
	}
	ctx := context.Background()

	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	age := c.OlderThan
	if age <= 0 {
		age = cfg.Schedule.StaleAfter
	}
	closed, err := a.orch.CleanupStale(ctx, age)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "Closed %d stale builds\n", len(closed))
	return err
}
