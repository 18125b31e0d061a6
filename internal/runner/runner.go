package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// StartFailure is the exit code reported when the process could not be started.
const StartFailure = -1

// Command describes one subprocess invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Empty means the current directory.
	Dir string
	// Env overrides individual variables of the inherited environment.
	Env map[string]string
}

// NewCommand builds a Command running in dir.
func NewCommand(dir, name string, args ...string) Command {
	return Command{Name: name, Args: args, Dir: dir}
}

// WithEnv returns a copy of c with key=value added to its overrides.
func (c Command) WithEnv(key, value string) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	return c
}

// String renders the command line for logs and build output.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// mergeEnv applies overrides on top of base in KEY=VALUE form.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

// Result is the outcome of a Command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Missing reports that the executable could not be found or started.
func (r Result) Missing() bool {
	return r.ExitCode == StartFailure || r.ExitCode == 127
}

// Combined renders the command line followed by its output, the form stored
// on build records.
func (r Result) Combined() string {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", r.Command)
	if r.Stdout != "" {
		b.WriteString(r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// startFailure builds the synthetic Result for an OS-level failure.
func startFailure(cmd Command, err error, d time.Duration) Result {
	return Result{
		Command:  cmd.String(),
		ExitCode: StartFailure,
		Stderr:   fmt.Sprintf("%s: %v", cmd.Name, err),
		Duration: d,
	}
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Command) Result

func (f RunnerFunc) Run(ctx context.Context, cmd Command) Result { return f(ctx, cmd) }
