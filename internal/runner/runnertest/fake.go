// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"git.home.luguber.info/inful/rtdbuild/internal/runner"
)

// Response is returned for commands whose line starts with Prefix. Do runs
// before the result is returned and may touch the filesystem.
type Response struct {
	Prefix string
	Result runner.Result
	Do     func(cmd runner.Command)
}

// Fake records every command and answers from its scripted responses. The
// last matching response wins so tests can override earlier defaults.
// Unmatched commands succeed with empty output.
type Fake struct {
	mu        sync.Mutex
	responses []Response
	calls     []runner.Command
}

// On scripts the result for commands starting with prefix.
func (f *Fake) On(prefix string, res runner.Result) *Fake {
	return f.OnDo(prefix, res, nil)
}

// OnDo scripts a result plus a side effect.
func (f *Fake) OnDo(prefix string, res runner.Result, do func(cmd runner.Command)) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, Response{Prefix: prefix, Result: res, Do: do})
	return f
}

func (f *Fake) Run(_ context.Context, cmd runner.Command) runner.Result {
	line := cmd.String()
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	var match *Response
	for i := len(f.responses) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.responses[i].Prefix) {
			match = &f.responses[i]
			break
		}
	}
	f.mu.Unlock()

	if match == nil {
		return runner.Result{Command: line}
	}
	if match.Do != nil {
		match.Do(cmd)
	}
	res := match.Result
	res.Command = line
	return res
}

// Calls returns the recorded commands.
func (f *Fake) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Lines returns the recorded command lines.
func (f *Fake) Lines() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether any recorded command line starts with prefix.
func (f *Fake) Ran(prefix string) bool {
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// Exit is a shorthand for a Result with only an exit code and output.
func Exit(code int, stdout, stderr string) runner.Result {
	return runner.Result{ExitCode: code, Stdout: stdout, Stderr: stderr}
}
