// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/imamik/vmaas/internal/util/shell"
)

// Reply is what the fake returns for a matched command.
type Reply struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

type rule struct {
	prefix  string
	replies []Reply
}

// Runner records every command and answers from rules keyed on the prefix
// of the rendered command line. The longest matching prefix wins. A rule
// with several replies hands them out in order and repeats the last one.
// Unmatched commands succeed with empty output.
type Runner struct {
	mu    sync.Mutex
	rules []*rule
	calls []shell.Command
}

// New returns an empty fake.
func New() *Runner {
	return &Runner{}
}

// On registers replies for commands starting with prefix.
func (f *Runner) On(prefix string, replies ...Reply) *Runner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &rule{prefix: prefix, replies: replies})
	return f
}

// Run implements shell.Runner.
func (f *Runner) Run(ctx context.Context, cmd shell.Command) (shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	line := cmd.String()
	var best *rule
	for _, r := range f.rules {
		if strings.HasPrefix(line, r.prefix) && (best == nil || len(r.prefix) > len(best.prefix)) {
			best = r
		}
	}
	var reply Reply
	if best != nil && len(best.replies) > 0 {
		reply = best.replies[0]
		if len(best.replies) > 1 {
			best.replies = best.replies[1:]
		}
	}
	f.mu.Unlock()

	if reply.Err != nil {
		return shell.Result{}, reply.Err
	}
	if err := ctx.Err(); err != nil {
		return shell.Result{}, err
	}
	stages := append([][]string{cmd.Args}, cmd.Pipes...)
	failed := -1
	if reply.ExitCode != 0 {
		failed = 0
	}
	return shell.Finish(ctx, stages, failed, cmd.AllowFailure, shell.Result{
		Stdout:   reply.Stdout,
		Stderr:   reply.Stderr,
		ExitCode: reply.ExitCode,
	})
}

// Calls returns the rendered command lines seen so far.
func (f *Runner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Commands returns the commands seen so far.
func (f *Runner) Commands() []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]shell.Command(nil), f.calls...)
}

// Called reports whether any command line starts with prefix.
func (f *Runner) Called(prefix string) bool {
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// Count returns how many command lines start with prefix.
func (f *Runner) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
