// Package shell runs external commands, optionally chained through pipes,
// and turns non-zero exits into typed failures.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/imamik/vmaas/internal/deployerr"
	"github.com/imamik/vmaas/internal/logging"
	"github.com/imamik/vmaas/internal/metrics"
)

// stdinLogLimit bounds how much of a command's input ends up in debug logs.
const stdinLogLimit = 64

// Command describes one invocation. Pipes are further stages that receive
// the previous stage's stdout on stdin.
type Command struct {
	Args  []string
	Stdin string
	Pipes [][]string

	// AllowFailure returns non-zero exits as data in Result instead of a
	// CommandFailedError.
	AllowFailure bool
}

// Cmd is shorthand for a plain command without input or pipes.
func Cmd(args ...string) Command {
	return Command{Args: args}
}

// Pipe appends a stage to the pipe chain.
func (c Command) Pipe(args ...string) Command {
	c.Pipes = append(append([][]string(nil), c.Pipes...), args)
	return c
}

// WithStdin returns a copy of c that feeds in on stdin.
func (c Command) WithStdin(in string) Command {
	c.Stdin = in
	return c
}

// Tolerant returns a copy of c whose failures are reported as data.
func (c Command) Tolerant() Command {
	c.AllowFailure = true
	return c
}

// String renders the whole chain as a shell command line.
func (c Command) String() string {
	parts := []string{shellquote.Join(c.Args...)}
	for _, p := range c.Pipes {
		parts = append(parts, shellquote.Join(p...))
	}
	return strings.Join(parts, " | ")
}

// Result is the captured outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether every stage exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner executes commands. Local runs them on this host; ssh.Runner runs
// them on a remote one.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// Local runs commands as child processes.
type Local struct{}

// Run executes cmd and blocks until every stage has exited.
func (Local) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, fmt.Errorf("empty command")
	}
	for _, p := range cmd.Pipes {
		if len(p) == 0 {
			return Result{}, fmt.Errorf("empty pipe stage in %q", cmd.String())
		}
	}
	Trace(ctx, "local", cmd)

	stages := append([][]string{cmd.Args}, cmd.Pipes...)
	procs := make([]*exec.Cmd, len(stages))
	stderrs := make([]bytes.Buffer, len(stages))
	var stdout bytes.Buffer

	for i, argv := range stages {
		p := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // arguments come from the deployment plan
		p.Stderr = &stderrs[i]
		procs[i] = p
	}
	if cmd.Stdin != "" {
		procs[0].Stdin = strings.NewReader(cmd.Stdin)
	}
	procs[len(procs)-1].Stdout = &stdout

	// Parent copies of the pipe ends must be closed once children hold them,
	// otherwise readers never see EOF.
	var parentEnds []*os.File
	closeEnds := func() {
		for _, f := range parentEnds {
			_ = f.Close()
		}
		parentEnds = nil
	}
	for i := 0; i < len(procs)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			closeEnds()
			return Result{}, fmt.Errorf("failed to create pipe: %w", err)
		}
		procs[i].Stdout = w
		procs[i+1].Stdin = r
		parentEnds = append(parentEnds, r, w)
	}

	started := 0
	var startErr error
	for _, p := range procs {
		if err := p.Start(); err != nil {
			startErr = fmt.Errorf("failed to start %s: %w", p.Path, err)
			break
		}
		started++
	}
	closeEnds()

	codes := make([]int, len(procs))
	for i := 0; i < started; i++ {
		codes[i] = exitCode(procs[i].Wait())
	}
	if startErr != nil {
		metrics.RecordCommand(filepath.Base(cmd.Args[0]), false)
		return Result{}, startErr
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordCommand(filepath.Base(cmd.Args[0]), false)
		return Result{}, fmt.Errorf("%s interrupted: %w", cmd.String(), err)
	}

	res := Result{Stdout: stdout.String()}
	failed := -1
	for i, code := range codes {
		if code != 0 {
			failed = i
			break
		}
	}
	if failed < 0 {
		res.Stderr = stderrs[len(stderrs)-1].String()
	} else {
		res.ExitCode = codes[failed]
		res.Stderr = stderrs[failed].String()
	}
	return Finish(ctx, stages, failed, cmd.AllowFailure, res)
}

// Finish records the outcome and converts a failed stage into a
// CommandFailedError unless failures are allowed. failed is the index of
// the first failing stage, or -1.
func Finish(ctx context.Context, stages [][]string, failed int, allowFailure bool, res Result) (Result, error) {
	metrics.RecordCommand(filepath.Base(stages[0][0]), failed < 0)
	if failed < 0 || allowFailure {
		return res, nil
	}
	logging.FromContext(ctx).V(logging.Debug).Info("command failed",
		"cmd", shellquote.Join(stages[failed]...), "exit", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
	return res, &deployerr.CommandFailedError{
		Cmd:      stages[failed],
		ExitCode: res.ExitCode,
		Stderr:   res.Stderr,
	}
}

// Trace logs cmd at debug level with its input truncated.
func Trace(ctx context.Context, where string, cmd Command) {
	in := cmd.Stdin
	if len(in) > stdinLogLimit {
		in = in[:stdinLogLimit] + "..."
	}
	logging.FromContext(ctx).V(logging.Debug).Info("exec", "on", where, "cmd", cmd.String(), "stdin", in)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return -1
}

// Output runs args on r and returns trimmed stdout.
func Output(ctx context.Context, r Runner, args ...string) (string, error) {
	res, err := r.Run(ctx, Cmd(args...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}
