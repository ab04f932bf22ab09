// Package logging builds the process logger: a logr.Logger backed by zap that
// writes human-readable output to the console and a full debug trail to a
// log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFile is the debug log written next to the working directory.
const DefaultFile = "vmaas.log"

// Options configures the logger.
type Options struct {
	// Debug lowers the console level to debug. The file log is always debug.
	Debug bool

	// File is the debug log path. Empty disables the file log.
	File string

	// Console is where human output goes. Defaults to os.Stderr.
	Console io.Writer
}

// New returns a logger and a flush function to call before exit.
func New(opts Options) (logr.Logger, func(), error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleLevel := zapcore.InfoLevel
	if opts.Debug {
		consoleLevel = zapcore.DebugLevel
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(console), zapcore.AddSync(console), consoleLevel),
	}

	var closers []func()
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return logr.Discard(), func() {}, fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		fileEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), zapcore.DebugLevel))
		closers = append(closers, func() { _ = f.Close() })
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	flush := func() {
		_ = zl.Sync()
		for _, c := range closers {
			c()
		}
	}
	return zapr.NewLogger(zl), flush, nil
}

// consoleEncoder picks a colored console encoder for terminals and JSON for
// everything else (CI logs, redirected output).
func consoleEncoder(w io.Writer) zapcore.Encoder {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeCaller = nil
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
}

// IntoContext stores the logger in ctx.
func IntoContext(ctx context.Context, log logr.Logger) context.Context {
	return logr.NewContext(ctx, log)
}

// FromContext returns the logger stored in ctx, or a discarding logger.
func FromContext(ctx context.Context) logr.Logger {
	return logr.FromContextOrDiscard(ctx)
}

// Debug is the verbosity used for command traces and poll snapshots.
const Debug = 1
