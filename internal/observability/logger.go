// Package observability owns the process-wide CLI logger.
package observability

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// CLILogger is the process logger. It writes to stderr so stdout stays
// reserved for JSONL records. Until InitCLILogger runs it discards output.
var CLILogger = zap.NewNop()

// Log profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// LogOptions configures InitCLILoggerWithOptions.
type LogOptions struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string

	// Profile is structured (JSON) or console.
	Profile string

	// File, when set, also writes JSON logs to a rotated file.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// InitCLILogger sets CLILogger with the structured profile at info level,
// or debug when verbose.
func InitCLILogger(name string, verbose bool) {
	if err := InitCLILoggerWithOptions(name, verbose, LogOptions{}); err != nil {
		// Options are all defaults, so this only fails on a broken stderr.
		CLILogger = zap.NewNop()
	}
}

// InitCLILoggerWithOptions sets CLILogger from opts. verbose forces debug.
func InitCLILoggerWithOptions(name string, verbose bool, opts LogOptions) error {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(opts.Profile)) {
	case "", ProfileStructured:
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case ProfileConsole:
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return fmt.Errorf("unsupported log profile %q (expected structured or console)", opts.Profile)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atom),
	}

	if file := strings.TrimSpace(opts.File); file != "" {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(rotator),
			atom,
		))
	}

	CLILogger = zap.New(zapcore.NewTee(cores...)).Named(name)
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(s string) (zapcore.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

func orDefault(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
