package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logger implementation and its output.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "json" (slog, the default) or "zap".
	Format string
	// File, when set, sends output to a size-rotated file instead of stdout.
	File string
}

// NewWriter returns stdout, or a rotating file writer when path is set.
func NewWriter(path string) io.Writer {
	if path == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// New builds a Logger from opts.
func New(opts Options) (Logger, error) {
	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := NewWriter(opts.File)

	switch opts.Format {
	case "", "json":
		return NewJSONSlogLogger(w, lvl), nil
	case "zap":
		enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		// slog levels are spaced by 4 (debug=-4, info=0, ...), zap levels by 1.
		core := zapcore.NewCore(enc, zapcore.AddSync(w), zapcore.Level(int(lvl)/4))
		return NewZapLogger(zap.New(core)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}
