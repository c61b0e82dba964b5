package logger

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/codecanvas/talaria/pkg/config"
)

// New builds the application logger from config and exposes it through the
// logr interface used across the codebase.
func New(cfg config.Logging) (logr.Logger, error) {
	zl, err := NewZap(cfg)
	if err != nil {
		return logr.Logger{}, err
	}

	return zapr.NewLogger(zl), nil
}

// NewZap assembles the underlying zap logger: a console or json core on
// stderr, plus an optional json core writing to a size-rotated logfile.
func NewZap(cfg config.Logging) (*zap.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Encoder) {
	case "", "console":
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		enc = zapcore.NewConsoleEncoder(devCfg)
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("%q is an invalid encoder", cfg.Encoder)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
	}

	if cfg.Logfile.Enabled {
		if err = touchLogfile(cfg.Logfile.Filepath); err != nil {
			return nil, fmt.Errorf("cannot create logfile logger: %w", err)
		}

		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Logfile.Filepath,
			MaxSize:    100,
			MaxBackups: 5,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.StacktraceLevel != "" {
		stLevel, err := parseLevel(cfg.StacktraceLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid stacktrace log config: %w", err)
		}
		opts = []zap.Option{zap.AddStacktrace(stLevel)}
	}

	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func parseLevel(name string) (zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if name == "" {
		return level, nil
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return level, fmt.Errorf("unrecognized level: %q", name)
	}

	return level, nil
}

func touchLogfile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
