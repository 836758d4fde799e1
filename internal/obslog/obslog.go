// Package obslog owns the process-wide zap logger: console and file cores
// teed together, configured from LOG_* environment variables.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	globalLogger = zap.NewNop()
)

func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// Set replaces the global logger. A nil logger installs a no-op.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

type Format string

const (
	FormatLegacy  Format = "legacy"
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

type Options struct {
	Level   zapcore.Level
	Console bool
	ToFile  bool
	File    string
	Format  Format
	Caller  bool
}

// OptionsFromEnv reads LOG_LEVEL, LOG_TO_CONSOLE, LOG_TO_FILE, LOG_FILE,
// LOG_FORMAT and LOG_CALLER. Unknown formats fall back to legacy.
func OptionsFromEnv() Options {
	o := Options{
		Level:   parseLevel(getenvDefault("LOG_LEVEL", "info")),
		Console: parseBool(getenvDefault("LOG_TO_CONSOLE", "true")),
		ToFile:  parseBool(getenvDefault("LOG_TO_FILE", "false")),
		File:    strings.TrimSpace(getenvDefault("LOG_FILE", filepath.Join("logs", "trainer.log"))),
		Format:  Format(strings.ToLower(strings.TrimSpace(getenvDefault("LOG_FORMAT", string(FormatLegacy))))),
		Caller:  parseBool(getenvDefault("LOG_CALLER", "false")),
	}
	switch o.Format {
	case FormatLegacy, FormatJSON, FormatConsole:
	default:
		o.Format = FormatLegacy
	}
	return o
}

// New builds a logger from o. The returned close func releases the log file.
func New(o Options) (*zap.Logger, func() error, error) {
	var (
		cores []zapcore.Core
		file  *os.File
	)
	if o.Console {
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(os.Stdout), o.Level))
	}
	if o.ToFile {
		if err := ensureDir(filepath.Dir(o.File)); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(o.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(encoder(o.Format), zapcore.AddSync(f), o.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(os.Stderr), o.Level))
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if o.Caller || o.Format == FormatLegacy {
		logger = logger.WithOptions(zap.AddCaller())
	}
	logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	closer := func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closer, nil
}

// InitFromEnv installs the env-configured logger globally.
func InitFromEnv() (func() error, error) {
	logger, closer, err := New(OptionsFromEnv())
	if err != nil {
		return nil, err
	}
	Set(logger)
	return closer, nil
}

func encoder(f Format) zapcore.Encoder {
	switch f {
	case FormatJSON:
		return zapcore.NewJSONEncoder(jsonEncoderConfig())
	case FormatConsole:
		return zapcore.NewConsoleEncoder(consoleEncoderConfig())
	default:
		return zapcore.NewConsoleEncoder(legacyEncoderConfig())
	}
}

func ensureDir(dir string) error {
	if strings.TrimSpace(dir) == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func parseLevel(s string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func parseBool(s string) bool { return strings.EqualFold(strings.TrimSpace(s), "true") }

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func legacyEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return cfg
}

func consoleEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func jsonEncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
