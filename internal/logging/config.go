package logging

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for file outputs.
const (
	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR, FATAL)
	Level string `yaml:"level" env:"LEVEL" envDefault:"info"`
	// Format is the output format (json, text)
	Format string `yaml:"format" env:"FORMAT" envDefault:"json"`
	// Output is the output destination (stdout, stderr, or file path)
	Output string `yaml:"output" env:"OUTPUT" envDefault:"stderr"`

	// Rotation of file outputs. Zero values use the defaults above.
	MaxSizeMB  int  `yaml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int  `yaml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int  `yaml:"max_age_days" env:"MAX_AGE_DAYS"`
	Compress   bool `yaml:"compress" env:"COMPRESS" envDefault:"true"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:    "info",
		Format:   "json",
		Output:   "stderr",
		Compress: true,
	}
}

// NewLogger creates a new logger with the given configuration. The returned
// closer releases a file output and is a no-op for stdout and stderr.
func NewLogger(cfg *Config) (*Logger, io.Closer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output, closer := getOutput(cfg)
	return NewWithFormat(ParseLevel(cfg.Level), parseFormat(cfg.Format), output), closer, nil
}

// ParseLevel converts a string log level to LogLevel. Unknown names map to
// InfoLevel.
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel
	case "INFO":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	case "FATAL":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func parseFormat(format string) Format {
	if strings.EqualFold(strings.TrimSpace(format), string(TextFormat)) {
		return TextFormat
	}
	return JSONFormat
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// getOutput returns the writer for cfg.Output. File paths rotate.
func getOutput(cfg *Config) (io.Writer, io.Closer) {
	switch cfg.Output {
	case "", "stderr":
		return os.Stderr, nopCloser{}
	case "stdout":
		return os.Stdout, nopCloser{}
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    orDefault(cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: orDefault(cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     orDefault(cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   cfg.Compress,
	}
	return lj, lj
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
