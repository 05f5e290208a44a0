package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/copyleftdev/psffit/internal/errors"
	"github.com/copyleftdev/psffit/internal/logging"
	"github.com/copyleftdev/psffit/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        HTTPConfig
	Logging     logging.Config `envPrefix:"LOG_"`
	Database    DatabaseConfig
	Fit         FitConfig
}

type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// MaxBodyBytes bounds request bodies, which carry whole data grids.
	MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"33554432"`
}

// DatabaseConfig controls persistence of fit jobs. When disabled, jobs live
// in memory only.
type DatabaseConfig struct {
	Enabled bool   `env:"DB_ENABLED" envDefault:"false"`
	Path    string `env:"DB_PATH" envDefault:"data/psffit.db"`
}

// FitConfig holds the defaults applied to fit jobs.
type FitConfig struct {
	WorkerCount       int           `env:"FIT_WORKER_COUNT" envDefault:"4"`
	Timeout           time.Duration `env:"FIT_TIMEOUT" envDefault:"2m"`
	Algorithm         string        `env:"FIT_ALGORITHM" envDefault:"lbfgs"`
	MaxIterations     int           `env:"FIT_MAX_ITERATIONS" envDefault:"1000"`
	GradientThreshold float64       `env:"FIT_GRADIENT_THRESHOLD" envDefault:"1e-8"`
	FunctionTolerance float64       `env:"FIT_FUNCTION_TOLERANCE" envDefault:"1e-12"`
	MaxFWHM           float64       `env:"FIT_MAX_FWHM" envDefault:"0"`
	PopulationSize    int           `env:"FIT_POPULATION_SIZE" envDefault:"40"`
	Seed              int64         `env:"FIT_SEED" envDefault:"1"`
	Span              float64       `env:"FIT_SPAN" envDefault:"0.25"`
}

// Optimizer returns the optimizer settings of c.
func (c FitConfig) Optimizer() optimization.Config {
	return optimization.Config{
		Algorithm:         optimization.Algorithm(c.Algorithm),
		MaxIterations:     c.MaxIterations,
		GradientThreshold: c.GradientThreshold,
		FunctionTolerance: c.FunctionTolerance,
		PopulationSize:    c.PopulationSize,
		Seed:              c.Seed,
		Span:              c.Span,
	}
}

// Load reads the configuration from the environment. Variables found in the
// given .env files (default ".env") are applied first and never override the
// process environment. Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse environment")
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Database.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.InvalidArgument("config.Validate", "HTTP_PORT %d out of range", c.HTTP.Port)
	}
	if c.Fit.WorkerCount <= 0 {
		return errors.InvalidArgument("config.Validate", "FIT_WORKER_COUNT must be positive")
	}
	if c.Fit.Timeout <= 0 {
		return errors.InvalidArgument("config.Validate", "FIT_TIMEOUT must be positive")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		return errors.InvalidArgument("config.Validate", "DB_PATH is required when DB_ENABLED is set")
	}
	if _, err := optimization.New(c.Fit.Optimizer()); err != nil {
		return err
	}
	return nil
}
