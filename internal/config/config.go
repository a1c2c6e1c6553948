// Package config layers defaults, an optional repform.yaml, REPFORM_* environment
// variables and command-line flags into one validated configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andresmejia3/repform/internal/pipeline"
	"github.com/andresmejia3/repform/internal/pose"
	"github.com/andresmejia3/repform/internal/segment"
	"github.com/andresmejia3/repform/internal/worker"
	"github.com/spf13/viper"
)

// Keys shared between viper and the cobra flags bound to them.
const (
	KeyDB              = "db"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyPython          = "worker.python"
	KeyScript          = "worker.script"
	KeyWorkerTimeout   = "worker.timeout"
	KeyWorkers         = "pipeline.workers"
	KeyNthFrame        = "pipeline.nth_frame"
	KeyWindowSize      = "pipeline.window_size"
	KeyMinValues       = "pipeline.min_values"
	KeyShoulderLeft    = "pipeline.shoulder_left"
	KeyShoulderRight   = "pipeline.shoulder_right"
	KeySmoothing       = "pipeline.smoothing"
	KeySmoothWindow    = "pipeline.smooth_window"
	KeyContinueOnError = "pipeline.continue_on_error"
)

var envReplacer = strings.NewReplacer(".", "_")

// DefaultSQLitePath is used when neither a DSN nor POSTGRES_HOST is configured.
const DefaultSQLitePath = "sqlite://data/repform.db"

// Config is the resolved configuration.
type Config struct {
	DB        string
	LogLevel  string
	LogFormat string
	NthFrame  int
	Worker    worker.Config
	Pipeline  pipeline.Config
}

// New returns a viper instance with defaults and environment binding applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyDB, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	wd := worker.DefaultConfig()
	v.SetDefault(KeyPython, wd.Python)
	v.SetDefault(KeyScript, wd.Script)
	v.SetDefault(KeyWorkerTimeout, wd.ReadTimeout.String())

	v.SetDefault(KeyWorkers, 1)
	v.SetDefault(KeyNthFrame, 1)
	v.SetDefault(KeyWindowSize, segment.DefaultWindowSize)
	v.SetDefault(KeyMinValues, segment.DefaultMinValues)
	v.SetDefault(KeyShoulderLeft, pose.DefaultShoulders.Left)
	v.SetDefault(KeyShoulderRight, pose.DefaultShoulders.Right)
	v.SetDefault(KeySmoothing, string(pipeline.SmoothNone))
	v.SetDefault(KeySmoothWindow, pose.DefaultSmoothWindow)
	v.SetDefault(KeyContinueOnError, false)

	v.SetEnvPrefix("repform")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()
	return v
}

// ReadFile merges a config file into v. With an empty path it looks for
// repform.yaml in the working directory and $HOME/.config/repform, and a
// missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	v.SetConfigName("repform")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/repform")
	}
	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return err
	}
	return nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	smoothing, err := pipeline.ParseSmoothStage(v.GetString(KeySmoothing))
	if err != nil {
		return nil, err
	}
	timeout, err := time.ParseDuration(v.GetString(KeyWorkerTimeout))
	if err != nil {
		return nil, fmt.Errorf("invalid worker timeout (use '30s', '500ms'): %w", err)
	}

	cfg := &Config{
		DB:        resolveDB(v.GetString(KeyDB)),
		LogLevel:  v.GetString(KeyLogLevel),
		LogFormat: v.GetString(KeyLogFormat),
		NthFrame:  v.GetInt(KeyNthFrame),
		Worker: worker.Config{
			Python:      v.GetString(KeyPython),
			Script:      v.GetString(KeyScript),
			ReadTimeout: timeout,
		},
		Pipeline: pipeline.Config{
			Shoulders: pose.ShoulderPair{
				Left:  v.GetInt(KeyShoulderLeft),
				Right: v.GetInt(KeyShoulderRight),
			},
			Segment: segment.Config{
				WindowSize: v.GetInt(KeyWindowSize),
				MinValues:  v.GetInt(KeyMinValues),
			},
			Smoothing:       smoothing,
			SmoothWindow:    v.GetInt(KeySmoothWindow),
			Workers:         v.GetInt(KeyWorkers),
			ContinueOnError: v.GetBool(KeyContinueOnError),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Pipeline
	switch {
	case p.Segment.WindowSize < 1:
		return fmt.Errorf("window size must be >= 1, got %d", p.Segment.WindowSize)
	case p.Segment.MinValues < 0:
		return fmt.Errorf("min values must be >= 0, got %d", p.Segment.MinValues)
	case p.Shoulders.Left < 0 || p.Shoulders.Right < 0:
		return fmt.Errorf("shoulder indices must be >= 0, got %d and %d", p.Shoulders.Left, p.Shoulders.Right)
	case p.Shoulders.Left == p.Shoulders.Right:
		return fmt.Errorf("shoulder indices must differ, got %d twice", p.Shoulders.Left)
	case p.SmoothWindow < 1:
		return fmt.Errorf("smooth window must be >= 1, got %d", p.SmoothWindow)
	case p.Workers < 1:
		return fmt.Errorf("workers must be >= 1, got %d", p.Workers)
	case c.NthFrame < 1:
		return fmt.Errorf("nth-frame must be >= 1, got %d", c.NthFrame)
	case c.Worker.ReadTimeout <= 0:
		return fmt.Errorf("worker timeout must be positive, got %s", c.Worker.ReadTimeout)
	}
	return nil
}

// resolveDB falls back to the POSTGRES_* variables, then to a local SQLite file.
func resolveDB(dsn string) string {
	if dsn != "" {
		return dsn
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return DefaultSQLitePath
}
