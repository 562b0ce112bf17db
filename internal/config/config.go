// Package config assembles buildstamp settings from flags, BUILDSTAMP_*
// environment variables and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"

	"github.com/frederic-klein/buildstamp/internal/buildmeta"
	"github.com/frederic-klein/buildstamp/internal/emit"
	"github.com/frederic-klein/buildstamp/internal/logger"
	"github.com/frederic-klein/buildstamp/internal/toolchain"
)

// ErrInvalidConfig is returned when the merged configuration is invalid.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the CLI settings.
type Config struct {
	// RepoDir is the git checkout to query.
	RepoDir string `env:"REPO"`
	GitBin  string `env:"GIT"`
	GoBin   string `env:"GO"`

	// Mode is release or development.
	Mode string `env:"MODE"`

	// Target is an explicit os/arch cross-compilation target.
	Target string `env:"TARGET"`

	Format     string `env:"FORMAT"`
	LDFlagsPkg string `env:"LDFLAGS_PKG"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"` // console or json
}

// Defaults returns the fallback configuration.
func Defaults() *Config {
	return &Config{
		RepoDir:    ".",
		Mode:       string(buildmeta.ModeRelease),
		GitBin:     "git",
		GoBin:      "go",
		Format:     string(emit.FormatEnv),
		LDFlagsPkg: "main",
		LogLevel:   "info",
		LogFormat:  "console",
	}
}

// FromEnv reads BUILDSTAMP_* variables from environ.
func FromEnv(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{
		Prefix:      "BUILDSTAMP_",
		Environment: environ,
	}); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}
	return cfg, nil
}

// Build merges layers, earlier layers taking precedence, and validates the result.
func Build(layers ...*Config) (*Config, error) {
	cfg := new(Config)
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if err := mergo.Merge(cfg, layer); err != nil {
			return nil, fmt.Errorf("error merging configs: %w", err)
		}
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []error
	if _, err := buildmeta.ParseMode(c.Mode); err != nil {
		errs = append(errs, err)
	}
	if _, err := emit.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Target != "" {
		if _, err := toolchain.ParsePlatform(c.Target); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
