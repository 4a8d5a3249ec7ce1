package main

import (
	"fmt"
	"time"

	"github.com/kbukum/fetchkit/config"
	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/observability"
	"github.com/kbukum/fetchkit/validation"
)

const appName = "fetchctl"

// Settings is the fetchctl configuration. It is read from fetchctl.yml (or
// app.yml) and FETCHCTL_* environment variables.
type Settings struct {
	config.AppConfig `yaml:",inline" mapstructure:",squash"`

	Client        httpclient.Config    `yaml:"client" mapstructure:"client"`
	Retry         RetrySettings        `yaml:"retry" mapstructure:"retry"`
	RateLimit     RateLimitSettings    `yaml:"rate_limit" mapstructure:"rate_limit"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
}

// RetrySettings configures retries of single requests. MaxAttempts of 1
// disables retrying.
type RetrySettings struct {
	MaxAttempts     int           `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initial_interval" mapstructure:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" mapstructure:"max_interval" validate:"gte=0"`
}

// RateLimitSettings caps the request rate. Zero RPS is unlimited.
type RateLimitSettings struct {
	RPS   float64 `yaml:"rps" mapstructure:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" mapstructure:"burst" validate:"gte=0"`
}

// ApplyDefaults fills in zero-value fields.
func (s *Settings) ApplyDefaults() {
	if s.Name == "" {
		s.Name = appName
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "warn"
	}
	s.AppConfig.ApplyDefaults()
	s.Client.ApplyDefaults()
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 1
	}
	if s.Retry.InitialInterval == 0 {
		s.Retry.InitialInterval = 200 * time.Millisecond
	}
	if s.Retry.MaxInterval == 0 {
		s.Retry.MaxInterval = 5 * time.Second
	}
	if s.RateLimit.RPS > 0 && s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = 1
	}
	s.Observability.ApplyDefaults()
}

// Validate checks every section.
func (s *Settings) Validate() error {
	if err := s.AppConfig.Validate(); err != nil {
		return err
	}
	if err := s.Client.Validate(); err != nil {
		return err
	}
	if err := validation.Validate(&s.Retry); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := validation.Validate(&s.RateLimit); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	v := validation.New().
		Custom(s.Retry.MaxInterval >= s.Retry.InitialInterval, "retry.max_interval", "must not be below initial_interval")
	if s.RateLimit.RPS > 0 {
		v.Min("rate_limit.burst", s.RateLimit.Burst, 1)
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return s.Observability.Validate()
}

// loadSettings reads, defaults and validates the configuration. Empty
// paths fall back to the default search locations.
func loadSettings(configFile, envFile string) (*Settings, error) {
	var opts []config.LoaderOption
	if configFile != "" {
		opts = append(opts, config.WithConfigFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}

	s := &Settings{}
	if err := config.LoadConfig(appName, s, opts...); err != nil {
		return nil, err
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
