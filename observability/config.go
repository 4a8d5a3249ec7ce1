package observability

import (
	"time"

	"github.com/kbukum/fetchkit/validation"
)

// Config controls trace and metric export.
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Insecure       bool          `yaml:"insecure" mapstructure:"insecure"`
	ServiceVersion string        `yaml:"service_version" mapstructure:"service_version"`
	Environment    string        `yaml:"environment" mapstructure:"environment"`
	SampleRate     float64       `yaml:"sample_rate" mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	MetricInterval time.Duration `yaml:"metric_interval" mapstructure:"metric_interval" validate:"gte=0"`
}

// ApplyDefaults fills unset fields. SampleRate is left alone so that 0 can
// switch sampling off; use DefaultConfig for a full-rate setup.
func (c *Config) ApplyDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "dev"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.MetricInterval == 0 {
		c.MetricInterval = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	return validation.Validate(c)
}

// DefaultConfig returns an enabled configuration for a local collector.
func DefaultConfig() Config {
	c := Config{Enabled: true, Insecure: true, SampleRate: 1.0}
	c.ApplyDefaults()
	return c
}

func (c *Config) tracer(serviceName string) TracerConfig {
	return TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

func (c *Config) meter(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: c.ServiceVersion,
		Environment:    c.Environment,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		Interval:       c.MetricInterval,
	}
}
