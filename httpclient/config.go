package httpclient

import (
	"fmt"
	"time"

	"github.com/kbukum/fetchkit/pool"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/validation"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second

	// DefaultMaxRedirects is the redirect limit of a new Session.
	DefaultMaxRedirects = 50
)

// Config is the serializable part of Session configuration, loadable with
// config.LoadConfig.
type Config struct {
	// URL is the default request URL.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`

	// Method is the default request method. Defaults to GET.
	Method string `yaml:"method" mapstructure:"method"`

	// Headers are set on every request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// Timeout bounds the whole transfer. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`

	// ConnectTimeout bounds connection setup. Defaults to 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout" mapstructure:"connect_timeout" validate:"gte=0"`

	// FollowRedirects defaults to true.
	FollowRedirects *bool `yaml:"follow_redirects" mapstructure:"follow_redirects"`

	// MaxRedirects defaults to 50. A negative value is unlimited.
	MaxRedirects int `yaml:"max_redirects" mapstructure:"max_redirects"`

	// Proxies maps "http", "https" or "all" to a proxy URL.
	Proxies map[string]string `yaml:"proxies" mapstructure:"proxies"`

	// TLS configures peer verification and client certificates.
	TLS *transport.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// LimitRate caps bandwidth in bytes per second.
	LimitRate RateConfig `yaml:"limit_rate" mapstructure:"limit_rate"`

	// LowSpeed aborts slow transfers.
	LowSpeed LowSpeedConfig `yaml:"low_speed" mapstructure:"low_speed"`

	// HTTPVersion is one of auto, 1.1, 2 or 2-prior-knowledge.
	HTTPVersion string `yaml:"http_version" mapstructure:"http_version" validate:"omitempty,oneof=auto 1.1 2 2-prior-knowledge"`

	// UserAgent overrides the default User-Agent.
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`

	// Pool configures the session's private connection pool.
	Pool pool.Config `yaml:"pool" mapstructure:"pool"`
}

// RateConfig caps bandwidth in bytes per second. Zero is unlimited.
type RateConfig struct {
	Download int64 `yaml:"download" mapstructure:"download" validate:"gte=0"`
	Upload   int64 `yaml:"upload" mapstructure:"upload" validate:"gte=0"`
}

// LowSpeedConfig aborts transfers below Limit bytes per second for Time.
type LowSpeedConfig struct {
	Limit int64         `yaml:"limit" mapstructure:"limit" validate:"gte=0"`
	Time  time.Duration `yaml:"time" mapstructure:"time" validate:"gte=0"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Method == "" {
		c.Method = "GET"
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.FollowRedirects == nil {
		follow := true
		c.FollowRedirects = &follow
	}
	if c.MaxRedirects == 0 {
		c.MaxRedirects = DefaultMaxRedirects
	}
	c.Pool.ApplyDefaults()
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return fmt.Errorf("httpclient: invalid config: %w", err)
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	if _, err := transport.ParseHTTPVersion(c.HTTPVersion); err != nil {
		return err
	}
	return c.Pool.Validate()
}

// WithConfig applies a loaded Config. Fields left at their zero value do
// not override earlier options.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		if cfg.URL != "" {
			s.url = cfg.URL
		}
		if cfg.Method != "" {
			s.method = cfg.Method
		}
		for _, name := range sortedKeys(cfg.Headers) {
			s.header.Set(name, cfg.Headers[name])
		}
		if cfg.Timeout > 0 {
			s.timeout = cfg.Timeout
		}
		if cfg.ConnectTimeout > 0 {
			s.connectTimeout = cfg.ConnectTimeout
		}
		if cfg.FollowRedirects != nil {
			s.redirect.Follow = *cfg.FollowRedirects
		}
		if cfg.MaxRedirects != 0 {
			s.redirect.MaxHops = cfg.MaxRedirects
		}
		if len(cfg.Proxies) > 0 {
			s.proxies = cloneMap(cfg.Proxies)
		}
		if cfg.TLS != nil {
			t := *cfg.TLS
			s.tls = &t
		}
		if cfg.LimitRate != (RateConfig{}) {
			s.limitRate = transport.LimitRate{Download: cfg.LimitRate.Download, Upload: cfg.LimitRate.Upload}
		}
		if cfg.LowSpeed != (LowSpeedConfig{}) {
			s.lowSpeed = transport.LowSpeed{Limit: cfg.LowSpeed.Limit, Time: cfg.LowSpeed.Time}
		}
		if v, err := transport.ParseHTTPVersion(cfg.HTTPVersion); err == nil {
			s.httpVersion = v
		}
		if cfg.UserAgent != "" {
			s.userAgent = cfg.UserAgent
		}
		s.poolCfg = cfg.Pool
	}
}
