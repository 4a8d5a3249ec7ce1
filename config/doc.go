// Package config loads application configuration from a YAML file, a .env
// file and prefixed environment variables.
//
// # Usage
//
//	type Config struct {
//	    config.AppConfig `yaml:",inline" mapstructure:",squash"`
//	    Client httpclient.Config `yaml:"client" mapstructure:"client"`
//	}
//
//	var cfg Config
//	err := config.LoadConfig("fetchctl", &cfg)
//
// Environment variables override file values. With the default prefix for
// "fetchctl", FETCHCTL_CLIENT_TIMEOUT=5s sets client.timeout.
package config
