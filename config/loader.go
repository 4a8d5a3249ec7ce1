package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileSystem is the file access the loader needs. Tests substitute it.
type FileSystem interface {
	Exists(path string) bool
	LoadEnv(path string) error
	UserConfigDir() (string, error)
}

// RealFileSystem implements FileSystem with the os package.
type RealFileSystem struct{}

func (RealFileSystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (RealFileSystem) LoadEnv(path string) error {
	return godotenv.Load(path)
}

func (RealFileSystem) UserConfigDir() (string, error) {
	return os.UserConfigDir()
}

// Resolver finds the config and env files of an application.
type Resolver struct {
	FileSystem FileSystem
}

// ResolvedFiles contains the resolved config and env file paths. Empty
// means none was found.
type ResolvedFiles struct {
	ConfigFile string
	EnvFile    string
}

// ResolveFiles returns explicit paths as given and searches for the rest.
func (r *Resolver) ResolveFiles(appName string, opts LoaderConfig) ResolvedFiles {
	resolved := ResolvedFiles{ConfigFile: opts.ConfigFile, EnvFile: opts.EnvFile}
	if resolved.ConfigFile == "" {
		resolved.ConfigFile = r.first(r.configCandidates(appName))
	}
	if resolved.EnvFile == "" {
		resolved.EnvFile = r.first([]string{
			".env." + appName,
			".env",
			filepath.Join("config", ".env."+appName),
			filepath.Join("config", ".env"),
		})
	}
	return resolved
}

// configCandidates lists config file locations from most to least specific:
// the working directory, ./config, then the user config directory.
func (r *Resolver) configCandidates(appName string) []string {
	var paths []string
	for _, dir := range []string{".", "config"} {
		for _, ext := range []string{".yml", ".yaml"} {
			paths = append(paths, filepath.Join(dir, appName+ext))
		}
	}
	if dir, err := r.FileSystem.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths,
			filepath.Join(dir, appName, "config.yml"),
			filepath.Join(dir, appName, "config.yaml"),
		)
	}
	return paths
}

func (r *Resolver) first(paths []string) string {
	for _, p := range paths {
		if r.FileSystem.Exists(p) {
			return p
		}
	}
	return ""
}

// LoaderConfig holds dependencies and optional overrides.
type LoaderConfig struct {
	FileSystem FileSystem
	ConfigFile string // explicit config file; must exist
	EnvFile    string // explicit .env file
	EnvPrefix  string // defaults to the upper-cased app name
}

// LoaderOption is a functional option for LoadConfig.
type LoaderOption func(*LoaderConfig)

// WithFileSystem sets a custom filesystem for the loader.
func WithFileSystem(fs FileSystem) LoaderOption {
	return func(lc *LoaderConfig) { lc.FileSystem = fs }
}

// WithConfigFile sets an explicit config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets an explicit .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// WithEnvPrefix sets the prefix of environment variables that override
// config keys.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvPrefix = prefix }
}

// LoadConfig loads configuration for appName into cfg, a pointer to a
// struct with mapstructure tags. The YAML file is read first, then the .env
// file is loaded into the process environment, then prefixed environment
// variables are applied on top.
//
// A missing config file is not an error unless it was set explicitly.
func LoadConfig(appName string, cfg interface{}, opts ...LoaderOption) error {
	lc := LoaderConfig{FileSystem: RealFileSystem{}}
	for _, opt := range opts {
		opt(&lc)
	}
	if lc.EnvPrefix == "" {
		lc.EnvPrefix = envPrefixFor(appName)
	}

	resolver := &Resolver{FileSystem: lc.FileSystem}
	files := resolver.ResolveFiles(appName, lc)

	v := viper.New()
	if files.ConfigFile != "" {
		if !lc.FileSystem.Exists(files.ConfigFile) {
			return fmt.Errorf("config: file %s not found", files.ConfigFile)
		}
		v.SetConfigFile(files.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("config: read %s: %w", files.ConfigFile, err)
		}
	}

	if files.EnvFile != "" && lc.FileSystem.Exists(files.EnvFile) {
		if err := lc.FileSystem.LoadEnv(files.EnvFile); err != nil {
			return fmt.Errorf("config: load %s: %w", files.EnvFile, err)
		}
	}
	bindPrefixedEnv(v, lc.EnvPrefix, os.Environ())

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("config: unmarshal %s config: %w", appName, err)
	}
	return nil
}

func envPrefixFor(appName string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(appName))
}

// bindPrefixedEnv sets every PREFIX_* variable under each key it could
// stand for, since underscores separate both nesting levels and words.
func bindPrefixedEnv(v *viper.Viper, prefix string, environ []string) {
	prefix = strings.ToUpper(prefix) + "_"
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
			continue
		}
		for _, variant := range envKeyVariants(strings.TrimPrefix(key, prefix)) {
			v.Set(variant, value)
		}
	}
}

// envKeyVariants lists the config keys an env key may mean.
//
//	CLIENT_MAX_REDIRECTS -> [client_max_redirects, client.max.redirects,
//	                         client.max_redirects, client_max.redirects]
func envKeyVariants(envKey string) []string {
	lower := strings.ToLower(envKey)
	parts := strings.Split(lower, "_")
	if len(parts) == 1 {
		return []string{lower}
	}

	variants := []string{lower, strings.Join(parts, ".")}
	for i := 1; i < len(parts); i++ {
		head := strings.Join(parts[:i], ".")
		tail := strings.Join(parts[i:], "_")
		variants = append(variants, head+"."+tail)

		head = strings.Join(parts[:i], "_")
		tail = strings.Join(parts[i:], ".")
		variants = append(variants, head+"."+tail)
	}
	return dedupe(variants)
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
