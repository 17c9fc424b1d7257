// Package config provides configuration management for velum using Viper,
// loading from YAML files, environment variables with the VELUM_ prefix, and
// command-line flags.
//
// It covers the template source directory, the compiled-artifact cache,
// render-time globals, logging and the file watcher, with validation and
// path-traversal checks on every configured path.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Templates TemplatesConfig `yaml:"templates"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Logging   LoggingConfig   `yaml:"logging"`
	Watch     WatchConfig     `yaml:"watch"`
}

type TemplatesConfig struct {
	Dir        string   `yaml:"dir"`
	Extensions []string `yaml:"extensions"`
}

type CacheConfig struct {
	Dir     string `yaml:"dir"`
	Enabled bool   `yaml:"enabled"`
}

type RenderConfig struct {
	Globals map[string]any `yaml:"globals"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WatchConfig struct {
	DebounceMillis int `yaml:"debounce_millis"`
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle extensions set via viper (workaround for viper slice handling)
	if viper.IsSet("templates.extensions") && len(config.Templates.Extensions) == 0 {
		exts := viper.GetStringSlice("templates.extensions")
		if len(exts) > 0 {
			config.Templates.Extensions = exts
		}
	}

	// Handle cache settings set via viper (workaround for viper bool handling)
	if viper.IsSet("cache.enabled") {
		config.Cache.Enabled = viper.GetBool("cache.enabled")
	}

	// Handle watch settings set via viper (underscore keys do not match the
	// field name during unmarshal)
	if viper.IsSet("watch.debounce_millis") {
		config.Watch.DebounceMillis = viper.GetInt("watch.debounce_millis")
	}

	// Apply default values for TemplatesConfig if not set
	if config.Templates.Dir == "" {
		config.Templates.Dir = "./templates"
	}
	if len(config.Templates.Extensions) == 0 {
		config.Templates.Extensions = []string{".vel", ".vel.html"}
	}

	// Apply default values for CacheConfig if not set
	if config.Cache.Dir == "" {
		config.Cache.Dir = ".velum/cache"
	}
	if !viper.IsSet("cache.enabled") {
		config.Cache.Enabled = true
	}

	// Apply default values for RenderConfig if not set
	if config.Render.Globals == nil {
		config.Render.Globals = make(map[string]any)
	}
	if viper.IsSet("render.globals") {
		for k, v := range viper.GetStringMap("render.globals") {
			if _, ok := config.Render.Globals[k]; !ok {
				config.Render.Globals[k] = v
			}
		}
	}

	// Apply default values for LoggingConfig if not set
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	// Apply default values for WatchConfig if not set
	if config.Watch.DebounceMillis == 0 {
		config.Watch.DebounceMillis = 300
	}

	// Validate configuration values
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateTemplatesConfig(&config.Templates); err != nil {
		return fmt.Errorf("templates config: %w", err)
	}

	if err := validateCacheConfig(&config.Cache); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if config.Watch.DebounceMillis < 0 {
		return fmt.Errorf("watch config: debounce_millis must not be negative")
	}

	return nil
}

// validateTemplatesConfig validates template source configuration values
func validateTemplatesConfig(config *TemplatesConfig) error {
	if err := validatePath(config.Dir); err != nil {
		return fmt.Errorf("invalid template dir '%s': %w", config.Dir, err)
	}

	for _, ext := range config.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension '%s' must start with a dot", ext)
		}
	}

	return nil
}

// validateCacheConfig validates cache configuration values
func validateCacheConfig(config *CacheConfig) error {
	if config.Dir != "" {
		cleanPath := filepath.Clean(config.Dir)

		// Reject path traversal attempts
		if strings.Contains(cleanPath, "..") {
			return fmt.Errorf("cache dir contains path traversal: %s", config.Dir)
		}
	}

	return nil
}

// validateLoggingConfig validates logging configuration values
func validateLoggingConfig(config *LoggingConfig) error {
	switch config.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %s", config.Level)
	}

	switch config.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", config.Format)
	}

	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	// Reject path traversal attempts
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	// Reject dangerous characters
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
