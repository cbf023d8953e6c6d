// Package config loads the dex cache pipeline configuration.
//
// Configuration is written in CUE and checked against an embedded #Config
// schema that supplies defaults for every field:
//
//	cache: dir: "/var/cache/dex"
//	tool: {
//		kind:    "D8"
//		version: "8.5.10"
//	}
//	minPlatformVersion: 21
//	debuggable:         true
package config

import (
	"github.com/jmgilman/go/dexcache/cachekey"
	"github.com/jmgilman/go/dexcache/internal/logging"
	"github.com/jmgilman/go/errors"
)

// Defaults applied by SetDefaults and the schema.
const (
	DefaultCacheDir           = ".dexcache"
	DefaultToolBinary         = "d8"
	DefaultToolKind           = cachekey.ToolKindD8
	DefaultMinPlatformVersion = 1
	DefaultLogLevel           = "info"
)

// Config is the pipeline configuration relevant to dex caching.
type Config struct {
	Cache              CacheConfig `json:"cache"`
	Tool               ToolConfig  `json:"tool"`
	MinPlatformVersion int         `json:"minPlatformVersion"`
	Debuggable         bool        `json:"debuggable"`
	OptimizationFlags  []string    `json:"optimizationFlags"`
	Log                LogConfig   `json:"log"`
}

// CacheConfig configures the cache store.
type CacheConfig struct {
	// Enabled turns the store on. A disabled cache makes every input ineligible.
	Enabled bool `json:"enabled"`
	// Dir is the root directory of the local store.
	Dir string `json:"dir"`
}

// ToolConfig identifies the dexer.
type ToolConfig struct {
	Kind cachekey.ToolKind `json:"kind"`
	// Version pins the dexer version. When empty it is probed from Binary.
	Version string `json:"version"`
	// Binary is the dexer executable.
	Binary string `json:"binary"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `json:"level"`
}

// Default returns a configuration with all defaults applied.
func Default() Config {
	c := Config{Cache: CacheConfig{Enabled: true}}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero-valued fields with their defaults. A zero
// MinPlatformVersion is unset; the lowest accepted value is 1.
func (c *Config) SetDefaults() {
	if c.Cache.Dir == "" {
		c.Cache.Dir = DefaultCacheDir
	}
	if c.Tool.Kind == "" {
		c.Tool.Kind = DefaultToolKind
	}
	if c.Tool.Binary == "" {
		c.Tool.Binary = DefaultToolBinary
	}
	if c.MinPlatformVersion == 0 {
		c.MinPlatformVersion = DefaultMinPlatformVersion
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Cache.Enabled && c.Cache.Dir == "" {
		return errors.New(errors.CodeInvalidConfig, "cache.dir is required when the cache is enabled")
	}
	if !c.Tool.Kind.Valid() {
		return errors.Newf(errors.CodeInvalidConfig, "tool.kind must be %q or %q, got %q",
			cachekey.ToolKindD8, cachekey.ToolKindDX, c.Tool.Kind)
	}
	if c.Tool.Version == "" && c.Tool.Binary == "" {
		return errors.New(errors.CodeInvalidConfig, "either tool.version or tool.binary must be set")
	}
	if c.MinPlatformVersion < 1 {
		return errors.Newf(errors.CodeInvalidConfig, "minPlatformVersion must be at least 1, got %d", c.MinPlatformVersion)
	}
	if _, err := logging.ParseLogLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid log.level")
	}
	return nil
}

// Params returns the key parameters for toolVersion. An empty toolVersion
// falls back to Tool.Version.
func (c *Config) Params(toolVersion string) cachekey.Params {
	if toolVersion == "" {
		toolVersion = c.Tool.Version
	}
	flags := make([]string, len(c.OptimizationFlags))
	copy(flags, c.OptimizationFlags)

	return cachekey.Params{
		ToolVersion:        toolVersion,
		OptimizationFlags:  flags,
		ToolKind:           c.Tool.Kind,
		MinPlatformVersion: c.MinPlatformVersion,
		Debuggable:         c.Debuggable,
	}
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() logging.LogLevel {
	level, err := logging.ParseLogLevel(c.Log.Level)
	if err != nil {
		return logging.LogLevelInfo
	}
	return level
}
