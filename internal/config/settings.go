package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ocmod-labs/ocmodctl/internal/layout"
	"github.com/ocmod-labs/ocmodctl/internal/patch"
)

// Settings backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the typed view of the loaded configuration.
type Config struct {
	// Root is the host installation directory every unset root derives from.
	Root     string         `mapstructure:"root"`
	Roots    layout.Roots   `mapstructure:"roots"`
	Database DatabaseConfig `mapstructure:"database"`
	Settings SettingsConfig `mapstructure:"settings"`
	Server   ServerConfig   `mapstructure:"server"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Patch    PatchConfig    `mapstructure:"patch"`
	Log      LogConfig      `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type SettingsConfig struct {
	Backend     string `mapstructure:"backend"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	MaxUpload string `mapstructure:"max_upload"`
}

type DeployConfig struct {
	APIBase         string        `mapstructure:"api_base"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
}

type PatchConfig struct {
	Scope string `mapstructure:"scope"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func defaults() map[string]interface{} {
	d := map[string]interface{}{
		"root":                    "",
		"database.path":           filepath.Join(Dir(), "ocmodctl.db"),
		"settings.backend":        BackendSQLite,
		"settings.redis_url":      "redis://localhost:6379",
		"settings.redis_prefix":   "ocmodctl:",
		"server.listen":           ":8080",
		"server.max_upload":       "50MiB",
		"deploy.api_base":         "https://api.github.com",
		"deploy.cooldown":         "10s",
		"deploy.connect_timeout":  "30s",
		"deploy.transfer_timeout": "5m",
		"patch.scope":             patch.ScopeInstallation.String(),
		"log.level":               "warn",
	}
	for _, k := range []string{"application", "catalog", "image", "system", "modification", "upload", "cache"} {
		d["roots."+k] = ""
	}
	return d
}

func setDefaults() {
	for k, v := range defaults() {
		viper.SetDefault(k, v)
	}
}

// Keys lists every recognised configuration key, sorted.
func Keys() []string {
	return slices.Sorted(maps.Keys(defaults()))
}

// Known reports whether key is a recognised configuration key.
func Known(key string) bool {
	_, ok := defaults()[strings.ToLower(key)]
	return ok
}

// Current decodes the loaded configuration.
func Current() (*Config, error) {
	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &c, nil
}

// ResolvedRoots returns the explicit roots with the rest derived from Root.
func (c *Config) ResolvedRoots() layout.Roots {
	return c.Roots.Merge(layout.FromBase(c.Root))
}

// MaxUploadBytes parses server.max_upload ("50MiB", "10M", "1048576").
func (c *Config) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(c.Server.MaxUpload)
	if err != nil {
		return 0, fmt.Errorf("parsing server.max_upload %q: %w", c.Server.MaxUpload, err)
	}
	return n, nil
}

// PatchScope parses patch.scope; anything but "all" is installation scope.
func (c *Config) PatchScope() patch.ScopeMode {
	return patch.ParseScopeMode(c.Patch.Scope)
}

// Watch calls onChange with the re-decoded configuration whenever the
// config file is written.
func Watch(onChange func(*Config, fsnotify.Event)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Current()
		if err != nil {
			return
		}
		onChange(c, e)
	})
	viper.WatchConfig()
}
