// Package branding provides compile-time identity values for the CLI.
//
// branding.yaml is embedded with //go:embed; forks change the CLI name,
// home directory, env prefix and the settings group shared with the host
// application there.
package branding

import (
	_ "embed"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName       string `yaml:"cli_name"`
	DisplayName   string `yaml:"display_name"`
	Description   string `yaml:"description"`
	HomeDir       string `yaml:"home_dir"`
	EnvPrefix     string `yaml:"env_prefix"`
	UserAgent     string `yaml:"user_agent"`
	SettingsGroup string `yaml:"settings_group"`
}

func load() {
	once.Do(func() {
		// Set hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:       "ocmodctl",
			DisplayName:   "OCMOD Installer",
			Description:   "Installs extension packages and deploys them from CI artifacts",
			HomeDir:       ".ocmodctl",
			EnvPrefix:     "OCMODCTL",
			UserAgent:     "OpenCart-GitHub-Deploy",
			SettingsGroup: "module_module_installer",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "ocmodctl").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".ocmodctl").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "OCMODCTL").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// UserAgent returns the User-Agent sent to the GitHub API.
func UserAgent() string { load(); return defaults.UserAgent }

// SettingsGroup returns the settings group holding tokens and deploy state.
func SettingsGroup() string { load(); return defaults.SettingsGroup }

// SettingKey returns a fully qualified key inside the settings group,
// e.g. SettingKey("github_repo") → "module_module_installer_github_repo".
func SettingKey(suffix string) string {
	load()
	return defaults.SettingsGroup + "_" + suffix
}
