// Package config provides centralized management for application settings, defaults, and the Viper-based configuration engine.
package config

import (
	"encoding/json"
	"strings"

	"github.com/pahedl-app/pahedl/constant"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/pahedl-app/pahedl/key"
	"github.com/pahedl-app/pahedl/where"
	"github.com/spf13/viper"
)

// EnvKeyReplacer is a strings.Replacer used to normalize configuration keys into environment variable naming conventions.
var EnvKeyReplacer = strings.NewReplacer(".", "_")

// Setup initializes the global configuration state, including defaults, environment bindings, and localized file resolution.
func Setup() error {
	viper.SetConfigName(constant.App)
	viper.SetConfigType("toml")
	viper.SetFs(filesystem.API())
	viper.AddConfigPath(where.Config())

	// Synchronize environment variable bindings.
	viper.SetEnvPrefix(constant.App)
	viper.SetEnvKeyReplacer(EnvKeyReplacer)
	for _, env := range EnvExposed {
		viper.MustBindEnv(env)
	}

	// Initialize factory default values.
	viper.SetTypeByDefaultValue(true)
	for name, field := range Default {
		viper.SetDefault(name, field.Value)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return applyShellSettings()
		}
		return err
	}

	return applyShellSettings()
}

// Settings mirrors the settings.json document owned by the desktop shell.
// The core treats it as read-only and only borrows the fields it understands.
type Settings struct {
	DownloadDir *string `json:"download_dir"`
	HostURL     string  `json:"host_url"`
	ThemeDark   bool    `json:"theme_dark"`
}

// applyShellSettings overlays host and download-dir fallbacks from the shell's
// settings.json when the corresponding keys were not set elsewhere.
func applyShellSettings() error {
	data, err := filesystem.API().ReadFile(where.SettingsFile())
	if err != nil {
		// The shell may never have run; that is not an error.
		return nil
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}

	if !viper.IsSet(key.HostURL) && s.HostURL != "" {
		viper.SetDefault(key.HostURL, NormalizeHost(s.HostURL))
	}
	if !viper.IsSet(key.DownloadDir) && s.DownloadDir != nil && *s.DownloadDir != "" {
		viper.SetDefault(key.DownloadDir, *s.DownloadDir)
	}
	return nil
}

// NormalizeHost canonicalizes a streaming host URL: trimmed, no trailing slash,
// falling back to the default mirror when blank.
func NormalizeHost(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return constant.DefaultHost
	}
	return strings.TrimRight(trimmed, "/")
}
