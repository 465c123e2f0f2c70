// Package where implements a cross-platform resolver for application-specific filesystem paths.
package where

import (
	"os"
	"path/filepath"

	"github.com/pahedl-app/pahedl/constant"
	"github.com/pahedl-app/pahedl/filesystem"
	"github.com/samber/lo"
)

// EnvConfigPath is the environment variable identifier used to override the default configuration directory.
const EnvConfigPath = "PAHEDL_CONFIG_PATH"

// ensureDir guarantees the existence of a directory at the specified path, creating it if necessary.
func ensureDir(path string) string {
	lo.Must0(filesystem.API().MkdirAll(path, os.ModePerm))
	return path
}

// Config resolves the absolute path to the primary application configuration directory.
// The directory is shared with the desktop shell, hence the historical "animepahe-dl" name.
// Direct override: The path resolution can be explicitly specified via the PAHEDL_CONFIG_PATH environment variable.
func Config() string {
	if custom, ok := os.LookupEnv(EnvConfigPath); ok {
		return ensureDir(custom)
	}

	base := lo.Must(os.UserConfigDir())
	return ensureDir(filepath.Join(base, constant.ConfigDirName))
}

// Cache resolves the absolute path to the application's persistent cache directory.
func Cache() string {
	base, err := os.UserCacheDir()
	if err != nil {
		// Fallback: Revert to a localized cache directory if the system-provided path is inaccessible.
		base = filepath.Join(".", "cache")
	}
	return ensureDir(filepath.Join(base, constant.ConfigDirName))
}

// Logs resolves the absolute path to the directory used for application diagnostic logs.
func Logs() string {
	return ensureDir(filepath.Join(Config(), "logs"))
}

// StateFile resolves the absolute path to the durable download state document.
func StateFile() string {
	return filepath.Join(Config(), "download_state.json")
}

// SettingsFile resolves the absolute path to the settings document owned by the desktop shell.
// The core reads it for host and download directory fallbacks; it never writes it.
func SettingsFile() string {
	return filepath.Join(Config(), "settings.json")
}

// Catalog resolves the absolute path to the localized episode catalog cache.
func Catalog() string {
	return filepath.Join(Cache(), "catalog.json")
}

// Downloads resolves the default output directory for completed episodes.
func Downloads() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ensureDir(filepath.Join(".", "downloads"))
	}
	return ensureDir(filepath.Join(home, "Downloads"))
}

// Temp resolves the application's fixed directory under the system temp dir for transient artifacts.
func Temp() string {
	return ensureDir(filepath.Join(os.TempDir(), constant.App))
}
