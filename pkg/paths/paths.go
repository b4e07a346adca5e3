package paths

import (
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDir returns the config directory for stoq.
// Order: XDG_CONFIG_HOME/stoq, platform-specific fallback.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "stoq")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "Stoq")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "stoq")
}

// DataDir returns the data directory for stoq.
// Order: XDG_DATA_HOME/stoq, platform-specific fallback.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "stoq")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("AppData"); appData != "" {
			return filepath.Join(appData, "Stoq")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "stoq")
}

// ConfigFile returns the default config file location.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// PluginDir returns the default plugin descriptor directory.
func PluginDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// ArchiveDir returns the default directory used by file-backed connectors.
func ArchiveDir() string {
	return filepath.Join(DataDir(), "archive")
}

// CacheDir returns the cache directory for stoq.
// Order: XDG_CACHE_HOME/stoq, platform-specific fallback.
func CacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "stoq")
	}
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LocalAppData"); local != "" {
			return filepath.Join(local, "Stoq", "Cache")
		}
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "stoq")
}
