package config

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// LogDirectory returns the directory `ventsim serve` writes its JSON log to.
//
// Locations:
//   - Windows: %LOCALAPPDATA%\ventsim\logs
//   - Unix: $XDG_CONFIG_HOME/ventsim/logs
func LogDirectory() string {
	if runtime.GOOS == "windows" {
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return filepath.Join(os.TempDir(), "ventsim-logs")
			}
			localAppData = filepath.Join(homeDir, "AppData", "Local")
		}
		return filepath.Join(localAppData, "ventsim", "logs")
	}

	dir, err := configDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ventsim-logs")
	}
	return filepath.Join(dir, "logs")
}

// EnsureLogDirectory creates the log directory with owner-only permissions.
func EnsureLogDirectory() error {
	return os.MkdirAll(LogDirectory(), 0700)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
