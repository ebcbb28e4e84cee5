package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppConfigDir = ".config/fedsync"

// GetConfigDir returns ~/.config/fedsync, creating it on first use.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, AppConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// ResolveFilePath picks where fedsync reads name from. A file in the
// working directory shadows the one in the config directory; when neither
// exists the config directory path is returned so the file gets created
// there.
func ResolveFilePath(name string) string {
	if _, err := os.Stat(name); err == nil {
		return name
	}
	dir, err := GetConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}
