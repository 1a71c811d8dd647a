//go:build windows

package api

import (
	"log/slog"
	"os"
	"path/filepath"
)

// lookupTokenPlatform reads credentials from file on Windows.
func lookupTokenPlatform(logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	credPath := filepath.Join(home, ".claude", ".credentials.json")
	data, err := os.ReadFile(credPath)
	if err != nil {
		return ""
	}
	if token := parseCredentialPayload(data); token != "" {
		logger.Info("token read from credentials file", "path", credPath)
		return token
	}

	return ""
}
