//go:build !windows

package api

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
)

// lookupTokenPlatform tries platform-specific credential stores.
func lookupTokenPlatform(logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	// macOS: try Keychain
	if runtime.GOOS == "darwin" && username != "" {
		out, err := runCredentialCommand("security", "find-generic-password",
			"-s", "Claude Code-credentials",
			"-a", username,
			"-w")
		if err == nil {
			if token := parseCredentialPayload(out); token != "" {
				logger.Info("token read from macOS Keychain")
				return token
			}
		}
	}

	// Linux: try secret-tool (GNOME Keyring)
	if runtime.GOOS == "linux" && username != "" {
		out, err := runCredentialCommand("secret-tool", "lookup",
			"service", "Claude Code-credentials",
			"account", username)
		if err == nil {
			if token := parseCredentialPayload(out); token != "" {
				logger.Info("token read from Linux keyring")
				return token
			}
		}
	}

	// File fallback: ~/.claude/.credentials.json
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

// runCredentialCommand executes a credential store helper under execTimeout.
func runCredentialCommand(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
	defer cancel()
	return exec.CommandContext(ctx, name, args...).Output()
}
