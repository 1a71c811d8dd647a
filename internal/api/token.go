package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrCredential indicates the OAuth token could not be read from any
// credential source.
var ErrCredential = errors.New("credentials: token not found")

// execTimeout bounds external credential store lookups so a hung keychain
// helper cannot stall a poll cycle.
const execTimeout = 5 * time.Second

// claudeCredentials represents the Claude Code credentials JSON structure.
type claudeCredentials struct {
	ClaudeAiOauth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"` // Unix milliseconds
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

// parseCredentialPayload extracts the OAuth access token from a credential
// store payload. The payload is normally the Claude Code credentials JSON;
// some keyring setups store the bare token string instead, so a non-JSON
// payload falls back to being treated as the token itself.
func parseCredentialPayload(data []byte) string {
	var creds claudeCredentials
	if err := json.Unmarshal(data, &creds); err == nil {
		if token := creds.ClaudeAiOauth.AccessToken; token != "" {
			return token
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// CredentialProvider reads the Claude Code OAuth token from the OS
// credential store, with a file fallback.
type CredentialProvider struct {
	logger *slog.Logger
}

// NewCredentialProvider creates a credential provider.
func NewCredentialProvider(logger *slog.Logger) *CredentialProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialProvider{logger: logger}
}

// Token performs one credential store lookup. It never retries; callers
// decide whether a fresh lookup is warranted.
func (p *CredentialProvider) Token() (string, error) {
	token := lookupTokenPlatform(p.logger)
	if token == "" {
		return "", ErrCredential
	}
	return token, nil
}
