// Package config – secrets.go resolves the LLM API key through the OS
// keyring (Linux: Secret Service, macOS: Keychain, Windows: Credential
// Manager) before falling back to environment variables and the config file.
//
// Priority:
//  1. OS keyring (encrypted by the OS, requires user session)
//  2. Environment variable (LLM_API_KEY, OPENAI_API_KEY)
//  3. .env file (loaded by godotenv before env inspection)
//  4. config value (least secure — plaintext on disk)
package config

import (
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "searchgw"

	// keyringAPIKey is the key name for the LLM API key.
	keyringAPIKey = "llm_api_key"
)

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring.
// Returns empty string if not found.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__searchgw_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ResolveAPIKey fills c.LLM.APIKey from the priority chain. Env overrides
// already ran, so a non-empty value at this point came from env/.env/file
// and only the keyring can outrank it.
func (c *Config) ResolveAPIKey(logger *slog.Logger) {
	if val := GetKeyring(keyringAPIKey); val != "" {
		c.LLM.APIKey = val
		logger.Debug("LLM API key loaded from OS keyring")
		return
	}
	if c.LLM.APIKey != "" {
		logger.Debug("LLM API key loaded from env/config")
		return
	}
	logger.Warn("no LLM API key found. Set LLM_API_KEY or run: searchgw config set-key")
}

// StdoutIsTerminal reports whether stdout is attached to a terminal. Used to
// pick the text log format for interactive runs.
func StdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
