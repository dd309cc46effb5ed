package config

import (
	"fmt"
	"os"
)

// Environment variables consumed by the monitoring client.
const (
	ServerURLEnv = "AGENTFLOOR_SERVER_URL"
	APIKeyEnv    = "AGENTFLOOR_API_KEY"
)

// ClientConfig is the monitoring client's environment-derived settings.
type ClientConfig struct {
	ServerURL string
	APIKey    string
}

// LoadClient reads the client configuration from the environment. Both
// values may be empty, in which case the client runs local-only.
func LoadClient() ClientConfig {
	return ClientConfig{
		ServerURL: os.Getenv(ServerURLEnv),
		APIKey:    os.Getenv(APIKeyEnv),
	}
}

// SyncEnabled reports whether the client has enough configuration to talk
// to a server.
func (c ClientConfig) SyncEnabled() bool {
	return c.ServerURL != "" && c.APIKey != ""
}

// Validate checks that sync configuration is either complete or absent.
func (c ClientConfig) Validate() error {
	if (c.ServerURL == "") != (c.APIKey == "") {
		return fmt.Errorf("set both %s and %s, or neither", ServerURLEnv, APIKeyEnv)
	}
	return nil
}
