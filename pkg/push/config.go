package push

import (
	"fmt"
)

// Default relay service host (Mozilla autopush production).
const DefaultServerHost = "updates.push.services.mozilla.com"

// Config holds the settings for a push Manager.
type Config struct {
	// SenderID is the native OS push application identifier.
	SenderID string `json:"sender_id" mapstructure:"sender_id"`
	// ServerHost is the relay service host name.
	ServerHost string `json:"server_host" mapstructure:"server_host"`
	// HTTPProtocol is "https" (default) or "http" for local relays.
	HTTPProtocol string `json:"http_protocol" mapstructure:"http_protocol"`
	// BridgeType names the native transport, e.g. "fcm" or "adm".
	BridgeType string `json:"bridge_type" mapstructure:"bridge_type"`
	// RegistrationID is the opaque token issued by the native transport.
	RegistrationID string `json:"registration_id" mapstructure:"registration_id"`
	// DatabasePath is where the file-backed store keeps push state.
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
}

// Validate fills defaults and rejects incomplete configurations.
func (c *Config) Validate() error {
	if c.SenderID == "" {
		return fmt.Errorf("sender id is required")
	}
	if c.BridgeType == "" {
		return fmt.Errorf("bridge type is required")
	}
	if c.ServerHost == "" {
		c.ServerHost = DefaultServerHost
	}
	if c.HTTPProtocol == "" {
		c.HTTPProtocol = "https"
	}
	return nil
}

// ServerURL returns the relay service base URL.
func (c *Config) ServerURL() string {
	return fmt.Sprintf("%s://%s", c.HTTPProtocol, c.ServerHost)
}
