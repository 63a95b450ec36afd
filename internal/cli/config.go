package cli

import (
	"os"
	"path/filepath"
)

// Config holds CLI configuration
type Config struct {
	ServerURL    string
	SessionToken string
	SessionFile  string
	Output       string
	Verbose      bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL:    getEnvOrDefault("ROOMSYNC_SERVER", "http://localhost:8080"),
		SessionToken: os.Getenv("ROOMSYNC_SESSION"),
		SessionFile:  getEnvOrDefault("ROOMSYNC_SESSION_FILE", defaultSessionFile()),
		Output:       "text",
		Verbose:      false,
	}
}

// LoadSession loads the session token from file if not already set
func (c *Config) LoadSession() error {
	if c.SessionToken != "" {
		return nil
	}

	data, err := os.ReadFile(c.SessionFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No session file is fine
		}
		return err
	}

	c.SessionToken = string(data)
	return nil
}

// SaveSession saves the session token to the session file
func (c *Config) SaveSession(token string) error {
	c.SessionToken = token

	dir := filepath.Dir(c.SessionFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(c.SessionFile, []byte(token), 0600)
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roomsync/session"
	}
	return filepath.Join(home, ".roomsync", "session")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
