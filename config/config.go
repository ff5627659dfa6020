package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	once   sync.Once
	config *Config
)

type Config struct {
	Port       string
	AuthSecret string
	StateDir   string

	Shell      string // preferred local shell; empty = $SHELL
	SSHKeyPath string
	SSHUser    string

	DebounceWindow    time.Duration
	ReconnectBase     time.Duration
	ReconnectAttempts int

	SentryDSN string
}

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		config = &Config{
			Port:              getEnv("PORT", "7321"),
			AuthSecret:        os.Getenv("TERMMUX_AUTH_SECRET"),
			StateDir:          getEnv("TERMMUX_STATE_DIR", defaultStateDir()),
			Shell:             os.Getenv("TERMMUX_SHELL"),
			SSHKeyPath:        os.Getenv("SSH_PRIVATE_KEY_PATH"),
			SSHUser:           os.Getenv("SSH_USER"),
			DebounceWindow:    getEnvDuration("TERMMUX_DEBOUNCE_MS", 250*time.Millisecond),
			ReconnectBase:     getEnvDuration("TERMMUX_RECONNECT_BASE_MS", 5*time.Second),
			ReconnectAttempts: getEnvInt("TERMMUX_RECONNECT_ATTEMPTS", 5),
			SentryDSN:         os.Getenv("SENTRY_DSN"),
		}
	})
	return config
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termmux"
	}
	return filepath.Join(home, ".termmux")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
