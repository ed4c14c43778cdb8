package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the server
type Config struct {
	// Server configuration
	Port int `envconfig:"PORT" default:"10001"`

	// Browser connection. CDP_URL is the browser-level DevTools WebSocket URL;
	// when empty it is discovered from CDP_HTTP_ADDR.
	CDPURL         string        `envconfig:"CDP_URL"`
	CDPHTTPAddr    string        `envconfig:"CDP_HTTP_ADDR" default:"localhost:9222"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"5s"`
	LogCDPMessages bool          `envconfig:"LOG_CDP_MESSAGES" default:"false"`

	// memory://, redis://host:port/db or sqlite://path
	StoreURL string `envconfig:"STORE_URL" default:"memory://"`

	// Sync tuning
	SampleInterval    time.Duration `envconfig:"SAMPLE_INTERVAL" default:"50ms"`
	SuppressWindow    time.Duration `envconfig:"SUPPRESS_WINDOW" default:"100ms"`
	StopTimeout       time.Duration `envconfig:"STOP_TIMEOUT" default:"1s"`
	InactiveRetention time.Duration `envconfig:"INACTIVE_RETENTION" default:"30s"`
	TextMatchWindow   int           `envconfig:"TEXT_MATCH_WINDOW" default:"40"`
	ModifierKey       string        `envconfig:"MODIFIER_KEY" default:"Alt"`

	// Optional YAML file with extra restricted URLs
	URLPolicyFile string `envconfig:"URL_POLICY_FILE"`
}

var modifierKeys = []string{"Alt", "Control", "Meta", "Shift"}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(config *Config) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if config.CDPURL == "" && config.CDPHTTPAddr == "" {
		return fmt.Errorf("CDP_URL or CDP_HTTP_ADDR is required")
	}
	if config.CDPURL != "" && !strings.HasPrefix(config.CDPURL, "ws://") && !strings.HasPrefix(config.CDPURL, "wss://") {
		return fmt.Errorf("CDP_URL must be a ws:// or wss:// URL")
	}
	if config.StoreURL == "" {
		return fmt.Errorf("STORE_URL is required")
	}
	if config.SampleInterval <= 0 {
		return fmt.Errorf("SAMPLE_INTERVAL must be greater than 0")
	}
	if config.SuppressWindow <= 0 {
		return fmt.Errorf("SUPPRESS_WINDOW must be greater than 0")
	}
	if config.StopTimeout <= 0 {
		return fmt.Errorf("STOP_TIMEOUT must be greater than 0")
	}
	if config.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be greater than 0")
	}
	if config.InactiveRetention <= 0 {
		return fmt.Errorf("INACTIVE_RETENTION must be greater than 0")
	}
	if config.TextMatchWindow < 1 || config.TextMatchWindow > 1000 {
		return fmt.Errorf("TEXT_MATCH_WINDOW must be between 1 and 1000")
	}
	valid := false
	for _, k := range modifierKeys {
		if config.ModifierKey == k {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("MODIFIER_KEY must be one of %s", strings.Join(modifierKeys, ", "))
	}

	return nil
}
