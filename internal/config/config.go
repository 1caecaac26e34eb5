// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		Env  string `yaml:"env"`
	} `yaml:"server"`

	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`

	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"gateway"`

	Webhook struct {
		// CallbackBaseURL is where the gateway delivers events back to us;
		// the inbound endpoint path is appended to it.
		CallbackBaseURL string `yaml:"callback_base_url"`
		// ForwardURL is the default delivery target for explicit webhook
		// reconfiguration. Leaving it empty disables set_webhook unless the
		// caller supplies a URL.
		ForwardURL string `yaml:"forward_url"`
		Secret     string `yaml:"secret"`
	} `yaml:"webhook"`

	RabbitMQ struct {
		URL string `yaml:"url"`
	} `yaml:"rabbitmq"`

	Workers int `yaml:"workers"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = 15
	}
}

// Validate checks the settings the service cannot run without. Gateway
// credentials are fatal here so that a misconfigured deployment fails at
// startup instead of on the first provider call.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url is required: set it to the messaging gateway endpoint")
	}
	if c.Gateway.APIKey == "" {
		return errors.New("gateway.api_key is required: obtain one from the messaging gateway console")
	}
	return nil
}
