// Package config loads the process configuration from the config file and
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loomworks/loom/pkg/mcp"
)

// Config is the full process configuration.
type Config struct {
	Model      string                      `mapstructure:"model"`
	Backend    BackendConfig               `mapstructure:"backend"`
	Agent      AgentConfig                 `mapstructure:"agent"`
	Shell      ShellConfig                 `mapstructure:"shell"`
	Log        LogConfig                   `mapstructure:"log"`
	MCPServers map[string]mcp.ServerConfig `mapstructure:"mcp_servers"`
}

// BackendConfig configures the managed backend connection.
type BackendConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
	// ForceManaged pins all requests to the managed path even when
	// subscription credentials exist.
	ForceManaged bool `mapstructure:"force_managed"`
}

// AgentConfig configures run defaults.
type AgentConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	StepBudget   int    `mapstructure:"step_budget"`
}

// ShellConfig restricts the shell tool.
type ShellConfig struct {
	// Allow lists glob patterns matched against the full command line.
	// Empty permits everything.
	Allow []string `mapstructure:"allow"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Dir returns the configuration directory, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".loom")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	return dir, nil
}

// Load reads configuration from ~/.loom/config.yaml and the LOOM_*
// environment. A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if dir, err := Dir(); err == nil {
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("model", "claude-sonnet-4-5")
	v.SetDefault("backend.url", "https://api.loom.works/v1")
	v.SetDefault("agent.step_budget", 50)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
