// Package config loads the gateway settings from an optional YAML file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/supremeagent/claudegate/pkg/executor"
	"gopkg.in/yaml.v3"
)

const defaultMCPConfig = "mcp-config.json"

type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	CLIPath             string `yaml:"claude_cli_path"`
	TotalTimeoutMS      int    `yaml:"claude_total_timeout_ms"`
	InactivityTimeoutMS int    `yaml:"claude_inactivity_timeout_ms"`
	KillTimeoutMS       int    `yaml:"process_kill_timeout_ms"`
	StdoutPTY           bool   `yaml:"claude_stdout_pty"`

	WorkspaceBasePath string `yaml:"workspace_base_path"`
	MCPConfigPath     string `yaml:"mcp_config_path"`

	// APIKeys enables bearer authentication when not empty.
	APIKeys []string `yaml:"api_keys"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() Config {
	return Config{
		Host:                "0.0.0.0",
		Port:                3000,
		TotalTimeoutMS:      3600000,
		InactivityTimeoutMS: 300000,
		KillTimeoutMS:       5000,
		WorkspaceBasePath:   ".",
		LogLevel:            "debug",
		LogFormat:           "text",
	}
}

// Load reads path when it is not empty, then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if cfg.MCPConfigPath == "" {
		if _, err := os.Stat(defaultMCPConfig); err == nil {
			cfg.MCPConfigPath = defaultMCPConfig
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &executor.ConfigurationError{Setting: key, Err: err}
		}
		*dst = n
		return nil
	}

	str("HOST", &c.Host)
	str("CLAUDE_CLI_PATH", &c.CLIPath)
	str("WORKSPACE_BASE_PATH", &c.WorkspaceBasePath)
	str("MCP_CONFIG_PATH", &c.MCPConfigPath)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	for key, dst := range map[string]*int{
		"PORT":                         &c.Port,
		"CLAUDE_TOTAL_TIMEOUT_MS":      &c.TotalTimeoutMS,
		"CLAUDE_INACTIVITY_TIMEOUT_MS": &c.InactivityTimeoutMS,
		"PROCESS_KILL_TIMEOUT_MS":      &c.KillTimeoutMS,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	if v, ok := lookup("CLAUDE_STDOUT_PTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &executor.ConfigurationError{Setting: "CLAUDE_STDOUT_PTY", Err: err}
		}
		c.StdoutPTY = b
	}

	var keys []string
	if v, ok := lookup("API_KEY"); ok {
		keys = append(keys, v)
	}
	if v, ok := lookup("API_KEYS"); ok {
		keys = append(keys, strings.Split(v, ",")...)
	}
	if len(keys) > 0 {
		c.APIKeys = append(c.APIKeys, keys...)
	}
	c.APIKeys = normalizeKeys(c.APIKeys)
	return nil
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var out []string
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// Validate rejects values no server can run with.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return &executor.ConfigurationError{Setting: "port", Err: fmt.Errorf("%d out of range", c.Port)}
	}
	for name, ms := range map[string]int{
		"claude_total_timeout_ms":      c.TotalTimeoutMS,
		"claude_inactivity_timeout_ms": c.InactivityTimeoutMS,
		"process_kill_timeout_ms":      c.KillTimeoutMS,
	} {
		if ms < 0 {
			return &executor.ConfigurationError{Setting: name, Err: errors.New("must not be negative")}
		}
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) AuthEnabled() bool { return len(c.APIKeys) > 0 }

// Executor maps the settings onto the supervisor configuration.
func (c Config) Executor() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.CLIPath = c.CLIPath
	cfg.MCPConfigPath = c.MCPConfigPath
	cfg.TotalTimeout = time.Duration(c.TotalTimeoutMS) * time.Millisecond
	cfg.InactivityTimeout = time.Duration(c.InactivityTimeoutMS) * time.Millisecond
	cfg.KillTimeout = time.Duration(c.KillTimeoutMS) * time.Millisecond
	cfg.StdoutPTY = c.StdoutPTY
	return cfg
}
