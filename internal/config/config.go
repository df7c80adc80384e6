// Package config loads the daemon configuration. Files are JSON or TOML,
// picked by extension; missing values fall back to built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"

	"github.com/roelfdiedericks/tabclaw/internal/paths"
)

// Config is the merged tabclaw configuration
type Config struct {
	Listen    string `json:"listen" toml:"listen"`
	StorePath string `json:"storePath" toml:"storePath"`

	Logging      LoggingConfig      `json:"logging" toml:"logging"`
	Provider     ProviderConfig     `json:"provider" toml:"provider"`
	Orchestrator OrchestratorConfig `json:"orchestrator" toml:"orchestrator"`
	Pager        PagerConfig        `json:"pager" toml:"pager"`
	Browser      BrowserConfig      `json:"browser" toml:"browser"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level      string `json:"level" toml:"level"`
	ShowCaller bool   `json:"showCaller" toml:"showCaller"`
}

// ProviderConfig seeds the settings document on first run. After that the
// persisted settings win; the panel edits them through SAVE_SETTINGS.
type ProviderConfig struct {
	Type     string `json:"type" toml:"type"`
	Endpoint string `json:"endpoint" toml:"endpoint"`
	Model    string `json:"model" toml:"model"`
	APIKey   string `json:"apiKey" toml:"apiKey"`
}

// OrchestratorConfig tunes the tool-calling loop
type OrchestratorConfig struct {
	MaxToolRounds     int `json:"maxToolRounds" toml:"maxToolRounds"`
	LLMTimeoutSeconds int `json:"llmTimeoutSeconds" toml:"llmTimeoutSeconds"`
}

// LLMTimeout returns the completion deadline as a duration
func (c OrchestratorConfig) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

// PagerConfig tunes result pagination
type PagerConfig struct {
	ThresholdBytes   int `json:"thresholdBytes" toml:"thresholdBytes"`
	PageSizeBytes    int `json:"pageSizeBytes" toml:"pageSizeBytes"`
	RetentionMinutes int `json:"retentionMinutes" toml:"retentionMinutes"`
}

// Retention returns the paged-result lifetime as a duration
func (c PagerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// BrowserConfig controls the local Chromium executor. A daemon serving
// only remote tabs over the message channel leaves ControlURL empty.
type BrowserConfig struct {
	ControlURL       string `json:"controlUrl" toml:"controlUrl"`
	Stealth          bool   `json:"stealth" toml:"stealth"`
	OpTimeoutSeconds int    `json:"opTimeoutSeconds" toml:"opTimeoutSeconds"`
}

// OpTimeout returns the per-operation deadline as a duration
func (c BrowserConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	storePath, _ := paths.StorePath()
	return &Config{
		Listen:    "127.0.0.1:8900",
		StorePath: storePath,
		Logging: LoggingConfig{
			Level:      "info",
			ShowCaller: true,
		},
		Provider: ProviderConfig{
			Type:  "openai",
			Model: "gpt-4o-mini",
		},
		Orchestrator: OrchestratorConfig{
			MaxToolRounds:     12,
			LLMTimeoutSeconds: 120,
		},
		Pager: PagerConfig{
			ThresholdBytes:   16 * 1024,
			PageSizeBytes:    8 * 1024,
			RetentionMinutes: 10,
		},
		Browser: BrowserConfig{
			Stealth:          true,
			OpTimeoutSeconds: 30,
		},
	}
}

// DefaultPath returns the first config file found by the standard search
// order, or empty when none exists.
func DefaultPath() string {
	p, err := paths.ConfigPath()
	if err != nil {
		return ""
	}
	return p
}

// Load reads the config file at path and fills unset values from Defaults.
// An empty path means no file: pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid TOML config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid JSON config %s: %w", path, err)
			}
		}
	}
	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return cfg, nil
}
