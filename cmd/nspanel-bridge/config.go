package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mqttbridge "nspanel-bridge/internal/mqtt"
	"nspanel-bridge/internal/panel"
)

type Config struct {
	MQTT    mqttbridge.Config `yaml:"mqtt"`
	Tasmota struct {
		FullTopic       string   `yaml:"full_topic"`
		TelemetryPeriod int      `yaml:"telemetry_period"` // seconds
		Topics          []string `yaml:"topics"`
	} `yaml:"tasmota"`
	// Devices maps panel topics to the items their telemetry is written to.
	Devices map[string]panel.Mapping `yaml:"devices"`
	Panel   struct {
		Pages  string `yaml:"pages"`
		Locale string `yaml:"locale"`
	} `yaml:"panel"`
	Items struct {
		Backend string         `yaml:"backend"` // "memory" or "bolt"
		Path    string         `yaml:"path"`
		Initial map[string]any `yaml:"initial"`
	} `yaml:"items"`
	History struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"history"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Exec struct {
		Allowlist []string `yaml:"allowlist"`
		Timeout   string   `yaml:"timeout"`
	} `yaml:"exec"`
	ScriptsDir string `yaml:"scripts_dir"`
	Log        struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Panel.Pages == "" {
		return fmt.Errorf("panel.pages is required")
	}
	if c.Tasmota.TelemetryPeriod <= 0 {
		return fmt.Errorf("tasmota.telemetry_period must be positive, got %d", c.Tasmota.TelemetryPeriod)
	}
	if !strings.Contains(c.Tasmota.FullTopic, "%topic%") || !strings.Contains(c.Tasmota.FullTopic, "%prefix%") {
		return fmt.Errorf("tasmota.full_topic must contain %%prefix%% and %%topic%%, got %q", c.Tasmota.FullTopic)
	}
	switch c.Items.Backend {
	case "memory":
	case "bolt":
		if c.Items.Path == "" {
			return fmt.Errorf("items.path is required for the bolt backend")
		}
	default:
		return fmt.Errorf("unknown items.backend %q (supported: memory, bolt)", c.Items.Backend)
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}
	if c.Exec.Timeout != "" {
		if _, err := time.ParseDuration(c.Exec.Timeout); err != nil {
			return fmt.Errorf("exec.timeout: %w", err)
		}
	}
	for topic, m := range c.Devices {
		for n := range m.Relays {
			if n < 1 || n > 8 {
				return fmt.Errorf("devices.%s: relay %d out of range 1-8", topic, n)
			}
		}
	}
	return nil
}

// TelePeriod returns the configured telemetry period.
func (c *Config) TelePeriod() time.Duration {
	return time.Duration(c.Tasmota.TelemetryPeriod) * time.Second
}

// PanelTopics returns the listed topics plus every topic with a device
// mapping, sorted and without duplicates.
func (c *Config) PanelTopics() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range c.Tasmota.Topics {
		add(t)
	}
	for t := range c.Devices {
		add(t)
	}
	sort.Strings(out)
	return out
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MQTT.StateTopic == "" {
		cfg.MQTT.StateTopic = "nspanel-bridge/state"
	}
	if cfg.Tasmota.FullTopic == "" {
		cfg.Tasmota.FullTopic = "%prefix%/%topic%/"
	}
	if cfg.Tasmota.TelemetryPeriod == 0 {
		cfg.Tasmota.TelemetryPeriod = 300
	}
	if cfg.Items.Backend == "" {
		cfg.Items.Backend = "memory"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "nspanel-history.db"
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
