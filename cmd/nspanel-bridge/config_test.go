package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
panel:
  pages: pages.yaml
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Tasmota.FullTopic != "%prefix%/%topic%/" {
		t.Errorf("full_topic = %q", cfg.Tasmota.FullTopic)
	}
	if cfg.TelePeriod() != 300*time.Second {
		t.Errorf("telemetry period = %s, want 5m", cfg.TelePeriod())
	}
	if cfg.Items.Backend != "memory" {
		t.Errorf("items.backend = %q, want memory", cfg.Items.Backend)
	}
	if cfg.MQTT.StateTopic != "nspanel-bridge/state" {
		t.Errorf("state topic = %q", cfg.MQTT.StateTopic)
	}
	if cfg.ScriptsDir != "scripts" || cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("defaults = %q %q %q", cfg.ScriptsDir, cfg.Log.Level, cfg.Log.Format)
	}
}

func TestLoadConfigDevices(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
tasmota:
  topics: [nspanel2, nspanel1]
devices:
  nspanel1:
    online: panel.flur.online
    relays:
      1: licht.flur
    temp_analog: temp.flur
  nspanel3:
    wifi_signal: panel.kueche.wifi
panel:
  pages: pages.yaml
`))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.PanelTopics(), []string{"nspanel1", "nspanel2", "nspanel3"}; !reflect.DeepEqual(got, want) {
		t.Errorf("topics = %v, want %v", got, want)
	}
	m := cfg.Devices["nspanel1"]
	if m.Online != "panel.flur.online" || m.Relays[1] != "licht.flur" || m.TempAnalog != "temp.flur" {
		t.Errorf("mapping = %+v", m)
	}
}

func TestLoadConfigWeb(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
mqtt:
  broker: tcp://localhost:1883
panel:
  pages: pages.yaml
web:
  listen: ":8080"
  api_key: secret
  allowed_origins: ["http://panel.local"]
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Web.Listen != ":8080" || cfg.Web.APIKey != "secret" {
		t.Errorf("web = %+v", cfg.Web)
	}
	if !reflect.DeepEqual(cfg.Web.AllowedOrigins, []string{"http://panel.local"}) {
		t.Errorf("allowed origins = %v", cfg.Web.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	base := `
mqtt:
  broker: tcp://localhost:1883
panel:
  pages: pages.yaml
`
	tests := []struct {
		name    string
		extra   string
		wantErr string
	}{
		{"valid", "", ""},
		{"bad full topic", "tasmota:\n  full_topic: \"%topic%/\"\n", "full_topic"},
		{"negative period", "tasmota:\n  telemetry_period: -5\n", "telemetry_period"},
		{"unknown backend", "items:\n  backend: redis\n", "items.backend"},
		{"bolt without path", "items:\n  backend: bolt\n", "items.path"},
		{"bad timeout", "exec:\n  timeout: soon\n", "exec.timeout"},
		{"relay out of range", "devices:\n  nspanel1:\n    relays:\n      9: licht\n", "relay 9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(writeConfig(t, base+tt.extra))
			if err != nil {
				t.Fatal(err)
			}
			err = cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}

	t.Run("missing broker", func(t *testing.T) {
		cfg, err := loadConfig(writeConfig(t, "panel:\n  pages: pages.yaml\n"))
		if err != nil {
			t.Fatal(err)
		}
		if err := cfg.validate(); err == nil || !strings.Contains(err.Error(), "mqtt.broker") {
			t.Errorf("validate = %v, want mqtt.broker error", err)
		}
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
