//go:build no_automation

package automation

import (
	"log/slog"
	"time"

	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
)

// Origin marks item writes made by scripts.
const Origin = "automation"

// Sender publishes panel commands.
type Sender interface {
	Send(topic string, cmds ...string)
}

// RunResult is the result of a one-shot script execution.
type RunResult struct {
	OK       bool     `json:"ok"`
	Error    string   `json:"error,omitempty"`
	Logs     []string `json:"logs"`
	Duration string   `json:"duration"`
}

// SystemConfig holds system exec settings (stub).
type SystemConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// ScriptStatus describes one script on disk.
type ScriptStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Running     bool   `json:"running"`
}

// Manager is a no-op stub when automation is disabled.
type Manager struct{}

// NewManager returns a nil manager when automation is disabled.
func NewManager(_ string, _ *slog.Logger) (*Manager, error) { return nil, nil }

// Engine is a no-op stub when automation is disabled.
type Engine struct{}

// NewEngine returns a no-op engine when automation is disabled.
func NewEngine(_ items.Store, _ *panel.EventBus, _ Sender, _ *Manager, _ *slog.Logger, _ SystemConfig) *Engine {
	return &Engine{}
}

func (e *Engine) Start() {}

func (e *Engine) Stop() {}

func (e *Engine) Running() int { return 0 }

func (e *Engine) Check() error { return nil }

func (e *Engine) Status() ([]ScriptStatus, error) { return nil, nil }

func (e *Engine) ReloadScript(_ string) error { return nil }

func (e *Engine) StopScript(_ string) {}

func (e *Engine) RunScript(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}

func (e *Engine) RunLuaCode(_ string) *RunResult {
	return &RunResult{OK: false, Error: "automation disabled"}
}
