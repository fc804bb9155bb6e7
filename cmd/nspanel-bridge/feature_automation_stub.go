//go:build no_automation

package main

import (
	"log/slog"

	"nspanel-bridge/internal/automation"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ items.Store, _ *panel.EventBus, _ automation.Sender, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}

func checkScripts(_ *Config, _ *slog.Logger) error { return nil }
