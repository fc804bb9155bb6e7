//go:build !no_automation

package main

import (
	"log/slog"
	"time"

	"nspanel-bridge/internal/automation"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/web"
)

type autoStopper struct {
	engine *automation.Engine
}

func (a *autoStopper) Stop() {
	if a.engine != nil {
		a.engine.Stop()
	}
}

func systemConfig(cfg *Config, logger *slog.Logger) automation.SystemConfig {
	execTimeout := 10 * time.Second
	if cfg.Exec.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Exec.Timeout); err == nil {
			execTimeout = d
		} else {
			logger.Warn("invalid exec.timeout, using default", "value", cfg.Exec.Timeout, "default", execTimeout)
		}
	}
	return automation.SystemConfig{
		ExecAllowlist: cfg.Exec.Allowlist,
		ExecTimeout:   execTimeout,
	}
}

func initAutomation(store items.Store, events *panel.EventBus, out automation.Sender, cfg *Config, logger *slog.Logger) (*autoStopper, []web.ServerOption) {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &autoStopper{}, nil
	}

	engine := automation.NewEngine(store, events, out, scriptMgr, logger, systemConfig(cfg, logger))
	engine.Start()
	return &autoStopper{engine: engine}, []web.ServerOption{web.WithAutomation(engine)}
}

// checkScripts compiles every script in the scripts directory.
func checkScripts(cfg *Config, logger *slog.Logger) error {
	scriptMgr, err := automation.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		return err
	}
	return automation.NewEngine(nil, nil, nil, scriptMgr, logger, systemConfig(cfg, logger)).Check()
}
