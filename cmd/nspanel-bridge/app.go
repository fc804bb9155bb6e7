package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nspanel-bridge/internal/history"
	"nspanel-bridge/internal/items"
	"nspanel-bridge/internal/metrics"
	mqttbridge "nspanel-bridge/internal/mqtt"
	"nspanel-bridge/internal/pageconfig"
	"nspanel-bridge/internal/panel"
	"nspanel-bridge/internal/render"
	"nspanel-bridge/internal/scheduler"
	"nspanel-bridge/internal/web"
)

const historyCleanupSpec = "0 30 3 * * *"

// app holds the wired components. Nothing runs until start.
type app struct {
	cfg    *Config
	logger *slog.Logger

	items    items.Store
	history  *history.SQLite
	events   *panel.EventBus
	panels   *panel.Store
	renderer *render.Renderer
	sched    *scheduler.Scheduler
	metrics  *metrics.Metrics
	client   *mqttbridge.Client
	bridge   *mqttbridge.Bridge
	auto     *autoStopper
	web      *web.Server
	httpSrv  *http.Server

	closers []func()
}

// loadPages reads the page configuration and locale, logging validation
// warnings.
func loadPages(cfg *Config, logger *slog.Logger) (*pageconfig.Document, *pageconfig.Locale, error) {
	doc, warnings, err := pageconfig.Load(cfg.Panel.Pages)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range warnings {
		logger.Warn("page config", "warning", w)
	}
	locale := pageconfig.DefaultLocale()
	if cfg.Panel.Locale != "" {
		if locale, err = pageconfig.LoadLocale(cfg.Panel.Locale); err != nil {
			return nil, nil, err
		}
	}
	return doc, locale, nil
}

func openItems(cfg *Config) (items.Store, error) {
	switch cfg.Items.Backend {
	case "bolt":
		s, err := items.NewBoltStore(cfg.Items.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Seed(cfg.Items.Initial); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		s := items.NewMemoryStore()
		s.Seed(cfg.Items.Initial)
		return s, nil
	}
}

// newApp builds every component and connects to the broker.
func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	doc, locale, err := loadPages(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.items, err = openItems(cfg)
	if err != nil {
		return nil, fmt.Errorf("open items: %w", err)
	}
	a.closers = append(a.closers, func() { a.items.Close() })

	var series render.SeriesSource
	if cfg.History.Enabled {
		a.history, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		unsub := a.history.Attach(a.items, doc.ChartItems())
		a.closers = append(a.closers, unsub, func() { a.history.Close() })
		series = a.history
	}

	a.events = panel.NewEventBus(logger)
	a.panels = panel.NewStore(cfg.TelePeriod(), cfg.Devices, a.items, a.events, logger)
	a.renderer = render.New(doc, locale, a.items, series, logger)
	a.sched = scheduler.New(logger)
	a.metrics = metrics.New(func() int { return len(a.panels.OnlineTopics()) })

	a.client, err = mqttbridge.NewClient(cfg.MQTT, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.client.Close)

	a.bridge, err = mqttbridge.NewBridge(a.client, mqttbridge.BridgeConfig{
		FullTopic:  cfg.Tasmota.FullTopic,
		Devices:    cfg.PanelTopics(),
		TelePeriod: cfg.TelePeriod(),
	}, mqttbridge.Components{
		Store:     a.panels,
		Bus:       a.events,
		Renderer:  a.renderer,
		Items:     a.items,
		Scheduler: a.sched,
		Metrics:   a.metrics,
	}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// start runs the bridge, metrics endpoint, history cleanup, scripts and the
// web API.
func (a *app) start(ctx context.Context) error {
	if addr := a.cfg.Metrics.Listen; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr, a.logger); err != nil {
				a.logger.Error("metrics server", "err", err)
			}
		}()
	}

	if err := a.bridge.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	if a.history != nil {
		retention := time.Duration(a.cfg.History.RetentionDays) * 24 * time.Hour
		err := a.sched.Cron("history-cleanup", historyCleanupSpec, func() {
			if err := a.history.Cleanup(time.Now().Add(-retention)); err != nil {
				a.logger.Warn("history cleanup", "err", err)
			}
		})
		if err != nil {
			return err
		}
	}

	var autoWebOpts []web.ServerOption
	a.auto, autoWebOpts = initAutomation(a.items, a.events, a.bridge, a.cfg, a.logger)

	if a.cfg.Web.Listen != "" {
		a.startWeb(autoWebOpts)
	}
	return nil
}

func (a *app) startWeb(autoWebOpts []web.ServerOption) {
	var webOpts []web.ServerOption
	if a.cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(a.cfg.Web.APIKey))
	}
	if len(a.cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(a.cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version), web.WithMetrics(a.metrics.Handler()))
	webOpts = append(webOpts, autoWebOpts...)

	a.web = web.NewServer(a.panels, a.events, a.items, a.bridge, a.logger, webOpts...)
	a.httpSrv = &http.Server{
		Addr:         a.cfg.Web.Listen,
		Handler:      a.web,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		a.logger.Info("web api listening", "addr", a.cfg.Web.Listen)
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server", "err", err)
		}
	}()
}

// stop shuts everything down in reverse start order.
func (a *app) stop() {
	if a.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown", "err", err)
		}
		cancel()
		a.web.Stop()
	}
	if a.auto != nil {
		a.auto.Stop()
	}
	a.bridge.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.sched.Stop(ctx)
	a.close()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
