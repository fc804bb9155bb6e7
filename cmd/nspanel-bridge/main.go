package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mqttbridge "nspanel-bridge/internal/mqtt"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nspanel-bridge",
		Short: "Drive Sonoff NSPanels running Tasmota over MQTT",
		Long: `nspanel-bridge renders pages on NSPanel displays running Tasmota and the
Lovelace UI firmware, and turns touches into item writes.

Without a subcommand the bridge runs until interrupted.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the bridge (default)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runBridge(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "simulate <topic> <1-5|lwt|discovery>",
			Short: "Publish a canned panel message as if the panel sent it",
			Long: `Publish a canned message on behalf of a panel:

  1  startup          2  OnOff 0         3  OnOff 1
  4  sleepReached     5  screensaver bExit
  lwt        retained LWT Offline
  discovery  retained discovery config and sensors`,
			Args: cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return runSimulate(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the config, page configuration and scripts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runCheckConfig(cmd)
			},
		},
	)
	return root
}

// setup loads and validates the config and installs the configured logger.
func setup() (*Config, *slog.Logger, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runBridge(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		slog.Error("startup", "err", err)
		return err
	}
	logger.Info("nspanel-bridge starting", "version", version, "panels", len(cfg.PanelTopics()))

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		logger.Error("startup", "err", err)
		a.stop()
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	a.stop()
	logger.Info("goodbye")
	return nil
}

func runSimulate(topic, which string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	return simulate(cfg, logger, dialMQTT, topic, which)
}

// simTransport is the broker connection simulate publishes through.
type simTransport interface {
	mqttbridge.Transport
	Close()
}

type dialFunc func(mqttbridge.Config, *slog.Logger) (simTransport, error)

func dialMQTT(cfg mqttbridge.Config, logger *slog.Logger) (simTransport, error) {
	c, err := mqttbridge.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// simulate opens only a broker connection. The item store, history and page
// config belong to the running bridge.
func simulate(cfg *Config, logger *slog.Logger, dial dialFunc, topic, which string) error {
	mqttCfg := cfg.MQTT
	// A separate session so a running bridge keeps its connection and LWT.
	mqttCfg.ClientID = "nspanel-bridge-simulate"
	mqttCfg.StateTopic = ""

	t, err := dial(mqttCfg, logger)
	if err != nil {
		return err
	}
	defer t.Close()
	return mqttbridge.Simulate(t, cfg.Tasmota.FullTopic, topic, which, logger)
}

func runCheckConfig(cmd *cobra.Command) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	doc, _, err := loadPages(cfg, logger)
	if err != nil {
		return err
	}
	if err := checkScripts(cfg, logger); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d cards, %d subpages, %d panels\n",
		len(doc.Cards), len(doc.Subpages), len(cfg.PanelTopics()))
	return nil
}
