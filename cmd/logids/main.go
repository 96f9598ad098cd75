// Command logids ingests web-server logs, trains anomaly models and serves
// ranked, explained alerts.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/config"
	"github.com/hed1ad/logids/pkg/logging"
	"github.com/hed1ad/logids/pkg/metrics"
	"github.com/hed1ad/logids/pkg/service"
	"github.com/hed1ad/logids/pkg/store"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

// app is the runtime assembled from the configuration.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	svc     *service.Service
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	s, closeStore, err := store.Open(ctx, cfg.Store, logger.Named("store"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	a.svc = service.New(s, service.Config{
		IForest:    cfg.Model.IForest,
		Classifier: cfg.Model.Classifier,
		Explain:    cfg.Explain,
	}, a.metrics, logger)
	a.closers = append(a.closers, a.svc.Close)
	return a, nil
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "logids",
		Short:         "Anomaly detection for HTTP access logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(flags),
		newIngestCmd(flags),
		newTrainCmd(flags),
		newAlertsCmd(flags),
		newSimulateCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
