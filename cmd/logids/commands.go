package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	logio "github.com/hed1ad/logids/pkg/io"
	"github.com/hed1ad/logids/pkg/pipeline"
	"github.com/hed1ad/logids/pkg/server"
	"github.com/hed1ad/logids/pkg/service"
	"github.com/hed1ad/logids/pkg/simulate"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			srv := server.New(a.cfg.Server, a.svc, a.metrics, a.logger.Named("http"))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file>",
		Short: "Parse, enrich and store a log file as the latest dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := logio.ParseFile(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.IngestBatch(cmd.Context(), batch)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newTrainCmd(flags *globalFlags) *cobra.Command {
	var (
		mode   string
		labels string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on the latest dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			var res pipeline.TrainResult
			switch mode {
			case server.ModeUnsupervised:
				res, err = a.svc.TrainUnsupervised(ctx)
			case server.ModeSupervised:
				if labels != "" {
					f, err := os.Open(labels)
					if err != nil {
						return err
					}
					_, err = a.svc.IngestLabels(ctx, f)
					f.Close()
					if err != nil {
						return err
					}
				}
				res, err = a.svc.TrainSupervised(ctx, nil)
			default:
				return fmt.Errorf("unknown mode %q", mode)
			}
			if err != nil {
				return err
			}
			a.logger.Info("training finished",
				zap.String("model", res.Model),
				zap.Int("samples", res.Samples),
				zap.Duration("duration", res.Duration))
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", server.ModeUnsupervised, "unsupervised or supervised")
	cmd.Flags().StringVar(&labels, "labels", "", "label CSV (timestamp,source_ip,label) for supervised mode")
	return cmd
}

func newAlertsCmd(flags *globalFlags) *cobra.Command {
	var (
		q     service.AlertQuery
		asCSV bool
	)
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List the latest dataset's requests ranked by anomaly score",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if asCSV {
				return a.svc.ExportAlerts(ctx, q, cmd.OutOrStdout())
			}
			rows, err := a.svc.Alerts(ctx, q)
			if err != nil {
				return err
			}
			return printJSON(cmd, rows)
		},
	}
	cmd.Flags().StringVar(&q.IP, "ip", "", "only rows from this source IP")
	cmd.Flags().IntVar(&q.Limit, "limit", service.DefaultAlertLimit, "maximum number of rows")
	cmd.Flags().BoolVar(&q.Supervised, "supervised", false, "include classifier probabilities")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of JSON")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	cfg := simulate.DefaultConfig()
	var output string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic access log as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" || output == "-" {
				return simulate.WriteCSV(cmd.OutOrStdout(), cfg)
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := simulate.WriteCSV(f, cfg); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d lines to %s\n", cfg.Lines, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&cfg.Lines, "lines", cfg.Lines, "number of log lines")
	cmd.Flags().Float64Var(&cfg.AttackRate, "attack-rate", cfg.AttackRate, "probability that a line is an attack")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
