package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"synister/internal/config"
	"synister/internal/core"
	"synister/internal/logging"
	"synister/internal/pipeline"
)

// collaborators are the inference backends linked into the binary. Builds
// without them can still manage the record store.
type collaborators struct {
	loader pipeline.ClassifierLoader
	raw    pipeline.RawSource
}

type app struct {
	configPath      string
	metricsTextfile string
	traceFile       string

	deps     collaborators
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	tracer   *core.JSONTraceTracer
	traceOut *os.File
}

func newRootCommand(deps collaborators) *cobra.Command {
	a := &app{deps: deps}
	root := &cobra.Command{
		Use:           "synister",
		Short:         "Synapse record store and neurotransmitter prediction workers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.logger, a.registry = cfg, logger, prometheus.NewRegistry()
			if a.traceFile != "" {
				f, err := os.OpenFile(a.traceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open trace file: %w", err)
				}
				a.traceOut, a.tracer = f, core.NewJSONTracer(f)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.metricsTextfile != "" && a.registry != nil {
				if err := prometheus.WriteToTextfile(a.metricsTextfile, a.registry); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			if a.traceOut != nil {
				if err := a.traceOut.Close(); err != nil {
					return fmt.Errorf("close trace file: %w", err)
				}
			}
			if a.logger != nil {
				_ = a.logger.Sync()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "synister.yaml", "Configuration file")
	root.PersistentFlags().StringVar(&a.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit")
	root.PersistentFlags().StringVar(&a.traceFile, "trace-file", "", "Append one JSON line per service operation to this file")

	root.AddCommand(
		a.createCommand(),
		a.ingestCommand(),
		a.makeSplitCommand(),
		a.readSplitCommand(),
		a.groupingsCommand(),
		a.predictCommand(),
	)
	return root
}

// openService opens the configured record store. The returned close func
// releases it.
func (a *app) openService() (*core.Service, func(), error) {
	store, err := core.OpenPersistentStore(a.cfg.StorageOptions(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, nil, fmt.Errorf("open record store: %w", err)
	}
	recorder, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	opts := []core.Option{core.WithLogger(a.logger), core.WithMetricsRecorder(recorder)}
	if a.tracer != nil {
		opts = append(opts, core.WithTracer(a.tracer))
	}
	svc := core.NewService(store, opts...)
	return svc, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close record store", zap.Error(err))
		}
	}, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
