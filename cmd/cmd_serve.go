// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jcodagnone/geocoding/events"
	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the geocoding HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
			Enabled:     cfg.TracingEnabled,
			ServiceName: "geocoding",
			Exporter:    cfg.TracingExporter,
			Endpoint:    cfg.TracingEndpoint,
			SampleRatio: cfg.TracingSampleRatio,
		}, logger)
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := observability.NewMetrics(reg)

		opts := geocoding.ServiceOptions{Metrics: metrics}

		if brokers := cfg.Brokers(); len(brokers) > 0 {
			publisher := events.NewKafkaPublisher(brokers, cfg.Topic())
			defer publisher.Close()

			opts.Publisher = publisher

			logger.WithField("topic", cfg.Topic()).Info("publishing results to kafka")
		}

		a, err := newApp(ctx, opts)
		if err != nil {
			return err
		}
		defer a.Close()

		scheduler := cron.New()
		if _, err := scheduler.AddFunc(cfg.CacheStatsSchedule, func() {
			if _, err := a.service.CacheStats(ctx); err != nil {
				logger.WithError(err).Warn("refreshing cache stats")
			}
		}); err != nil {
			return fmt.Errorf("scheduling cache stats %q: %w", cfg.CacheStatsSchedule, err)
		}

		scheduler.Start()
		defer scheduler.Stop()

		server := geocoding.NewServer(a.service, geocoding.ServerOptions{
			Addr:       cfg.HTTPAddr,
			CacheTTL:   cfg.CacheTTLDuration(),
			RateLimit:  cfg.RateLimit,
			RatePeriod: cfg.RatePeriodDuration(),
			Metrics:    metrics,
			Gatherer:   reg,
			Logger:     logger,
		})

		return server.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
