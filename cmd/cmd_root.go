// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jcodagnone/geocoding/config"
	"github.com/jcodagnone/geocoding/geocoding"
	"github.com/jcodagnone/geocoding/observability"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	EnvFile       string
	LogLevel      string
	TraceHTTP     bool
	TraceHTTPBody bool
}

var (
	options = &globalOptions{}
	cfg     *config.Config
	logger  *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "geo",
	Short: "multi provider geocoding with a persistent cache",
	Long: `
geo resolves addresses to coordinates (and coordinates to addresses) through
Google Maps, Yandex, Nominatim or Mapbox. Every answer is stored, successful
ones are reused until they expire.
`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var files []string
		if options.EnvFile != "" {
			files = append(files, options.EnvFile)
		}

		var err error
		if cfg, err = config.Load(files...); err != nil {
			return err
		}

		level := cfg.LogLevel
		if options.LogLevel != "" {
			level = options.LogLevel
		}

		logger, err = observability.NewLogger(os.Stderr, level, cfg.LogFormat)

		return err
	},
}

var Version = "dev"

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&options.EnvFile, "env-file", "", "load environment variables from this file (default .env)")
	flags.StringVar(&options.LogLevel, "log-level", "", "overrides LOG_LEVEL")
	flags.BoolVar(&options.TraceHTTP, "trace-http", false, "log provider HTTP requests and responses")
	flags.BoolVar(&options.TraceHTTPBody, "trace-http-body", false, "include bodies when tracing HTTP")
}

func Execute(version string) {
	Version = version
	rootCmd.Version = version

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// app bundles what every command needs to reach the service.
type app struct {
	db      *sqlx.DB
	repo    geocoding.Repository
	service *geocoding.Service
}

func (a *app) Close() error {
	return a.db.Close()
}

// newApp opens the database, resolves provider keys and builds the service.
func newApp(ctx context.Context, opts geocoding.ServiceOptions) (*app, error) {
	db, err := geocoding.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	repo := geocoding.NewRepository(db)
	if err := repo.CreateSchema(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if cfg.GoogleMapsAPIKey == "" && cfg.GoogleMapsKeyFromADC {
		logger.Info("GOOGLE_MAPS_API_KEY is not set, looking it up via ADC")

		key, err := geocoding.GoogleKeyFromADC(ctx, cfg.GoogleCloudProject, cfg.GoogleMapsKeyName, logger)
		if err != nil {
			logger.WithError(err).Warn("google provider stays disabled")
		} else {
			cfg.GoogleMapsAPIKey = key
		}
	}

	registry := geocoding.NewRegistry(cfg.Providers(), geocoding.ProviderOptions{
		EnableHTTPTrace:     options.TraceHTTP || options.TraceHTTPBody,
		EnableHTTPBodyTrace: options.TraceHTTPBody,
		Logger:              logger,
	})
	logger.WithField("providers", registry.Enabled()).Debug("registry ready")

	opts.DefaultProvider = cfg.DefaultProvider
	opts.CacheTTL = cfg.CacheTTLDuration()
	opts.ReverseCache = cfg.ReverseCache
	opts.Logger = logger

	return &app{
		db:      db,
		repo:    repo,
		service: geocoding.NewService(repo, registry, opts),
	}, nil
}
