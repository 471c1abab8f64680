package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pspdemo/isoload/internal/app"
	"github.com/pspdemo/isoload/internal/engine"
	"github.com/pspdemo/isoload/internal/extraction"
	"github.com/pspdemo/isoload/internal/infra/config"
	"github.com/pspdemo/isoload/internal/infra/logger"
	"github.com/pspdemo/isoload/internal/locator"
	"github.com/pspdemo/isoload/internal/source"
	"github.com/pspdemo/isoload/internal/store"
)

type rootOptions struct {
	configPath string
	logLevel   string
	noHistory  bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "isoload",
		Short:         "Make sure the game payload is on disk, then hand it to the runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.noHistory, "no-history", false, "do not record acquisitions in the store")

	cmd.AddCommand(
		newEnsureCmd(opts),
		newLocateCmd(opts),
		newPlayCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
	)

	return cmd
}

// loadConfig reads the config file, falling back to environment-only
// configuration when the default file is absent.
func loadConfig(opts *rootOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err == nil {
		return cfg, nil
	}

	if cmd.Flags().Changed("config") || os.Getenv("ISOLOAD_APP_ID") == "" {
		return nil, err
	}
	return config.FromEnv()
}

// bootstrap builds the shared application context. The caller must call
// the returned cleanup.
func bootstrap(opts *rootOptions, cmd *cobra.Command, withStore bool) (*app.Context, func(), error) {
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return nil, nil, err
	}

	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	appCtx := app.NewContext(cfg, log)

	appCtx.Locator = locator.New(locator.Options{
		StorageRoot:   cfg.Storage.Root,
		BundleDir:     cfg.Storage.BundleDir,
		PayloadSuffix: cfg.App.PayloadSuffix,
		BundleSuffix:  cfg.Storage.BundleSuffix,
		URLs:          locator.StaticURL{Value: cfg.Remote.URL, Base64: cfg.Remote.URLBase64},
		OfflineOnly:   cfg.Remote.OfflineOnly,
		Logger:        log.With("component", "locator"),
	})
	appCtx.Opener = source.New(source.Options{
		ConnectTimeout: cfg.Remote.ConnectTimeout,
		HeaderTimeout:  cfg.Remote.HeaderTimeout,
		Logger:         log.With("component", "source"),
	})
	appCtx.Extractor = extraction.New(extraction.Options{
		PayloadName:    cfg.PayloadName(),
		ChunkSize:      cfg.Extract.ChunkSize,
		ProgressWeight: cfg.Extract.ProgressWeight,
		Logger:         log.With("component", "extraction"),
	})

	if withStore && !opts.noHistory {
		s, err := store.Open(cfg.Store)
		if err != nil {
			log.Warn("History disabled: %v", err)
		} else {
			appCtx.Store = s
		}
	}

	cleanup := func() {
		if appCtx.Store != nil {
			appCtx.Store.Close()
		}
		log.Close()
	}

	return appCtx, cleanup, nil
}

// ensurePayload runs one acquisition to completion, rendering progress on stdout.
func ensurePayload(ctx context.Context, appCtx *app.Context) (string, error) {
	coord := engine.NewCoordinator(appCtx)
	coord.SetBaseContext(ctx)

	events, err := coord.Ensure(ctx)
	if err != nil {
		return "", err
	}

	if err := engine.Drain(events, engine.NewCLIProgress(os.Stdout, coord.Status)); err != nil {
		return "", err
	}
	return coord.Status().Path, nil
}
