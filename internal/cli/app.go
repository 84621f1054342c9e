package cli

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/roadtrip/internal/config"
	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
	"github.com/bryan-buckman/roadtrip/internal/publish"
	"github.com/bryan-buckman/roadtrip/internal/tumblr"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg       config.Config
	logger    logging.Logger
	store     database.Store
	library   *media.Library
	publisher *publish.Service
}

func openStore(cfg config.Config) (database.Store, error) {
	dsn := cfg.SQLitePath
	if cfg.DBDriver == "postgres" || cfg.DBDriver == "postgresql" {
		dsn = cfg.DatabaseURL
	}
	store, err := database.Open(cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func newApp(ctx context.Context, cfg config.Config, logger logging.Logger, m *metrics.Collector) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	lib, err := media.NewLibrary(cfg.MediaDir, cfg.UploadDir)
	if err != nil {
		store.Close()
		return nil, err
	}

	clientCfg := tumblr.DefaultClientConfig()
	clientCfg.BaseURL = cfg.TumblrAPIBase
	clientCfg.HTTPClient = tumblr.NewHTTPClient(ctx, tumblr.Credentials{
		ClientID:     cfg.TumblrClientID,
		ClientSecret: cfg.TumblrClientSecret,
		AccessToken:  cfg.TumblrAccessToken,
		RefreshToken: cfg.TumblrRefreshToken,
	})
	submitter := tumblr.NewSubmitter(tumblr.NewClient(clientCfg), cfg.TumblrBlog, lib.FS(), media.DefaultClassifier)

	svc := publish.NewService(store, submitter, publish.Options{
		Logger:  logger,
		Metrics: m,
		DryRun:  cfg.DryRun,
	})

	logger.WithFields(logging.Fields{
		"database": store.DatabaseType(),
		"blog":     cfg.TumblrBlog,
		"dry_run":  cfg.DryRun,
	}).Debug("App initialized")

	return &app{cfg: cfg, logger: logger, store: store, library: lib, publisher: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
