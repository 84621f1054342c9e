package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bryan-buckman/roadtrip/internal/config"
	"github.com/bryan-buckman/roadtrip/internal/logging"
	"github.com/bryan-buckman/roadtrip/internal/media"
	"github.com/bryan-buckman/roadtrip/internal/metrics"
	"github.com/bryan-buckman/roadtrip/internal/rss"
	"github.com/bryan-buckman/roadtrip/internal/scheduler"
	"github.com/bryan-buckman/roadtrip/internal/server"
	"github.com/bryan-buckman/roadtrip/internal/tumblr"
)

func newServeCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily publish timer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if dryRun {
				cfg.DryRun = true
			}
			return serve(cmd.Context(), cfg, logging.NewLogger())
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log scheduled posts instead of sending them")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	a, err := newApp(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer a.Close()

	housekeeper, err := media.NewHousekeeper(a.library, cfg.HousekeepingSchedule, media.DefaultUploadMaxAge, logger)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.PublisherFunc(func(ctx context.Context) error {
		_, err := a.publisher.Publish(ctx)
		return err
	}), scheduler.Options{
		Path:           cfg.ScheduleFile,
		Logger:         logger,
		Metrics:        m,
		PublishTimeout: cfg.PublishTimeout,
	})

	feedClient := &http.Client{Timeout: 30 * time.Second, Transport: tumblr.NewTransport()}
	published := rss.NewReader(rss.FeedURL(cfg.TumblrBlog), feedClient, logger)
	published.SetTTL(cfg.FeedCacheTTL)
	srv := server.New(a.store, server.Options{
		Media:     a.library,
		Publisher: a.publisher,
		Schedule:  sched,
		Published: published,
		Metrics:   m,
		Logger:    logger,
		FeedTitle: cfg.TumblrBlog + " archive",
		PublicURL: cfg.PublicURL,
	})

	g, gctx := errgroup.WithContext(ctx)
	if err := sched.Start(gctx); err != nil {
		return err
	}
	housekeeper.Start()

	g.Go(func() error {
		return srv.Run(gctx, cfg.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		sched.Stop()
		housekeeper.Stop()
		return nil
	})
	return g.Wait()
}
