package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"favmirror/pkg/checkpoint"
	"favmirror/pkg/config"
	"favmirror/pkg/gallery"
	"favmirror/pkg/localstore"
	"favmirror/pkg/logger"
	"favmirror/pkg/metrics"
	"favmirror/pkg/ratelimit"
	"favmirror/pkg/retry"
	"favmirror/pkg/syncer"
	"favmirror/pkg/ui"
)

// app holds everything a sync command needs. One backoff controller is
// shared by every client so a struggling site slows the whole process.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	transport *retry.Transport
	gallery   *gallery.Client
	store     *localstore.Client
	journal   *checkpoint.Journal
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	controller := retry.NewController(retry.ParamsFromConfig(cfg.Backoff))
	transport := retry.NewTransport(controller,
		retry.WithLimiter(ratelimit.New(cfg.RateLimit)),
		retry.WithMaxAttempts(cfg.Backoff.MaxRetries),
		retry.WithLogger(log),
	)

	galleryClient, err := gallery.NewClient(cfg.Gallery, transport, gallery.WithLogger(log))
	if err != nil {
		return nil, err
	}
	storeClient, err := localstore.NewClient(cfg.Store, transport, localstore.WithLogger(log))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		transport: transport,
		gallery:   galleryClient,
		store:     storeClient,
	}

	if cfg.Journal.Enabled {
		journal, err := checkpoint.Open(cfg.Journal.Path, log)
		if err != nil {
			return nil, err
		}
		a.journal = journal
	}

	logger.LogComponentStart(log, "favmirror", map[string]interface{}{
		"gallery":      cfg.Gallery.BaseURL,
		"store":        cfg.Store.URL,
		"max_retries":  cfg.Backoff.MaxRetries,
		"rate_limit":   cfg.RateLimit.RequestsPerMinute,
		"journal":      cfg.Journal.Enabled,
		"metrics_addr": cfg.Metrics.Address,
	})
	return a, nil
}

// Close releases the journal
func (a *app) Close() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close journal")
	}
}

// context returns a context cancelled by SIGINT or SIGTERM. Metrics are
// served until it is cancelled.
func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.Address, a.log); err != nil {
			a.log.WithError(err).Error("Metrics endpoint stopped")
		}
	}()
	return ctx, cancel
}

// syncer builds a Syncer reporting to printer
func (a *app) syncer(printer *ui.ProgressPrinter) *syncer.Syncer {
	opts := []syncer.Option{
		syncer.WithLogger(a.log),
		syncer.WithSyncConfig(a.cfg.Sync),
	}
	if printer != nil {
		opts = append(opts, syncer.WithReporter(printer.Update))
	}
	if a.journal != nil {
		opts = append(opts, syncer.WithJournal(a.journal))
	}
	return syncer.New(a.gallery, a.store, opts...)
}
