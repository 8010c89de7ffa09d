package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/server"
	"github.com/hyperjump/storyhook/internal/watcher"
)

const reindexPageSize = 100

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and records HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

func runServe(flags *globalFlags) error {
	c, err := setup(flags, componentOptions{index: true, forward: true})
	if err != nil {
		return err
	}
	defer c.Close()
	logger := c.Logger
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("config_path", c.ConfigPath),
		zap.Bool("debug", c.Config.Debug || flags.debug),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := syncIndex(ctx, c); err != nil {
		logger.Warn("keyword index sync failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("keyword index synced", zap.Int("records", n))
	}

	w := watcher.NewWatcher([]string{c.ConfigPath}, func(path string) {
		if err := c.Live.Reload(path); err != nil {
			logger.Warn("config reload failed; keeping previous allow-lists", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Info("config reloaded",
			zap.Strings("allowed_domains", c.Live.AllowedDomains()),
			zap.Strings("allowed_origins", c.Live.AllowedOrigins()))
	}, watcher.WithLogger(logger))
	if err := w.Start(ctx); err != nil {
		logger.Warn("config watcher disabled", zap.Error(err))
	}
	defer w.Stop()

	srv := server.NewServer(c.Pipeline, c.Storage, c.Tokens, c.Session, c.Config, c.Live, logger,
		server.WithSearchIndex(c.Index),
		server.WithMetrics(c.Metrics),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	}

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

// syncIndex indexes every stored record when the keyword index holds fewer documents
// than the database, e.g. after imports run from the CLI while the server was down.
func syncIndex(ctx context.Context, c *Components) (int, error) {
	if c.Index == nil {
		return 0, nil
	}
	total, err := c.Storage.CountRecords(ctx)
	if err != nil {
		return 0, err
	}
	indexed, err := c.Index.DocCount()
	if err != nil {
		return 0, err
	}
	if int64(indexed) >= total {
		return 0, nil
	}
	n := 0
	for offset := 0; ; offset += reindexPageSize {
		records, err := c.Storage.ListRecords(ctx, offset, reindexPageSize)
		if err != nil {
			return n, err
		}
		for _, rec := range records {
			if err := c.Index.IndexRecord(ctx, rec.ID, rec.Title, rec.BodyHTML); err != nil {
				return n, err
			}
			n++
		}
		if len(records) < reindexPageSize {
			return n, nil
		}
	}
}
