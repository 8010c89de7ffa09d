package main

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/airstory"
	"github.com/hyperjump/storyhook/internal/config"
	"github.com/hyperjump/storyhook/internal/connection"
	"github.com/hyperjump/storyhook/internal/events"
	"github.com/hyperjump/storyhook/internal/extract"
	"github.com/hyperjump/storyhook/internal/importer"
	"github.com/hyperjump/storyhook/internal/keyword"
	"github.com/hyperjump/storyhook/internal/media"
	"github.com/hyperjump/storyhook/internal/metrics"
	"github.com/hyperjump/storyhook/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Config      *config.Config
	ConfigPath  string
	Logger      *zap.Logger
	Storage     *storage.SQLiteStorage
	Tokens      *storage.EncryptedTokenStore
	Bus         *events.Bus
	Live        *config.Live
	Metrics     *metrics.Metrics
	Client      *airstory.Client
	Pipeline    *importer.Pipeline
	Connections *connection.Service
	Index       *keyword.BleveIndex // nil unless requested
	nats        *nats.Conn
}

// Close releases every opened resource.
func (c *Components) Close() {
	if c.nats != nil {
		_ = c.nats.Drain()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// Session returns an authenticated document fetcher for token.
func (c *Components) Session(token string) importer.DocumentFetcher {
	return c.Client.Session(token)
}

type componentOptions struct {
	// index opens the keyword index. The index is single-writer, so only the
	// server and direct-mode search open it.
	index bool
	// forward connects the NATS forwarder when configured.
	forward bool
}

func resolveEncryptionKey(cfg *config.Config) (string, error) {
	if cfg.Credentials.EncryptionKey != "" {
		return cfg.Credentials.EncryptionKey, nil
	}
	if cfg.Credentials.KeyFile == "" {
		return "", fmt.Errorf("no credentials.encryption_key or credentials.key_file configured")
	}
	return storage.LoadOrCreateKey(cfg.Credentials.KeyFile)
}

func newSourceClient(cfg *config.Config) *airstory.Client {
	return airstory.NewClient(
		airstory.WithBaseURL(cfg.Source.APIBase),
		airstory.WithTimeout(cfg.Source.Timeout),
		airstory.WithRateLimit(cfg.Source.RequestsPerSecond, cfg.Source.Burst),
		airstory.WithMaxContentBytes(cfg.Source.MaxContentBytes),
		airstory.WithUserAgent(cfg.Source.UserAgent),
	)
}

func initializeComponents(cfg *config.Config, configPath string, logger *zap.Logger, opts componentOptions) (_ *Components, err error) {
	c := &Components{Config: cfg, ConfigPath: configPath, Logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	key, err := resolveEncryptionKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential key: %w", err)
	}
	c.Tokens, err = storage.NewTokenStore(c.Storage, key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}

	c.Bus = events.NewBus(logger)
	c.Live = config.NewLive(cfg)
	c.Metrics = metrics.New()
	c.Bus.SubscribeAll(c.Metrics.Handle)

	if opts.forward && cfg.Events.NATSURL != "" {
		c.nats, err = events.ConnectNATS(cfg.Events.NATSURL, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		fwd := events.NewNATSForwarder(c.nats, cfg.Events.SubjectPrefix, logger)
		c.Bus.SubscribeAll(fwd.Handle)
		logger.Info("forwarding events to nats",
			zap.String("url", cfg.Events.NATSURL),
			zap.String("prefix", cfg.Events.SubjectPrefix))
	}

	if opts.index {
		c.Index, err = keyword.NewBleveIndex(cfg.Storage.SearchIndexPath, keyword.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.Bus.Subscribe(events.KindRecordCreated, c.Index.Handle)
		c.Bus.Subscribe(events.KindRecordUpdated, c.Index.Handle)
	}

	fetcher := media.NewHTTPFetcher(cfg.Media.DownloadTimeout, cfg.Source.UserAgent, cfg.Media.MaxDownloadBytes)
	sideloader := media.NewSideloader(fetcher, c.Storage, c.Storage, c.Bus,
		cfg.Media.Directory, cfg.Media.BaseURL,
		media.WithSideloadLogger(logger),
		media.WithObserver(c.Metrics),
	)
	rewriter := media.NewRewriter(sideloader, logger)
	originals := media.NewOriginalResolver(sideloader, cfg.Media.OriginalPatterns, logger)
	c.Bus.Subscribe(events.KindAssetSideloaded, originals.Handle)

	extractor := extract.NewExtractor(
		extract.WithLogger(logger),
		extract.WithStripWrappingDiv(cfg.Webhook.StripWrappingDivOrDefault()),
	)
	c.Pipeline = importer.NewPipeline(c.Storage, extractor,
		importer.WithLogger(logger),
		importer.WithMediaRewriter(rewriter, c.Live.AllowedDomains),
		importer.WithBus(c.Bus),
	)

	c.Client = newSourceClient(cfg)
	c.Connections = connection.NewService(c.Storage, connection.Site{
		Name:       cfg.Site.Name,
		WebhookURL: cfg.Site.WebhookURL,
		TargetType: cfg.Site.TargetType,
	}, logger)
	return c, nil
}

// setup loads config and builds components for a subcommand.
func setup(flags *globalFlags, opts componentOptions) (*Components, error) {
	cfg, resolved, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg, flags.debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved))
	c, err := initializeComponents(cfg, resolved, logger, opts)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return c, nil
}
