package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"stockwatch/internal/components/chrono"
	"stockwatch/internal/components/telemetry"
	"stockwatch/internal/db"
	"stockwatch/internal/detector"
	"stockwatch/internal/notify"
	"stockwatch/internal/pipeline"
	"stockwatch/internal/queue"
	"stockwatch/internal/scrapers/shopify"
	"stockwatch/internal/store"

	"github.com/dgraph-io/badger/v4"
)

// app holds every long lived dependency, it is built once per process.
type app struct {
	cfg        Config
	tel        telemetry.API
	time       chrono.TimeAPI
	db         *sql.DB
	kv         *badger.DB
	store      store.Store
	registry   pipeline.SiteRegistry
	outbox     *queue.Outbox
	dispatcher *queue.Dispatcher
	pipeline   *pipeline.Pipeline
}

func newSender(cfg Config, tel telemetry.API) (notify.Sender, error) {
	var senders []notify.Sender
	if cfg.Discord.WebhookURL != "" {
		discord, err := notify.NewDiscord(notify.DiscordOptions{
			WebhookURL: cfg.Discord.WebhookURL,
			Username:   cfg.Discord.Username,
		}, tel)
		if err != nil {
			return nil, err
		}
		senders = append(senders, discord)
	}
	if cfg.Email.Server != "" {
		email, err := notify.NewEmail(cfg.emailOptions())
		if err != nil {
			return nil, err
		}
		senders = append(senders, email)
	}
	if len(senders) == 0 {
		slog.Warn("no discord webhook or email configured, notifications will be dropped")
		return notify.Discard{}, nil
	}
	return notify.Fanout(senders...), nil
}

func newApp(ctx context.Context, cfg Config) (*app, error) {
	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardTime()

	sqldb, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:  cfg,
		tel:  tel,
		time: clock,
		db:   sqldb,
	}

	switch cfg.Store.Backend {
	case "badger":
		err = os.MkdirAll(cfg.Store.BadgerDir, 0777)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create %s: %w", cfg.Store.BadgerDir, err)
		}
		a.kv, err = badger.Open(badger.DefaultOptions(cfg.Store.BadgerDir).WithLogger(nil))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open badger: %w", err)
		}
		a.store = store.NewBadger(a.kv, tel)
	default:
		a.store = store.NewSQL(sqldb, tel)
	}

	client, err := shopify.NewClient(cfg.clientOptions(), tel)
	if err != nil {
		a.Close()
		return nil, err
	}
	sender, err := newSender(cfg, tel)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = pipeline.NewSiteRegistry(sqldb, clock)
	a.outbox = queue.NewOutbox(sqldb, clock)
	a.dispatcher = queue.NewDispatcher(a.outbox, sender, cfg.dispatcherOptions(), clock, tel)

	publisher := pipeline.NewOutboxPublisher(a.outbox)
	a.pipeline = pipeline.NewPipeline(pipeline.Options{
		Fetcher:         client,
		Detector:        detector.NewDetector(a.store, publisher, clock, tel),
		Store:           a.store,
		Publisher:       publisher,
		Registry:        a.registry,
		StaticSites:     cfg.Sites,
		SiteConcurrency: cfg.Poll.SiteConcurrency,
		SiteTimeout:     seconds(cfg.Poll.SiteTimeoutSeconds),
		Telemetry:       tel,
	})

	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.kv != nil {
		errs = append(errs, a.kv.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

// withApp reads the config and builds the app for a single command.
func withApp(cmd func(ctx context.Context, a *app) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		cfg, err := readConfig(*configPath)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return cmd(ctx, a)
	}
}
