package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kasuganosora/raidloot/server/audit"
	"github.com/kasuganosora/raidloot/server/cache"
	"github.com/kasuganosora/raidloot/server/config"
	dbadapter "github.com/kasuganosora/raidloot/server/db"
	"github.com/kasuganosora/raidloot/server/export"
	"github.com/kasuganosora/raidloot/server/metrics"
	"github.com/kasuganosora/raidloot/server/model"
	"github.com/kasuganosora/raidloot/server/raid/acquisition"
	"github.com/kasuganosora/raidloot/server/raid/ledger"
	"github.com/kasuganosora/raidloot/server/raid/loot"
	"github.com/kasuganosora/raidloot/server/raid/notify"
	"github.com/kasuganosora/raidloot/server/raid/roster"
	"github.com/kasuganosora/raidloot/server/raid/week"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the storage-backed services shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	cache    cache.Cache
	pubsub   cache.PubSub
	metrics  *metrics.Metrics
	notifier *notify.Notifier
	audit    *audit.Service

	members *roster.Directory
	states  *acquisition.Store
	weeks   *week.Ledger
	ledger  *ledger.Ledger
	engine  *loot.Engine
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cfg.Server.Debug)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		RedisPrefix:     cfg.Cache.RedisPrefix,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	ps, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	m := metrics.New()

	var sinks []notify.Sink
	if cfg.Notify.AMQPURL != "" {
		sink, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange)
		if err != nil {
			logger.Warn("amqp sink disabled", zap.Error(err))
		} else {
			sinks = append(sinks, sink)
			logger.Info("amqp sink connected", zap.String("exchange", cfg.Notify.AMQPExchange))
		}
	}
	n := notify.New(ps, notify.Config{
		Channel:        cfg.Raid.EventChannel,
		QueueSize:      cfg.Notify.QueueSize,
		PublishTimeout: cfg.Notify.PublishTimeout,
	}, m, logger, sinks...)

	members := roster.NewDirectory(db, logger)
	states := acquisition.NewStore(db, members)
	weeks := week.NewLedger(db)
	led := ledger.NewLedger(db)
	engine := loot.NewEngine(loot.Deps{
		Members:  members,
		States:   states,
		Weeks:    weeks,
		Ledger:   led,
		Notifier: n,
		Metrics:  m,
		Logger:   logger,
		Floors:   cfg.Raid.Floors,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		cache:    c,
		pubsub:   ps,
		metrics:  m,
		notifier: n,
		audit:    audit.New(db, logger),
		members:  members,
		states:   states,
		weeks:    weeks,
		ledger:   led,
		engine:   engine,
	}, nil
}

// seed creates the configured roster when the directory is empty.
func (a *app) seed(ctx context.Context) (map[string]string, error) {
	if len(a.cfg.Raid.Roster) == 0 {
		return nil, nil
	}
	pins, err := a.members.Seed(ctx, a.cfg.Raid.Roster, a.cfg.Raid.BootstrapMember)
	if err != nil {
		return pins, fmt.Errorf("seed roster: %w", err)
	}
	return pins, nil
}

func (a *app) export(ctx context.Context, weekNum int, out string) error {
	b, err := export.Report(ctx, a.ledger, a.members, weekNum)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}
	if err := os.WriteFile(out, b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	a.logger.Info("assignment report written", zap.String("path", out), zap.Int("week", weekNum))
	return nil
}

func (a *app) close() {
	a.notifier.Close()
	a.audit.Stop(context.Background())
	if err := a.pubsub.Close(); err != nil {
		a.logger.Warn("pubsub close failed", zap.Error(err))
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
