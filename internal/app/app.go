// Package app wires configuration into stores, transports and funnel
// services. Every CLI command builds one App and closes it on exit.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/drip/internal/config"
	"github.com/jmehdipour/drip/internal/db"
	"github.com/jmehdipour/drip/internal/dispatcher"
	"github.com/jmehdipour/drip/internal/funnel"
	"github.com/jmehdipour/drip/internal/lock"
	"github.com/jmehdipour/drip/internal/logger"
	"github.com/jmehdipour/drip/internal/metrics"
	"github.com/jmehdipour/drip/internal/repository"
	"github.com/jmehdipour/drip/internal/repository/memory"
	"github.com/jmehdipour/drip/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Cfg config.Config
	Log *zap.Logger

	MySQL      *sqlx.DB      // nil with the memory driver
	ClickHouse *sqlx.DB      // nil when analytics are disabled
	Redis      *redis.Client // nil when not configured

	Funnels     repository.FunnelsRepository
	Enrollments repository.EnrollmentsRepository
	Contacts    repository.ContactsRepository
	ContactLog  repository.ContactWriter
	Attempts    repository.CHAttemptsRepository // nil when analytics are disabled

	Service      *funnel.Service
	Manager      *funnel.Manager
	Processor    *funnel.Processor
	Orchestrator *funnel.Orchestrator
	Analytics    *funnel.Analytics

	closers []func()
}

func dbOpts(c config.DatabaseConfig) db.Opts {
	return db.Opts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// New connects the configured stores and builds the funnel services. The
// returned App owns every connection; call Close when done.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log}
	if err := a.openStores(cfg); err != nil {
		a.Close()
		return nil, err
	}

	rdb, err := db.NewRedisClient(db.RedisOpts{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
		PoolSize:    cfg.Redis.PoolSize,
	})
	switch {
	case err != nil:
		log.Warn("redis unavailable; funnel locks and rate limiting disabled", zap.Error(err))
	case rdb != nil:
		a.Redis = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	}

	provs, err := Providers(cfg.Providers)
	if err != nil {
		a.Close()
		return nil, err
	}
	if len(provs) == 0 {
		log.Warn("no delivery providers enabled; every send will fail")
	}
	gateway := dispatcher.NewDispatcher(provs, cfg.Dispatcher.MaxAttempts)

	var recorder funnel.AttemptRecorder = worker.LogRecorder{Log: log}
	if a.Attempts != nil {
		w := worker.NewAttemptWriter(a.Attempts, 0, 0, log)
		stop := w.Start(ctx)
		a.closers = append(a.closers, stop)
		recorder = w
	}

	var locker lock.Locker = lock.Nop{}
	if cfg.Scheduler.FunnelLock && a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis)
	}

	a.Service = funnel.NewService(a.Funnels)
	a.Manager = funnel.NewManager(a.Funnels, a.Enrollments, a.Contacts, log)
	a.Processor = funnel.NewProcessor(a.Funnels, a.Enrollments, a.Manager, gateway, recorder, log, funnel.ProcessorOpts{
		Workers:         cfg.Scheduler.Workers,
		ClaimTTL:        cfg.Scheduler.ClaimTTL,
		MessageIDDomain: cfg.Scheduler.MessageIDDomain,
		SenderName:      cfg.Scheduler.SenderName,
		SenderEmail:     cfg.Scheduler.SenderEmail,
	})
	chain := funnel.NewChainSweeper(a.Enrollments, a.Manager, log, cfg.Scheduler.ChainBatch)
	a.Orchestrator = funnel.NewOrchestrator(a.Funnels, a.Processor, chain, locker, cfg.Scheduler.LockTTL, log)
	a.Analytics = funnel.NewAnalytics(a.Funnels, a.Enrollments, a.Attempts)
	return a, nil
}

func (a *App) openStores(cfg config.Config) error {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		store := memory.New()
		a.Funnels, a.Enrollments = store.Funnels(), store.Enrollments()
		a.Contacts, a.ContactLog = store.Contacts(), store.Contacts()
		a.Log.Info("using in-memory storage; state is lost on exit")
	case "mysql", "":
		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, dbOpts(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		a.MySQL = mysqlDB
		a.closers = append(a.closers, func() { _ = mysqlDB.Close() })

		contacts := repository.NewContactsRepository(mysqlDB)
		a.Funnels = repository.NewFunnelsRepository(mysqlDB)
		a.Enrollments = repository.NewEnrollmentsRepository(mysqlDB)
		a.Contacts, a.ContactLog = contacts, contacts
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse.DSN, dbOpts(cfg.ClickHouse))
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	if chDB != nil {
		a.ClickHouse = chDB
		a.closers = append(a.closers, func() { _ = chDB.Close() })
		a.Attempts = repository.NewCHAttemptsRepository(chDB)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Providers builds the enabled delivery providers in config order.
func Providers(cfgs []config.ProviderConfig) ([]dispatcher.Provider, error) {
	var out []dispatcher.Provider
	for _, pc := range cfgs {
		if !pc.Enabled {
			continue
		}
		switch strings.ToLower(pc.Kind) {
		case "smtp":
			if strings.TrimSpace(pc.Host) == "" {
				return nil, fmt.Errorf("provider %s: smtp host is required", pc.Name)
			}
			out = append(out, dispatcher.NewSMTPProvider(
				pc.Name, pc.Host, pc.Port, pc.Username, pc.Password,
				pc.Breaker.FailThreshold, pc.Breaker.OpenForMs,
			))
		case "http":
			if strings.TrimSpace(pc.BaseURL) == "" {
				return nil, fmt.Errorf("provider %s: base_url is required", pc.Name)
			}
			out = append(out, dispatcher.NewHTTPProvider(
				pc.Name, pc.BaseURL, pc.Path, pc.Token, pc.TimeoutMs,
				pc.Breaker.FailThreshold, pc.Breaker.OpenForMs,
			))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return out, nil
}

// Bootstrap loads config from path, initializes the global logger and
// metrics registry, then builds the App.
func Bootstrap(ctx context.Context, path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level, cfg.Log.Format)
	metrics.MustRegister(prometheus.DefaultRegisterer)
	return New(ctx, cfg, log)
}
