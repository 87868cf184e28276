// Package bootstrap assembles the application from configuration. Both the HTTP server
// and the CLI start from Build.
package bootstrap

import (
	"context"
	"fmt"

	"procurement-reconciler/internal/app"
	"procurement-reconciler/internal/config"
	"procurement-reconciler/internal/core"
	"procurement-reconciler/internal/db"
	"procurement-reconciler/internal/lock"
	"procurement-reconciler/internal/observability"
	"procurement-reconciler/internal/store/memory"
	"procurement-reconciler/internal/store/postgres"
	"procurement-reconciler/internal/store/restapi"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Runtime is a wired application plus the resources it holds open.
type Runtime struct {
	Service  app.ApplicationService
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Repo     core.Repository

	closers []func()
}

// Build opens the configured store and lock and wires the services over them.
// On error every resource opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	mapping, err := cfg.Mapping()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.Metrics = observability.NewMetrics(rt.Registry)

	if rt.Repo, err = rt.openStore(ctx, cfg.Store, logger); err != nil {
		rt.Close()
		return nil, err
	}
	locker, err := rt.openLocker(ctx, cfg.Lock, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	sync := core.NewBasketSyncService(rt.Repo, core.SyncConfig{
		Mapping:          mapping,
		Locker:           locker,
		Observer:         rt.Metrics,
		Logger:           logger.Named("sync"),
		BatchConcurrency: cfg.BatchConcurrency,
	})
	dispatcher := core.NewDispatchAllocator(rt.Repo, rt.Metrics, logger.Named("dispatch"), cfg.BatchConcurrency)
	rt.Service = app.NewAppService(rt.Repo, sync, dispatcher)
	return rt, nil
}

// Close releases the store and lock connections in reverse order of opening.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (core.Repository, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		r.closers = append(r.closers, pool.Close)
		logger.Info("using postgres store")
		return postgres.New(pool), nil
	case config.BackendREST:
		logger.Info("using procurement API store", zap.String("url", cfg.APIURL))
		return restapi.New(cfg.APIURL, cfg.APITimeout), nil
	case config.BackendMemory:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func (r *Runtime) openLocker(ctx context.Context, cfg config.LockConfig, logger *zap.Logger) (core.RequestLocker, error) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-process request lock")
		return lock.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	r.closers = append(r.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	locker, err := lock.NewRedis(client, lock.Options{
		Expiry:     cfg.Expiry,
		Tries:      cfg.Tries,
		RetryDelay: cfg.RetryDelay,
	}, logger.Named("lock"))
	if err != nil {
		return nil, err
	}
	logger.Info("using redis request lock", zap.String("addr", cfg.RedisAddr))
	return locker, nil
}
