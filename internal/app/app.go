// Package app wires configuration, storage and services into the API server
// and the ledger worker.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/domain/zone"
	"github.com/xenking/oolio-storefront/internal/handler"
	"github.com/xenking/oolio-storefront/internal/storage/postgres"
	"github.com/xenking/oolio-storefront/internal/storage/redis"
	"github.com/xenking/oolio-storefront/pkg/health"
	"github.com/xenking/oolio-storefront/pkg/httpmiddleware"
)

const meterName = "github.com/xenking/oolio-storefront"

// openPostgres connects and applies the schema.
func openPostgres(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return pool, nil
}

// openRedis returns nil when no Redis URL is configured.
func openRedis(cfg *Config) (goredis.UniversalClient, error) {
	if cfg.Redis.URL == "" {
		return nil, nil
	}
	opts, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return goredis.NewClient(opts), nil
}

func newLedger(pool *pgxpool.Pool, m *app.Telemetry) (*loyalty.Ledger, *postgres.LedgerStore, error) {
	store := postgres.NewLedgerStore(pool)
	ledger, err := loyalty.NewLedger(store, m.MeterProvider().Meter(meterName))
	if err != nil {
		return nil, nil, errors.Wrap(err, "create ledger")
	}
	return ledger, store, nil
}

// Run starts the API server and blocks until ctx is canceled and the server
// has drained.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Storage.
	zoneStore := postgres.NewZoneStore(pool)
	var zones zone.Store = zoneStore
	if rdb != nil {
		zones = redis.NewZoneCache(zoneStore, rdb, cfg.Redis.ZoneTTL)
		lg.Info("Zone cache enabled", zap.Duration("ttl", cfg.Redis.ZoneTTL))
	}
	ledger, ledgerStore, err := newLedger(pool, m)
	if err != nil {
		return err
	}

	// Services and routes.
	h := handler.New(handler.Deps{
		Zones:    zone.NewResolver(zones),
		Admin:    zone.NewAdmin(zones, zoneStore),
		Branches: zoneStore,
		Ledger:   ledger,
		Setup:    loyalty.NewSetupService(ledgerStore),
		Orders:   ledgerStore,
	})

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(lg),
				httpmiddleware.LogRequests(),
				httpmiddleware.Recovery(),
			),
			"storefront-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for cancellation, drop readiness, drain, stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
