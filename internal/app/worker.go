package app

import (
	"context"
	"net/http"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-storefront/internal/domain/loyalty"
	"github.com/xenking/oolio-storefront/internal/events"
	"github.com/xenking/oolio-storefront/pkg/health"
)

// newConsumerConfig returns the sarama settings for the ledger worker.
// Offsets start at the oldest message so a new group replays history;
// settlement is idempotent.
func newConsumerConfig() *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = "storefront-ledger-worker"
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRoundRobin(),
	}
	return sc
}

// RunWorker consumes order lifecycle events into the ledger until ctx is
// canceled. Probes are served on cfg.Worker.HealthAddr.
func RunWorker(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing ledger worker",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.Group),
	)

	pool, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	ledger, ledgerStore, err := newLedger(pool, m)
	if err != nil {
		return err
	}
	proc := events.NewProcessor(ledger, loyalty.NewSetupService(ledgerStore))

	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Group, newConsumerConfig())
	if err != nil {
		return errors.Wrap(err, "create consumer group")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	mux := http.NewServeMux()
	healthSvc.Register(mux)
	probes := &http.Server{
		Addr:              cfg.Worker.HealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		healthSvc.SetReady(true)
		defer healthSvc.SetReady(false)
		return events.Consume(gCtx, group, []string{cfg.Kafka.Topic},
			events.NewConsumerHandler(proc, lg), cfg.Kafka.RetryDelay)
	})
	g.Go(func() error {
		if err := probes.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "probe server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		lg.Info("Stopping ledger worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()
		if err := probes.Shutdown(shutdownCtx); err != nil {
			lg.Error("Probe server shutdown error", zap.Error(err))
		}
		if err := group.Close(); err != nil {
			return errors.Wrap(err, "close consumer group")
		}
		return nil
	})
	return g.Wait()
}
