// Command server runs the certificate registry: institution directory,
// certificate ledger, verification engine, and query mirror behind one HTTP
// surface. All wiring and lifecycle lives here; domain logic stays in
// internal packages.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certledger/internal/events"
	insthandler "certledger/internal/institution/handler"
	instmetrics "certledger/internal/institution/metrics"
	instservice "certledger/internal/institution/service"
	inststore "certledger/internal/institution/store"
	"certledger/internal/ledger/adapters"
	ledgerhandler "certledger/internal/ledger/handler"
	ledgermetrics "certledger/internal/ledger/metrics"
	ledgerservice "certledger/internal/ledger/service"
	ledgerstore "certledger/internal/ledger/store"
	"certledger/internal/mirror"
	mirrorhandler "certledger/internal/mirror/handler"
	mirrormetrics "certledger/internal/mirror/metrics"
	"certledger/internal/platform/config"
	"certledger/internal/platform/database"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/kafka/producer"
	"certledger/internal/platform/logger"
	platformredis "certledger/internal/platform/redis"
	"certledger/internal/token"
	httptransport "certledger/internal/transport/http"
	verifhandler "certledger/internal/verification/handler"
	verifservice "certledger/internal/verification/service"
	verifstore "certledger/internal/verification/store"
	"certledger/migrations"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Backing stores. Every backend is optional: with no database the ledger
	// runs in memory, with no redis the mirror views do too.
	pool, err := database.New(database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
		if err := migrations.Apply(ctx, pool.DB()); err != nil {
			return err
		}
		log.Info("database ready")
	} else {
		log.Info("no database configured, running on in-memory stores")
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Event fan-out: in-process channel for the mirror worker, Kafka for
	// external consumers when brokers are configured.
	chanPub := events.NewChanPublisher(cfg.MirrorBuffer, log)
	sinks := events.Fanout{chanPub}
	if cfg.KafkaBrokers != "" {
		kafkaProducer, err := producer.New(producer.Config{
			Brokers: cfg.KafkaBrokers,
			Retries: 3,
		}, log)
		if err != nil {
			return err
		}
		defer kafkaProducer.Close()
		sinks = append(sinks, events.NewKafkaPublisher(kafkaProducer, cfg.EventTopic, log))
		log.Info("kafka producer ready", "topic", cfg.EventTopic)
	}

	reg := prometheus.DefaultRegisterer

	// Institution directory.
	var instStore instservice.Store = inststore.NewInMemory()
	if pool != nil {
		instStore = inststore.NewPostgres(pool.DB())
	}
	directory := instservice.New(instStore,
		instservice.WithLogger(log),
		instservice.WithPublisher(sinks),
		instservice.WithMetrics(instmetrics.New(reg)),
	)

	// Certificate ledger.
	var ledgStore ledgerservice.Store = ledgerstore.NewInMemory()
	if pool != nil {
		ledgStore = ledgerstore.NewPostgres(pool.DB())
	}
	ledger := ledgerservice.New(ledgStore, adapters.NewDirectoryAdapter(directory),
		ledgerservice.WithLogger(log),
		ledgerservice.WithPublisher(sinks),
		ledgerservice.WithMetrics(ledgermetrics.New(reg)),
	)

	// Verification engine.
	var verStore verifservice.Store = verifstore.NewInMemory()
	if pool != nil {
		verStore = verifstore.NewPostgres(pool.DB())
	}
	verifications := verifservice.New(verStore, ledger,
		verifservice.WithLogger(log),
		verifservice.WithPublisher(sinks),
	)

	// Query mirror: worker consumes the event channel, views live in redis
	// when configured.
	var viewStore mirror.ViewStore = mirror.NewMemoryViewStore()
	if redisClient != nil {
		viewStore = mirror.NewRedisViewStore(redisClient.Client)
	}
	mirrorMetrics := mirrormetrics.New(reg)
	views := mirror.New(viewStore, ledger,
		mirror.WithLogger(log),
		mirror.WithMetrics(mirrorMetrics),
	)
	worker := mirror.NewWorker(viewStore, chanPub.Events(),
		mirror.WithWorkerLogger(log),
		mirror.WithWorkerMetrics(mirrorMetrics),
	)
	// The worker outlives the signal context so it can drain buffered events
	// during shutdown; it stops when the event channel closes.
	go worker.Run(context.WithoutCancel(ctx))
	go func() {
		// Repopulate views from the ledger on startup; with a fresh process
		// and in-memory views this is what makes restarts transparent.
		if err := views.Rebuild(ctx); err != nil {
			log.Warn("mirror rebuild failed, views converge via events", "error", err)
		}
	}()

	tokens := token.NewService(cfg.AuthSigningKey, "certledger")

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:         log,
		TokenValidator: tokens,
		Institutions:   insthandler.New(directory, log),
		Ledger:         ledgerhandler.New(ledger, directory, verifications, log),
		Verifications:  verifhandler.New(verifications, log),
		Mirror:         mirrorhandler.New(views, log),
		HealthChecks: map[string]httptransport.HealthChecker{
			"database": healthOrNil(pool),
			"redis":    healthOrNil(redisClient),
		},
	})

	server := httpserver.New(cfg.Addr, router, cfg.ReadTimeout, cfg.WriteTimeout)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("registry listening", "addr", cfg.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}

	// Let the mirror worker drain buffered events before the stores go away.
	chanPub.Close()
	select {
	case <-worker.Done():
	case <-shutdownCtx.Done():
		log.Warn("mirror worker did not drain in time")
	}
	return nil
}

// healthOrNil avoids putting a typed-nil checker into the health map when a
// backend is not configured.
func healthOrNil[T interface {
	Health(ctx context.Context) error
}](checker T) httptransport.HealthChecker {
	var zero T
	if any(checker) == any(zero) {
		return nil
	}
	return checker
}
