package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	onbhandler "onboarding-gateway/internal/onboarding/handler"
	onbmetrics "onboarding-gateway/internal/onboarding/metrics"
	"onboarding-gateway/internal/onboarding/service"
	"onboarding-gateway/internal/onboarding/store"
	idemstore "onboarding-gateway/internal/onboarding/store/idempotency"
	recordstore "onboarding-gateway/internal/onboarding/store/record"
	"onboarding-gateway/internal/platform/config"
	"onboarding-gateway/internal/platform/httpserver"
	"onboarding-gateway/internal/platform/logger"
	platformmetrics "onboarding-gateway/internal/platform/metrics"
	platformredis "onboarding-gateway/internal/platform/redis"
	"onboarding-gateway/internal/verification/identity"
	vmetrics "onboarding-gateway/internal/verification/metrics"
	"onboarding-gateway/internal/verification/residence"
	"onboarding-gateway/pkg/platform/audit"
	auditrelay "onboarding-gateway/pkg/platform/audit/relay"
	auditpostgres "onboarding-gateway/pkg/platform/audit/store/postgres"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Idempotency entries live in Redis when configured; the Postgres store
	// is the default and joins the claim transaction.
	var idem store.IdempotencyStore
	if redisClient != nil {
		idem = idemstore.NewRedisStore(redisClient.Client, cfg.Redis.IdempotencyTTL)
		log.Info("idempotency store: redis", "ttl", cfg.Redis.IdempotencyTTL)
	} else {
		idem = idemstore.NewPostgresStore(db)
		log.Info("idempotency store: postgres")
	}

	auditStore := auditpostgres.New(db)
	auditor := audit.NewPublisher(auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(audit.NewMetrics()),
	)

	svc := service.NewService(
		recordstore.NewPostgresStore(db),
		idem,
		newOnboardingPostgresTx(db),
		identity.NewHTTPClient(cfg.Identity),
		residence.NewHTTPClient(cfg.Residence),
		cfg.Resilience,
		service.WithLogger(log),
		service.WithMetrics(onbmetrics.New()),
		service.WithVerificationMetrics(vmetrics.New()),
		service.WithAudit(auditor),
		service.WithMaxConcurrent(cfg.MaxConcurrentOnboardings),
		service.WithReaperMaxAge(cfg.Reaper.MaxAge),
	)

	router := chi.NewRouter()
	router.Get("/healthz", healthHandler(db, redisClient))
	router.Handle("/metrics", promhttp.Handler())
	httpMetrics := platformmetrics.New()
	router.Group(func(r chi.Router) {
		r.Use(httpMetrics.Middleware)
		onbhandler.New(svc, log).Register(r)
	})

	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting onboarding gateway", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return service.NewReaper(svc, cfg.Reaper.Interval, log).Run(ctx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(cfg.Kafka.Topic),
		)
		if err != nil {
			return err
		}
		defer kafkaClient.Close()

		relay := auditrelay.New(auditStore, kafkaClient, cfg.Kafka.Topic,
			auditrelay.WithLogger(log),
		)
		g.Go(func() error {
			log.Info("starting audit relay", "topic", cfg.Kafka.Topic)
			return relay.Run(ctx)
		})
	} else {
		log.Warn("audit relay disabled: no kafka brokers configured")
	}

	return g.Wait()
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func healthHandler(db *sql.DB, redisClient *platformredis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
