// bloodbankd runs the blood bank allocation daemon: the scheduled
// maintenance sweep, the backlog processor, and a small ops HTTP listener
// for health and metrics. Business logic lives in the internal services.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	allocmetrics "bloodbank/internal/allocation/metrics"
	allocports "bloodbank/internal/allocation/ports"
	"bloodbank/internal/allocation/queue"
	allocservice "bloodbank/internal/allocation/service"
	ledgerstore "bloodbank/internal/allocation/store/ledger"
	"bloodbank/internal/inventory/cache"
	invports "bloodbank/internal/inventory/ports"
	invservice "bloodbank/internal/inventory/service"
	alertstore "bloodbank/internal/inventory/store/alert"
	donorstore "bloodbank/internal/inventory/store/donor"
	unitstore "bloodbank/internal/inventory/store/unit"
	"bloodbank/internal/maintenance"
	"bloodbank/internal/maintenance/scheduler"
	"bloodbank/internal/platform/config"
	"bloodbank/internal/platform/httpserver"
	"bloodbank/internal/platform/logger"
	platformpostgres "bloodbank/internal/platform/postgres"
	platformredis "bloodbank/internal/platform/redis"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/events"
	eventskafka "bloodbank/pkg/platform/events/kafka"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	units, donors, alerts, ledger, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	publisher, closePublisher, err := buildPublisher(cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, availability cache disabled", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	availability := cache.New(redisClient, cfg.AvailabilityCacheTTL)

	inventorySvc, err := invservice.New(units, donors,
		invservice.WithLogger(log),
		invservice.WithAvailabilityCache(availability),
		invservice.WithPublisher(publisher))
	if err != nil {
		return fmt.Errorf("build inventory service: %w", err)
	}

	metrics := allocmetrics.New()

	allocSvc, err := allocservice.New(ledger, units,
		allocservice.WithLogger(log),
		allocservice.WithAlerts(alerts),
		allocservice.WithMetrics(metrics),
		allocservice.WithPublisher(publisher))
	if err != nil {
		return fmt.Errorf("build allocation service: %w", err)
	}

	processor, err := queue.New(ledger, allocSvc,
		queue.WithLogger(log),
		queue.WithMetrics(metrics),
		queue.WithPublisher(publisher))
	if err != nil {
		return fmt.Errorf("build backlog processor: %w", err)
	}

	thresholds := make(maintenance.Thresholds, len(domain.Groups()))
	for _, group := range domain.Groups() {
		thresholds[group] = cfg.LowStockThreshold
	}
	maintenanceSvc, err := maintenance.New(units, alerts,
		maintenance.WithLogger(log),
		maintenance.WithThresholds(thresholds),
		maintenance.WithExpiryHorizon(time.Duration(cfg.ExpiryAlertHorizonDays)*24*time.Hour),
		maintenance.WithPublisher(publisher))
	if err != nil {
		return fmt.Errorf("build maintenance service: %w", err)
	}

	sched := scheduler.New(maintenanceSvc, processor, log)
	if err := sched.Start(cfg.SweepSchedule, cfg.BacklogSchedule); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	srv := httpserver.New(cfg.OpsAddr, opsRouter(inventorySvc, maintenanceSvc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("ops listener started", "addr", cfg.OpsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("bloodbankd started",
		"postgres", cfg.DatabaseURL != "",
		"redis", redisClient != nil,
		"kafka", len(cfg.Kafka.Brokers) > 0)
	return g.Wait()
}

func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (
	invports.UnitStore, invports.DonorStore, invports.AlertStore, allocports.LedgerStore, func(), error,
) {
	if cfg.DatabaseURL == "" {
		log.Info("no DATABASE_URL set, running on in-memory stores")
		return unitstore.New(), donorstore.New(), alertstore.New(), ledgerstore.New(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := platformpostgres.Apply(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, nil, nil, err
	}
	cleanup := func() { db.Close() }
	return unitstore.NewPostgres(db), donorstore.NewPostgres(db),
		alertstore.NewPostgres(db), ledgerstore.NewPostgres(db), cleanup, nil
}

func buildPublisher(cfg config.Config, log *slog.Logger) (events.Publisher, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}, func() {}, nil
	}
	publisher, err := eventskafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic,
		eventskafka.WithLogger(log))
	if err != nil {
		return nil, nil, fmt.Errorf("build kafka publisher: %w", err)
	}
	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := publisher.Close(ctx); err != nil {
			log.Warn("flush event publisher", "error", err)
		}
	}
	return publisher, closer, nil
}

// opsRouter serves health, metrics, and two read-only operational views:
// the availability report and the unresolved alerts.
func opsRouter(inventorySvc *invservice.Service, maintenanceSvc *maintenance.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/availability", func(w http.ResponseWriter, req *http.Request) {
		levels, err := inventorySvc.AvailabilityReport(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, levels)
	})
	r.Get("/alerts", func(w http.ResponseWriter, req *http.Request) {
		alerts, err := maintenanceSvc.ListAlerts(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, alerts)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
