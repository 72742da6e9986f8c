package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bloodledger/internal/hospital"
	invhandler "bloodledger/internal/inventory/handler"
	invmetrics "bloodledger/internal/inventory/metrics"
	invservice "bloodledger/internal/inventory/service"
	invmemory "bloodledger/internal/inventory/store/memory"
	invpostgres "bloodledger/internal/inventory/store/postgres"
	"bloodledger/internal/jwttoken"
	"bloodledger/internal/platform/config"
	"bloodledger/internal/platform/httpserver"
	"bloodledger/internal/platform/logger"
	"bloodledger/internal/platform/metrics"
	"bloodledger/internal/platform/postgres"
	platformredis "bloodledger/internal/platform/redis"
	"bloodledger/internal/report/cache"
	rpthandler "bloodledger/internal/report/handler"
	rptservice "bloodledger/internal/report/service"
	tfrhandler "bloodledger/internal/transfer/handler"
	tfrmetrics "bloodledger/internal/transfer/metrics"
	tfrservice "bloodledger/internal/transfer/service"
	tfrmemory "bloodledger/internal/transfer/store/memory"
	tfrpostgres "bloodledger/internal/transfer/store/postgres"
	"bloodledger/pkg/platform/audit"
	auditkafka "bloodledger/pkg/platform/audit/kafka"
	auditmemory "bloodledger/pkg/platform/audit/store/memory"
	"bloodledger/pkg/platform/tx"
)

// ledgerStore is the full persistence surface a ledger backend provides.
// The inventory, transfer, and report services each depend on their own
// slice of it.
type ledgerStore interface {
	invservice.LedgerStore
	tfrservice.LedgerStore
	rptservice.LedgerStore
}

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence: Postgres when configured, in-memory otherwise.
	var (
		ledgers  ledgerStore
		requests tfrservice.RequestStore
		runner   tx.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			fatal(log, "failed to connect to postgres", err)
		}
		defer db.Close()

		ledgerPg := invpostgres.NewPostgres(db)
		requestPg := tfrpostgres.NewPostgres(db)
		if err := ledgerPg.EnsureSchema(ctx); err != nil {
			fatal(log, "failed to ensure ledger schema", err)
		}
		if err := requestPg.EnsureSchema(ctx); err != nil {
			fatal(log, "failed to ensure transfer schema", err)
		}
		ledgers = ledgerPg
		requests = requestPg
		runner = tx.NewSQLRunner(db)
		log.Info("using postgres stores")
	} else {
		ledgers = invmemory.NewInMemory()
		requests = tfrmemory.NewInMemory()
		runner = tx.NewMemoryRunner()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	directory, err := loadDirectory(cfg.HospitalSeedFile)
	if err != nil {
		fatal(log, "failed to load hospital directory", err)
	}

	// Audit trail: Kafka when brokers are configured, in-memory otherwise.
	var sink audit.Appender
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := auditkafka.NewSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			fatal(log, "failed to connect audit sink", err)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
		log.Info("audit events flow to kafka", "topic", cfg.Kafka.Topic)
	} else {
		sink = auditmemory.NewInMemoryStore()
	}
	trail := audit.NewPublisher(sink, audit.WithAsyncBuffer(256))
	defer trail.Close()

	// Optional Redis-backed summary cache.
	var reportOpts []rptservice.Option
	reportOpts = append(reportOpts, rptservice.WithLogger(log))
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		fatal(log, "failed to connect to redis", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		reportOpts = append(reportOpts, rptservice.WithCache(
			cache.NewSummaryCache(redisClient, cfg.SummaryCacheTTL, log)))
		log.Info("summary cache enabled", "ttl", cfg.SummaryCacheTTL.String())
	}

	httpMetrics := metrics.New()
	tokens := jwttoken.NewService(cfg.JWTSigningKey, "bloodledger")

	inventorySvc := invservice.New(ledgers, directory,
		invservice.WithLogger(log),
		invservice.WithMetrics(invmetrics.New()),
		invservice.WithAudit(trail),
	)
	transferSvc := tfrservice.New(requests, ledgers, directory, runner,
		tfrservice.WithLogger(log),
		tfrservice.WithMetrics(tfrmetrics.New()),
		tfrservice.WithAudit(trail),
	)
	reportSvc := rptservice.New(ledgers, reportOpts...)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/api/v1", func(api chi.Router) {
		invhandler.New(inventorySvc, log, httpMetrics, tokens).Register(api)
		tfrhandler.New(transferSvc, log, httpMetrics, tokens).Register(api)
		rpthandler.New(reportSvc, log, httpMetrics, tokens).Register(api)
	})

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting bloodledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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

	if err := g.Wait(); err != nil {
		fatal(log, "server error", err)
	}
	log.Info("shutdown complete")
}

// loadDirectory reads the hospital seed file. A nil directory disables
// existence checks, which suits single-tenant and development setups.
func loadDirectory(path string) (hospital.Directory, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []hospital.Hospital
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return hospital.NewInMemory(entries...), nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err.Error())
	os.Exit(1)
}
