// Command server runs the arbiter dispatch core: webhook ingress, the
// gated event pipeline, the audit ledger API and the operational surface
// (health, metrics). Dependencies are constructed here once and handed to
// the feature packages; business logic lives under internal/.
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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"arbiter/internal/decision"
	decisionmetrics "arbiter/internal/decision/metrics"
	"arbiter/internal/erp"
	eventstore "arbiter/internal/event/store"
	"arbiter/internal/executor"
	executormetrics "arbiter/internal/executor/metrics"
	"arbiter/internal/ingress"
	ingresshandler "arbiter/internal/ingress/handler"
	ingressmetrics "arbiter/internal/ingress/metrics"
	ledgerhandler "arbiter/internal/ledger/handler"
	ledgermetrics "arbiter/internal/ledger/metrics"
	ledgerservice "arbiter/internal/ledger/service"
	ledgerstore "arbiter/internal/ledger/store"
	"arbiter/internal/outbox"
	outboxmetrics "arbiter/internal/outbox/metrics"
	outboxworker "arbiter/internal/outbox/worker"
	"arbiter/internal/pipeline"
	pipelinemetrics "arbiter/internal/pipeline/metrics"
	"arbiter/internal/platform/config"
	"arbiter/internal/platform/database"
	"arbiter/internal/platform/health"
	"arbiter/internal/platform/httpserver"
	kafkaproducer "arbiter/internal/platform/kafka/producer"
	"arbiter/internal/platform/logger"
	"arbiter/internal/platform/middleware"
	platformredis "arbiter/internal/platform/redis"
	"arbiter/internal/platform/tracer"
	"arbiter/internal/queue"
	"arbiter/internal/reasoner"
	"arbiter/internal/retention"
	rulehandler "arbiter/internal/rule/handler"
	ruleservice "arbiter/internal/rule/service"
	rulestore "arbiter/internal/rule/store"
	"arbiter/internal/seeder"
	"arbiter/internal/token"
	"arbiter/pkg/platform/circuit"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(log)

	log.Info("initializing arbiter",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"workers", cfg.Pipeline.Workers,
	)

	// Storage backends. An empty database URL selects in-memory stores, an
	// empty redis URL the in-memory queue; both are the development setup.
	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		events    eventstore.Store
		decisions decision.Store
		rules     rulestore.Store
		audits    ledgerservice.Store
		ledgerDB  retention.LedgerStore
		stream    outbox.Store
	)
	if pool != nil {
		log.Info("using postgres stores")
		events = eventstore.NewPostgres(pool.DB())
		decisions = decision.NewPostgresStore(pool.DB())
		rules = rulestore.NewPostgres(pool.DB())
		pgLedger := ledgerstore.NewPostgres(pool.DB())
		audits, ledgerDB = pgLedger, pgLedger
		stream = outbox.NewPostgresStore(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory stores")
		events = eventstore.New()
		decisions = decision.NewInMemoryStore()
		rules = rulestore.New()
		memLedger := ledgerstore.New()
		audits, ledgerDB = memLedger, memLedger
		stream = outbox.NewInMemoryStore()
	}

	var work queue.Queue
	if rdb != nil {
		log.Info("using redis work queue")
		work = queue.NewRedis(rdb.Client)
	} else {
		log.Warn("no redis configured, using in-memory work queue")
		work = queue.NewMemory()
	}
	work = queue.NewInstrumented(work, queue.NewMetrics())

	// Audit stream. Without brokers the outbox still records changes; the
	// noop producer just drops them on publish.
	var producer outboxworker.Producer
	var kafkaHealthy func(context.Context) bool
	if cfg.Kafka.Brokers != "" {
		p, err := kafkaproducer.New(kafkaproducer.Config{
			Brokers:         cfg.Kafka.Brokers,
			Acks:            cfg.Kafka.Acks,
			Retries:         cfg.Kafka.Retries,
			DeliveryTimeout: cfg.Kafka.DeliveryTimeout,
		}, log)
		if err != nil {
			log.Error("kafka producer init failed", "error", err)
			os.Exit(1)
		}
		defer p.Close()
		producer = p
		kafkaHealthy = p.Healthy
	} else {
		log.Warn("no kafka brokers configured, audit stream disabled")
		producer = kafkaproducer.NewNoopProducer(log)
	}

	traces := tracer.NewOTel()

	// Decision engine: reasoner client behind a breaker and hard deadline.
	reasonerClient := reasoner.New(cfg.Reasoner.URL, cfg.Reasoner.Timeout,
		reasoner.WithTracer(traces),
		reasoner.WithLogger(log),
	)
	engine := decision.New(decisions, reasonerClient,
		decision.WithTimeout(cfg.Reasoner.Timeout),
		decision.WithBreaker(circuit.New("reasoner")),
		decision.WithMetrics(decisionmetrics.New()),
		decision.WithLogger(log),
	)

	// Audit ledger with the transactional outbox attached.
	ledger := ledgerservice.NewService(audits, log,
		ledgerservice.WithMetrics(ledgermetrics.New()),
		ledgerservice.WithOutbox(stream),
	)

	// Action executor against the ERP.
	erpClient := erp.New(cfg.ERP.URL, cfg.ERP.Timeout,
		erp.WithTracer(traces),
		erp.WithLogger(log),
	)
	exec := executor.New(erpClient, ledger, events,
		executor.WithMaxAttempts(cfg.ERP.MaxAttempts),
		executor.WithBaseDelay(cfg.ERP.BackoffBase),
		executor.WithMaxDelay(cfg.ERP.BackoffCap),
		executor.WithBreaker(circuit.New("erp")),
		executor.WithMetrics(executormetrics.New()),
		executor.WithLogger(log),
		executor.WithTracer(traces),
	)
	ledger.SetExecutor(exec)

	ruleSvc := ruleservice.NewService(rules, log)
	if cfg.RulesFile != "" {
		if err := seeder.New(ruleSvc, log).SeedFromFile(context.Background(), cfg.RulesFile); err != nil {
			log.Error("rule seeding failed", "error", err, "path", cfg.RulesFile)
			os.Exit(1)
		}
	}

	admission := ingress.NewService([]byte(cfg.Webhook.Secret), events, ledger, work,
		ingress.WithMetrics(ingressmetrics.New()),
		ingress.WithLogger(log),
	)

	pipe := pipeline.New(work, events, engine, ruleSvc, ledger, exec,
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithLeaseTTL(cfg.Pipeline.LeaseTTL),
		pipeline.WithPollInterval(cfg.Pipeline.PollInterval),
		pipeline.WithMaxDeliveries(cfg.Pipeline.MaxDeliveries),
		pipeline.WithMetrics(pipelinemetrics.New()),
		pipeline.WithLogger(log),
		pipeline.WithTracer(traces),
	)

	drain := outboxworker.New(stream, producer,
		outboxworker.WithTopic(cfg.Kafka.Topic),
		outboxworker.WithMetrics(outboxmetrics.New()),
		outboxworker.WithLogger(log),
	)

	sweeper, err := retention.New(events, stream, ledgerDB,
		retention.WithInterval(cfg.Retention.Interval),
		retention.WithEventWindow(cfg.Retention.EventWindow),
		retention.WithOutboxWindow(cfg.Retention.OutboxWindow),
		retention.WithLogger(log),
	)
	if err != nil {
		log.Error("retention init failed", "error", err)
		os.Exit(1)
	}

	operatorAuth := token.NewServiceAdapter(token.NewService(cfg.Auth.OperatorJWTSecret, "arbiter", time.Hour))

	healthHandler := health.New(cfg.Server.Environment)
	if pool != nil {
		healthHandler.RegisterCheck("database", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Health(ctx)
		})
	}
	if rdb != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Health(ctx)
		})
	}
	if kafkaHealthy != nil {
		healthHandler.RegisterCheck("kafka", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if !kafkaHealthy(ctx) {
				return errors.New("kafka unreachable")
			}
			return nil
		})
	}

	router := newRouter(cfg, log,
		healthHandler,
		ingresshandler.New(admission, log),
		ledgerhandler.New(ledger, log),
		rulehandler.New(ruleSvc, log),
		operatorAuth,
	)
	srv := httpserver.New(cfg.Server.Addr, router)

	// Run the server and the background workers until a signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drain.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return pipe.Run(gctx)
	})
	g.Go(func() error {
		if err := sweeper.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if rdb != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					rdb.RecordPoolStats()
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		if err := drain.Stop(shutdownCtx); err != nil {
			log.Error("outbox drain incomplete", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// newRouter assembles the HTTP surface: open webhook ingress and health
// probes, operator-authenticated audit and rule endpoints, and /metrics.
func newRouter(
	cfg config.Config,
	log *slog.Logger,
	healthHandler *health.Handler,
	events *ingresshandler.Handler,
	audits *ledgerhandler.Handler,
	rules *rulehandler.Handler,
	verifier middleware.OperatorVerifier,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	healthHandler.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Webhook ingress authenticates with the HMAC signature, not a bearer
	// token, so it stays outside the operator group.
	events.Register(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOperator(verifier, log))
		r.Use(middleware.ContentTypeJSON)
		audits.Register(r)
		rules.Register(r)
	})

	return r
}
