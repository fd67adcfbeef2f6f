package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/agentcal/libs/db"
	"github.com/md-rashed-zaman/agentcal/libs/grpcx"
	"github.com/md-rashed-zaman/agentcal/libs/httpx"
	"github.com/md-rashed-zaman/agentcal/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agentcal/libs/otel"
	"github.com/md-rashed-zaman/agentcal/libs/runtime"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/consumer"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/decision"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/handlers"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/inbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/jobs"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/metrics"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/outbox"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/regen"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/scheduling"
	"github.com/md-rashed-zaman/agentcal/services/calendar-service/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	policy, err := decision.New(cfg.Policy, cfg.DecisionDelay, int64(cfg.PolicySeed))
	if err != nil {
		panic(err)
	}

	var checks []runtime.ReadyCheck
	var store storage.Store
	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		store = storage.NewPostgres(pool, db.DefaultRetryPolicy())
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory store")
		store = storage.NewMemory(time.Now)
	}

	svc := scheduling.NewService(store, logger, scheduling.Config{
		Location:       cfg.Location,
		HorizonDays:    cfg.HorizonDays,
		RefundTimeline: cfg.RefundTimeline,
		Policy:         policy,
		Metrics:        m,
	})
	scheduler := regen.NewScheduler(svc, logger)

	if pool != nil && len(cfg.KafkaBrokers) > 0 {
		// Working-hours changes travel outbox -> Kafka -> consumer -> scheduler.
		publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)

		eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   outbox.WorkingHoursChanged,
		}, scheduler.KafkaHandler())
		go eventConsumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	} else {
		queue := regen.NewQueue(scheduler, logger)
		svc.SetTrigger(queue)
		go queue.Run(ctx)
	}

	worker := jobs.NewWorker(svc, logger, jobs.WorkerConfig{
		Interval:    cfg.WorkerInterval,
		MaxAttempts: cfg.DecisionMaxAttempts,
		Backoff:     cfg.DecisionBackoff,
	})
	go worker.Run(ctx)

	publicLimit, rdb := rateLimiter(cfg, logger)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	grpcChecks := make([]func(context.Context) error, 0, len(checks))
	for _, c := range checks {
		grpcChecks = append(grpcChecks, c.Check)
	}
	healthSrv := grpcx.NewHealthServer(logger, grpcChecks...)
	go func() {
		if err := healthSrv.Serve(ctx, ":"+cfg.GRPCPort, 10*time.Second); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMux(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), checks...)
	handlers.NewAPI(svc, logger).Register(mux, publicLimit)

	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "calendar")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("calendar service configured",
		"policy", policy.Name(),
		"decision_delay", cfg.DecisionDelay.String(),
		"timezone", cfg.Location.String(),
		"kafka", len(cfg.KafkaBrokers) > 0,
	)
	runtime.RunHTTPServer(ctx, logger, srv, 10*time.Second)
}

// rateLimiter limits the public routes, in Redis when REDIS_ADDR is set so
// replicas share one budget.
func rateLimiter(cfg serviceConfig, logger *slog.Logger) (httpx.Middleware, *redis.Client) {
	if cfg.RateLimitPerMinute <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return httpx.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/4+1).Middleware(), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	limiter := httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "agentcal:ratelimit")
	return limiter.Middleware(logger, true), rdb
}
