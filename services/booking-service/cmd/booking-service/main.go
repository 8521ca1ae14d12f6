package main

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"slices"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/jobs"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
)

func main() {
	config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))
	if err := run(service, logger); err != nil {
		logger.Error("booking-service exited", "err", err)
		os.Exit(1)
	}
}

type stores struct {
	pool          *db.Pool
	ledger        storage.Ledger
	providers     storage.Providers
	notifications storage.Notifications
	inbox         inbox.Deduper
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	st, err := openStores(ctx, logger)
	if err != nil {
		return err
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	m := metrics.NewBooking(prometheus.DefaultRegisterer)
	readyChecks := []runtime.ReadyCheck{}
	if st.pool != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(st.pool)})
	}

	opts := []scheduling.Option{scheduling.WithMetrics(m)}
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limiter httpx.Limiter = httpx.NewMemoryLimiter(perMinute, time.Minute)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		opts = append(opts, scheduling.WithCache(cache.NewRedisSlots(rdb, config.Duration("SLOT_CACHE_TTL", 5*time.Second), logger, m)))
		limiter = httpx.NewRedisLimiter(rdb, perMinute, time.Minute, "ratelimit:"+service+":")
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	clk := clock.System{}
	emitter := notify.NewEmitter(st.notifications, clk, logger, m)
	engine := scheduling.New(st.ledger, st.providers, clk, emitter, logger, scheduling.Config{
		Grain:       time.Duration(config.Int("SLOT_MINUTES", 60)) * time.Minute,
		LeadTime:    config.Duration("BOOKING_LEAD_TIME", 30*time.Minute),
		MissedGrace: config.Duration("MISSED_GRACE", 15*time.Minute),
		SweepBatch:  config.Int("MISSED_SWEEP_BATCH", 100),
	}, opts...)

	if seed := config.String("PROVIDERS_SEED_FILE", ""); seed != "" {
		n, err := seedProviders(ctx, engine, seed)
		if err != nil {
			return err
		}
		logger.Info("providers seeded", "file", seed, "count", n)
	}

	verifier, err := newVerifier()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

		if st.pool != nil {
			writer := kafkax.NewWriter(brokers)
			defer func() { _ = writer.Close() }()
			publisher := outbox.NewPublisher(st.pool, writer, m, logger, outbox.PublisherConfig{
				PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
				BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
			})
			g.Go(func() error { return publisher.Run(gctx) })
		} else {
			logger.Warn("outbox publisher disabled: in-memory ledger")
		}

		routes := consumer.Handlers(engine)
		topics := slices.Sorted(maps.Keys(routes))
		reader := kafkax.NewReader(brokers, config.String("KAFKA_GROUP_ID", service), topics)
		eventConsumer := consumer.New(reader, st.inbox, routes, m, logger, consumer.Config{
			MaxAttempts: config.Int("CONSUMER_MAX_ATTEMPTS", 3),
			Backoff:     config.Duration("CONSUMER_BACKOFF", time.Second),
		})
		g.Go(func() error { return eventConsumer.Run(gctx) })
		logger.Info("kafka consumer starting", "topics", topics)
	}

	if every := config.Duration("MISSED_SWEEP_INTERVAL", time.Minute); every > 0 {
		worker := jobs.NewMissedWorker(engine, logger, jobs.MissedConfig{Interval: every})
		g.Go(func() error { return worker.Run(gctx) })
	}

	api := handlers.Routes(handlers.Deps{
		Engine:        engine,
		Notifications: st.notifications,
		Verifier:      verifier,
		Logger:        logger,
	})
	api = httpx.Chain(api,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.RateLimit(limiter, logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 10*time.Second)),
	)

	mux := runtime.NewBaseMux(readyChecks...)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           otelhttp.NewHandler(handler, "booking"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr, "postgres", st.pool != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})

	return g.Wait()
}

// openStores uses Postgres when DATABASE_URL is set and process memory otherwise.
func openStores(ctx context.Context, logger *slog.Logger) (stores, error) {
	dbURL := config.String("DATABASE_URL", "")
	if dbURL == "" {
		logger.Warn("DATABASE_URL not set; using in-memory storage")
		return stores{
			ledger:        storage.NewMemoryLedger(),
			providers:     storage.NewMemoryProviders(),
			notifications: storage.NewMemoryNotifications(),
			inbox:         inbox.NewMemory(),
		}, nil
	}

	opts := db.DefaultOptions()
	opts.MaxConns = int32(config.Int("DB_MAX_CONNS", int(opts.MaxConns)))
	pool, err := db.Open(ctx, dbURL, opts)
	if err != nil {
		return stores{}, err
	}
	return stores{
		pool:          pool,
		ledger:        storage.NewPostgresLedger(pool),
		providers:     storage.NewPostgresProviders(pool),
		notifications: storage.NewPostgresNotifications(pool),
		inbox:         inbox.NewRepository(pool),
	}, nil
}

func newVerifier() (*auth.Verifier, error) {
	v := &auth.Verifier{
		Secret:   []byte(config.String("JWT_SECRET", "")),
		Issuer:   config.String("JWT_ISSUER", ""),
		Audience: config.String("JWT_AUDIENCE", ""),
		Leeway:   config.Duration("JWT_LEEWAY", 30*time.Second),
	}
	if url := config.String("JWKS_URL", ""); url != "" {
		v.JWKS = auth.NewJWKSClient(url, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
	}
	if len(v.Secret) == 0 && v.JWKS == nil {
		return nil, errors.New("JWT_SECRET or JWKS_URL is required")
	}
	return v, nil
}
