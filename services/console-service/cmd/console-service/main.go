package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/vetdesk/libs/config"
	"github.com/md-rashed-zaman/vetdesk/libs/db"
	"github.com/md-rashed-zaman/vetdesk/libs/httpx"
	"github.com/md-rashed-zaman/vetdesk/libs/kafkax"
	otelx "github.com/md-rashed-zaman/vetdesk/libs/otel"
	"github.com/md-rashed-zaman/vetdesk/libs/runtime"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/backend"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/clinic"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/detail"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/events"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/filter"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/handlers"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/kv"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/model"
	"github.com/md-rashed-zaman/vetdesk/services/console-service/internal/query"
)

func main() {
	config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "console-service")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
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

	backendURL, err := config.RequiredString("BACKEND_URL")
	if err != nil {
		panic(err)
	}
	api, err := backend.New(backend.Options{
		BaseURL: backendURL,
		Token:   config.String("BACKEND_TOKEN", ""),
		Timeout: config.Duration("BACKEND_TIMEOUT", 10*time.Second),
	})
	if err != nil {
		logger.Error("backend client init failed", "err", err)
		panic(err)
	}

	fallback, err := staticClinic()
	if err != nil {
		logger.Error("invalid clinic configuration", "err", err)
		panic(err)
	}
	clinicProvider, err := clinic.NewGRPCProvider(ctx, logger, fallback, config.String("CLINIC_GRPC_ADDR", ""), config.Duration("CLINIC_CACHE_TTL", 5*time.Minute))
	if err != nil {
		logger.Error("clinic provider init failed; using static context", "err", err)
		clinicProvider = clinic.NewStaticProvider(fallback)
	}

	var checks []runtime.ReadyCheck

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	var store query.Store
	if rdb != nil {
		store = query.NewRedisStore(rdb, config.String("QUERY_CACHE_PREFIX", ""))
		logger.Info("query cache enabled (redis)")
	} else {
		mem := query.NewMemoryStore()
		mem.StartCleanup(ctx, config.Duration("QUERY_CACHE_CLEANUP_INTERVAL", time.Minute), logger)
		store = mem
		logger.Info("query cache enabled (in-memory)")
	}
	cache := query.NewClient(ctx, query.Options{
		Store:              store,
		Logger:             logger,
		MaxAttempts:        config.Int("QUERY_MAX_ATTEMPTS", 3),
		RefetchConcurrency: config.Int("QUERY_REFETCH_CONCURRENCY", 4),
	})
	defer cache.Wait()

	settings, pool, err := settingsStore(ctx, logger, rdb)
	if err != nil {
		logger.Error("settings store init failed", "err", err)
		panic(err)
	}
	if pool != nil {
		defer pool.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	}

	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		cctx, err := clinicProvider.ClinicContext(ctx)
		if err != nil {
			logger.Warn("clinic context unavailable; event invalidation uses static context", "err", err)
			cctx = fallback
		}
		inv := events.NewInvalidator(cache, cctx.ScopeID(), cctx.Location, logger)
		consumer := events.NewConsumer(logger, events.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", consumerGroup(service)),
			Topics:  config.List("KAFKA_TOPICS", strings.Join(events.Topics, ",")),
		}, inv.Handle)
		go consumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers), Optional: true})
	}

	sessions := detail.NewSessions(config.Duration("DETAIL_SESSION_TTL", 30*time.Minute))
	sessions.StartCleanup(ctx, time.Minute, logger)

	consoleHandler := handlers.NewConsoleHandler(handlers.Deps{
		Backend:    api,
		Cache:      cache,
		Clinic:     clinicProvider,
		Combinator: filter.NewCombinator(config.Int("DEFAULT_PAGE_SIZE", 25), "scheduled_start", filter.SortAsc),
		Settings:   settings,
		Sessions:   sessions,
		Logger:     logger,
	})

	mux := runtime.NewBaseMuxWithReady(checks...)
	consoleHandler.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS", ""),
			AllowedMethods:   config.List("CORS_ALLOWED_METHODS", "GET,POST,DELETE,OPTIONS"),
			AllowedHeaders:   config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id,"+handlers.SessionHeader+","+handlers.UserHeader),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Duration("CORS_MAX_AGE", 10*time.Minute),
		}),
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "console")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeHTTP(ctx, srv, logger, 10*time.Second)
}

func staticClinic() (clinic.Context, error) {
	clinicID, err := config.RequiredString("CLINIC_ID")
	if err != nil {
		return clinic.Context{}, err
	}
	loc, err := clinic.LoadLocation(config.String("CLINIC_TIMEZONE", "UTC"))
	if err != nil {
		return clinic.Context{}, err
	}
	return clinic.Context{
		ClinicID: clinicID,
		Scoped:   config.Bool("CLINIC_SCOPED", true),
		Hours: model.WorkingHours{
			Start: config.String("CLINIC_HOURS_START", model.DefaultWorkingHours.Start),
			End:   config.String("CLINIC_HOURS_END", model.DefaultWorkingHours.End),
		},
		Location: loc,
	}, nil
}

// settingsStore prefers Postgres, then Redis, then process memory.
func settingsStore(ctx context.Context, logger *slog.Logger, rdb *redis.Client) (kv.Store, *db.Pool, error) {
	if dbURL := config.String("DATABASE_URL", ""); dbURL != "" {
		pool, err := db.Open(ctx, dbURL, db.PoolOptions{MaxConns: int32(config.Int("DB_MAX_CONNS", 5))})
		if err != nil {
			return nil, nil, err
		}
		applied, err := db.Migrate(ctx, pool, kv.Migrations, kv.MigrationsDir)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("settings store enabled (postgres)", "migration_version", applied)
		return kv.NewPostgresStore(pool), pool, nil
	}
	if rdb != nil {
		logger.Info("settings store enabled (redis)")
		return kv.NewRedisStore(rdb, config.String("SETTINGS_PREFIX", "")), nil, nil
	}
	logger.Warn("settings store is in-memory; presets are lost on restart")
	return kv.NewMemoryStore(), nil, nil
}

// consumerGroup gives each replica its own group so every replica sees every
// appointment event.
func consumerGroup(service string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return service
	}
	return service + "-" + host
}
