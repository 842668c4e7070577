package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxql/fluxql/internal/access"
	"github.com/fluxql/fluxql/internal/auth"
	"github.com/fluxql/fluxql/internal/config"
	"github.com/fluxql/fluxql/internal/database"
	"github.com/fluxql/fluxql/internal/engine"
	"github.com/fluxql/fluxql/internal/observability"
	"github.com/fluxql/fluxql/internal/pubsub"
	"github.com/fluxql/fluxql/internal/query"
	"github.com/fluxql/fluxql/internal/restapi"
	"github.com/fluxql/fluxql/internal/schema"
)

var (
	Version = "dev"
	Commit  = "unknown"

	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("fluxql %s (%s)\n", Version, Commit)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := connectDatabaseWithRetry(cfg.Database, 5)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database after multiple attempts")
	}
	defer db.Close()

	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	db.Pool().Reset()

	inspector := schema.NewInspector(db.Pool())
	cache := schema.NewCache(inspector, 5*time.Minute)
	if err := cache.Refresh(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed initial schema cache load")
	}

	ps, err := pubsub.NewPubSub(&cfg.Scaling, db.Pool())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize pubsub backend, schema cache invalidation will stay local")
	} else {
		cache.SetPubSub(ps)
	}
	defer cache.Close()

	sweeper, err := schema.StartSweep(cache, "@every 5m")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start schema cache sweep")
	} else {
		defer sweeper.Stop()
	}

	jwtManager := auth.NewJWTManagerWithConfig(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, cfg.Auth.RefreshExpiry, cfg.Auth.ServiceRoleTTL, cfg.Auth.ServiceRoleTTL)

	tracer, err := observability.NewTracer(context.Background(), observability.TracerConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		metricsServer := observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
		if err := metricsServer.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
	}

	gateway := &restapi.Gateway{
		Pool:     engine.NewPool(db.Pool(), 30*time.Second),
		Cache:    cache,
		Classify: access.NewJWTClassifier(jwtManager),
		Metrics:  metrics,
		ParseOpts: query.Options{
			Schema: "public",
			Limits: query.Limits{
				MaxPageSize:     cfg.API.MaxPageSize,
				DefaultPageSize: cfg.API.DefaultPageSize,
				MaxTotalResults: cfg.API.MaxTotalResults,
			},
		},
	}

	app := fiber.New(fiber.Config{
		ServerHeader:          "fluxql",
		AppName:               "fluxql " + Version,
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
	})
	app.Use(func(c *fiber.Ctx) error {
		spanCtx, span := tracer.StartSpan(context.Background(), c.Method()+" "+c.Path())
		defer span.End()
		observability.SetSpanAttributes(spanCtx,
			attribute.String("http.method", c.Method()),
			attribute.String("http.path", c.Path()),
		)
		err := c.Next()
		observability.SetSpanAttributes(spanCtx, attribute.Int("http.status_code", c.Response().StatusCode()))
		if err != nil {
			observability.RecordError(spanCtx, err)
		}
		return err
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := db.Pool().Ping(c.Context()); err != nil {
			return c.Status(503).JSON(fiber.Map{"status": "unhealthy"})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	gateway.Register(app)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting fluxql query gateway")
		if err := app.Listen(cfg.Server.Address); err != nil {
			log.Error().Err(err).Msg("Server failed to start or stopped with error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	log.Info().Msg("Server exited")
}

// connectDatabaseWithRetry mirrors the teacher's exponential-backoff
// connection bootstrap.
func connectDatabaseWithRetry(cfg config.DatabaseConfig, maxAttempts int) (*database.Connection, error) {
	var db *database.Connection
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		db, err = database.NewConnection(cfg)
		if err == nil {
			return db, nil
		}
		if attempt >= maxAttempts {
			break
		}
		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("Database connection failed, retrying...")
		time.Sleep(backoff)
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxAttempts, err)
}
