// Entry point for the attendance client
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.client/internal/api"
	"attendance.client/internal/auth"
	"attendance.client/internal/callable"
	"attendance.client/internal/config"
	"attendance.client/internal/core"
	"attendance.client/internal/feed"
	"attendance.client/internal/ports/repository"
	"attendance.client/internal/worker"
	"attendance.client/internal/worker/changes"
	"attendance.client/pkg/aws"
	"attendance.client/pkg/database"
	"attendance.client/pkg/logger"
	"attendance.client/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup("attendance-client", cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("attendance-client", cfg.OTLPEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// DB connection
	db, err := database.NewInstrumentedConnection(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()
	log.Info().Msg("Successfully connected to the document store.")

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	repo := repository.NewDocumentRepository(db)
	hub := feed.NewHub(repo)
	provider := auth.NewProvider([]byte(cfg.AuthSigningKey))
	functions := callable.NewHTTPClient(cfg.CallableBaseURL, cfg.CallableTimeout, provider)
	service := core.NewAttendanceService(provider, hub, functions, core.WithCallTimeout(cfg.CallableTimeout))

	// Change events drive the feeds
	workerCtx, stopWorker := context.WithCancel(context.Background())
	changeWorker := worker.NewWorker(sqsClient, cfg.ChangesSQSQueueURL, changes.NewProcessor(hub))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		changeWorker.Start(workerCtx)
	}()

	// Setup router and server
	router := api.NewRouter(service, provider)

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logger.EnrichContextWithLogger(r.Context())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	// Wrap the router with OpenTelemetry middleware to create spans for each request
	handler := otelhttp.NewHandler(loggerMiddleware(router), "api")

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Attendance client starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopWorker()
	<-workerDone

	service.Close()
	hub.Close()

	log.Info().Msg("Attendance client exited")
}
