// Local stand-in for the callable backend: runs the four callables against
// the document store and publishes a change event for every write.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.client/internal/config"
	"attendance.client/internal/ports/messaging"
	"attendance.client/internal/ports/repository"
	"attendance.client/pkg/aws"
	"attendance.client/pkg/database"
	"attendance.client/pkg/logger"
	"attendance.client/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	logger.Setup("callable-mock", cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("callable-mock", cfg.OTLPEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	db, err := database.NewInstrumentedConnection(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening database")
	}
	defer db.Close()

	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	producer := messaging.NewSQSProducer(sqs.NewFromConfig(awsCfg), cfg.ChangesSQSQueueURL)
	backend := NewBackend(repository.NewDocumentRepository(db), producer, []byte(cfg.AuthSigningKey))

	r := mux.NewRouter()
	backend.Routes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.MockPort,
		Handler:           otelhttp.NewHandler(r, "callable-mock"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.MockPort).Msg("Callable mock server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Callable mock exited")
}
