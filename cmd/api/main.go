package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Saluana/or3-chat-sub013/internal/adapter/store"
	"github.com/Saluana/or3-chat-sub013/internal/domain"
	"github.com/Saluana/or3-chat-sub013/internal/http/handlers"
	"github.com/Saluana/or3-chat-sub013/internal/http/httpapi"
	"github.com/Saluana/or3-chat-sub013/internal/infra"
	"github.com/Saluana/or3-chat-sub013/internal/notify"
	"github.com/Saluana/or3-chat-sub013/internal/providers/chat"
	"github.com/Saluana/or3-chat-sub013/internal/runner"
	"github.com/Saluana/or3-chat-sub013/internal/viewer"
)

func main() {
	// Load .env (optional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	var jobStore domain.JobStore
	switch cfg.StoreBackend {
	case "postgres":
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
		if err := infra.RunMigrations(dbpool, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		jobStore = store.NewPostgres(infra.NewSQLRunner(dbpool, logger), cfg.MaxActiveStreams, cfg.StreamTimeout, cfg.StreamRetention)
	case "redis":
		client, err := infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer client.Close()
		jobStore = store.NewRedis(client, cfg.MaxActiveStreams, cfg.StreamTimeout, cfg.StreamRetention)
	default:
		jobStore = store.NewMemory(cfg.MaxActiveStreams, cfg.StreamTimeout, cfg.StreamRetention)
	}
	logger.Info().Str("backend", cfg.StoreBackend).Msg("stream store ready")

	var provider chat.Streamer
	if cfg.OpenAIAPIKey != "" {
		provider = chat.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set, using synthetic provider")
		provider = chat.NewSynthetic(50 * time.Millisecond)
	}

	registry := viewer.NewRegistry()

	sinks := []notify.Sink{notify.LogSink{Logger: logger}}
	if cfg.AMQPURL != "" {
		amqpSink, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect message broker")
		}
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
	}
	dispatcher := notify.NewDispatcher(registry, nil, logger, sinks...)

	streamRunner := runner.New(jobStore, provider, dispatcher, logger, cfg.FlushInterval)
	sweeper := runner.NewSweeper(jobStore, dispatcher, logger, cfg.CleanupInterval, cfg.StreamRetention)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)

	app := handlers.NewApp(cfg, logger, jobStore, registry, streamRunner, sweeper)
	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
