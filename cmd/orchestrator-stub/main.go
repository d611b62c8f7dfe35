package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"log/slog"
	"mcp-chat/internal/pkg/config"
	"mcp-chat/internal/pkg/orchestratorStub"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Runs an in-memory orchestrator for local development of mcp-chat:
// ./orchestrator-stub --Port 8000 --ChunkDelay 300ms

const applicationName = "orchestrator-stub"
const serverShutdownTimeout = 5 * time.Second

func main() {
	setupZerolog()

	log.Info().Msg("Parsing configuration")
	appConfig := &applicationConfig{}
	config.Parse(appConfig, applicationName)

	log.Info().Msg("Starting up orchestrator stub")

	stub := orchestratorStub.New(
		orchestratorStub.WithSandboxChecks(appConfig.SandboxChecks),
		orchestratorStub.WithTaskPolls(appConfig.TaskPolls),
		orchestratorStub.WithChunkDelay(appConfig.ChunkDelay),
	)

	listener := createNetListener(appConfig)
	server := startHttpServer(listener, stub)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info().Msg("Application stopping")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server.Shutdown failed")
	}
	log.Info().Msg("Application stopped")
}

func startHttpServer(listener net.Listener, stub *orchestratorStub.Stub) *http.Server {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	httpLogger := httplog.NewLogger("orchestrator-stub", httplog.Options{
		LogLevel: slog.LevelDebug,
		JSON:     true,
		Concise:  true,
	})

	router := chi.NewRouter()
	router.Use(httplog.RequestLogger(httpLogger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"https://*",
			"http://*",
		},
		AllowCredentials: true,
	}))
	router.Mount("/", stub.Handler())

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Msg("Server is about to start")

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server.Serve failed")
		}

		log.Info().Msg("Server stopped")
	}()
	return server
}

func createNetListener(appConfig *applicationConfig) net.Listener {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Host, appConfig.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("net.Listen failed")
	}

	log.Info().Str("address", listener.Addr().String()).Msg("Server listening")
	return listener
}

func setupZerolog() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
}
