package main

import (
	"context"
	"errors"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"log/slog"
	"mcp-chat/internal/pkg/config"
	"mcp-chat/internal/pkg/cookies"
	"mcp-chat/internal/pkg/httpHandlers"
	"mcp-chat/internal/pkg/inboundAuth"
	"mcp-chat/internal/pkg/mcpTasks"
	"mcp-chat/internal/pkg/orchestrator"
	"mcp-chat/internal/pkg/sandbox"
	"mcp-chat/internal/pkg/sessions"
	"mcp-chat/internal/pkg/stateStore"
	"mcp-chat/internal/pkg/web"
	"mcp-chat/internal/pkg/websocketServer"
	webAssets "mcp-chat/web"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// Linux configuration examples
// MCP_CHAT_PORT=321 MCP_CHAT_ORCHESTRATORURL=https://orchestrator.example.com ./mcp-chat
// ./mcp-chat --Port 123 --DevToken eyJhbGciOi...

const applicationName = "mcp-chat"
const serverShutdownTimeout = 5 * time.Second
const templatesDir = "templates"
const chatPage = "/chat"

func main() {
	setupZerolog()

	log.Info().Msg("Parsing configuration")
	appConfig := &applicationConfig{}
	config.Parse(appConfig, applicationName)

	log.Info().Msg("Starting up")

	if appConfig.CookieSecret != "" {
		cookies.SecretKey = []byte(appConfig.CookieSecret)
	} else {
		log.Warn().Msg("CookieSecret is empty, session cookies are signed with the built-in key")
	}

	templates, err := web.TemplateParseFSRecursive(webAssets.TemplateFS, templatesDir, ".gohtml", nil)
	if err != nil {
		log.Panic().Err(err).Msg("template parsing failed")
	}

	store, err := stateStore.New(appConfig.DatabasePath)
	if err != nil {
		log.Panic().Err(err).Str("path", appConfig.DatabasePath).Msg("stateStore.New() failed")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("stateStore.Close() failed")
		}
	}()

	// Background pollers share one client; browser sessions get their own for their cookies.
	sharedClient, err := orchestrator.New(appConfig.OrchestratorUrl)
	if err != nil {
		log.Panic().Err(err).Msg("orchestrator.New() failed")
	}

	sandboxPoller := sandbox.New(sharedClient,
		sandbox.WithInterval(appConfig.SandboxInterval),
		sandbox.WithMaxAttempts(appConfig.SandboxAttempts))
	taskPoller := mcpTasks.New(sharedClient, store, mcpTasks.WithRequestRate(float64(appConfig.TaskRequestRate)))

	authenticator := inboundAuth.New(inboundAuth.Config{
		DescopeBase: appConfig.DescopeBase,
		ClientId:    appConfig.InboundClientId,
		PublicUrl:   appConfig.PublicUrl,
	}, inboundAuth.NewMemoryStore())

	sessionManager := sessions.New(sessions.WithPruneFunc(func(id uuid.UUID) {
		authenticator.Forget(id.String())
	}))

	var handlers *httpHandlers.ChatHandlers
	notificationServer := websocketServer.New(
		websocketServer.WithSnapshotFunc(func(id uuid.UUID) []byte {
			return handlers.Snapshot(id)
		}),
		websocketServer.WithOriginPatterns(appConfig.WebsocketOrigins...),
	)
	handlers = httpHandlers.New(templates, sessionManager, notificationServer, httpHandlers.Dependencies{
		NewClient: func() (*orchestrator.Client, error) {
			return orchestrator.New(appConfig.OrchestratorUrl)
		},
		Authenticator:  authenticator,
		SandboxWaiter:  sandboxPoller,
		StateStore:     store,
		TaskPoller:     taskPoller,
		AuthCookieName: appConfig.AuthCookieName,
		DevToken:       appConfig.DevToken,
	})

	ctx, stopPruning := context.WithCancel(context.Background())
	go pruneIdleSessions(ctx, sessionManager, appConfig.SessionIdleTimeout)

	listener := createNetListener(appConfig)
	server := startHttpServer(listener, handlers, notificationServer, appConfig)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info().Msg("Application stopping")
	stopPruning()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server.Shutdown failed")
	}

	sessionManager.Shutdown()
	log.Info().Msg("Application stopped")
}

func startHttpServer(listener net.Listener, handlers *httpHandlers.ChatHandlers,
	notificationServer websocketServer.WebsocketServer,
	appConfig *applicationConfig) *http.Server {

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	httpLogger := httplog.NewLogger(applicationName, httplog.Options{
		LogLevel: slog.LevelDebug,
		JSON:     true,
		Concise:  true,
	})

	router := chi.NewRouter()
	router.Use(httplog.RequestLogger(httpLogger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   appConfig.AllowedOrigins,
		AllowCredentials: true,
	}))

	handle := func(pattern string, requestFunc web.RequestFunc) {
		router.Handle(pattern, web.Handler{Request: requestFunc, SimulatedDelay: appConfig.SimulatedDelay})
	}

	router.HandleFunc("/api/notifications", notificationServer.Handler)

	handle("GET "+chatPage, handlers.Main)
	handle("POST /api/connect", handlers.Connect)
	handle("POST /api/reconnect", handlers.Reconnect)
	handle("POST /api/ask", handlers.Ask)
	handle("POST /api/reset", handlers.Reset)
	handle("POST /api/error/dismiss", handlers.DismissError)
	handle("GET /api/mcps", handlers.Mcps)
	handle("POST /api/mcps/{id}/enable", handlers.EnableMcp)
	handle("GET /api/outbound-apps", handlers.OutboundApps)
	handle("GET /api/tasks", handlers.Tasks)
	handle("POST /api/tasks", handlers.StartTask)
	handle("GET /api/sessions", handlers.Sessions)
	handle("GET "+inboundAuth.CallbackPath, handlers.InboundCallback)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, chatPage, http.StatusTemporaryRedirect)
	})

	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", listener.Addr().String()).Msg("Server is about to start")

		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server.Serve failed")
		}

		log.Info().Msg("Server stopped")
	}()
	return server
}

func pruneIdleSessions(ctx context.Context, sessionManager *sessions.SessionManager, maxIdle time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := sessionManager.PruneIdle(maxIdle); pruned > 0 {
				log.Info().Int("sessions", pruned).Msg("idle browser sessions dropped")
			}
		}
	}
}

func createNetListener(appConfig *applicationConfig) net.Listener {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", appConfig.Host, appConfig.Port))
	if err != nil {
		log.Fatal().Err(err).Msg("net.Listen failed")
	}

	return listener
}

func setupZerolog() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
}
