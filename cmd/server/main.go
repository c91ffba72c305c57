package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wahub/wahub/internal/audit"
	"github.com/wahub/wahub/internal/config"
	"github.com/wahub/wahub/internal/database"
	"github.com/wahub/wahub/internal/events"
	"github.com/wahub/wahub/internal/handler"
	"github.com/wahub/wahub/internal/jobs"
	"github.com/wahub/wahub/internal/manager"
	"github.com/wahub/wahub/internal/middleware"
	"github.com/wahub/wahub/internal/model"
	"github.com/wahub/wahub/internal/store"
	"github.com/wahub/wahub/internal/users"
	"github.com/wahub/wahub/internal/wasocket"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Str("path", cfg.DatabasePath).Msg("database ready")

	global, err := store.New(db, "", cfg.CacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open global store")
	}
	defer global.Close()

	bus := events.NewBus()
	defer bus.Close()

	userService := users.NewService(global)
	recorder := audit.NewRecorder(global)
	dialer := wasocket.NewMeowDialer(cfg.WAStorePath)
	mgr := manager.New(cfg, db, global, bus, dialer)
	defer mgr.CloseAll()

	bootstrapAdmin(userService)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	restored, err := mgr.RestoreAll(restoreCtx)
	restoreCancel()
	if err != nil {
		log.Error().Err(err).Msg("session restore failed")
	} else if restored > 0 {
		log.Info().Int("count", restored).Msg("sessions restored")
	}

	authMiddleware := middleware.NewAuthMiddleware(userService)

	sessionHandler := handler.NewSessionHandler(mgr, recorder)
	webhookHandler := handler.NewWebhookHandler(mgr, recorder)
	eventsHandler := handler.NewEventsHandler(mgr, bus)
	backupHandler := handler.NewBackupHandler(cfg, mgr, recorder)
	userHandler := handler.NewUserHandler(userService, recorder)
	systemHandler := handler.NewSystemHandler(db, mgr, bus, recorder)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/healthz", systemHandler.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		r.Route("/sessions", func(r chi.Router) {
			r.Mount("/", sessionHandler.Routes())
			r.Mount("/{sessionID}/webhooks", webhookHandler.Routes())
			r.Mount("/{sessionID}/events", eventsHandler.Routes())
			r.Mount("/{sessionID}/backups", backupHandler.Routes())
		})

		r.Mount("/users", userHandler.Routes())

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Mount("/", systemHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(cfg, mgr, global, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// WriteTimeout stays zero so SSE streams are not cut off.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// bootstrapAdmin creates the initial admin account when the users table is
// empty, printing the one-time api key to the log.
func bootstrapAdmin(svc *users.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()

	existing, err := svc.List(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list users")
	}
	if len(existing) > 0 {
		return
	}

	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		log.Warn().Msg("no users exist and ADMIN_PASSWORD is unset, skipping admin bootstrap")
		return
	}

	admin, err := svc.Create(ctx, model.CreateUserParams{
		Username: "admin",
		Password: password,
		Role:     model.UserRoleAdmin,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}
	log.Info().Str("userId", admin.ID).Str("apiKey", admin.APIKey).Msg("admin user created, store this api key")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
