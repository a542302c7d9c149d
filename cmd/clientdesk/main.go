package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clientdesk/clientdesk/internal/api"
	"github.com/clientdesk/clientdesk/internal/config"
	"github.com/clientdesk/clientdesk/internal/gateway"
	"github.com/clientdesk/clientdesk/internal/health"
	"github.com/clientdesk/clientdesk/internal/inbox"
	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/records"
	"github.com/clientdesk/clientdesk/internal/refresh"
	"github.com/clientdesk/clientdesk/internal/session"
	"github.com/clientdesk/clientdesk/internal/watchdog"
	"github.com/clientdesk/clientdesk/internal/workflow"
	"github.com/clientdesk/clientdesk/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("upstream", cfg.UpstreamBaseURL).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting clientdesk core")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Credential persistence
	persist, err := tokenstore.NewSQLiteStore(cfg.TokenDBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.TokenDBPath).Msg("failed to open token store")
	}
	defer persist.Close()

	m := metrics.New()

	// Session store, restored from disk if a session survived the last run
	sessions := session.NewStore(persist, logger)
	if err := sessions.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to load persisted session")
	}

	// Refresh coordinator and authenticated gateway
	coordinator := refresh.NewCoordinator(cfg.UpstreamBaseURL, sessions, m, logger)
	gw := gateway.New(cfg.UpstreamBaseURL, sessions, coordinator, m, logger)

	// Workflow engine over the records client
	engine := workflow.NewEngine(records.NewClient(gw, logger), m, logger)

	// Watchdog. Bind before anything can write to the session store.
	var notifier watchdog.Notifier
	if cfg.SlackEnabled() {
		notifier = watchdog.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel)
		logger.Info().Str("channel", cfg.SlackAlertChannel).Msg("Slack sign-out notifier enabled")
	} else {
		notifier = watchdog.LogNotifier{Logger: logger}
	}
	dog := watchdog.New(sessions, notifier, nil, m, cfg.WatchdogPollInterval, logger)
	dog.Bind()

	// Inbox for push-channel record invalidations
	queue := inbox.NewQueue(cfg.InboxBuffer, logger)

	// Health checks
	checker := health.NewChecker(logger)
	checker.Register("tokenstore", func(ctx context.Context) health.Status {
		if _, err := persist.Get(ctx, session.PersistKey); err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// API server
	handlers := api.NewHandlers(coordinator, sessions, engine, checker, logger)
	server := api.NewServer(api.ServerConfig{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		dog.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		queue.Drain(ctx, engine)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
		}
	}()

	<-sigCh
	logger.Info().Msg("shutdown signal received")

	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}

	wg.Wait()
	logger.Info().Msg("clientdesk core stopped")
}
