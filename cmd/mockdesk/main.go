// mockdesk runs the mock records upstream for local development: seeded
// users and records, real token pairs, and the same workflow rules the
// core enforces.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/clientdesk/clientdesk/internal/mockdesk"
)

type config struct {
	ListenAddr   string        `envconfig:"MOCKDESK_LISTEN_ADDR" default:":9090"`
	FixturesPath string        `envconfig:"MOCKDESK_FIXTURES" default:"fixtures.yaml"`
	Secret       string        `envconfig:"MOCKDESK_SECRET" default:"mockdesk-dev-secret"`
	AccessTTL    time.Duration `envconfig:"MOCKDESK_ACCESS_TTL" default:"5m"`
	RefreshTTL   time.Duration `envconfig:"MOCKDESK_REFRESH_TTL" default:"12h"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var cfg config
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	fx, err := mockdesk.LoadFixtures(cfg.FixturesPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.FixturesPath).Msg("failed to load fixtures")
	}

	srv := mockdesk.New(fx, cfg.Secret, logger)
	srv.SetTokenTTLs(cfg.AccessTTL, cfg.RefreshTTL)

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Int("users", len(fx.Users)).
		Int("records", len(fx.Records)).
		Msg("mockdesk starting")

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
