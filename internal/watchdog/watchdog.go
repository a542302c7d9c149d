// Package watchdog watches the credential store for terminal errors and
// performs the forced sign-out: clear the store, tell the user, send the
// UI back to the entry point. It reacts to every session change and also
// polls on a fixed interval as a backstop for state changed outside the
// reactive path.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/session"
)

// DefaultPollInterval is the backstop poll period.
const DefaultPollInterval = 30 * time.Second

// Navigate is the UI layer's redirect-to-login hook.
type Navigate func()

// Watchdog enforces terminal session errors.
type Watchdog struct {
	store    *session.Store
	notifier Notifier
	navigate Navigate
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	interval time.Duration

	// kick wakes the run loop on reactive session changes. Buffered so a
	// subscriber never blocks the store's write path.
	kick chan struct{}
}

// New creates a watchdog. Call Bind before the store is in use, then Run.
func New(store *session.Store, notifier Notifier, navigate Navigate, m *metrics.Metrics, interval time.Duration, logger zerolog.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if navigate == nil {
		navigate = func() {}
	}
	return &Watchdog{
		store:    store,
		notifier: notifier,
		navigate: navigate,
		metrics:  m,
		logger:   logger.With().Str("component", "watchdog").Logger(),
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Bind subscribes the watchdog to session changes. Wire during startup.
func (w *Watchdog) Bind() {
	w.store.Subscribe(func(session.Session) {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	})
}

// Run drives the reactive and periodic checks until ctx is cancelled.
// The ticker stops with the context; no orphaned checks survive teardown.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// One pass at startup catches a terminal state persisted before a
	// restart.
	w.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			w.Check(ctx)
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check performs one idempotent inspection. Running it twice while
// already signed out is a no-op.
func (w *Watchdog) Check(ctx context.Context) {
	s, _ := w.store.Current()
	if s.Terminal == session.TerminalNone {
		return
	}
	kind := s.Terminal

	if err := w.store.Clear(ctx); err != nil {
		w.logger.Error().Err(err).Msg("failed to clear session during forced sign-out")
		return
	}

	w.metrics.RecordForcedSignout()
	w.logger.Warn().Str("kind", string(kind)).Msg("forced sign-out")

	if err := w.notifier.NotifySignedOut(ctx, kind); err != nil {
		w.logger.Warn().Err(err).Msg("sign-out notification failed")
	}
	w.navigate()
}
