package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clientdesk/clientdesk/pkg/tokenstore"
)

// PersistKey is the tokenstore key the session is stored under.
const PersistKey = "clientdesk.session"

// Subscriber is notified after every session change (replace, terminal
// mark, clear). The snapshot passed in is a copy; subscribers must not
// block for long — the watchdog's reactive check hangs off this.
type Subscriber func(Session)

// Store is the credential store. All reads and writes go through it; it
// never performs network I/O. Writers are serialized by their callers (the
// refresh coordinator's single-flight, the login/logout handlers).
type Store struct {
	mu      sync.RWMutex
	current Session
	gen     uint64

	persist tokenstore.Store
	subs    []Subscriber
	logger  zerolog.Logger
}

// NewStore creates a credential store backed by the given persistence
// boundary. Pass a MemoryStore in tests.
func NewStore(persist tokenstore.Store, logger zerolog.Logger) *Store {
	return &Store{
		persist: persist,
		logger:  logger.With().Str("component", "session").Logger(),
	}
}

// Load reads the persisted session, if any. Called once at startup.
func (st *Store) Load(ctx context.Context) error {
	raw, err := st.persist.Get(ctx, PersistKey)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		// A corrupt blob is not worth failing startup over; start signed out.
		st.logger.Warn().Err(err).Msg("discarding unreadable persisted session")
		return st.persist.Clear(ctx, PersistKey)
	}

	st.mu.Lock()
	st.current = s
	st.gen++
	st.mu.Unlock()

	st.logger.Info().Time("access_expiry", s.AccessExpiry).Msg("session restored")
	return nil
}

// Current returns a snapshot of the session and its generation counter.
// The generation increases on every replacement; the gateway uses it to
// prove a retried request carries a credential at least as new as the one
// that failed.
func (st *Store) Current() (Session, uint64) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current, st.gen
}

// Replace atomically swaps in a new session and persists it.
func (st *Store) Replace(ctx context.Context, s Session) error {
	st.mu.Lock()
	st.current = s
	st.gen++
	snapshot := st.current
	st.mu.Unlock()

	if err := st.persistSnapshot(ctx, snapshot); err != nil {
		return err
	}
	st.notify(snapshot)
	return nil
}

// MarkTerminal flags the session with a terminal error kind. Idempotent:
// marking an already-terminal or signed-out session changes nothing.
func (st *Store) MarkTerminal(kind TerminalKind) {
	st.mu.Lock()
	if st.current.Terminal != TerminalNone || !st.current.Authenticated() {
		st.mu.Unlock()
		return
	}
	st.current.Terminal = kind
	snapshot := st.current
	st.mu.Unlock()

	st.logger.Warn().Str("kind", string(kind)).Msg("session marked terminal")
	// Best effort: the terminal flag must survive a restart so the
	// watchdog's startup check can finish the sign-out.
	if err := st.persistSnapshot(context.Background(), snapshot); err != nil {
		st.logger.Error().Err(err).Msg("failed to persist terminal flag")
	}
	st.notify(snapshot)
}

// Clear resets to the signed-out state and removes the persisted session.
func (st *Store) Clear(ctx context.Context) error {
	st.mu.Lock()
	wasAuthenticated := st.current.Authenticated()
	st.current = Session{}
	st.gen++
	st.mu.Unlock()

	if err := st.persist.Clear(ctx, PersistKey); err != nil {
		return fmt.Errorf("clearing persisted session: %w", err)
	}
	if wasAuthenticated {
		st.notify(Session{})
	}
	return nil
}

// Subscribe registers a change subscriber. Not safe to call after the
// store is in use; wire subscribers during startup.
func (st *Store) Subscribe(fn Subscriber) {
	st.subs = append(st.subs, fn)
}

func (st *Store) persistSnapshot(ctx context.Context, s Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := st.persist.Set(ctx, PersistKey, raw); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

func (st *Store) notify(s Session) {
	for _, fn := range st.subs {
		fn(s)
	}
}
