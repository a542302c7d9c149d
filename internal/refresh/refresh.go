// Package refresh renews the access credential against the upstream
// renewal endpoint. The coordinator enforces the single-flight discipline:
// any number of concurrent callers produce exactly one renewal round trip
// and observe the same resulting credential or the same failure.
package refresh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	cerrors "github.com/clientdesk/clientdesk/internal/errors"
	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/session"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Result is what every waiter of a renewal receives.
type Result struct {
	AccessToken string
	Generation  uint64
}

// renewRequest is the renewal endpoint's request body.
type renewRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// renewResponse is the renewal endpoint's success body.
type renewResponse struct {
	AccessToken   string    `json:"access_token"`
	AccessExpiry  time.Time `json:"access_expiry"`
	RefreshToken  string    `json:"refresh_token"`
	RefreshExpiry time.Time `json:"refresh_expiry"`
}

// loginRequest is the login endpoint's request body.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// renewErrorBody is the recognizable shape of a renewal refusal.
type renewErrorBody struct {
	Error string `json:"error"`
}

// Coordinator performs single-flight credential renewal.
type Coordinator struct {
	baseURL    string
	httpClient HTTPClient
	store      *session.Store
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	group      singleflight.Group
	now        func() time.Time
}

// NewCoordinator creates a renewal coordinator for the given upstream.
func NewCoordinator(baseURL string, store *session.Store, m *metrics.Metrics, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		store:      store,
		metrics:    m,
		logger:     logger.With().Str("component", "refresh").Logger(),
		now:        time.Now,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Coordinator) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

// SetClock sets the time source (for testing).
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// EnsureFresh returns an access credential whose generation is strictly
// newer than staleGen, renewing at most once. Callers that lost the race to
// a concurrent renewal get the winner's credential without a second round
// trip. Fails with ErrSessionExpired when the refresh credential itself is
// expired or refused; the store is then marked terminal.
func (c *Coordinator) EnsureFresh(ctx context.Context, staleGen uint64) (Result, error) {
	if r, ok, err := c.currentIfUsable(staleGen); err != nil {
		return Result{}, err
	} else if ok {
		return r, nil
	}

	v, err, shared := c.group.Do("refresh", func() (interface{}, error) {
		// Re-check under the flight: a renewal that completed between the
		// caller's failure and this flight already satisfies it.
		if r, ok, err := c.currentIfUsable(staleGen); err != nil {
			return nil, err
		} else if ok {
			return r, nil
		}
		return c.renew(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	if shared {
		c.logger.Debug().Msg("renewal shared with concurrent caller")
	}
	return v.(Result), nil
}

// Login authenticates against the upstream and installs the resulting
// credential pair as a fresh session, clearing any terminal state left by a
// previous sign-out.
func (c *Coordinator) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login call: %w: %v", cerrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out renewResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decoding login response: %w: %v", cerrors.ErrTransient, err)
		}
		next := session.Session{
			AccessToken:   out.AccessToken,
			AccessExpiry:  out.AccessExpiry,
			RefreshToken:  out.RefreshToken,
			RefreshExpiry: out.RefreshExpiry,
		}
		if err := c.store.Replace(ctx, next); err != nil {
			return err
		}
		_, gen := c.store.Current()
		c.metrics.SetSessionGeneration(float64(gen))
		c.logger.Info().Uint64("generation", gen).Msg("signed in")
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		raw, _ := io.ReadAll(resp.Body)
		return cerrors.NewAPIError("auth", resp.StatusCode, strings.TrimSpace(string(raw)))

	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("login call: %w: %v", cerrors.ErrTransient,
			cerrors.NewAPIError("auth", resp.StatusCode, string(raw)))

	default:
		raw, _ := io.ReadAll(resp.Body)
		return cerrors.NewAPIError("auth", resp.StatusCode, string(raw))
	}
}

// currentIfUsable returns the current credential when it already satisfies
// staleGen, or an error when the session is beyond renewal.
func (c *Coordinator) currentIfUsable(staleGen uint64) (Result, bool, error) {
	s, gen := c.store.Current()

	if s.Terminal != session.TerminalNone {
		return Result{}, false, cerrors.ErrSessionExpired
	}
	if !s.Authenticated() {
		return Result{}, false, cerrors.ErrNoCredential
	}
	if gen > staleGen && !s.AccessExpired(c.now()) {
		return Result{AccessToken: s.AccessToken, Generation: gen}, true, nil
	}
	if s.RefreshExpired(c.now()) {
		c.store.MarkTerminal(session.TerminalRefreshExpired)
		c.metrics.RecordRefresh("refresh_expired")
		return Result{}, false, cerrors.ErrSessionExpired
	}
	return Result{}, false, nil
}

// renew performs the single renewal round trip and replaces the session.
func (c *Coordinator) renew(ctx context.Context) (Result, error) {
	s, _ := c.store.Current()

	body, err := json.Marshal(renewRequest{RefreshToken: s.RefreshToken})
	if err != nil {
		return Result{}, fmt.Errorf("encoding renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/renew", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating renewal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordRefresh("transient")
		return Result{}, fmt.Errorf("renewal call: %w: %v", cerrors.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out renewResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			c.metrics.RecordRefresh("transient")
			return Result{}, fmt.Errorf("decoding renewal response: %w: %v", cerrors.ErrTransient, err)
		}
		next := session.Session{
			AccessToken:   out.AccessToken,
			AccessExpiry:  out.AccessExpiry,
			RefreshToken:  out.RefreshToken,
			RefreshExpiry: out.RefreshExpiry,
		}
		if err := c.store.Replace(ctx, next); err != nil {
			return Result{}, err
		}
		_, gen := c.store.Current()
		c.metrics.RecordRefresh("success")
		c.metrics.SetSessionGeneration(float64(gen))
		c.logger.Info().Uint64("generation", gen).Time("access_expiry", out.AccessExpiry).Msg("credential renewed")
		return Result{AccessToken: out.AccessToken, Generation: gen}, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// The renewal endpoint refused the refresh credential. Terminal.
		c.markRefused(resp.Body)
		return Result{}, cerrors.ErrSessionExpired

	default:
		raw, _ := io.ReadAll(resp.Body)
		if refusalBody(raw) {
			c.store.MarkTerminal(session.TerminalRefreshExpired)
			c.metrics.RecordRefresh("refresh_expired")
			return Result{}, cerrors.ErrSessionExpired
		}
		c.metrics.RecordRefresh("transient")
		return Result{}, fmt.Errorf("renewal call: %w: %v", cerrors.ErrTransient,
			cerrors.NewAPIError("auth", resp.StatusCode, string(raw)))
	}
}

func (c *Coordinator) markRefused(body io.Reader) {
	raw, _ := io.ReadAll(body)
	kind := session.TerminalAuthRejected
	if refusalBody(raw) {
		kind = session.TerminalRefreshExpired
	}
	c.store.MarkTerminal(kind)
	c.metrics.RecordRefresh("refresh_expired")
	c.logger.Warn().Str("kind", string(kind)).Msg("renewal refused")
}

// refusalBody recognizes the upstream's "refresh expired" indicator.
func refusalBody(raw []byte) bool {
	var e renewErrorBody
	if err := json.Unmarshal(raw, &e); err != nil {
		return false
	}
	return e.Error == "refresh_expired" || e.Error == "invalid_refresh_token"
}
