// Package gateway wraps every outbound call to the upstream records API.
// It attaches the current access credential, and on an authorization
// failure defers to the refresh coordinator and replays the call exactly
// once. A second authorization failure is terminal; there is no retry loop.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cerrors "github.com/clientdesk/clientdesk/internal/errors"
	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/refresh"
	"github.com/clientdesk/clientdesk/internal/session"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher is the coordinator contract the gateway depends on.
type Refresher interface {
	EnsureFresh(ctx context.Context, staleGen uint64) (refresh.Result, error)
}

// Gateway issues authenticated requests against the upstream API.
type Gateway struct {
	baseURL    string
	httpClient HTTPClient
	store      *session.Store
	refresher  Refresher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a gateway for the given upstream base URL.
func New(baseURL string, store *session.Store, refresher Refresher, m *metrics.Metrics, logger zerolog.Logger) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		refresher:  refresher,
		metrics:    m,
		logger:     logger.With().Str("component", "gateway").Logger(),
		now:        time.Now,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (g *Gateway) SetHTTPClient(hc HTTPClient) { g.httpClient = hc }

// SetClock sets the time source (for testing).
func (g *Gateway) SetClock(now func() time.Time) { g.now = now }

// BaseURL returns the upstream base URL.
func (g *Gateway) BaseURL() string { return g.baseURL }

// DoJSON issues an authenticated JSON request and decodes a 2xx response
// into out (which may be nil). Error mapping:
//   - no credential at all          → ErrNoCredential
//   - 401 after one refresh+replay  → ErrSessionExpired
//   - 403                           → ErrForbidden
//   - connection failure, 5xx       → ErrTransient-wrapped APIError
//   - other non-2xx                 → APIError passed through
func (g *Gateway) DoJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	token, gen, err := g.credential(ctx)
	if err != nil {
		return err
	}

	start := g.now()
	resp, err := g.send(ctx, method, path, payload, token)
	if err != nil {
		g.metrics.RecordGatewayRequest(path, "error")
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		// One renewal, one replay. The coordinator guarantees the replay
		// credential's generation is at least as new as the failed one.
		res, err := g.refresher.EnsureFresh(ctx, gen)
		if err != nil {
			g.metrics.RecordGatewayRequest(path, "401")
			return fmt.Errorf("renewing after authorization failure: %w", err)
		}
		g.metrics.RecordReplay()
		g.logger.Debug().Str("path", path).Uint64("generation", res.Generation).Msg("replaying after refresh")

		resp, err = g.send(ctx, method, path, payload, res.AccessToken)
		if err != nil {
			g.metrics.RecordGatewayRequest(path, "error")
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			g.metrics.RecordGatewayRequest(path, "401")
			g.store.MarkTerminal(session.TerminalAuthRejected)
			return fmt.Errorf("authorization failed after refresh: %w", cerrors.ErrSessionExpired)
		}
	}
	defer resp.Body.Close()

	g.metrics.RecordGatewayRequest(path, strconv.Itoa(resp.StatusCode))
	g.metrics.ObserveGatewayDuration(path, g.now().Sub(start).Seconds())

	return g.decode(resp, path, out)
}

// credential returns a usable access token, renewing proactively when the
// current one is already expired by clock.
func (g *Gateway) credential(ctx context.Context) (string, uint64, error) {
	s, gen := g.store.Current()
	if s.Terminal != session.TerminalNone {
		return "", 0, cerrors.ErrSessionExpired
	}
	if !s.Authenticated() {
		return "", 0, cerrors.ErrNoCredential
	}
	if !s.AccessExpired(g.now()) {
		return s.AccessToken, gen, nil
	}

	res, err := g.refresher.EnsureFresh(ctx, gen)
	if err != nil {
		return "", 0, err
	}
	return res.AccessToken, res.Generation, nil
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w: %v", cerrors.ErrTransient, err)
	}
	return resp, nil
}

func (g *Gateway) decode(resp *http.Response, path string, out interface{}) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return cerrors.ErrForbidden

	case resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %v", cerrors.ErrTransient,
			cerrors.NewAPIError("records", resp.StatusCode, strings.TrimSpace(string(raw))))

	default:
		raw, _ := io.ReadAll(resp.Body)
		return cerrors.NewAPIError("records", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}
