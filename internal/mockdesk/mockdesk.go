// Package mockdesk is a stand-in for the upstream records service, used in
// development and end-to-end tests. It issues real HS256 token pairs,
// rotates refresh tokens on renewal, and enforces the same transition and
// permission rules the core validates locally, so a core bug that slips a
// bad request through still gets caught server side.
package mockdesk

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clientdesk/clientdesk/internal/identity"
	"github.com/clientdesk/clientdesk/internal/permission"
	"github.com/clientdesk/clientdesk/internal/records"
	"github.com/clientdesk/clientdesk/internal/workflow"
)

// Default token lifetimes. Short access life keeps the renewal path hot in
// development.
const (
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 12 * time.Hour
)

type refreshGrant struct {
	userID string
	expiry time.Time
}

// Server is the in-memory mock upstream.
type Server struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     zerolog.Logger
	now        func() time.Time

	mu      sync.Mutex
	users   map[string]User // keyed by email
	records map[string]*records.Record
	refresh map[string]refreshGrant
}

// New creates a mock upstream seeded from fixtures.
func New(fx *Fixtures, secret string, logger zerolog.Logger) *Server {
	s := &Server{
		secret:     []byte(secret),
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		logger:     logger.With().Str("component", "mockdesk").Logger(),
		now:        time.Now,
		users:      make(map[string]User),
		records:    make(map[string]*records.Record),
		refresh:    make(map[string]refreshGrant),
	}

	for _, u := range fx.Users {
		s.users[u.Email] = u
	}
	for _, r := range fx.Records {
		now := s.now()
		s.records[r.ID] = &records.Record{
			ID:        r.ID,
			CreatorID: r.CreatorID,
			Status:    records.Status(r.Status),
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return s
}

// SetClock sets the time source (for testing).
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// SetTokenTTLs overrides the token lifetimes.
func (s *Server) SetTokenTTLs(access, refresh time.Duration) {
	s.accessTTL = access
	s.refreshTTL = refresh
}

// Handler returns the HTTP handler for the mock upstream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/login", s.handleLogin)
	mux.HandleFunc("/auth/renew", s.handleRenew)
	mux.HandleFunc("/records", s.withAuth(s.handleList))
	mux.HandleFunc("/records/", s.withAuth(s.handleRecord))
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[req.Email]
	if !ok || user.Password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	s.logger.Info().Str("user", user.ID).Msg("login")
	s.writeTokenPairLocked(w, user)
}

func (s *Server) handleRenew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}
	// Rotation: a refresh token is single use, spent on this renewal
	// whether it succeeds or not.
	delete(s.refresh, req.RefreshToken)

	if s.now().After(grant.expiry) {
		writeError(w, http.StatusUnauthorized, "refresh_expired")
		return
	}

	user, ok := s.userByIDLocked(grant.userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}

	s.logger.Debug().Str("user", user.ID).Msg("token renewed")
	s.writeTokenPairLocked(w, user)
}

// withAuth verifies the bearer token and resolves the principal.
func (s *Server) withAuth(next func(http.ResponseWriter, *http.Request, identity.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.secret, nil
		}, jwt.WithTimeFunc(s.now))
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		p, err := identity.FromAccessToken(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, p)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 20)

	s.mu.Lock()
	defer s.mu.Unlock()

	visible := make([]records.Record, 0, len(s.records))
	for _, rec := range s.records {
		if permission.CanView(p.Roles, p.IsCreator(rec.CreatorID), rec.Status) {
			visible = append(visible, *rec)
		}
	}

	start := (page - 1) * pageSize
	if start > len(visible) {
		start = len(visible)
	}
	end := start + pageSize
	if end > len(visible) {
		end = len(visible)
	}

	json.NewEncoder(w).Encode(records.Page{
		Records:  visible[start:end],
		Total:    len(visible),
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/records/"), "/")
	id := parts[0]

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}

	switch {
	case r.Method == http.MethodGet && len(parts) == 1:
		if !permission.CanView(p.Roles, p.IsCreator(rec.CreatorID), rec.Status) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		json.NewEncoder(w).Encode(rec)

	case r.Method == http.MethodDelete && len(parts) == 1:
		s.applyLocked(w, r, p, rec, records.ActionDelete)

	case r.Method == http.MethodPost && len(parts) == 2:
		action, ok := endpointActions[parts[1]]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown action")
			return
		}
		s.applyLocked(w, r, p, rec, action)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// endpointActions maps transition endpoint names onto workflow actions.
var endpointActions = map[string]records.Action{
	"submit":         records.ActionSubmit,
	"validate-admin": records.ActionValidateAdmin,
	"validate-super": records.ActionValidateSuper,
	"reject":         records.ActionReject,
	"edit":           records.ActionEdit,
}

// applyLocked enforces the transition table and the permission rules, then
// mutates the record. Callers hold s.mu.
func (s *Server) applyLocked(w http.ResponseWriter, r *http.Request, p identity.Principal, rec *records.Record, action records.Action) {
	target, ok := workflow.TransitionTarget(rec.Status, action)
	if !ok {
		writeError(w, http.StatusConflict, "invalid transition")
		return
	}

	permitted := permission.PermittedActions(p.Roles, p.IsCreator(rec.CreatorID), rec.Status)
	if !permitted.Has(action) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var reason string
	if action == records.ActionReject {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Reason) == "" {
			writeError(w, http.StatusBadRequest, "rejection reason is required")
			return
		}
		reason = body.Reason
	}

	if action == records.ActionDelete {
		delete(s.records, rec.ID)
		s.logger.Info().Str("record", rec.ID).Str("actor", p.UserID).Msg("record deleted")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	now := s.now()
	rec.Status = target
	rec.UpdatedAt = now
	switch action {
	case records.ActionValidateAdmin:
		rec.AdminValidatedAt = &now
	case records.ActionValidateSuper:
		rec.SuperAdminValidatedAt = &now
	case records.ActionReject:
		rec.RejectionReason = reason
	case records.ActionSubmit:
		rec.RejectionReason = ""
	}

	s.logger.Info().
		Str("record", rec.ID).
		Str("action", string(action)).
		Str("actor", p.UserID).
		Str("status", string(rec.Status)).
		Msg("transition applied")
	json.NewEncoder(w).Encode(rec)
}

// writeTokenPairLocked issues a fresh access/refresh pair for the user.
func (s *Server) writeTokenPairLocked(w http.ResponseWriter, user User) {
	now := s.now()
	accessExpiry := now.Add(s.accessTTL)
	refreshExpiry := now.Add(s.refreshTTL)

	claims := jwt.MapClaims{
		"sub":   user.ID,
		"roles": user.Roles,
		"iat":   now.Unix(),
		"exp":   accessExpiry.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "signing token")
		return
	}

	refreshToken := uuid.New().String()
	s.refresh[refreshToken] = refreshGrant{userID: user.ID, expiry: refreshExpiry}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":   access,
		"access_expiry":  accessExpiry,
		"refresh_token":  refreshToken,
		"refresh_expiry": refreshExpiry,
	})
}

func (s *Server) userByIDLocked(id string) (User, bool) {
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
