package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clientdesk/clientdesk/internal/gateway"
	"github.com/clientdesk/clientdesk/internal/health"
	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/records"
	"github.com/clientdesk/clientdesk/internal/refresh"
	"github.com/clientdesk/clientdesk/internal/session"
	"github.com/clientdesk/clientdesk/internal/workflow"
	"github.com/clientdesk/clientdesk/pkg/tokenstore"
)

var testUsers = map[string]struct {
	id    string
	roles []string
}{
	"advisor@example.com":  {"u-advisor", []string{"ADVISOR"}},
	"advisor2@example.com": {"u-advisor2", []string{"ADVISOR"}},
	"admin@example.com":    {"u-admin", []string{"ADMIN"}},
	"super@example.com":    {"u-super", []string{"SUPER_ADMIN"}},
}

// upstream is an in-memory stand-in for the records service.
type upstream struct {
	mu      sync.Mutex
	records map[string]*records.Record
}

func mintToken(t *testing.T, userID string, roles []string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   userID,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func (u *upstream) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeTokens := func(w http.ResponseWriter, userID string, roles []string) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":   mintToken(t, userID, roles),
			"access_expiry":  time.Now().Add(10 * time.Minute),
			"refresh_token":  "refresh-" + userID,
			"refresh_expiry": time.Now().Add(24 * time.Hour),
		})
	}

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		user, ok := testUsers[req.Email]
		if !ok || req.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_credentials"})
			return
		}
		writeTokens(w, user.id, user.roles)
	})

	mux.HandleFunc("/auth/renew", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		userID := strings.TrimPrefix(req.RefreshToken, "refresh-")
		for _, u := range testUsers {
			if u.id == userID {
				writeTokens(w, u.id, u.roles)
				return
			}
		}
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_refresh_token"})
	})

	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		items := make([]records.Record, 0, len(u.records))
		for _, rec := range u.records {
			items = append(items, *rec)
		}
		json.NewEncoder(w).Encode(records.Page{Records: items, Total: len(items), Page: 1, PageSize: 20})
	})

	mux.HandleFunc("/records/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/records/"), "/")
		id := parts[0]

		u.mu.Lock()
		defer u.mu.Unlock()
		rec, ok := u.records[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "record not found"})
			return
		}

		if r.Method == http.MethodDelete {
			delete(u.records, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method == http.MethodGet {
			json.NewEncoder(w).Encode(rec)
			return
		}

		// Transition endpoint. The upstream trusts the core's local
		// validation here; mockdesk enforces the full table server side.
		switch parts[1] {
		case "submit":
			rec.Status = records.StatusAwaitingAdmin
		case "validate-admin":
			rec.Status = records.StatusAwaitingSuperAdmin
		case "validate-super":
			rec.Status = records.StatusValidated
		case "reject":
			var body struct {
				Reason string `json:"reason"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			rec.Status = records.StatusRejected
			rec.RejectionReason = body.Reason
		case "edit":
			rec.Status = records.StatusBeingModified
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rec.UpdatedAt = time.Now()
		json.NewEncoder(w).Encode(rec)
	})

	return mux
}

func newTestServer(t *testing.T) (*Server, *upstream) {
	t.Helper()

	up := &upstream{records: map[string]*records.Record{
		"rec-1": {ID: "rec-1", CreatorID: "u-advisor", Status: records.StatusInProgress},
		"rec-2": {ID: "rec-2", CreatorID: "u-advisor2", Status: records.StatusAwaitingAdmin},
	}}
	srv := httptest.NewServer(up.handler(t))
	t.Cleanup(srv.Close)

	logger := zerolog.New(os.Stderr)
	m := metrics.New()
	sessions := session.NewStore(tokenstore.NewMemoryStore(), logger)
	coordinator := refresh.NewCoordinator(srv.URL, sessions, m, logger)
	gw := gateway.New(srv.URL, sessions, coordinator, m, logger)
	engine := workflow.NewEngine(records.NewClient(gw, logger), m, logger)
	checker := health.NewChecker(logger)

	handlers := NewHandlers(coordinator, sessions, engine, checker, logger)
	return NewServer(ServerConfig{}, handlers, m, logger), up
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, 10000)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func login(t *testing.T, s *Server, email string) {
	t.Helper()
	resp, raw := doJSON(t, s, http.MethodPost, "/v1/login", LoginRequest{Email: email, Password: "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}

func TestLogin_EstablishesSession(t *testing.T) {
	s, _ := newTestServer(t)

	resp, raw := doJSON(t, s, http.MethodPost, "/v1/login", LoginRequest{Email: "advisor@example.com", Password: "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var sess SessionResponse
	require.NoError(t, json.Unmarshal(raw, &sess))
	assert.True(t, sess.Authenticated)
	assert.Equal(t, "u-advisor", sess.UserID)
	assert.Equal(t, []string{"ADVISOR"}, sess.Roles)
	assert.Greater(t, sess.Generation, uint64(0))
}

func TestLogin_BadCredentials(t *testing.T) {
	s, _ := newTestServer(t)
	resp, _ := doJSON(t, s, http.MethodPost, "/v1/login", LoginRequest{Email: "advisor@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_MissingFields(t *testing.T) {
	s, _ := newTestServer(t)
	resp, _ := doJSON(t, s, http.MethodPost, "/v1/login", LoginRequest{Email: "advisor@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSession_SignedOut(t *testing.T) {
	s, _ := newTestServer(t)

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess SessionResponse
	require.NoError(t, json.Unmarshal(raw, &sess))
	assert.False(t, sess.Authenticated)
	assert.Empty(t, sess.UserID)
}

func TestRecords_RequireSession(t *testing.T) {
	s, _ := newTestServer(t)

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, "not_authenticated", problem.Type)
}

func TestListRecords(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var page records.Page
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Equal(t, 2, page.Total)
}

func TestListRecords_InvalidPagination(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, _ := doJSON(t, s, http.MethodGet, "/v1/records?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetRecord_CreatorSeesOwnDraft(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records/rec-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out RecordResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "rec-1", out.Record.ID)
	assert.Equal(t, records.StatusInProgress, out.Record.Status)
}

func TestGetRecord_OtherAdvisorForbidden(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor2@example.com")

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records/rec-1", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(raw))
}

func TestGetRecord_NotFoundPassesThrough(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, _ := doJSON(t, s, http.MethodGet, "/v1/records/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecordActions_CreatorDraft(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records/rec-1/actions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out ActionsResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.ElementsMatch(t, []string{"submit", "delete"}, out.Actions)
}

func TestSubmit(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, raw := doJSON(t, s, http.MethodPost, "/v1/records/rec-1/submit", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out RecordResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, records.StatusAwaitingAdmin, out.Record.Status)
}

func TestReject_RequiresReason(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "admin@example.com")

	resp, raw := doJSON(t, s, http.MethodPost, "/v1/records/rec-2/reject", RejectRequest{Reason: "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, "invalid_input", problem.Type)
}

func TestReject_AsAdmin(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "admin@example.com")

	resp, raw := doJSON(t, s, http.MethodPost, "/v1/records/rec-2/reject", RejectRequest{Reason: "incomplete documents"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out RecordResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, records.StatusRejected, out.Record.Status)
	assert.Equal(t, "incomplete documents", out.Record.RejectionReason)
}

func TestValidate_AdvisorForbidden(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor2@example.com")

	resp, raw := doJSON(t, s, http.MethodPost, "/v1/records/rec-2/validate-admin", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, string(raw))
}

func TestValidate_WrongStateConflict(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "admin@example.com")

	// rec-1 is IN_PROGRESS; admin validation is only defined from
	// AWAITING_ADMIN_VALIDATION.
	resp, raw := doJSON(t, s, http.MethodPost, "/v1/records/rec-1/validate-admin", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(raw))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, "invalid_transition", problem.Type)
}

func TestDelete(t *testing.T) {
	s, up := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, _ := doJSON(t, s, http.MethodDelete, "/v1/records/rec-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	up.mu.Lock()
	_, exists := up.records["rec-1"]
	up.mu.Unlock()
	assert.False(t, exists)
}

func TestLogout(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	resp, _ := doJSON(t, s, http.MethodPost, "/v1/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, s, http.MethodGet, "/v1/records", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFullApprovalWalkOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	step := func(email, method, path string, body interface{}, wantStatus int) []byte {
		t.Helper()
		login(t, s, email)
		resp, raw := doJSON(t, s, method, path, body)
		require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, raw)
		return raw
	}

	step("advisor@example.com", http.MethodPost, "/v1/records/rec-1/submit", nil, http.StatusOK)
	step("admin@example.com", http.MethodPost, "/v1/records/rec-1/reject", RejectRequest{Reason: "missing ID scan"}, http.StatusOK)
	step("advisor@example.com", http.MethodPost, "/v1/records/rec-1/edit", nil, http.StatusOK)
	step("advisor@example.com", http.MethodPost, "/v1/records/rec-1/submit", nil, http.StatusOK)
	step("admin@example.com", http.MethodPost, "/v1/records/rec-1/validate-admin", nil, http.StatusOK)
	raw := step("super@example.com", http.MethodPost, "/v1/records/rec-1/validate-super", nil, http.StatusOK)

	var out RecordResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, records.StatusValidated, out.Record.Status)

	// A validated record is immutable for every actor.
	step("super@example.com", http.MethodPost, "/v1/records/rec-1/reject", RejectRequest{Reason: "too late"}, http.StatusConflict)
}

func TestProbes(t *testing.T) {
	s, _ := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, s, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExpiredAccessTokenIsRefreshedTransparently(t *testing.T) {
	s, _ := newTestServer(t)
	login(t, s, "advisor@example.com")

	// Age the access credential past its expiry; the gateway must renew
	// proactively and the request still succeeds.
	sessions := s.handlers.sessions
	cur, _ := sessions.Current()
	cur.AccessExpiry = time.Now().Add(-time.Minute)
	require.NoError(t, sessions.Replace(context.Background(), cur))

	resp, raw := doJSON(t, s, http.MethodGet, "/v1/records", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
}
