package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	cerrors "github.com/clientdesk/clientdesk/internal/errors"
	"github.com/clientdesk/clientdesk/internal/health"
	"github.com/clientdesk/clientdesk/internal/identity"
	"github.com/clientdesk/clientdesk/internal/permission"
	"github.com/clientdesk/clientdesk/internal/records"
	"github.com/clientdesk/clientdesk/internal/refresh"
	"github.com/clientdesk/clientdesk/internal/session"
	"github.com/clientdesk/clientdesk/internal/workflow"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	auth     *refresh.Coordinator
	sessions *session.Store
	engine   *workflow.Engine
	checker  *health.Checker
	logger   zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(auth *refresh.Coordinator, sessions *session.Store, engine *workflow.Engine, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		auth:     auth,
		sessions: sessions,
		engine:   engine,
		checker:  checker,
		logger:   logger.With().Str("component", "handlers").Logger(),
	}
}

// Login handles POST /v1/login.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.Email == "" || req.Password == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_credentials", "Bad Request",
			"Email and password are required")
	}

	if err := h.auth.Login(c.Context(), req.Email, req.Password); err != nil {
		return h.mapError(c, err)
	}
	return h.Session(c)
}

// Logout handles POST /v1/logout. Signing out when already signed out is a
// no-op, not an error.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if err := h.sessions.Clear(c.Context()); err != nil {
		return h.mapError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Session handles GET /v1/session.
func (h *Handlers) Session(c *fiber.Ctx) error {
	s, gen := h.sessions.Current()

	resp := SessionResponse{
		Authenticated: s.Authenticated() && s.Terminal == session.TerminalNone,
		Terminal:      string(s.Terminal),
		Generation:    gen,
	}
	if s.Authenticated() {
		access, refreshExp := s.AccessExpiry, s.RefreshExpiry
		resp.AccessExpiry = &access
		resp.RefreshExpiry = &refreshExp

		if p, err := identity.FromAccessToken(s.AccessToken); err == nil {
			resp.UserID = p.UserID
			for _, r := range p.Roles {
				resp.Roles = append(resp.Roles, string(r))
			}
		}
	}
	return c.JSON(resp)
}

// ListRecords handles GET /v1/records.
func (h *Handlers) ListRecords(c *fiber.Ctx) error {
	if _, err := h.principal(); err != nil {
		return h.mapError(c, err)
	}

	page := c.QueryInt("page", 1)
	pageSize := c.QueryInt("page_size", 20)
	if page < 1 || pageSize < 1 || pageSize > 200 {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_pagination", "Bad Request",
			"page must be >= 1 and page_size in [1,200]")
	}

	result, err := h.engine.List(c.Context(), page, pageSize)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(result)
}

// GetRecord handles GET /v1/records/:id.
func (h *Handlers) GetRecord(c *fiber.Ctx) error {
	p, err := h.principal()
	if err != nil {
		return h.mapError(c, err)
	}

	rec, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	if !permission.CanView(p.Roles, p.IsCreator(rec.CreatorID), rec.Status) {
		return problemResponse(c, fiber.StatusForbidden,
			"forbidden", "Forbidden",
			"You are not allowed to view this record")
	}
	return c.JSON(RecordResponse{Record: rec})
}

// RecordActions handles GET /v1/records/:id/actions.
func (h *Handlers) RecordActions(c *fiber.Ctx) error {
	p, err := h.principal()
	if err != nil {
		return h.mapError(c, err)
	}

	rec, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	if !permission.CanView(p.Roles, p.IsCreator(rec.CreatorID), rec.Status) {
		return problemResponse(c, fiber.StatusForbidden,
			"forbidden", "Forbidden",
			"You are not allowed to view this record")
	}

	permitted := permission.PermittedActions(p.Roles, p.IsCreator(rec.CreatorID), rec.Status)
	actions := make([]string, 0, len(permitted))
	for _, a := range permitted.List() {
		actions = append(actions, string(a))
	}
	return c.JSON(ActionsResponse{
		RecordID: rec.ID,
		Status:   string(rec.Status),
		Actions:  actions,
	})
}

// Submit handles POST /v1/records/:id/submit.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	return h.transition(c, records.ActionSubmit, "")
}

// ValidateAsAdmin handles POST /v1/records/:id/validate-admin.
func (h *Handlers) ValidateAsAdmin(c *fiber.Ctx) error {
	return h.transition(c, records.ActionValidateAdmin, "")
}

// ValidateAsSuperAdmin handles POST /v1/records/:id/validate-super.
func (h *Handlers) ValidateAsSuperAdmin(c *fiber.Ctx) error {
	return h.transition(c, records.ActionValidateSuper, "")
}

// Reject handles POST /v1/records/:id/reject.
func (h *Handlers) Reject(c *fiber.Ctx) error {
	var req RejectRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	return h.transition(c, records.ActionReject, req.Reason)
}

// Edit handles POST /v1/records/:id/edit.
func (h *Handlers) Edit(c *fiber.Ctx) error {
	return h.transition(c, records.ActionEdit, "")
}

// Delete handles DELETE /v1/records/:id.
func (h *Handlers) Delete(c *fiber.Ctx) error {
	return h.transition(c, records.ActionDelete, "")
}

func (h *Handlers) transition(c *fiber.Ctx, action records.Action, reason string) error {
	p, err := h.principal()
	if err != nil {
		return h.mapError(c, err)
	}

	rec, err := h.engine.Get(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}

	updated, err := h.engine.RequestTransition(c.Context(), p, *rec, action, reason)
	if err != nil {
		return h.mapError(c, err)
	}
	if updated == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(RecordResponse{Record: updated})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	if !h.checker.IsReady(c.Context()) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// principal derives the acting principal from the current session.
func (h *Handlers) principal() (identity.Principal, error) {
	s, _ := h.sessions.Current()
	if s.Terminal != session.TerminalNone {
		return identity.Principal{}, cerrors.ErrSessionExpired
	}
	if !s.Authenticated() {
		return identity.Principal{}, cerrors.ErrNoCredential
	}
	p, err := identity.FromAccessToken(s.AccessToken)
	if err != nil {
		return identity.Principal{}, cerrors.ErrNoCredential
	}
	return p, nil
}

// mapError translates the error taxonomy into HTTP status codes. Transient
// failures map to 502 so the UI can offer a manual retry; upstream API
// errors pass their status through.
func (h *Handlers) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, cerrors.ErrNoCredential):
		return problemResponse(c, fiber.StatusUnauthorized,
			"not_authenticated", "Unauthorized",
			"No active session; sign in first")

	case errors.Is(err, cerrors.ErrSessionExpired):
		return problemResponse(c, fiber.StatusUnauthorized,
			"session_expired", "Unauthorized",
			"The session has expired; sign in again")

	case errors.Is(err, cerrors.ErrForbidden):
		return problemResponse(c, fiber.StatusForbidden,
			"forbidden", "Forbidden",
			err.Error())

	case errors.Is(err, cerrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request",
			err.Error())

	case errors.Is(err, cerrors.ErrTransient):
		return problemResponse(c, fiber.StatusBadGateway,
			"upstream_unreachable", "Bad Gateway",
			"The records service is unreachable; try again")
	}

	var transitionErr *cerrors.TransitionError
	if errors.As(err, &transitionErr) {
		return problemResponse(c, fiber.StatusConflict,
			"invalid_transition", "Conflict",
			transitionErr.Error())
	}

	var apiErr *cerrors.APIError
	if errors.As(err, &apiErr) {
		return problemResponse(c, apiErr.StatusCode,
			"upstream_error", "Upstream Error",
			apiErr.Message)
	}

	h.logger.Error().Err(err).Str("path", c.Path()).Msg("unmapped error")
	return problemResponse(c, fiber.StatusInternalServerError,
		"internal_error", "Internal Server Error",
		"An internal error occurred")
}
