package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/clientdesk/clientdesk/internal/records"
)

// LoginRequest is the body of POST /v1/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the current session without exposing token
// values.
type SessionResponse struct {
	Authenticated bool       `json:"authenticated"`
	Terminal      string     `json:"terminal,omitempty"`
	AccessExpiry  *time.Time `json:"access_expiry,omitempty"`
	RefreshExpiry *time.Time `json:"refresh_expiry,omitempty"`
	Generation    uint64     `json:"generation"`
	UserID        string     `json:"user_id,omitempty"`
	Roles         []string   `json:"roles,omitempty"`
}

// RecordResponse wraps a single record.
type RecordResponse struct {
	Record *records.Record `json:"record"`
}

// ActionsResponse lists the actions the current principal may take on a
// record, for the UI to render.
type ActionsResponse struct {
	RecordID string   `json:"record_id"`
	Status   string   `json:"status"`
	Actions  []string `json:"actions"`
}

// RejectRequest is the body of the reject transition.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
