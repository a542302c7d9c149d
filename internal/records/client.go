package records

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// Caller is the authenticated transport the client issues requests over.
// The gateway satisfies it.
type Caller interface {
	DoJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error
}

// Client wraps the upstream records API. Transition endpoints return the
// authoritative updated record; the caller must trust that status over its
// own prediction.
type Client struct {
	caller Caller
	logger zerolog.Logger
}

// NewClient creates a records API client over the given transport.
func NewClient(caller Caller, logger zerolog.Logger) *Client {
	return &Client{
		caller: caller,
		logger: logger.With().Str("component", "records").Logger(),
	}
}

// Get fetches a single record.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	var out Record
	if err := c.caller.DoJSON(ctx, http.MethodGet, "/records/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("fetching record %s: %w", id, err)
	}
	return &out, nil
}

// List fetches one page of records. Filtering by creator/role is enforced
// server-side; this client only consumes the result.
func (c *Client) List(ctx context.Context, page, pageSize int) (*Page, error) {
	var out Page
	path := fmt.Sprintf("/records?page=%d&page_size=%d", page, pageSize)
	if err := c.caller.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return &out, nil
}

// Submit sends a record for admin validation.
func (c *Client) Submit(ctx context.Context, id string) (*Record, error) {
	return c.transition(ctx, id, "submit", nil)
}

// ValidateAsAdmin records first-level validation.
func (c *Client) ValidateAsAdmin(ctx context.Context, id string) (*Record, error) {
	return c.transition(ctx, id, "validate-admin", nil)
}

// ValidateAsSuperAdmin records final validation.
func (c *Client) ValidateAsSuperAdmin(ctx context.Context, id string) (*Record, error) {
	return c.transition(ctx, id, "validate-super", nil)
}

// Reject refuses a record with a reason.
func (c *Client) Reject(ctx context.Context, id, reason string) (*Record, error) {
	return c.transition(ctx, id, "reject", map[string]string{"reason": reason})
}

// Edit reopens a rejected record for modification.
func (c *Client) Edit(ctx context.Context, id string) (*Record, error) {
	return c.transition(ctx, id, "edit", nil)
}

// Delete removes an in-progress record.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.caller.DoJSON(ctx, http.MethodDelete, "/records/"+id, nil, nil); err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	return nil
}

func (c *Client) transition(ctx context.Context, id, endpoint string, body interface{}) (*Record, error) {
	var out Record
	path := "/records/" + id + "/" + endpoint
	if err := c.caller.DoJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("transition %s on record %s: %w", endpoint, id, err)
	}
	c.logger.Debug().Str("record", id).Str("endpoint", endpoint).Str("status", string(out.Status)).Msg("transition applied")
	return &out, nil
}
