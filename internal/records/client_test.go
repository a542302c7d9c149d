package records

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedCall struct {
	method string
	path   string
	body   interface{}
}

type fakeCaller struct {
	calls  []capturedCall
	result Record
	err    error
}

func (f *fakeCaller) DoJSON(_ context.Context, method, path string, body interface{}, out interface{}) error {
	f.calls = append(f.calls, capturedCall{method: method, path: path, body: body})
	if f.err != nil {
		return f.err
	}
	if rec, ok := out.(*Record); ok {
		*rec = f.result
	}
	return nil
}

func TestClient_TransitionEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		call     func(*Client) error
		wantPath string
		wantBody interface{}
	}{
		{
			name:     "submit",
			call:     func(c *Client) error { _, err := c.Submit(context.Background(), "rec-1"); return err },
			wantPath: "/records/rec-1/submit",
		},
		{
			name:     "validate admin",
			call:     func(c *Client) error { _, err := c.ValidateAsAdmin(context.Background(), "rec-1"); return err },
			wantPath: "/records/rec-1/validate-admin",
		},
		{
			name:     "validate super admin",
			call:     func(c *Client) error { _, err := c.ValidateAsSuperAdmin(context.Background(), "rec-1"); return err },
			wantPath: "/records/rec-1/validate-super",
		},
		{
			name:     "reject carries reason",
			call:     func(c *Client) error { _, err := c.Reject(context.Background(), "rec-1", "needs work"); return err },
			wantPath: "/records/rec-1/reject",
			wantBody: map[string]string{"reason": "needs work"},
		},
		{
			name:     "edit",
			call:     func(c *Client) error { _, err := c.Edit(context.Background(), "rec-1"); return err },
			wantPath: "/records/rec-1/edit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{result: Record{ID: "rec-1", Status: StatusAwaitingAdmin}}
			c := NewClient(caller, zerolog.New(os.Stderr))

			require.NoError(t, tt.call(c))
			require.Len(t, caller.calls, 1)
			assert.Equal(t, http.MethodPost, caller.calls[0].method)
			assert.Equal(t, tt.wantPath, caller.calls[0].path)
			assert.Equal(t, tt.wantBody, caller.calls[0].body)
		})
	}
}

func TestClient_GetAndList(t *testing.T) {
	caller := &fakeCaller{result: Record{ID: "rec-7", Status: StatusRejected}}
	c := NewClient(caller, zerolog.New(os.Stderr))

	rec, err := c.Get(context.Background(), "rec-7")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rec.Status)
	assert.Equal(t, "/records/rec-7", caller.calls[0].path)
	assert.Equal(t, http.MethodGet, caller.calls[0].method)

	_, err = c.List(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, "/records?page=2&page_size=50", caller.calls[1].path)
}

func TestClient_Delete(t *testing.T) {
	caller := &fakeCaller{}
	c := NewClient(caller, zerolog.New(os.Stderr))

	require.NoError(t, c.Delete(context.Background(), "rec-1"))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, http.MethodDelete, caller.calls[0].method)
	assert.Equal(t, "/records/rec-1", caller.calls[0].path)
}

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusInProgress, StatusAwaitingAdmin, StatusAwaitingSuperAdmin, StatusBeingModified, StatusRejected, StatusValidated} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("DRAFT").Valid())
	assert.False(t, Status("").Valid())
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusValidated.Terminal())
	assert.False(t, StatusRejected.Terminal())
	assert.False(t, StatusBeingModified.Terminal())
}
