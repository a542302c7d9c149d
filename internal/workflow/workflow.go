// Package workflow is the approval state machine for client records.
// A transition request is validated locally (transition table, rejection
// reason, permission guard) before any network call, then dispatched
// through the authenticated gateway. The server's returned record is
// authoritative over the engine's own prediction, which absorbs races
// with other reviewers.
package workflow

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	cerrors "github.com/clientdesk/clientdesk/internal/errors"
	"github.com/clientdesk/clientdesk/internal/identity"
	"github.com/clientdesk/clientdesk/internal/inbox"
	"github.com/clientdesk/clientdesk/internal/metrics"
	"github.com/clientdesk/clientdesk/internal/permission"
	"github.com/clientdesk/clientdesk/internal/records"
	"github.com/clientdesk/clientdesk/internal/retry"
)

// statusRemoved marks the delete pseudo-transition: the record ceases to
// exist rather than reaching a new status.
const statusRemoved records.Status = ""

// transitions is the full transition table. Any (status, action) pair not
// present here fails locally with a TransitionError. A super-admin reject
// lands in REJECTED like an admin reject does; there is deliberately no
// path back to AWAITING_ADMIN_VALIDATION other than creator re-submission.
var transitions = map[records.Status]map[records.Action]records.Status{
	records.StatusInProgress: {
		records.ActionSubmit: records.StatusAwaitingAdmin,
		records.ActionDelete: statusRemoved,
	},
	records.StatusBeingModified: {
		records.ActionSubmit: records.StatusAwaitingAdmin,
	},
	records.StatusAwaitingAdmin: {
		records.ActionValidateAdmin: records.StatusAwaitingSuperAdmin,
		records.ActionReject:        records.StatusRejected,
	},
	records.StatusAwaitingSuperAdmin: {
		records.ActionValidateSuper: records.StatusValidated,
		records.ActionReject:        records.StatusRejected,
	},
	records.StatusRejected: {
		records.ActionEdit: records.StatusBeingModified,
	},
}

// TransitionTarget returns the target status for (status, action), if the
// transition exists. Deletes report ok with an empty target.
func TransitionTarget(status records.Status, action records.Action) (records.Status, bool) {
	targets, ok := transitions[status]
	if !ok {
		return "", false
	}
	target, ok := targets[action]
	return target, ok
}

// recordCacheSize bounds the in-memory record cache. Eviction only drops
// freshness, never correctness; evicted records are refetched on read.
const recordCacheSize = 1024

// Engine validates and executes workflow transitions.
type Engine struct {
	client   *records.Client
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	retryCfg retry.Config
	cache    *lru.Cache[string, *records.Record]
}

// NewEngine creates a workflow engine over the given records client.
func NewEngine(client *records.Client, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	cache, _ := lru.New[string, *records.Record](recordCacheSize)
	return &Engine{
		client:   client,
		metrics:  m,
		logger:   logger.With().Str("component", "workflow").Logger(),
		retryCfg: retry.DefaultConfig(),
		cache:    cache,
	}
}

// RequestTransition applies action to the record. Validation order:
//  1. transition-table lookup — an absent pair never reaches the network,
//     including actions already satisfied by the current status;
//  2. a reject must carry a non-empty reason;
//  3. the permission evaluator must allow the action for this principal.
//
// On success the returned record carries the server-confirmed status.
// Delete returns a nil record.
func (e *Engine) RequestTransition(ctx context.Context, actor identity.Principal, rec records.Record, action records.Action, reason string) (*records.Record, error) {
	if _, ok := TransitionTarget(rec.Status, action); !ok {
		e.metrics.RecordTransition(string(action), "invalid_state")
		return nil, &cerrors.TransitionError{Action: string(action), Status: string(rec.Status)}
	}

	if action == records.ActionReject && strings.TrimSpace(reason) == "" {
		e.metrics.RecordTransition(string(action), "invalid_input")
		return nil, fmt.Errorf("%w: rejection reason is required", cerrors.ErrInvalidInput)
	}

	permitted := permission.PermittedActions(actor.Roles, actor.IsCreator(rec.CreatorID), rec.Status)
	if !permitted.Has(action) {
		e.metrics.RecordTransition(string(action), "forbidden")
		return nil, fmt.Errorf("%s on record %s: %w", action, rec.ID, cerrors.ErrForbidden)
	}

	updated, err := e.dispatch(ctx, rec.ID, action, reason)
	if err != nil {
		e.metrics.RecordTransition(string(action), "error")
		return nil, err
	}

	if updated != nil {
		e.cache.Add(updated.ID, updated)
	} else {
		e.cache.Remove(rec.ID)
	}

	e.metrics.RecordTransition(string(action), "applied")
	evt := e.logger.Info().Str("record", rec.ID).Str("action", string(action)).Str("actor", actor.UserID)
	if updated != nil {
		evt = evt.Str("status", string(updated.Status))
	}
	evt.Msg("transition applied")
	return updated, nil
}

func (e *Engine) dispatch(ctx context.Context, id string, action records.Action, reason string) (*records.Record, error) {
	switch action {
	case records.ActionSubmit:
		return e.client.Submit(ctx, id)
	case records.ActionValidateAdmin:
		return e.client.ValidateAsAdmin(ctx, id)
	case records.ActionValidateSuper:
		return e.client.ValidateAsSuperAdmin(ctx, id)
	case records.ActionReject:
		return e.client.Reject(ctx, id, reason)
	case records.ActionEdit:
		return e.client.Edit(ctx, id)
	case records.ActionDelete:
		return nil, e.client.Delete(ctx, id)
	default:
		return nil, &cerrors.TransitionError{Action: string(action), Status: "unknown"}
	}
}

// Get returns the record, from cache when fresh, otherwise from upstream.
func (e *Engine) Get(ctx context.Context, id string) (*records.Record, error) {
	if cached, ok := e.cache.Get(id); ok {
		return cached, nil
	}

	rec, err := e.client.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cache.Add(id, rec)
	return rec, nil
}

// List fetches one page of records from upstream.
func (e *Engine) List(ctx context.Context, page, pageSize int) (*records.Page, error) {
	return e.client.List(ctx, page, pageSize)
}

// HandleMessage implements inbox.Handler: record messages invalidate the
// cached copy and refetch it with a bounded retry on transient failures.
func (e *Engine) HandleMessage(ctx context.Context, msg inbox.Message) {
	switch msg.Kind {
	case inbox.KindRecordDeleted:
		e.cache.Remove(msg.RecordID)

	case inbox.KindRecordUpdated:
		e.cache.Remove(msg.RecordID)

		err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
			_, err := e.Get(ctx, msg.RecordID)
			return err
		})
		if err != nil {
			// The cache entry stays invalidated; the next read refetches.
			e.logger.Warn().Err(err).Str("record", msg.RecordID).Msg("refetch after invalidation failed")
		}

	default:
		e.logger.Debug().Str("kind", msg.Kind).Msg("ignoring inbox message")
	}
}

// Cached returns the cached copy of a record, if any. Used by tests and
// the API layer's freshness probes.
func (e *Engine) Cached(id string) (*records.Record, bool) {
	return e.cache.Peek(id)
}
