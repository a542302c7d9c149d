// Package inbox models the push channel from the upstream as an inbound
// message queue. The transport is someone else's problem; the contract
// here is only "a message of kind X invalidates cached record Y".
package inbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifiers for well-known message kinds.
const (
	KindRecordUpdated = "record.updated"
	KindRecordDeleted = "record.deleted"
	KindNotification  = "notification"
)

// Message is one inbound push message.
type Message struct {
	Kind     string    `json:"kind"`
	RecordID string    `json:"record_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	At       time.Time `json:"at"`
}

// Handler consumes drained messages. The workflow engine implements it to
// invalidate its record cache.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
}

// Queue is a bounded inbound queue. Publishing never blocks: when the
// buffer is full the oldest message is dropped, since an invalidation
// superseded by a newer one loses nothing but freshness.
type Queue struct {
	ch     chan Message
	logger zerolog.Logger
}

// NewQueue creates a queue with the given buffer size.
func NewQueue(size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		ch:     make(chan Message, size),
		logger: logger.With().Str("component", "inbox").Logger(),
	}
}

// Publish enqueues a message, dropping the oldest one under pressure.
func (q *Queue) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	for {
		select {
		case q.ch <- msg:
			return
		default:
			select {
			case dropped := <-q.ch:
				q.logger.Warn().Str("kind", dropped.Kind).Str("record", dropped.RecordID).Msg("inbox full, dropping oldest")
			default:
			}
		}
	}
}

// Drain delivers messages to the handler until ctx is cancelled.
func (q *Queue) Drain(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-q.ch:
			h.HandleMessage(ctx, msg)
		}
	}
}
