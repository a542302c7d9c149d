package inbox

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) HandleMessage(_ context.Context, msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestQueue_DeliversInOrder(t *testing.T) {
	q := NewQueue(8, zerolog.New(os.Stderr))
	q.Publish(Message{Kind: KindRecordUpdated, RecordID: "a"})
	q.Publish(Message{Kind: KindRecordDeleted, RecordID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan struct{})
	go func() { q.Drain(ctx, c); close(done) }()

	assert.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, "a", c.msgs[0].RecordID)
	assert.Equal(t, "b", c.msgs[1].RecordID)
	assert.False(t, c.msgs[0].At.IsZero(), "publish stamps the message")
}

func TestQueue_PublishNeverBlocks(t *testing.T) {
	q := NewQueue(2, zerolog.New(os.Stderr))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			q.Publish(Message{Kind: KindRecordUpdated, RecordID: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full queue")
	}
}

func TestQueue_DrainStopsOnCancel(t *testing.T) {
	q := NewQueue(2, zerolog.New(os.Stderr))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { q.Drain(ctx, &collector{}); close(done) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drain did not stop on cancel")
	}
}
