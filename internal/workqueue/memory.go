package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultVisibility is how long a received message stays invisible before it
// is redelivered if not deleted.
const DefaultVisibility = 30 * time.Second

// MemoryQueue is an in-process Queue with visibility-timeout redelivery.
// It is safe for concurrent use.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	visibility time.Duration
}

type memoryEntry struct {
	id        string
	body      []byte
	visibleAt time.Time
	receipt   string
}

// NewMemoryQueue creates a MemoryQueue. A non-positive visibility falls back
// to DefaultVisibility.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = DefaultVisibility
	}
	return &MemoryQueue{visibility: visibility}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, &memoryEntry{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(wait)
	for {
		if msgs := q.take(max); len(msgs) > 0 {
			return msgs, nil
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) take(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var msgs []Message
	for _, e := range q.entries {
		if len(msgs) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.visibleAt = now.Add(q.visibility)
		e.receipt = uuid.NewString()
		msgs = append(msgs, Message{
			ID:      e.id,
			Body:    append([]byte(nil), e.body...),
			Receipt: e.receipt,
		})
	}
	return msgs
}

func (q *MemoryQueue) Delete(ctx context.Context, id, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.id != id {
			continue
		}
		if receipt != "" && e.receipt != receipt {
			// Stale receipt: the message was redelivered since. Ignore.
			return nil
		}
		q.entries = append(q.entries[:i], q.entries[i+1:]...)
		return nil
	}
	return nil
}

// Len returns the number of messages held, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
