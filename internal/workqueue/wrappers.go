package workqueue

import (
	"context"
	"time"
)

// ValidatingQueue wraps a Queue and filters malformed nudges out of Receive
// results, deleting them from the underlying queue so they cannot loop
// forever as poison messages.
type ValidatingQueue struct {
	inner Queue
}

// NewValidatingQueue wraps q with nudge validation on the receive path.
func NewValidatingQueue(q Queue) *ValidatingQueue {
	return &ValidatingQueue{inner: q}
}

var _ Queue = (*ValidatingQueue)(nil)

func (v *ValidatingQueue) Send(ctx context.Context, body []byte) error {
	return v.inner.Send(ctx, body)
}

func (v *ValidatingQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	msgs, err := v.inner.Receive(ctx, max, wait)
	if err != nil {
		return nil, err
	}

	valid := msgs[:0]
	for _, m := range msgs {
		if _, err := DecodeNudge(m.Body); err != nil {
			if delErr := v.inner.Delete(ctx, m.ID, m.Receipt); delErr != nil {
				return nil, delErr
			}
			continue
		}
		valid = append(valid, m)
	}
	return valid, nil
}

func (v *ValidatingQueue) Delete(ctx context.Context, id, receipt string) error {
	return v.inner.Delete(ctx, id, receipt)
}

// DurableQueue wraps a Queue with a caller-supplied pre-send hook, typically
// used to persist an outbox record before the message is handed to the
// transport. A hook error aborts the send.
type DurableQueue struct {
	inner      Queue
	beforeSend func(ctx context.Context, body []byte) error
}

// NewDurableQueue wraps q so beforeSend runs ahead of every Send. A nil hook
// makes this a transparent wrapper.
func NewDurableQueue(q Queue, beforeSend func(ctx context.Context, body []byte) error) *DurableQueue {
	return &DurableQueue{inner: q, beforeSend: beforeSend}
}

var _ Queue = (*DurableQueue)(nil)

func (d *DurableQueue) Send(ctx context.Context, body []byte) error {
	if d.beforeSend != nil {
		if err := d.beforeSend(ctx, body); err != nil {
			return err
		}
	}
	return d.inner.Send(ctx, body)
}

func (d *DurableQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	return d.inner.Receive(ctx, max, wait)
}

func (d *DurableQueue) Delete(ctx context.Context, id, receipt string) error {
	return d.inner.Delete(ctx, id, receipt)
}
