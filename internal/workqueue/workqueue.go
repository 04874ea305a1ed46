package workqueue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Message is one received queue entry. ID identifies the message; Receipt is
// an opaque handle for acknowledging this particular delivery.
type Message struct {
	ID      string
	Body    []byte
	Receipt string
}

// Queue is the transport for work nudges from the engine to workers.
//
// Delivery is at-least-once: a message that is received but not deleted
// becomes visible again after a visibility window. All operations respect
// context cancellation; Receive may block for up to its wait window.
type Queue interface {
	// Send enqueues an opaque payload.
	Send(ctx context.Context, body []byte) error

	// Receive returns up to max messages, blocking for at most wait when the
	// queue is empty. An empty result is not an error.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)

	// Delete acknowledges a delivery. Unknown ids and stale receipts are
	// ignored so acks are idempotent.
	Delete(ctx context.Context, id, receipt string) error
}

// Nudge is the body of a work message: "this workflow (and optionally this
// task) needs attention".
type Nudge struct {
	WfID   string `json:"wfId"`
	TaskID string `json:"taskId,omitempty"`
}

// ErrMalformed reports a queue body that is not a valid nudge.
var ErrMalformed = errors.New("workqueue: malformed message")

// EncodeNudge serializes a nudge to its JSON wire form.
func EncodeNudge(n Nudge) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeNudge parses a message body. Bodies that are not JSON or lack a wfId
// yield ErrMalformed; consumers must delete such messages to avoid poison
// loops.
func DecodeNudge(body []byte) (Nudge, error) {
	var n Nudge
	if err := json.Unmarshal(body, &n); err != nil {
		return Nudge{}, ErrMalformed
	}
	if n.WfID == "" {
		return Nudge{}, ErrMalformed
	}
	return n, nil
}
