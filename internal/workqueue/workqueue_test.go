package workqueue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// runQueueContractTests exercises the send/receive/delete contract shared by
// every Queue implementation.
func runQueueContractTests(t *testing.T, q Queue) {
	t.Helper()
	ctx := context.Background()

	// Empty receive with no wait returns nothing.
	msgs, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("empty receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}

	body1, _ := EncodeNudge(Nudge{WfID: "wf-1", TaskID: "t000001"})
	body2, _ := EncodeNudge(Nudge{WfID: "wf-2"})
	if err := q.Send(ctx, body1); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := q.Send(ctx, body2); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err = q.Receive(ctx, 10, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	n, err := DecodeNudge(msgs[0].Body)
	if err != nil || n.WfID != "wf-1" || n.TaskID != "t000001" {
		t.Fatalf("unexpected first nudge: %+v err=%v", n, err)
	}

	// Received messages are invisible until their window lapses.
	again, err := q.Receive(ctx, 10, 0)
	if err != nil {
		t.Fatalf("receive while invisible: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected messages to be invisible, got %d", len(again))
	}

	// Acks are idempotent; stale or unknown ids are ignored.
	for _, m := range msgs {
		if err := q.Delete(ctx, m.ID, m.Receipt); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := q.Delete(ctx, m.ID, m.Receipt); err != nil {
			t.Fatalf("repeat delete: %v", err)
		}
	}
	if err := q.Delete(ctx, "no-such-id", ""); err != nil {
		t.Fatalf("unknown delete: %v", err)
	}

	// max=0 receives nothing.
	if msgs, err := q.Receive(ctx, 0, 0); err != nil || len(msgs) != 0 {
		t.Fatalf("max=0: msgs=%v err=%v", msgs, err)
	}
}

func TestMemoryQueue_Contract(t *testing.T) {
	runQueueContractTests(t, NewMemoryQueue(time.Minute))
}

func TestMemoryQueue_RedeliveryAfterVisibilityWindow(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(30 * time.Millisecond)

	body, _ := EncodeNudge(Nudge{WfID: "wf-1"})
	if err := q.Send(ctx, body); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := q.Receive(ctx, 1, time.Second)
	if err != nil || len(first) != 1 {
		t.Fatalf("first receive: msgs=%v err=%v", first, err)
	}

	// Not deleted: the message must come back with a fresh receipt.
	second, err := q.Receive(ctx, 1, time.Second)
	if err != nil || len(second) != 1 {
		t.Fatalf("redelivery: msgs=%v err=%v", second, err)
	}
	if second[0].ID != first[0].ID {
		t.Fatalf("expected same message id, got %s vs %s", second[0].ID, first[0].ID)
	}
	if second[0].Receipt == first[0].Receipt {
		t.Fatalf("expected a rotated receipt")
	}

	// The stale receipt no longer acks the redelivered message.
	if err := q.Delete(ctx, first[0].ID, first[0].Receipt); err != nil {
		t.Fatalf("stale delete: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("stale receipt should not ack, len=%d", q.Len())
	}
	if err := q.Delete(ctx, second[0].ID, second[0].Receipt); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, len=%d", q.Len())
	}
}

func TestMemoryQueue_ReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx, 1, time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}

func TestSQLiteQueue_Contract(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue: %v", err)
	}
	runQueueContractTests(t, q)
}

func TestDecodeNudge_Malformed(t *testing.T) {
	cases := [][]byte{
		[]byte("not json"),
		[]byte(`{}`),
		[]byte(`{"taskId":"t000001"}`),
		[]byte(`[1,2,3]`),
	}
	for _, body := range cases {
		if _, err := DecodeNudge(body); !errors.Is(err, ErrMalformed) {
			t.Fatalf("body %q: want ErrMalformed, got %v", body, err)
		}
	}
}
