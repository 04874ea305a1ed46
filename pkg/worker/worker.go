package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okarvi/tideflow/internal/engine"
	"github.com/okarvi/tideflow/internal/workqueue"
	"github.com/okarvi/tideflow/pkg/api"
)

// Config tunes a Worker. Zero values fall back to the defaults noted on each
// field.
type Config struct {
	// ID identifies this worker as a lease owner. Default: a random id.
	ID string

	// LeaseSecs is the lease duration for reserved activities. Default: 30.
	LeaseSecs float64

	// MaxBatch bounds both activity reservations and queue receives.
	// Default: 10.
	MaxBatch int

	// HeartbeatInterval, when positive, extends leases of in-flight
	// activities on this cadence while their handler runs. Default: off.
	HeartbeatInterval time.Duration

	// HeartbeatExtendSecs is how much each heartbeat adds to the lease.
	// Default: LeaseSecs.
	HeartbeatExtendSecs float64

	// PollWait is the queue receive wait window. Default: 5s.
	PollWait time.Duration

	// Clock supplies time. Default: SystemClock.
	Clock Clock

	// Logger receives worker-loop diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "worker-" + uuid.NewString()
	}
	if c.LeaseSecs <= 0 {
		c.LeaseSecs = 30
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 10
	}
	if c.HeartbeatExtendSecs <= 0 {
		c.HeartbeatExtendSecs = c.LeaseSecs
	}
	if c.PollWait <= 0 {
		c.PollWait = 5 * time.Second
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Worker drives workflows forward: it ticks the engine, reserves and
// executes ready activities, completes them under their lease tokens, and
// optionally consumes work nudges from a queue. Workers are stateless; any
// number may run against the same store.
type Worker struct {
	engine     *engine.Engine
	queue      workqueue.Queue
	activities *ActivityRegistry
	cfg        Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Worker with default configuration. queue may be nil for
// local-only use.
func New(eng *engine.Engine, queue workqueue.Queue, activities *ActivityRegistry) *Worker {
	return NewWithConfig(eng, queue, activities, Config{})
}

// NewWithConfig creates a Worker with the given configuration.
func NewWithConfig(eng *engine.Engine, queue workqueue.Queue, activities *ActivityRegistry, cfg Config) *Worker {
	if activities == nil {
		activities = NewActivityRegistry()
	}
	return &Worker{
		engine:     eng,
		queue:      queue,
		activities: activities,
		cfg:        cfg.withDefaults(),
	}
}

// Activities exposes the worker's activity registry.
func (w *Worker) Activities() *ActivityRegistry { return w.activities }

// ID returns the worker's lease-owner id.
func (w *Worker) ID() string { return w.cfg.ID }

// Nudge enqueues a work message for a workflow (and optionally one task).
func (w *Worker) Nudge(ctx context.Context, wfID, taskID string) error {
	if w.queue == nil {
		return errors.New("worker: no queue configured")
	}
	body, err := workqueue.EncodeNudge(workqueue.Nudge{WfID: wfID, TaskID: taskID})
	if err != nil {
		return err
	}
	return w.queue.Send(ctx, body)
}

// DrainExecs repeatedly reserves ready activities for a workflow, executes
// them locally, completes each under its lease token, and ticks after every
// completion so the decider reacts. It returns once no activity is ready.
func (w *Worker) DrainExecs(ctx context.Context, wfID string) error {
	for {
		now := w.cfg.Clock.Now()
		tasks, err := w.engine.ReserveReadyActivities(ctx, wfID, w.cfg.ID, w.cfg.MaxBatch, w.cfg.LeaseSecs, now)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		for _, t := range tasks {
			if err := w.executeOne(ctx, wfID, t); err != nil {
				return err
			}
			if _, err := w.engine.Tick(ctx, wfID, w.cfg.Clock.Now()); err != nil {
				return err
			}
		}
	}
}

// RunToCompletion ticks, drains, and waits at next_wake until the workflow
// reaches a terminal status. With a Steppable clock the wait is a simulated
// step; otherwise it sleeps. If the workflow is blocked with no next_wake
// (for example, waiting on a signal), the current state is returned as-is.
func (w *Worker) RunToCompletion(ctx context.Context, wfID string) (*api.State, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := w.engine.Tick(ctx, wfID, w.cfg.Clock.Now())
		if err != nil {
			return nil, err
		}
		if res.Status.Terminal() {
			return w.engine.Get(ctx, wfID)
		}

		if err := w.DrainExecs(ctx, wfID); err != nil {
			return nil, err
		}

		st, err := w.engine.Get(ctx, wfID)
		if err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return st, nil
		}
		if st.NextWake == nil {
			return st, nil
		}
		if err := w.waitUntil(ctx, *st.NextWake); err != nil {
			return nil, err
		}
	}
}

// ProcessWorkMessage is the single-message path used by queue consumers:
// tick the workflow, then drain whatever became ready.
func (w *Worker) ProcessWorkMessage(ctx context.Context, wfID, taskID string) error {
	if _, err := w.engine.Tick(ctx, wfID, w.cfg.Clock.Now()); err != nil {
		return err
	}
	return w.DrainExecs(ctx, wfID)
}

// Start launches concurrency goroutines that poll the queue and process
// nudges until Stop is called or the context is cancelled.
//
// Malformed messages are deleted so they cannot loop; failed processing
// leaves the message to reappear after its visibility window.
func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if w.queue == nil {
		return errors.New("worker: no queue configured")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("worker: already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer w.wg.Done()
			w.pollLoop(ctx)
		}()
	}
	return nil
}

// Stop cancels the poll loops started by Start and waits for them to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Worker) pollLoop(ctx context.Context) {
	for {
		msgs, err := w.queue.Receive(ctx, w.cfg.MaxBatch, w.cfg.PollWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.cfg.Logger.Error("worker receive failed", slog.Any("error", err))
			continue
		}

		for _, m := range msgs {
			n, err := workqueue.DecodeNudge(m.Body)
			if err != nil {
				// Not a valid nudge; drop it rather than poison the queue.
				_ = w.queue.Delete(ctx, m.ID, m.Receipt)
				continue
			}
			if err := w.ProcessWorkMessage(ctx, n.WfID, n.TaskID); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				// Leave the message for redelivery after its visibility window.
				w.cfg.Logger.Error("worker process failed",
					slog.String("workflow_id", n.WfID),
					slog.Any("error", err),
				)
				continue
			}
			_ = w.queue.Delete(ctx, m.ID, m.Receipt)
		}
	}
}

// executeOne runs a reserved activity's handler and completes the task under
// its lease token. Handler errors become failed attempts; a missing handler
// is a non-retryable failure.
func (w *Worker) executeOne(ctx context.Context, wfID string, t *api.Task) error {
	token := int64(0)
	if t.Lease != nil {
		token = t.Lease.Token
	}

	action, input, err := decodeCode(t.Code)
	if err != nil {
		_, cerr := w.engine.CompleteActivity(ctx, wfID, t.ID, false,
			&api.ErrorInfo{Type: api.ErrKindNonRetryable, Message: err.Error()},
			&token, w.cfg.Clock.Now())
		return cerr
	}

	fn, ok := w.activities.Get(action)
	if !ok {
		_, cerr := w.engine.CompleteActivity(ctx, wfID, t.ID, false,
			&api.ErrorInfo{Type: api.ErrKindNonRetryable, Message: "unregistered activity: " + action},
			&token, w.cfg.Clock.Now())
		return cerr
	}

	result, runErr := w.runWithHeartbeat(ctx, wfID, t, token, fn, input)
	if runErr != nil {
		_, cerr := w.engine.CompleteActivity(ctx, wfID, t.ID, false, runErr, &token, w.cfg.Clock.Now())
		return cerr
	}
	_, cerr := w.engine.CompleteActivity(ctx, wfID, t.ID, true, result, &token, w.cfg.Clock.Now())
	return cerr
}

// runWithHeartbeat invokes the handler, extending the task's lease on the
// configured cadence until the handler returns. Heartbeat failures stop the
// heartbeat but do not interrupt the handler; the completion call settles
// whether the lease is still ours.
func (w *Worker) runWithHeartbeat(ctx context.Context, wfID string, t *api.Task, token int64, fn ActivityFunc, input any) (any, error) {
	if w.cfg.HeartbeatInterval <= 0 {
		return fn(ctx, input)
	}

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.engine.ExtendLease(ctx, wfID, t.ID, w.cfg.ID, token, w.cfg.HeartbeatExtendSecs, w.cfg.Clock.Now())
				if err != nil {
					w.cfg.Logger.Warn("lease heartbeat failed",
						slog.String("workflow_id", wfID),
						slog.String("task_id", t.ID),
						slog.Any("error", err),
					)
					return
				}
			}
		}
	}()

	return fn(ctx, input)
}

func (w *Worker) waitUntil(ctx context.Context, wake time.Time) error {
	if s, ok := w.cfg.Clock.(Steppable); ok {
		s.AdvanceTo(wake)
		return nil
	}
	d := time.Until(wake)
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func decodeCode(code any) (action string, input any, err error) {
	obj, ok := code.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("task code is not an object")
	}
	action, ok = obj["action"].(string)
	if !ok || action == "" {
		return "", nil, fmt.Errorf("task code has no action")
	}
	return action, obj["input"], nil
}
