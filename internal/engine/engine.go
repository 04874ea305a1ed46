package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/okarvi/tideflow/internal/blobstore"
	"github.com/okarvi/tideflow/pkg/api"
)

// DefaultPrefix is the key prefix for workflow blobs.
const DefaultPrefix = "wf/"

var (
	// ErrNotFound is returned when no workflow exists for the given id.
	ErrNotFound = errors.New("engine: workflow not found")

	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("engine: workflow already exists")

	// ErrTaskNotFound is returned by ExtendLease for an unknown task id.
	ErrTaskNotFound = errors.New("engine: task not found")

	// ErrNotLeased is returned by ExtendLease when the task holds no lease.
	ErrNotLeased = errors.New("engine: task not leased")

	// ErrLeaseMismatch is returned by ExtendLease on an owner or token
	// mismatch.
	ErrLeaseMismatch = errors.New("engine: lease owner/token mismatch")

	// ErrLeaseExpired is returned by ExtendLease when the lease lapsed
	// before the extension.
	ErrLeaseExpired = errors.New("engine: lease expired")
)

// Engine advances workflows one atomic step at a time. It holds no background
// threads and no per-workflow memory: every public operation is a
// load -> mutate -> CAS-put transition on a single workflow blob, retried
// from a fresh load whenever the put conflicts. Any number of processes may
// call into engines sharing the same store.
type Engine struct {
	store    blobstore.Store
	prefix   string
	deciders *Registry
	observer api.Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithPrefix overrides the blob key prefix (default "wf/").
func WithPrefix(prefix string) Option {
	return func(e *Engine) {
		if prefix != "" {
			e.prefix = prefix
		}
	}
}

// WithObserver attaches an observer for lifecycle callbacks.
func WithObserver(obs api.Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// New creates an Engine over the given store and decider registry.
func New(store blobstore.Store, deciders *Registry, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		prefix:   DefaultPrefix,
		deciders: deciders,
		observer: api.NoopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deciders exposes the engine's decider registry.
func (e *Engine) Deciders() *Registry { return e.deciders }

func (e *Engine) key(wfID string) string { return e.prefix + wfID }

// TickResult is the outcome of one tick.
type TickResult struct {
	Rev      int64
	NextWake *time.Time
	Status   api.Status
}

// CompleteResult reports whether a completion call was a stale no-op.
type CompleteResult struct {
	Already bool
}

// Create initializes and persists a new workflow with need_decide set, using
// a create-if-absent write. It fails with ErrAlreadyExists if the id is
// taken and rejects decider names that are not registered.
func (e *Engine) Create(ctx context.Context, wfID, decider string, initialCtx map[string]any, now time.Time) (*api.State, error) {
	if wfID == "" {
		return nil, fmt.Errorf("workflow id is required")
	}
	if _, err := e.deciders.Get(decider); err != nil {
		return nil, err
	}

	now = now.UTC()
	st := &api.State{
		ID:         wfID,
		Status:     api.StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Ctx:        api.DeepCopyCtx(initialCtx),
		Tasks:      map[string]*api.Task{},
		NeedDecide: true,
		Decider:    decider,
	}
	st.Append(api.Event{Type: api.EventWorkflowCreated, TS: now})

	rev, err := e.store.Put(ctx, e.key(wfID), st, "")
	if err != nil {
		if errors.Is(err, blobstore.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, wfID)
		}
		return nil, err
	}
	st.Rev = rev

	e.observer.OnWorkflowCreated(ctx, st)
	return st, nil
}

// Get returns the current persisted state of a workflow.
func (e *Engine) Get(ctx context.Context, wfID string) (*api.State, error) {
	rec, err := e.store.Get(ctx, e.key(wfID))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, wfID)
		}
		return nil, err
	}
	rec.State.Rev = rec.Rev
	return rec.State, nil
}

// List returns the ids of all workflows under the engine's prefix.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	keys, err := e.store.List(ctx, e.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = strings.TrimPrefix(k, e.prefix)
	}
	return ids, nil
}

// Tick performs one atomic step: fire due timers, run the decider if the
// workflow needs a decision, apply its commands, recompute next_wake, and
// persist under CAS.
func (e *Engine) Tick(ctx context.Context, wfID string, now time.Time) (TickResult, error) {
	now = now.UTC()
	st, err := e.update(ctx, wfID, func(st *api.State) (bool, error) {
		e.fireDueTimers(ctx, st, now)

		if st.Status == api.StatusRunning && st.NeedDecide {
			dec, err := e.deciders.Get(st.Decider)
			if err != nil {
				return false, err
			}
			cmds, err := dec(api.DeepCopyCtx(st.Ctx), st.History)
			if err != nil {
				return false, err
			}
			if err := e.applyCommands(ctx, st, cmds, now); err != nil {
				return false, err
			}
			st.NeedDecide = false
		}

		recomputeNextWake(st)
		st.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return TickResult{}, err
	}
	return TickResult{Rev: st.Rev, NextWake: st.NextWake, Status: st.Status}, nil
}

// ReserveReadyActivities leases up to maxN due exec tasks for workerID,
// scanning tasks in ascending id order. Each reservation increments the
// task's fence and installs a lease whose token equals the new fence.
// Returns deep copies of the leased tasks; an empty reservation consumes
// no write.
func (e *Engine) ReserveReadyActivities(ctx context.Context, wfID, workerID string, maxN int, leaseSecs float64, now time.Time) ([]*api.Task, error) {
	now = now.UTC()
	var leased []*api.Task

	_, err := e.update(ctx, wfID, func(st *api.State) (bool, error) {
		leased = leased[:0]
		for _, id := range st.TaskIDs() {
			if len(leased) >= maxN {
				break
			}
			t := st.Tasks[id]
			if t.Type != api.TaskExec {
				continue
			}
			if t.Status == api.TaskCompleted || t.Status == api.TaskFailed {
				continue
			}
			if t.Status == api.TaskLeased && t.Lease != nil && t.Lease.ExpiresAt.After(now) {
				continue
			}
			if t.RunAfter.After(now) {
				continue
			}

			t.Status = api.TaskLeased
			t.Fence++
			t.Lease = &api.Lease{
				Owner:     workerID,
				Token:     t.Fence,
				ExpiresAt: now.Add(secondsToDuration(leaseSecs)),
			}
			leased = append(leased, t)
		}
		if len(leased) == 0 {
			return false, nil
		}
		st.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*api.Task, len(leased))
	for i, t := range leased {
		out[i] = api.DeepCopyTask(t)
	}
	return out, nil
}

// CompleteActivity finishes one attempt of a leased exec task. It is
// idempotent: completions of missing or terminal tasks, of tasks that are
// not currently leased, and completions carrying a stale lease token all
// return Already=true without changing state.
//
// On failure the error is normalized into the envelope, the attempt counter
// advances, and the task is either rescheduled with backoff or, once
// max_tries is exhausted, failed along with the whole workflow.
func (e *Engine) CompleteActivity(ctx context.Context, wfID, taskID string, success bool, resultOrErr any, leaseToken *int64, now time.Time) (CompleteResult, error) {
	now = now.UTC()
	already := false

	_, err := e.update(ctx, wfID, func(st *api.State) (bool, error) {
		already = false
		t, ok := st.Tasks[taskID]
		if !ok || t.Status == api.TaskCompleted || t.Status == api.TaskFailed {
			already = true
			return false, nil
		}
		if t.Status != api.TaskLeased || t.Lease == nil {
			already = true
			return false, nil
		}
		if leaseToken != nil && *leaseToken != t.Lease.Token {
			already = true
			return false, nil
		}

		if success {
			t.Status = api.TaskCompleted
			t.Result = api.DeepCopyValue(resultOrErr)
			t.Lease = nil
			st.Append(api.Event{
				Type:   api.EventActivityCompleted,
				TS:     now,
				TaskID: t.ID,
				Result: t.Result,
			})
			st.NeedDecide = true
			e.observer.OnActivityCompleted(ctx, st, t)
		} else {
			t.Tries++
			t.Error = api.NormalizeError(resultOrErr)
			t.Lease = nil

			if t.Tries >= maxTries(t) {
				t.Status = api.TaskFailed
				st.Append(api.Event{
					Type:   api.EventActivityFailed,
					TS:     now,
					TaskID: t.ID,
					Error:  t.Error,
				})
				st.Status = api.StatusFailed
				e.observer.OnActivityFailed(ctx, st, t)
				e.observer.OnWorkflowFailed(ctx, st, t.Error)
			} else {
				backoff := retryBackoff(t)
				t.Status = api.TaskPending
				t.RunAfter = now.Add(secondsToDuration(backoff))
				st.Append(api.Event{
					Type:         api.EventActivityRetry,
					TS:           now,
					TaskID:       t.ID,
					AfterSeconds: backoff,
				})
				st.NeedDecide = true
				e.observer.OnActivityRetry(ctx, st, t, backoff)
			}
		}

		st.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Already: already}, nil
}

// ExtendLease advances a lease's expiry by extraSecs, measured from the
// current expiry rather than from now. Lease-state violations surface as
// hard errors.
func (e *Engine) ExtendLease(ctx context.Context, wfID, taskID, owner string, token int64, extraSecs float64, now time.Time) error {
	now = now.UTC()
	_, err := e.update(ctx, wfID, func(st *api.State) (bool, error) {
		t, ok := st.Tasks[taskID]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if t.Status != api.TaskLeased || t.Lease == nil {
			return false, fmt.Errorf("%w: %s", ErrNotLeased, taskID)
		}
		if t.Lease.Owner != owner || t.Lease.Token != token {
			return false, fmt.Errorf("%w: %s", ErrLeaseMismatch, taskID)
		}
		if t.Lease.ExpiresAt.Before(now) {
			return false, fmt.Errorf("%w: %s", ErrLeaseExpired, taskID)
		}

		t.Lease.ExpiresAt = t.Lease.ExpiresAt.Add(secondsToDuration(extraSecs))
		st.UpdatedAt = now
		return true, nil
	})
	return err
}

// Signal records an external event on a workflow and marks it for decision.
// Terminal workflows still record the signal, but their decider no longer
// runs, so no new tasks can result.
func (e *Engine) Signal(ctx context.Context, wfID, name string, payload any, now time.Time) error {
	now = now.UTC()
	_, err := e.update(ctx, wfID, func(st *api.State) (bool, error) {
		payload = api.DeepCopyValue(payload)
		st.Signals = append(st.Signals, api.Signal{TS: now, Name: name, Payload: payload})
		st.Append(api.Event{
			Type:    api.EventSignal,
			TS:      now,
			Name:    name,
			Payload: payload,
		})
		st.NeedDecide = true
		st.UpdatedAt = now
		e.observer.OnSignal(ctx, st, name)
		return true, nil
	})
	return err
}

// update runs one CAS loop iteration set: load the blob, apply mutate, and
// put under the loaded token. A conflicting put retries from a fresh load
// with capped exponential backoff; mutate must therefore be deterministic in
// the loaded state. Returning dirty=false skips the write entirely.
func (e *Engine) update(ctx context.Context, wfID string, mutate func(st *api.State) (bool, error)) (*api.State, error) {
	var out *api.State

	backoff := retry.WithCappedDuration(250*time.Millisecond, retry.NewExponential(2*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		rec, err := e.store.Get(ctx, e.key(wfID))
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, wfID)
			}
			return err
		}

		st := rec.State
		st.Rev = rec.Rev
		dirty, err := mutate(st)
		if err != nil {
			return err
		}
		if !dirty {
			out = st
			return nil
		}

		rev, err := e.store.Put(ctx, e.key(wfID), st, rec.CAS)
		if err != nil {
			if errors.Is(err, blobstore.ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		st.Rev = rev
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) fireDueTimers(ctx context.Context, st *api.State, now time.Time) {
	for _, id := range st.TaskIDs() {
		t := st.Tasks[id]
		if t.Type != api.TaskSleep || t.Status != api.TaskPending {
			continue
		}
		if t.RunAfter.After(now) {
			continue
		}
		t.Status = api.TaskCompleted
		st.Append(api.Event{
			Type:   api.EventTimerFired,
			TS:     now,
			TaskID: t.ID,
			Label:  t.Label,
		})
		st.NeedDecide = true
		e.observer.OnTimerFired(ctx, st, t)
	}
}

// applyCommands folds a decider's output into the state. Context writes are
// applied for every command; scheduling and termination commands are ignored
// once the workflow has reached a terminal status.
func (e *Engine) applyCommands(ctx context.Context, st *api.State, cmds []api.Command, now time.Time) error {
	for _, cmd := range cmds {
		switch cmd.Type {
		case api.CmdSleep:
			if (cmd.Seconds == nil) == (cmd.Until == nil) {
				return fmt.Errorf("sleep command requires exactly one of seconds/until")
			}
			if st.Status.Terminal() {
				continue
			}
			var runAfter time.Time
			if cmd.Seconds != nil {
				runAfter = now.Add(secondsToDuration(*cmd.Seconds))
			} else {
				runAfter = cmd.Until.UTC()
			}
			id := st.MintTaskID()
			st.Tasks[id] = &api.Task{
				ID:       id,
				Type:     api.TaskSleep,
				Status:   api.TaskPending,
				RunAfter: runAfter,
				Label:    cmd.Label,
			}
			st.Append(api.Event{
				Type:     api.EventTimerScheduled,
				TS:       now,
				TaskID:   id,
				Label:    cmd.Label,
				RunAfter: &runAfter,
			})

		case api.CmdExec:
			if st.Status.Terminal() {
				continue
			}
			runAfter := now
			if cmd.RunAfter != nil {
				runAfter = cmd.RunAfter.UTC()
			}
			tries := cmd.MaxTries
			if tries <= 0 {
				tries = api.DefaultMaxTries
			}
			id := st.MintTaskID()
			task := &api.Task{
				ID:          id,
				Type:        api.TaskExec,
				Status:      api.TaskPending,
				RunAfter:    runAfter,
				Name:        cmd.Name,
				Code:        api.DeepCopyValue(cmd.Code),
				IdemKey:     cmd.IdemKey,
				MaxTries:    tries,
				RetryDelays: append([]float64(nil), cmd.RetryDelays...),
			}
			st.Tasks[id] = task
			st.Append(api.Event{
				Type:   api.EventActivityScheduled,
				TS:     now,
				TaskID: id,
				Name:   cmd.Name,
			})
			e.observer.OnActivityScheduled(ctx, st, task)

		case api.CmdSet:
			api.SetPath(st.Ctx, cmd.Key, api.DeepCopyValue(cmd.Value))
			if !isReservedKey(cmd.Key) {
				st.Append(api.Event{Type: api.EventCtxSet, TS: now, Key: cmd.Key, Label: cmd.Label})
			}

		case api.CmdCompleteWorkflow:
			if st.Status.Terminal() {
				continue
			}
			st.Status = api.StatusCompleted
			st.Append(api.Event{Type: api.EventWorkflowCompleted, TS: now})
			e.observer.OnWorkflowCompleted(ctx, st)

		case api.CmdFailWorkflow:
			if st.Status.Terminal() {
				continue
			}
			reason := api.NormalizeError(cmd.Reason)
			st.Status = api.StatusFailed
			st.Append(api.Event{Type: api.EventWorkflowFailed, TS: now, Reason: reason})
			e.observer.OnWorkflowFailed(ctx, st, reason)

		default:
			return fmt.Errorf("unknown command type %q", cmd.Type)
		}
	}
	return nil
}

// isReservedKey reports whether a ctx path belongs to the interpreter's
// reserved bookkeeping subtree, which stays out of history.
func isReservedKey(key string) bool {
	return key == "$wf" || strings.HasPrefix(key, "$wf.")
}

func recomputeNextWake(st *api.State) {
	var wake *time.Time
	consider := func(t time.Time) {
		if wake == nil || t.Before(*wake) {
			c := t
			wake = &c
		}
	}
	for _, t := range st.Tasks {
		switch t.Status {
		case api.TaskPending:
			consider(t.RunAfter)
		case api.TaskLeased:
			if t.Lease != nil {
				consider(t.Lease.ExpiresAt)
			}
		}
	}
	st.NextWake = wake
}

func maxTries(t *api.Task) int {
	if t.MaxTries > 0 {
		return t.MaxTries
	}
	return api.DefaultMaxTries
}

// retryBackoff returns the delay in seconds before the next attempt: the
// per-attempt override when present, otherwise capped exponential.
func retryBackoff(t *api.Task) float64 {
	if len(t.RetryDelays) >= t.Tries && t.Tries >= 1 {
		return t.RetryDelays[t.Tries-1]
	}
	return math.Min(300, math.Pow(2, float64(t.Tries)))
}

func secondsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}
