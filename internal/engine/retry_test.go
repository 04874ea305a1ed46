package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okarvi/tideflow/pkg/api"
)

// failOnce reserves the workflow's single exec task at now and fails it with
// the given error value.
func failOnce(t *testing.T, e *Engine, wfID string, errVal any, now time.Time) {
	t.Helper()
	ctx := context.Background()

	tasks, err := e.ReserveReadyActivities(ctx, wfID, "w1", 1, 30, now)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "expected the task to be ready at %v", now)

	token := tasks[0].Lease.Token
	res, err := e.CompleteActivity(ctx, wfID, tasks[0].ID, false, errVal, &token, now)
	require.NoError(t, err)
	require.False(t, res.Already)
}

func retryDelaysFromHistory(st *api.State) []float64 {
	var delays []float64
	for _, ev := range st.History {
		if ev.Type == api.EventActivityRetry {
			delays = append(delays, ev.AfterSeconds)
		}
	}
	return delays
}

// Default backoff, per the seed scenario: an always-failing exec with
// defaults retries after 2s then 4s, then fails the workflow on the third
// attempt.
func TestRetry_DefaultBackoffSchedule(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(execCommand("flaky")))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)
	_, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)

	boom := map[string]any{"type": "retryable", "message": "boom"}

	now := t0
	failOnce(t, e, "wf-1", boom, now)

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	task := st.Tasks["t000001"]
	require.Equal(t, api.TaskPending, task.Status)
	require.Equal(t, 1, task.Tries)
	require.Equal(t, now.Add(2*time.Second), task.RunAfter)
	require.True(t, st.NeedDecide)

	now = now.Add(2 * time.Second)
	failOnce(t, e, "wf-1", boom, now)

	now = now.Add(4 * time.Second)
	failOnce(t, e, "wf-1", boom, now)

	st, err = e.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, []float64{2, 4}, retryDelaysFromHistory(st))
	require.Equal(t, api.TaskFailed, st.Tasks["t000001"].Status)
	require.Equal(t, api.StatusFailed, st.Status)

	last := st.History[len(st.History)-1]
	require.Equal(t, api.EventActivityFailed, last.Type)
	require.Equal(t, api.ErrKindRetryable, last.Error.Type)
}

// Per-call retry delays override the defaults.
func TestRetry_PerCallDelayOverride(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	cmd := execCommand("flaky")
	cmd.MaxTries = 3
	cmd.RetryDelays = []float64{2, 2}
	registerStub(t, e, "d", scheduleOnce(cmd))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)
	_, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)

	now := t0
	for i := 0; i < 3; i++ {
		failOnce(t, e, "wf-1", "boom", now)
		now = now.Add(2 * time.Second)
	}

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, []float64{2, 2}, retryDelaysFromHistory(st))
	require.Equal(t, api.StatusFailed, st.Status)
}

// Error values are normalized into the envelope; unrecognized kinds default
// to non_retryable but still count against max_tries.
func TestRetry_ErrorNormalization(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(execCommand("flaky")))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)
	_, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)

	failOnce(t, e, "wf-1", map[string]any{"type": "bogus-kind", "message": "m"}, t0)

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	task := st.Tasks["t000001"]
	require.Equal(t, api.ErrKindNonRetryable, task.Error.Type)
	require.Equal(t, "m", task.Error.Message)
	// Non-retryable kinds are still retried until max_tries.
	require.Equal(t, api.TaskPending, task.Status)
}

func TestRetry_BackoffCapAt300Seconds(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	cmd := execCommand("flaky")
	cmd.MaxTries = 12
	registerStub(t, e, "d", scheduleOnce(cmd))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)
	_, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)

	now := t0
	for i := 0; i < 10; i++ {
		failOnce(t, e, "wf-1", "boom", now)
		st, err := e.Get(ctx, "wf-1")
		require.NoError(t, err)
		now = st.Tasks["t000001"].RunAfter
	}

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	delays := retryDelaysFromHistory(st)
	require.Len(t, delays, 10)
	// 2, 4, 8, ... capped at 300.
	require.Equal(t, float64(2), delays[0])
	require.Equal(t, float64(256), delays[7])
	require.Equal(t, float64(300), delays[8])
	require.Equal(t, float64(300), delays[9])
}
