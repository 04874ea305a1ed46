package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okarvi/tideflow/internal/blobstore"
	"github.com/okarvi/tideflow/pkg/api"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestEngine returns an engine over a fresh in-memory store with an empty
// registry.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(blobstore.NewMemoryStore(), NewRegistry())
}

// registerStub installs a decider under the given name.
func registerStub(t *testing.T, e *Engine, name string, d api.Decider) {
	t.Helper()
	require.NoError(t, e.Deciders().Register(name, d))
}

// noopDecider never emits commands.
func noopDecider(ctx map[string]any, history []api.Event) ([]api.Command, error) {
	return nil, nil
}

// scheduleOnce emits the given commands on the first decision and nothing on
// later ones, keyed off the history it has already produced.
func scheduleOnce(cmds ...api.Command) api.Decider {
	return func(ctx map[string]any, history []api.Event) ([]api.Command, error) {
		for _, ev := range history {
			if ev.Type == api.EventActivityScheduled || ev.Type == api.EventTimerScheduled {
				return nil, nil
			}
		}
		return cmds, nil
	}
}

func execCommand(action string) api.Command {
	return api.Command{
		Type: api.CmdExec,
		Name: action,
		Code: map[string]any{"action": action},
	}
}

func TestCreate_InitialState(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", noopDecider)
	ctx := context.Background()

	st, err := e.Create(ctx, "wf-1", "d", map[string]any{"x": float64(1)}, t0)
	require.NoError(t, err)
	require.Equal(t, api.StatusRunning, st.Status)
	require.True(t, st.NeedDecide)
	require.Equal(t, int64(1), st.Rev)
	require.Len(t, st.History, 1)
	require.Equal(t, api.EventWorkflowCreated, st.History[0].Type)

	got, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, float64(1), got.Ctx["x"])
	require.Equal(t, "d", got.Decider)
}

func TestCreate_DuplicateID(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", noopDecider)
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)

	_, err = e.Create(ctx, "wf-1", "d", nil, t0)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreate_UnknownDecider(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	_, err := e.Create(context.Background(), "wf-1", "nope", nil, t0)
	require.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	_, err := e.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.Tick(context.Background(), "missing", t0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_ReturnsIDsUnderPrefix(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", noopDecider)
	ctx := context.Background()

	for _, id := range []string{"wf-b", "wf-a"} {
		_, err := e.Create(ctx, id, "d", nil, t0)
		require.NoError(t, err)
	}

	ids, err := e.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"wf-a", "wf-b"}, ids)
}

func TestTick_AppliesCommandsAndClearsNeedDecide(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(
		api.SetCommand("greeting", "hello"),
		execCommand("work"),
	))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)

	res, err := e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)
	require.Equal(t, api.StatusRunning, res.Status)
	require.NotNil(t, res.NextWake)
	require.Equal(t, t0, *res.NextWake)

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.False(t, st.NeedDecide)
	require.Equal(t, "hello", st.Ctx["greeting"])
	require.Len(t, st.Tasks, 1)

	task := st.Tasks["t000001"]
	require.NotNil(t, task)
	require.Equal(t, api.TaskExec, task.Type)
	require.Equal(t, api.TaskPending, task.Status)
	require.Equal(t, api.DefaultMaxTries, task.MaxTries)
	require.Equal(t, int64(0), task.Fence)

	var types []api.EventType
	for _, ev := range st.History {
		types = append(types, ev.Type)
	}
	require.Equal(t, []api.EventType{
		api.EventWorkflowCreated,
		api.EventCtxSet,
		api.EventActivityScheduled,
	}, types)
}

func TestTick_TaskIDsAreSequential(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(
		execCommand("a"),
		execCommand("b"),
		api.SleepCommand(5, "nap"),
	))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)
	_, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)

	st, err := e.Get(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, []string{"t000001", "t000002", "t000003"}, st.TaskIDs())
	require.Equal(t, int64(3), st.Seq)
}

func TestTick_SleepCommandValidation(t *testing.T) {
	t.Parallel()

	for name, cmd := range map[string]api.Command{
		"neither": {Type: api.CmdSleep},
		"both": {
			Type:    api.CmdSleep,
			Seconds: func() *float64 { s := 1.0; return &s }(),
			Until:   func() *time.Time { u := t0.Add(time.Minute); return &u }(),
		},
	} {
		t.Run(name, func(t *testing.T) {
			e := newTestEngine(t)
			registerStub(t, e, "d", scheduleOnce(cmd))
			ctx := context.Background()

			_, err := e.Create(ctx, "wf-1", "d", nil, t0)
			require.NoError(t, err)
			_, err = e.Tick(ctx, "wf-1", t0)
			require.Error(t, err)
		})
	}
}

func TestTick_CompleteAndFailCommands(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "completes", func(ctx map[string]any, history []api.Event) ([]api.Command, error) {
		return []api.Command{{Type: api.CmdCompleteWorkflow}}, nil
	})
	registerStub(t, e, "fails", func(ctx map[string]any, history []api.Event) ([]api.Command, error) {
		return []api.Command{{Type: api.CmdFailWorkflow, Reason: map[string]any{
			"type": "retryable", "message": "boom",
		}}}, nil
	})
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-ok", "completes", nil, t0)
	require.NoError(t, err)
	res, err := e.Tick(ctx, "wf-ok", t0)
	require.NoError(t, err)
	require.Equal(t, api.StatusCompleted, res.Status)

	_, err = e.Create(ctx, "wf-bad", "fails", nil, t0)
	require.NoError(t, err)
	res, err = e.Tick(ctx, "wf-bad", t0)
	require.NoError(t, err)
	require.Equal(t, api.StatusFailed, res.Status)

	st, err := e.Get(ctx, "wf-bad")
	require.NoError(t, err)
	last := st.History[len(st.History)-1]
	require.Equal(t, api.EventWorkflowFailed, last.Type)
	require.Equal(t, api.ErrKindRetryable, last.Reason.Type)
	require.Equal(t, "boom", last.Reason.Message)
}

func TestTick_NextWakeIsMinOfPendingAndLeased(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(
		api.SleepCommand(60, ""),
		execCommand("work"),
	))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)

	res, err := e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)
	// The exec task is due immediately; it beats the timer.
	require.Equal(t, t0, *res.NextWake)

	// Lease the exec task for 30s; next_wake becomes its expiry, still ahead
	// of the 60s timer.
	_, err = e.ReserveReadyActivities(ctx, "wf-1", "w1", 1, 30, t0)
	require.NoError(t, err)

	res, err = e.Tick(ctx, "wf-1", t0)
	require.NoError(t, err)
	require.Equal(t, t0.Add(30*time.Second), *res.NextWake)
}

func TestTick_HistoryIsAppendOnly(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	registerStub(t, e, "d", scheduleOnce(execCommand("work")))
	ctx := context.Background()

	_, err := e.Create(ctx, "wf-1", "d", nil, t0)
	require.NoError(t, err)

	var prev []api.Event
	for i := 0; i < 4; i++ {
		_, err := e.Tick(ctx, "wf-1", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		st, err := e.Get(ctx, "wf-1")
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(st.History), len(prev))
		for j := range prev {
			require.Equal(t, prev[j].Type, st.History[j].Type)
			require.Equal(t, prev[j].TaskID, st.History[j].TaskID)
		}
		prev = st.History
	}
}

func TestRegistry_DuplicateAndMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register("d", noopDecider))
	require.Error(t, r.Register("d", noopDecider))
	require.Error(t, r.Register("", noopDecider))
	require.Error(t, r.Register("nil", nil))

	_, err := r.Get("missing")
	require.Error(t, err)
	require.Equal(t, []string{"d"}, r.Names())
}
