package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the workflow engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay engine operations. Callbacks run inside
// the engine's CAS loop and may therefore fire more than once for the same
// logical transition if a conflicting write forces a retry.
type Observer interface {
	// OnWorkflowCreated is called once when a workflow is first persisted.
	OnWorkflowCreated(ctx context.Context, st *State)

	// OnWorkflowCompleted is called when a workflow reaches StatusCompleted.
	OnWorkflowCompleted(ctx context.Context, st *State)

	// OnWorkflowFailed is called when a workflow transitions to StatusFailed,
	// either via a fail command or by a task exhausting its retries.
	OnWorkflowFailed(ctx context.Context, st *State, reason *ErrorInfo)

	// OnActivityScheduled is called when an exec task is added to the task map.
	OnActivityScheduled(ctx context.Context, st *State, task *Task)

	// OnActivityCompleted is called when an exec task completes successfully.
	OnActivityCompleted(ctx context.Context, st *State, task *Task)

	// OnActivityRetry is called when a failed attempt is rescheduled.
	OnActivityRetry(ctx context.Context, st *State, task *Task, afterSeconds float64)

	// OnActivityFailed is called when an exec task exhausts its retries.
	OnActivityFailed(ctx context.Context, st *State, task *Task)

	// OnTimerFired is called when a due sleep task fires during a tick.
	OnTimerFired(ctx context.Context, st *State, task *Task)

	// OnSignal is called when a signal is recorded on a workflow.
	OnSignal(ctx context.Context, st *State, name string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowCreated(ctx context.Context, st *State)                     {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, st *State)                   {}
func (NoopObserver) OnWorkflowFailed(ctx context.Context, st *State, reason *ErrorInfo)   {}
func (NoopObserver) OnActivityScheduled(ctx context.Context, st *State, task *Task)       {}
func (NoopObserver) OnActivityCompleted(ctx context.Context, st *State, task *Task)       {}
func (NoopObserver) OnActivityRetry(ctx context.Context, st *State, task *Task, s float64) {}
func (NoopObserver) OnActivityFailed(ctx context.Context, st *State, task *Task)          {}
func (NoopObserver) OnTimerFired(ctx context.Context, st *State, task *Task)              {}
func (NoopObserver) OnSignal(ctx context.Context, st *State, name string)                 {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowCreated(ctx context.Context, st *State) {
	for _, o := range c.observers {
		o.OnWorkflowCreated(ctx, st)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, st *State) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, st)
	}
}

func (c *CompositeObserver) OnWorkflowFailed(ctx context.Context, st *State, reason *ErrorInfo) {
	for _, o := range c.observers {
		o.OnWorkflowFailed(ctx, st, reason)
	}
}

func (c *CompositeObserver) OnActivityScheduled(ctx context.Context, st *State, task *Task) {
	for _, o := range c.observers {
		o.OnActivityScheduled(ctx, st, task)
	}
}

func (c *CompositeObserver) OnActivityCompleted(ctx context.Context, st *State, task *Task) {
	for _, o := range c.observers {
		o.OnActivityCompleted(ctx, st, task)
	}
}

func (c *CompositeObserver) OnActivityRetry(ctx context.Context, st *State, task *Task, after float64) {
	for _, o := range c.observers {
		o.OnActivityRetry(ctx, st, task, after)
	}
}

func (c *CompositeObserver) OnActivityFailed(ctx context.Context, st *State, task *Task) {
	for _, o := range c.observers {
		o.OnActivityFailed(ctx, st, task)
	}
}

func (c *CompositeObserver) OnTimerFired(ctx context.Context, st *State, task *Task) {
	for _, o := range c.observers {
		o.OnTimerFired(ctx, st, task)
	}
}

func (c *CompositeObserver) OnSignal(ctx context.Context, st *State, name string) {
	for _, o := range c.observers {
		o.OnSignal(ctx, st, name)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / task lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowCreated(ctx context.Context, st *State) {
	o.Logger.InfoContext(ctx, "workflow_created",
		slog.String("workflow_id", st.ID),
		slog.String("decider", st.Decider),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, st *State) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("workflow_id", st.ID),
	)
}

func (o *LoggingObserver) OnWorkflowFailed(ctx context.Context, st *State, reason *ErrorInfo) {
	o.Logger.ErrorContext(ctx, "workflow_failed",
		slog.String("workflow_id", st.ID),
		slog.Any("reason", reason),
	)
}

func (o *LoggingObserver) OnActivityScheduled(ctx context.Context, st *State, task *Task) {
	o.Logger.DebugContext(ctx, "activity_scheduled",
		slog.String("workflow_id", st.ID),
		slog.String("task_id", task.ID),
		slog.String("name", task.Name),
	)
}

func (o *LoggingObserver) OnActivityCompleted(ctx context.Context, st *State, task *Task) {
	o.Logger.DebugContext(ctx, "activity_completed",
		slog.String("workflow_id", st.ID),
		slog.String("task_id", task.ID),
	)
}

func (o *LoggingObserver) OnActivityRetry(ctx context.Context, st *State, task *Task, after float64) {
	o.Logger.WarnContext(ctx, "activity_retry",
		slog.String("workflow_id", st.ID),
		slog.String("task_id", task.ID),
		slog.Int("tries", task.Tries),
		slog.Float64("after_seconds", after),
	)
}

func (o *LoggingObserver) OnActivityFailed(ctx context.Context, st *State, task *Task) {
	o.Logger.ErrorContext(ctx, "activity_failed",
		slog.String("workflow_id", st.ID),
		slog.String("task_id", task.ID),
		slog.Any("error", task.Error),
	)
}

func (o *LoggingObserver) OnTimerFired(ctx context.Context, st *State, task *Task) {
	o.Logger.DebugContext(ctx, "timer_fired",
		slog.String("workflow_id", st.ID),
		slog.String("task_id", task.ID),
		slog.String("label", task.Label),
	)
}

func (o *LoggingObserver) OnSignal(ctx context.Context, st *State, name string) {
	o.Logger.InfoContext(ctx, "signal_received",
		slog.String("workflow_id", st.ID),
		slog.String("signal", name),
	)
}

// BasicMetrics collects simple counters for engine activity.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsCreated   atomic.Int64
	workflowsCompleted atomic.Int64
	workflowsFailed    atomic.Int64

	activitiesScheduled atomic.Int64
	activitiesCompleted atomic.Int64
	activitiesRetried   atomic.Int64
	activitiesFailed    atomic.Int64

	timersFired     atomic.Int64
	signalsReceived atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsCreated   int64
	WorkflowsCompleted int64
	WorkflowsFailed    int64
	RunningWorkflows   int64

	ActivitiesScheduled int64
	ActivitiesCompleted int64
	ActivitiesRetried   int64
	ActivitiesFailed    int64

	TimersFired     int64
	SignalsReceived int64
}

func (m *BasicMetrics) OnWorkflowCreated(ctx context.Context, st *State) {
	m.workflowsCreated.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, st *State) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnWorkflowFailed(ctx context.Context, st *State, reason *ErrorInfo) {
	m.workflowsFailed.Add(1)
}

func (m *BasicMetrics) OnActivityScheduled(ctx context.Context, st *State, task *Task) {
	m.activitiesScheduled.Add(1)
}

func (m *BasicMetrics) OnActivityCompleted(ctx context.Context, st *State, task *Task) {
	m.activitiesCompleted.Add(1)
}

func (m *BasicMetrics) OnActivityRetry(ctx context.Context, st *State, task *Task, after float64) {
	m.activitiesRetried.Add(1)
}

func (m *BasicMetrics) OnActivityFailed(ctx context.Context, st *State, task *Task) {
	m.activitiesFailed.Add(1)
}

func (m *BasicMetrics) OnTimerFired(ctx context.Context, st *State, task *Task) {
	m.timersFired.Add(1)
}

func (m *BasicMetrics) OnSignal(ctx context.Context, st *State, name string) {
	m.signalsReceived.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	created := m.workflowsCreated.Load()
	completed := m.workflowsCompleted.Load()
	failed := m.workflowsFailed.Load()

	return BasicMetricsSnapshot{
		WorkflowsCreated:   created,
		WorkflowsCompleted: completed,
		WorkflowsFailed:    failed,
		RunningWorkflows:   created - completed - failed,

		ActivitiesScheduled: m.activitiesScheduled.Load(),
		ActivitiesCompleted: m.activitiesCompleted.Load(),
		ActivitiesRetried:   m.activitiesRetried.Load(),
		ActivitiesFailed:    m.activitiesFailed.Load(),

		TimersFired:     m.timersFired.Load(),
		SignalsReceived: m.signalsReceived.Load(),
	}
}
