package api

import "time"

// EventType identifies a workflow history event.
type EventType string

const (
	EventWorkflowCreated   EventType = "WF_CREATED"
	EventWorkflowCompleted EventType = "WF_COMPLETED"
	EventWorkflowFailed    EventType = "WF_FAILED"

	EventTimerScheduled EventType = "TIMER_SCHEDULED"
	EventTimerFired     EventType = "TIMER_FIRED"

	EventActivityScheduled EventType = "ACTIVITY_SCHEDULED"
	EventActivityCompleted EventType = "ACTIVITY_COMPLETED"
	EventActivityFailed    EventType = "ACTIVITY_FAILED"
	EventActivityRetry     EventType = "ACTIVITY_RETRY"

	EventCtxSet EventType = "CTX_SET"
	EventSignal EventType = "SIGNAL"
)

// Event is one append-only history record. Each event carries its timestamp
// plus the fields relevant to its type; unused fields are omitted from the
// persisted JSON.
type Event struct {
	Type EventType `json:"type"`
	TS   time.Time `json:"ts"`

	TaskID string `json:"task_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Label  string `json:"label,omitempty"`
	Key    string `json:"key,omitempty"`

	RunAfter     *time.Time `json:"run_after,omitempty"`
	AfterSeconds float64    `json:"after_seconds,omitempty"`

	Result  any        `json:"result,omitempty"`
	Payload any        `json:"payload,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Reason  *ErrorInfo `json:"reason,omitempty"`
}
