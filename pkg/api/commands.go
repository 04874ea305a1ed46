package api

import "time"

// CommandType identifies an intent emitted by a decider.
type CommandType string

const (
	CmdSleep            CommandType = "sleep"
	CmdExec             CommandType = "exec"
	CmdSet              CommandType = "set"
	CmdCompleteWorkflow CommandType = "complete_workflow"
	CmdFailWorkflow     CommandType = "fail_workflow"
)

// Command is one intent produced by a decider invocation. The engine applies
// commands in order during a tick; only the fields relevant to Type are set.
type Command struct {
	Type CommandType

	// Sleep: exactly one of Seconds/Until must be set. Label doubles as the
	// correlation marker on Set commands ("C:<eid>"), recorded on the
	// CTX_SET event so replays can tell a position's write is already done.
	Seconds *float64
	Until   *time.Time
	Label   string

	// Exec.
	Name        string
	Code        any
	RunAfter    *time.Time
	IdemKey     string
	MaxTries    int
	RetryDelays []float64

	// Set.
	Key   string
	Value any

	// FailWorkflow.
	Reason any
}

// SleepCommand builds a sleep command for a relative delay.
func SleepCommand(seconds float64, label string) Command {
	return Command{Type: CmdSleep, Seconds: &seconds, Label: label}
}

// UntilCommand builds a sleep command with an absolute deadline.
func UntilCommand(t time.Time, label string) Command {
	return Command{Type: CmdSleep, Until: &t, Label: label}
}

// SetCommand builds a context write command for a dot-separated path.
func SetCommand(key string, value any) Command {
	return Command{Type: CmdSet, Key: key, Value: value}
}

// Decider is a pure function computing the next commands of a workflow from
// its context and history. Given the same inputs it must produce the same
// command sequence; the engine may re-invoke it on CAS retries.
type Decider func(ctx map[string]any, history []Event) ([]Command, error)
