// Package flow turns plain Go workflow bodies into pure deciders.
//
// A workflow body is an ordinary function that calls effect methods on an IO
// value. On every decision the body is re-executed from the top; each effect
// either resolves immediately from recorded history or suspends the body by
// returning ErrSuspended, which the body propagates. Re-execution makes the
// body durable without continuations: the same inputs replay to the same
// position every time.
//
// Bodies must be deterministic functions of their inputs and the workflow
// context. Reading the clock, generating randomness, or doing I/O outside
// Exec breaks replay; that obligation is the author's, not the engine's.
package flow

import (
	"errors"
	"time"

	"github.com/okarvi/tideflow/internal/engine"
	"github.com/okarvi/tideflow/pkg/api"
)

// ErrSuspended is returned by effect methods when the body must stop and
// wait for history to advance. Bodies propagate it; Suspended recognizes it.
var ErrSuspended = errors.New("flow: suspended")

// Suspended reports whether err is the replay suspension sentinel.
func Suspended(err error) bool {
	return errors.Is(err, ErrSuspended)
}

// BodyFunc is a workflow body. It is re-executed on every decision and must
// be deterministic; see the package documentation.
type BodyFunc func(io *IO) error

// Definition is a named, compiled workflow body.
type Definition struct {
	name     string
	body     BodyFunc
	defaults execOpts
}

// Option configures a Definition.
type Option func(*Definition)

// WithExecDefaults sets workflow-level retry defaults applied to every Exec
// that does not override them.
func WithExecDefaults(maxTries int, retryDelays ...float64) Option {
	return func(d *Definition) {
		d.defaults.maxTries = maxTries
		d.defaults.retryDelays = retryDelays
	}
}

// New compiles a body into a named workflow definition.
func New(name string, body BodyFunc, opts ...Option) *Definition {
	d := &Definition{name: name, body: body}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the definition's registered name.
func (d *Definition) Name() string { return d.name }

// Register installs the definition's decider into a registry under its name.
func (d *Definition) Register(r *engine.Registry) error {
	return r.Register(d.name, d.Decider())
}

// MustRegister is Register, panicking on error.
func (d *Definition) MustRegister(r *engine.Registry) {
	if err := d.Register(r); err != nil {
		panic(err)
	}
}

// Decider compiles the body into a pure decider: replay history, re-execute
// the body, and emit whatever commands the furthest unresolved effect needs.
// Context writes staged during replay are emitted before any scheduling
// command so they take effect first within the tick.
func (d *Definition) Decider() api.Decider {
	return func(ctx map[string]any, history []api.Event) ([]api.Command, error) {
		io := &IO{
			def:      d,
			ctx:      ctx,
			idx:      indexHistory(history),
			consumed: map[string]int{},
		}
		if _, ok := ctx["$wf"]; !ok {
			io.stageSet("$wf", map[string]any{"cursor": 0, "sigCount": map[string]any{}})
		}

		err := d.body(io)
		switch {
		case err == nil && !io.stopped:
			// Body ran off the end without an explicit Complete.
			io.cmds = append(io.cmds, api.Command{Type: api.CmdCompleteWorkflow})
		case err != nil && !Suspended(err):
			io.cmds = append(io.cmds, api.Command{
				Type:   api.CmdFailWorkflow,
				Reason: api.NormalizeError(err),
			})
		}

		return append(io.sets, io.cmds...), nil
	}
}

// effectKind discriminates child effect descriptors.
type effectKind int

const (
	effectExec effectKind = iota
	effectSleep
	effectUntil
	effectSignal
)

// Effect describes one child effect for All/Race composition. Top-level
// effects are expressed directly as IO method calls.
type Effect struct {
	kind    effectKind
	action  string
	input   any
	seconds float64
	until   time.Time
	opts    execOpts
}

// Exec describes an activity invocation child effect.
func Exec(action string, input any, opts ...ExecOption) Effect {
	e := Effect{kind: effectExec, action: action, input: input}
	for _, opt := range opts {
		opt(&e.opts)
	}
	return e
}

// Sleep describes a relative timer child effect.
func Sleep(seconds float64) Effect {
	return Effect{kind: effectSleep, seconds: seconds}
}

// Until describes an absolute-deadline timer child effect.
func Until(t time.Time) Effect {
	return Effect{kind: effectUntil, until: t}
}

// Signal describes a child effect that waits for a named signal.
func Signal(name string) Effect {
	return Effect{kind: effectSignal, action: name}
}

// ExecOption overrides per-call activity scheduling options.
type ExecOption func(*execOpts)

type execOpts struct {
	maxTries    int
	retryDelays []float64
	idemKey     string
	runAfter    *time.Time
}

// MaxTries caps the attempts for this activity, overriding workflow defaults.
func MaxTries(n int) ExecOption {
	return func(o *execOpts) { o.maxTries = n }
}

// RetryDelays sets per-attempt backoff overrides in seconds.
func RetryDelays(seconds ...float64) ExecOption {
	return func(o *execOpts) { o.retryDelays = seconds }
}

// IdemKey attaches an idempotency key to the scheduled task.
func IdemKey(key string) ExecOption {
	return func(o *execOpts) { o.idemKey = key }
}

// RunAfter delays the activity's earliest start.
func RunAfter(t time.Time) ExecOption {
	return func(o *execOpts) {
		ts := t
		o.runAfter = &ts
	}
}
