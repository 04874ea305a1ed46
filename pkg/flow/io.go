package flow

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/okarvi/tideflow/pkg/api"
)

// IO is the effect surface a workflow body runs against. One IO value lives
// for exactly one replay; it tracks the effect cursor, the local context
// mirror, session signal consumption, and the commands staged so far.
type IO struct {
	def      *Definition
	ctx      map[string]any
	idx      *historyIndex
	cursor   int
	consumed map[string]int
	sets     []api.Command
	cmds     []api.Command
	stopped  bool
}

// Ctx returns the body's view of the workflow context, including writes
// staged earlier in this replay. Treat it as read-only; mutate through Set.
func (io *IO) Ctx() map[string]any { return io.ctx }

// Get reads a dot-separated path from the context view.
func (io *IO) Get(path string) (any, bool) {
	return api.GetPath(io.ctx, path)
}

// Exec schedules (or resolves) an activity invocation. It returns the
// recorded result once the activity has completed, and suspends otherwise.
func (io *IO) Exec(action string, input any, opts ...ExecOption) (any, error) {
	if io.stopped {
		return nil, ErrSuspended
	}
	eid := io.nextEID()
	res, state := io.resolveChild(eid, Exec(action, input, opts...))
	if state == childDone {
		return res, nil
	}
	return nil, io.suspend()
}

// Sleep waits for a relative delay. It returns once the timer has fired.
func (io *IO) Sleep(seconds float64) error {
	if io.stopped {
		return ErrSuspended
	}
	eid := io.nextEID()
	if _, state := io.resolveChild(eid, Sleep(seconds)); state == childDone {
		return nil
	}
	return io.suspend()
}

// Until waits for an absolute deadline. It returns once the timer has fired.
func (io *IO) Until(t time.Time) error {
	if io.stopped {
		return ErrSuspended
	}
	eid := io.nextEID()
	if _, state := io.resolveChild(eid, Until(t)); state == childDone {
		return nil
	}
	return io.suspend()
}

// Signal waits for the next unconsumed delivery of the named signal and
// returns its payload. Successive Signal effects for the same name consume
// deliveries in arrival order.
func (io *IO) Signal(name string) (any, error) {
	if io.stopped {
		return nil, ErrSuspended
	}
	eid := io.nextEID()
	res, state := io.resolveChild(eid, Signal(name))
	if state == childDone {
		return res, nil
	}
	return nil, io.suspend()
}

// Set stages a context write at a dot-separated path. The write is visible
// to the rest of this replay immediately and is emitted before any
// scheduling command of the same tick.
//
// Like every other effect, a Set is correlated to history: its CTX_SET event
// carries a "C:<eid>" marker, and a position whose write is already recorded
// only refreshes the local mirror on replay instead of emitting the command
// again.
func (io *IO) Set(key string, value any) {
	if io.stopped {
		return
	}
	eid := io.nextEID()

	marker := "C:" + eid
	if io.idx.ctxSet[marker] {
		api.SetPath(io.ctx, key, api.DeepCopyValue(value))
		return
	}
	io.sets = append(io.sets, api.Command{Type: api.CmdSet, Key: key, Value: value, Label: marker})
	api.SetPath(io.ctx, key, api.DeepCopyValue(value))
}

// All runs child effects concurrently and returns their results, in child
// order, once every child has finished. Pending children are scheduled in
// one batch; the body suspends until the last one resolves. Timer children
// yield nil results.
func (io *IO) All(children ...Effect) ([]any, error) {
	if io.stopped {
		return nil, ErrSuspended
	}
	eid := io.nextEID()

	results := make([]any, len(children))
	done := true
	for i, ch := range children {
		res, state := io.resolveChild(fmt.Sprintf("%s.%d", eid, i), ch)
		if state == childDone {
			results[i] = res
		} else {
			done = false
		}
	}
	if done {
		return results, nil
	}
	return nil, io.suspend()
}

// RaceResult identifies a race winner: the child's key and its value
// (activity result, signal payload, or nil for timers).
type RaceResult struct {
	Key   string
	Value any
}

// Race runs named child effects against each other and returns the first
// winner. Signal children take priority: if any has an unconsumed delivery,
// the earliest such delivery wins, and a race decided by a signal never
// launches its non-signal children. Otherwise the first exec/timer child to
// complete, in history order, wins. Losing tasks already in flight are left
// to finish on their own; their completions are simply never consumed.
func (io *IO) Race(children map[string]Effect) (RaceResult, error) {
	if io.stopped {
		return RaceResult{}, ErrSuspended
	}
	eid := io.nextEID()

	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Signal children first: the earliest unconsumed delivery wins the race
	// outright, before anything else is scheduled.
	type sigWin struct {
		key     string
		name    string
		index   int
		ts      time.Time
		payload any
		ok      bool
	}
	var best sigWin
	for _, k := range keys {
		ch := children[k]
		if ch.kind != effectSignal {
			continue
		}
		c := io.consumed[ch.action]
		sigs := io.idx.signalsByName[ch.action]
		if len(sigs) <= c {
			continue
		}
		sig := sigs[c]
		if !best.ok || sig.TS.Before(best.ts) {
			best = sigWin{key: k, name: ch.action, index: c, ts: sig.TS, payload: sig.Payload, ok: true}
		}
	}
	if best.ok {
		io.consumed[best.name] = best.index + 1
		io.stageSet("$wf.sigCount."+best.name, best.index+1)
		return RaceResult{Key: best.key, Value: best.payload}, nil
	}

	// No signal wins: schedule (or look up) the non-signal children so an
	// undecided race has all its tasks in flight.
	taskOf := map[string]string{}
	for _, k := range keys {
		ch := children[k]
		if ch.kind == effectSignal {
			continue
		}
		ceid := eid + "." + k
		io.resolveChild(ceid, ch)
		switch ch.kind {
		case effectExec:
			if taskID, ok := io.idx.execScheduled["E:"+ceid]; ok {
				taskOf[taskID] = k
			}
		case effectSleep, effectUntil:
			if taskID, ok := io.idx.timerScheduled["S:"+ceid]; ok {
				taskOf[taskID] = k
			}
		}
	}

	// First completion in history order wins.
	for _, taskID := range io.idx.raceOrder {
		k, ok := taskOf[taskID]
		if !ok {
			continue
		}
		var val any
		if res, completed := io.idx.execCompleted[taskID]; completed {
			val = res
		}
		return RaceResult{Key: k, Value: val}, nil
	}

	return RaceResult{}, io.suspend()
}

// Complete ends the workflow successfully. A non-nil value is stored at
// ctx.result before the completion command.
func (io *IO) Complete(value any) error {
	if io.stopped {
		return ErrSuspended
	}
	io.nextEID()
	if value != nil {
		io.stageSet("result", value)
	}
	io.cmds = append(io.cmds, api.Command{Type: api.CmdCompleteWorkflow})
	return io.suspend()
}

// Fail ends the workflow with a failure reason.
func (io *IO) Fail(reason any) error {
	if io.stopped {
		return ErrSuspended
	}
	io.nextEID()
	io.cmds = append(io.cmds, api.Command{Type: api.CmdFailWorkflow, Reason: reason})
	return io.suspend()
}

type childState int

const (
	childDone childState = iota
	childWaiting
)

// resolveChild advances a single effect against history: schedule it when it
// has never been scheduled, report waiting while its task is outstanding,
// and return the recorded outcome once it is done. Signal effects consume
// the next delivery for their name.
func (io *IO) resolveChild(eid string, eff Effect) (any, childState) {
	switch eff.kind {
	case effectExec:
		name := "E:" + eid
		taskID, ok := io.idx.execScheduled[name]
		if !ok {
			io.cmds = append(io.cmds, io.buildExecCommand(name, eff))
			return nil, childWaiting
		}
		if res, completed := io.idx.execCompleted[taskID]; completed {
			return res, childDone
		}
		return nil, childWaiting

	case effectSleep, effectUntil:
		label := "S:" + eid
		taskID, ok := io.idx.timerScheduled[label]
		if !ok {
			io.cmds = append(io.cmds, buildSleepCommand(label, eff))
			return nil, childWaiting
		}
		if io.idx.timerFired[taskID] {
			return nil, childDone
		}
		return nil, childWaiting

	case effectSignal:
		c := io.consumed[eff.action]
		sigs := io.idx.signalsByName[eff.action]
		if len(sigs) > c {
			io.consumed[eff.action] = c + 1
			io.stageSet("$wf.sigCount."+eff.action, c+1)
			return sigs[c].Payload, childDone
		}
		return nil, childWaiting
	}
	return nil, childWaiting
}

func (io *IO) buildExecCommand(name string, eff Effect) api.Command {
	opts := eff.opts
	if opts.maxTries == 0 {
		opts.maxTries = io.def.defaults.maxTries
	}
	if opts.retryDelays == nil {
		opts.retryDelays = io.def.defaults.retryDelays
	}
	return api.Command{
		Type: api.CmdExec,
		Name: name,
		Code: map[string]any{
			"action": eff.action,
			"input":  eff.input,
		},
		RunAfter:    opts.runAfter,
		IdemKey:     opts.idemKey,
		MaxTries:    opts.maxTries,
		RetryDelays: opts.retryDelays,
	}
}

func buildSleepCommand(label string, eff Effect) api.Command {
	if eff.kind == effectUntil {
		return api.UntilCommand(eff.until, label)
	}
	return api.SleepCommand(eff.seconds, label)
}

// nextEID advances the effect cursor and returns the id of the effect at the
// current position. The cursor's new value is mirrored into the reserved
// $wf subtree.
func (io *IO) nextEID() string {
	eid := strconv.Itoa(io.cursor)
	io.cursor++
	io.stageSet("$wf.cursor", io.cursor)
	return eid
}

// stageSet records a set command and applies it to the local mirror so later
// effects in this replay observe the write.
func (io *IO) stageSet(key string, value any) {
	io.sets = append(io.sets, api.SetCommand(key, value))
	api.SetPath(io.ctx, key, api.DeepCopyValue(value))
}

func (io *IO) suspend() error {
	io.stopped = true
	return ErrSuspended
}
