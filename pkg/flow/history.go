package flow

import "github.com/okarvi/tideflow/pkg/api"

// historyIndex is a single-pass projection of a workflow history into the
// lookups replay needs. Scheduled tasks are correlated back to effect ids
// through the "E:<eid>" activity names and "S:<eid>" timer labels the
// interpreter stamps on its commands.
type historyIndex struct {
	execScheduled  map[string]string // "E:<eid>" -> task id
	execCompleted  map[string]any    // task id -> result
	timerScheduled map[string]string // "S:<eid>" -> task id
	timerFired     map[string]bool   // task id -> fired
	ctxSet         map[string]bool   // "C:<eid>" -> write recorded
	signalsByName  map[string][]api.Signal

	// raceOrder lists exec completions and timer firings in history order;
	// races resolve their winner by the earliest entry belonging to them.
	raceOrder []string
}

func indexHistory(history []api.Event) *historyIndex {
	idx := &historyIndex{
		execScheduled:  map[string]string{},
		execCompleted:  map[string]any{},
		timerScheduled: map[string]string{},
		timerFired:     map[string]bool{},
		ctxSet:         map[string]bool{},
		signalsByName:  map[string][]api.Signal{},
	}

	for _, ev := range history {
		switch ev.Type {
		case api.EventActivityScheduled:
			if ev.Name != "" {
				if _, seen := idx.execScheduled[ev.Name]; !seen {
					idx.execScheduled[ev.Name] = ev.TaskID
				}
			}
		case api.EventActivityCompleted:
			if _, seen := idx.execCompleted[ev.TaskID]; !seen {
				idx.execCompleted[ev.TaskID] = ev.Result
				idx.raceOrder = append(idx.raceOrder, ev.TaskID)
			}
		case api.EventTimerScheduled:
			if ev.Label != "" {
				if _, seen := idx.timerScheduled[ev.Label]; !seen {
					idx.timerScheduled[ev.Label] = ev.TaskID
				}
			}
		case api.EventTimerFired:
			if !idx.timerFired[ev.TaskID] {
				idx.timerFired[ev.TaskID] = true
				idx.raceOrder = append(idx.raceOrder, ev.TaskID)
			}
		case api.EventCtxSet:
			if ev.Label != "" {
				idx.ctxSet[ev.Label] = true
			}
		case api.EventSignal:
			idx.signalsByName[ev.Name] = append(idx.signalsByName[ev.Name], api.Signal{
				TS:      ev.TS,
				Name:    ev.Name,
				Payload: ev.Payload,
			})
		}
	}
	return idx
}
