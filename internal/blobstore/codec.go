package blobstore

import (
	"encoding/json"

	"github.com/okarvi/tideflow/pkg/api"
)

// EncodeState serializes a workflow state to its persisted JSON form.
// Timestamps are normalized to UTC so blobs are byte-stable across hosts.
func EncodeState(st *api.State) ([]byte, error) {
	normalizeTimes(st)
	return json.Marshal(st)
}

// DecodeState deserializes a persisted blob into a fresh State. The result
// shares no memory with the input or with any previously decoded state.
func DecodeState(data []byte) (*api.State, error) {
	var st api.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Ctx == nil {
		st.Ctx = map[string]any{}
	}
	if st.Tasks == nil {
		st.Tasks = map[string]*api.Task{}
	}
	return &st, nil
}

func normalizeTimes(st *api.State) {
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	if st.NextWake != nil {
		utc := st.NextWake.UTC()
		st.NextWake = &utc
	}
	for _, t := range st.Tasks {
		t.RunAfter = t.RunAfter.UTC()
		if t.Lease != nil {
			t.Lease.ExpiresAt = t.Lease.ExpiresAt.UTC()
		}
	}
	for i := range st.History {
		st.History[i].TS = st.History[i].TS.UTC()
		if ra := st.History[i].RunAfter; ra != nil {
			utc := ra.UTC()
			st.History[i].RunAfter = &utc
		}
	}
	for i := range st.Signals {
		st.Signals[i].TS = st.Signals[i].TS.UTC()
	}
}
