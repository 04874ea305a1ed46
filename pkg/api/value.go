package api

import (
	"fmt"
	"strings"
)

// DeepCopyValue clones a JSON-shaped value (nil, bool, numbers, string,
// []any, map[string]any). Scalars are returned as-is; containers are cloned
// recursively. Values outside the JSON shape are returned unchanged, which is
// safe for the engine's use because persisted state round-trips through JSON.
func DeepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

// DeepCopyCtx clones a workflow context map. A nil map yields an empty one.
func DeepCopyCtx(ctx map[string]any) map[string]any {
	if ctx == nil {
		return map[string]any{}
	}
	return DeepCopyValue(ctx).(map[string]any)
}

// DeepCopyTask returns a detached clone of a task, including its lease and
// any container-valued result/code. Callers receiving tasks from the engine
// get copies so they cannot mutate engine-owned state.
func DeepCopyTask(t *Task) *Task {
	if t == nil {
		return nil
	}
	out := *t
	out.Result = DeepCopyValue(t.Result)
	out.Code = DeepCopyValue(t.Code)
	if t.RetryDelays != nil {
		out.RetryDelays = append([]float64(nil), t.RetryDelays...)
	}
	if t.Lease != nil {
		lease := *t.Lease
		out.Lease = &lease
	}
	if t.Error != nil {
		e := *t.Error
		out.Error = &e
	}
	return &out
}

// SetPath writes value at a dot-separated path inside ctx, creating
// intermediate objects as needed. Numeric segments are treated as string
// keys; there is no array indexing. An existing non-object value along the
// path is replaced by an object.
func SetPath(ctx map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := ctx
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// GetPath reads the value at a dot-separated path inside ctx. The second
// return value reports whether the full path exists.
func GetPath(ctx map[string]any, path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any = ctx
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
