// Package checkpoint models the persisted progress marker for ingestion
// runs.
//
// A checkpoint travels as a generic JSON-compatible tree so the caller's
// durable store never interprets it. Two shapes coexist under the one
// opaque value: a single scalar watermark for range-based sources
// ({"watermark": v}) and a partitioned cursor map for sources with
// independent sub-scopes ({"cursor": {...}}). Strategies narrow the generic
// value into a typed view at their boundary and fail loudly on shape
// mismatch instead of silently misinterpreting it.
package checkpoint

import "fmt"

// Value is the raw persisted checkpoint tree. A nil Value means "never run".
type Value map[string]any

const (
	keyWatermark = "watermark"
	keyCursor    = "cursor"
)

// Clone deep-copies the tree so merges never mutate the caller's copy.
func (v Value) Clone() Value {
	if v == nil {
		return nil
	}
	return Value(cloneTree(map[string]any(v)))
}

func cloneTree(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, val := range in {
		if nested, ok := val.(map[string]any); ok {
			out[k] = cloneTree(nested)
			continue
		}
		out[k] = val
	}
	return out
}

// =============================================================================
// SCALAR VIEW
// =============================================================================

// Watermark extracts the scalar watermark. Returns ("", false) when the
// checkpoint is absent or has no watermark entry, and an error when the
// entry exists but is not a scalar string.
func (v Value) Watermark() (string, bool, error) {
	if v == nil {
		return "", false, nil
	}
	raw, ok := v[keyWatermark]
	if !ok {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, fmt.Errorf("checkpoint watermark is %T, not a string", raw)
	}
	return s, true, nil
}

// WithWatermark returns a copy of the checkpoint with the watermark
// replaced. Other entries are preserved untouched.
func (v Value) WithWatermark(marker string) Value {
	out := v.Clone()
	if out == nil {
		out = Value{}
	}
	out[keyWatermark] = marker
	return out
}

// =============================================================================
// CURSOR VIEW
// =============================================================================

// CursorView is a typed reading of a partitioned cursor map. Scope names the
// optional nesting key ("projects", "spaces") and Marker the per-partition
// marker field ("lastUpdated", "lastUpdatedAt").
type CursorView struct {
	Scope  string
	Marker string
}

// cursorMap extracts the raw cursor mapping, or nil when absent.
func (v Value) cursorMap() (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v[keyCursor]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checkpoint cursor is %T, not a mapping", raw)
	}
	return m, nil
}

// HasCursor reports whether the checkpoint carries a cursor mapping.
func (v Value) HasCursor() bool {
	m, err := v.cursorMap()
	return err == nil && m != nil
}

// Entry resolves the stored marker for one partition key. Resolution order:
//
//  1. scoped per-partition entry:  cursor[scope][partition][marker]
//  2. direct per-partition entry:  cursor[partition][marker]
//  3. shared flat marker:          cursor[marker]
//
// A missing entry yields ("", false): the partition starts from the
// beginning of time.
func (cv CursorView) Entry(v Value, partition string) (string, bool, error) {
	cursor, err := v.cursorMap()
	if err != nil {
		return "", false, err
	}
	if cursor == nil {
		return "", false, nil
	}

	if cv.Scope != "" {
		if scoped, ok := cursor[cv.Scope].(map[string]any); ok {
			if entry, ok := scoped[partition].(map[string]any); ok {
				if s, ok := entry[cv.Marker].(string); ok {
					return s, true, nil
				}
			}
		}
	}

	if entry, ok := cursor[partition].(map[string]any); ok {
		if s, ok := entry[cv.Marker].(string); ok {
			return s, true, nil
		}
	}

	if s, ok := cursor[cv.Marker].(string); ok {
		return s, true, nil
	}

	return "", false, nil
}

// Merge returns a copy of the prior checkpoint with the given partitions'
// entries replaced. Partitions absent from updates keep their previous
// entries byte-for-byte: running a subset of partitions never disturbs the
// rest of the cursor. Stale partitions are retained indefinitely.
func (cv CursorView) Merge(prior Value, updates map[string]string) Value {
	out := prior.Clone()
	if out == nil {
		out = Value{}
	}
	if len(updates) == 0 {
		return out
	}

	cursor, _ := out[keyCursor].(map[string]any)
	if cursor == nil {
		cursor = map[string]any{}
		out[keyCursor] = cursor
	}

	target := cursor
	if cv.Scope != "" {
		scoped, _ := cursor[cv.Scope].(map[string]any)
		if scoped == nil {
			scoped = map[string]any{}
			cursor[cv.Scope] = scoped
		}
		target = scoped
	}

	for partition, marker := range updates {
		entry, _ := target[partition].(map[string]any)
		if entry == nil {
			entry = map[string]any{}
			target[partition] = entry
		}
		entry[cv.Marker] = marker
	}

	return out
}
