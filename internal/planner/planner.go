// Package planner turns (checkpoint, policy, target slice size) into
// bounded, ordered ingestion plans, one strategy per endpoint family.
//
// Strategies are pure: the same request yields the same plan. The single
// impure input, the row-count probe used by the range strategy, is injected
// through the request so tests can supply deterministic counters. The upper
// bound for every slice of a plan is resolved once at build time, so a
// multi-partition plan reads a single stable point-in-time snapshot.
package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nucleus/ingest-core/internal/checkpoint"
	"github.com/nucleus/ingest-core/internal/core"
	"github.com/nucleus/ingest-core/internal/endpoint"
)

// BeginningOfTime is the sentinel lower bound for a never-run partition or
// range. An empty bound means "no lower constraint" to every endpoint.
const BeginningOfTime = ""

// Prober counts rows between incremental bounds, half-open (lower, upper].
type Prober interface {
	CountBetween(ctx context.Context, unitID, lower, upper string) (int64, error)
}

// PlanRequest carries everything a strategy may consult while planning.
type PlanRequest struct {
	Unit            *endpoint.UnitDescriptor
	Checkpoint      checkpoint.Value
	Policy          *Policy
	TargetSliceSize int64

	// Now is the run's snapshot instant. The zero value means wall clock;
	// tests pass a fixed instant for determinism.
	Now time.Time

	// Prober is set when the endpoint supports count probing. Nil disables
	// adaptive refinement.
	Prober Prober
}

func (r *PlanRequest) now() time.Time {
	if r.Now.IsZero() {
		return time.Now().UTC()
	}
	return r.Now.UTC()
}

// CompletedSlice records one successfully executed slice for checkpoint
// advancement.
type CompletedSlice struct {
	Slice          *endpoint.IngestionSlice
	ObservedMarker string
	RecordCount    int64
}

// Strategy builds plans for one endpoint family and evolves its checkpoint
// shape after execution.
type Strategy interface {
	// Name identifies the strategy in plans ("range", "partition-window",
	// "time-window").
	Name() string

	// BuildPlan produces the ordered slice list for one run.
	BuildPlan(ctx context.Context, req *PlanRequest) (*endpoint.IngestionPlan, error)

	// AdvanceCheckpoint folds the completed prefix of a plan into the prior
	// checkpoint. Called with fewer slices than planned after a mid-plan
	// failure; called with none, it must return the prior value unchanged.
	AdvanceCheckpoint(prior checkpoint.Value, completed []CompletedSlice) checkpoint.Value
}

// =============================================================================
// POLICY
// =============================================================================

// Policy is the parsed view of the caller's scoping parameters for one run.
// Policies are never persisted; the caller supplies them fresh each run.
type Policy struct {
	// PartitionKeys scopes partitioned strategies. nil means the caller
	// supplied no key list at all; an empty non-nil slice is an explicit
	// no-op request.
	PartitionKeys []string

	// TargetSliceSize bounds slice width for strategies that support it.
	TargetSliceSize int64

	// Extras carries strategy-specific parameters verbatim.
	Extras map[string]any
}

// ParsePolicy narrows the caller's free-form parameter map. Unknown keys are
// preserved in Extras.
func ParsePolicy(params map[string]any) (*Policy, error) {
	p := &Policy{Extras: map[string]any{}}
	if params == nil {
		return p, nil
	}

	for k, v := range params {
		switch k {
		case "partitionKeys":
			keys, err := toStringSlice(v)
			if err != nil {
				return nil, fmt.Errorf("policy partitionKeys: %w", err)
			}
			p.PartitionKeys = keys
		case "targetSliceSize":
			n, err := toInt64(v)
			if err != nil {
				return nil, fmt.Errorf("policy targetSliceSize: %w", err)
			}
			p.TargetSliceSize = n
		default:
			p.Extras[k] = v
		}
	}
	return p, nil
}

func toStringSlice(v any) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		out := make([]string, len(vals))
		copy(out, vals)
		return out, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string list, got %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// =============================================================================
// STRATEGY REGISTRY
// =============================================================================

// Registry maps endpoint family identifiers to slicing strategies. It is an
// explicit value passed by reference into the runner, never ambient global
// state, so tests can supply isolated registries.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds a family identifier to a strategy, replacing any previous
// binding.
func (r *Registry) Register(family string, s Strategy) {
	r.strategies[family] = s
}

// Get returns the strategy for a family.
func (r *Registry) Get(family string) (Strategy, bool) {
	s, ok := r.strategies[family]
	return s, ok
}

// Families returns the registered family identifiers in sorted order.
func (r *Registry) Families() []string {
	out := make([]string, 0, len(r.strategies))
	for f := range r.strategies {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DefaultStrategies wires the four canonical families. Built once at process
// start and handed to the runner.
func DefaultStrategies() *Registry {
	reg := NewRegistry()
	reg.Register("jdbc", NewRangeStrategy())
	reg.Register("tracker", NewPartitionWindowStrategy("projects", "lastUpdated", "projectKey"))
	reg.Register("space", NewPartitionWindowStrategy("spaces", "lastUpdatedAt", "spaceKey"))
	reg.Register("drive", NewTimeWindowStrategy())
	return reg
}

// =============================================================================
// MARKER ARITHMETIC
// =============================================================================

// Marker layouts per incremental literal type. Both are fixed width, so
// lexical comparison matches chronological order.
const (
	SQLTimestampLayout = "2006-01-02 15:04:05"
	ISOTimestampLayout = time.RFC3339
)

// formatInstant renders a snapshot instant in the given layout.
func formatInstant(t time.Time, layout string) string {
	return t.UTC().Format(layout)
}

// clampUpper enforces upper-bound monotonicity: the resolved upper must
// never decrease between consecutive runs, even if wall-clock time appears
// to regress. Bounds compare lexically; both layouts are fixed width.
func clampUpper(upper, priorLower string) string {
	if priorLower != "" && upper < priorLower {
		return priorLower
	}
	return upper
}

// planningErr wraps a cause as a core.PlanningError.
func planningErr(err error, format string, args ...any) error {
	return &core.PlanningError{Reason: fmt.Sprintf(format, args...), Err: err}
}
