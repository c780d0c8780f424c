package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nucleus/ingest-core/internal/checkpoint"
	"github.com/nucleus/ingest-core/internal/endpoint"
)

// =============================================================================
// PARTITION-WINDOW STRATEGY
// Ticket-tracker and document-space sources: one slice per partition key.
// =============================================================================

// PartitionWindowStrategy plans one slice per policy-listed partition key
// (project key, space key). Each slice's lower bound comes from that
// partition's cursor entry; all slices share one upper bound resolved at
// plan-build time.
type PartitionWindowStrategy struct {
	cursor    checkpoint.CursorView
	paramKey  string // connector-facing param carrying the partition key
	sliceNoun string
}

// NewPartitionWindowStrategy creates a partition-window strategy for one
// family. scope names the cursor nesting key ("projects", "spaces"), marker
// the per-partition marker field, and paramKey the slice parameter the
// family's connector reads ("projectKey", "spaceKey").
func NewPartitionWindowStrategy(scope, marker, paramKey string) *PartitionWindowStrategy {
	noun := strings.TrimSuffix(scope, "s")
	if noun == "" {
		noun = "partition"
	}
	return &PartitionWindowStrategy{
		cursor:    checkpoint.CursorView{Scope: scope, Marker: marker},
		paramKey:  paramKey,
		sliceNoun: noun,
	}
}

func (s *PartitionWindowStrategy) Name() string { return "partition-window" }

// BuildPlan emits one slice per listed partition in sorted order. A nil key
// list is a planning error; an empty list is an explicit no-op plan. A key
// unknown to the source still gets a slice: the read reports zero rows, not
// the planner.
func (s *PartitionWindowStrategy) BuildPlan(ctx context.Context, req *PlanRequest) (*endpoint.IngestionPlan, error) {
	_ = ctx
	if req.Unit == nil {
		return nil, planningErr(nil, "unit descriptor required")
	}
	if req.Policy == nil || req.Policy.PartitionKeys == nil {
		return nil, planningErr(nil, "partitionKeys policy parameter required for %s", s.Name())
	}

	keys := append([]string{}, req.Policy.PartitionKeys...)
	sort.Strings(keys)

	plan := &endpoint.IngestionPlan{
		UnitID:     req.Unit.UnitID,
		Strategy:   s.Name(),
		Slices:     []*endpoint.IngestionSlice{},
		Statistics: map[string]any{"partitions": keys},
	}
	if len(keys) == 0 {
		return plan, nil
	}

	// Resolve lowers first so the shared upper can be clamped monotonic
	// against every partition's prior marker.
	lowers := make([]string, len(keys))
	for i, key := range keys {
		lower, _, err := s.cursor.Entry(req.Checkpoint, key)
		if err != nil {
			return nil, planningErr(err, "checkpoint shape mismatch for %s", s.Name())
		}
		lowers[i] = lower
	}

	upper := formatInstant(req.now(), ISOTimestampLayout)
	for _, lower := range lowers {
		upper = clampUpper(upper, lower)
	}
	plan.Statistics["resolvedUpper"] = upper

	for i, key := range keys {
		params := map[string]any{
			s.paramKey:     key,
			"partitionKey": key,
		}
		if req.TargetSliceSize > 0 {
			params["pageLimit"] = req.TargetSliceSize
		}
		plan.Slices = append(plan.Slices, &endpoint.IngestionSlice{
			SliceID:  fmt.Sprintf("%s-%s", s.sliceNoun, strings.ToLower(key)),
			Sequence: i,
			Lower:    lowers[i],
			Upper:    upper,
			Params:   params,
		})
	}

	return plan, nil
}

// AdvanceCheckpoint merges the completed partitions' entries into the prior
// cursor. Partitions not run this time keep their previous entries
// byte-for-byte.
func (s *PartitionWindowStrategy) AdvanceCheckpoint(prior checkpoint.Value, completed []CompletedSlice) checkpoint.Value {
	if len(completed) == 0 {
		return prior
	}

	updates := make(map[string]string, len(completed))
	for _, c := range completed {
		key, _ := c.Slice.Params["partitionKey"].(string)
		if key == "" {
			continue
		}
		marker := c.Slice.Upper
		if c.ObservedMarker != "" && c.ObservedMarker > marker {
			marker = c.ObservedMarker
		}
		updates[key] = marker
	}

	return s.cursor.Merge(prior, updates)
}

// =============================================================================
// TIME-WINDOW STRATEGY
// File-drive sources: a flat modification-time filter, no partitioning.
// =============================================================================

// TimeWindowStrategy plans a single slice from the last-modified watermark
// to the run's snapshot time.
type TimeWindowStrategy struct{}

// NewTimeWindowStrategy creates the time-window strategy.
func NewTimeWindowStrategy() *TimeWindowStrategy {
	return &TimeWindowStrategy{}
}

func (s *TimeWindowStrategy) Name() string { return "time-window" }

func (s *TimeWindowStrategy) BuildPlan(ctx context.Context, req *PlanRequest) (*endpoint.IngestionPlan, error) {
	_ = ctx
	if req.Unit == nil {
		return nil, planningErr(nil, "unit descriptor required")
	}

	lower, _, err := req.Checkpoint.Watermark()
	if err != nil {
		return nil, planningErr(err, "checkpoint shape mismatch for %s", s.Name())
	}

	upper := clampUpper(formatInstant(req.now(), ISOTimestampLayout), lower)

	return &endpoint.IngestionPlan{
		UnitID:   req.Unit.UnitID,
		Strategy: s.Name(),
		Slices: []*endpoint.IngestionSlice{{
			SliceID:  "window-0",
			Sequence: 0,
			Lower:    lower,
			Upper:    upper,
			Params:   map[string]any{},
		}},
		Statistics: map[string]any{"resolvedUpper": upper},
	}, nil
}

func (s *TimeWindowStrategy) AdvanceCheckpoint(prior checkpoint.Value, completed []CompletedSlice) checkpoint.Value {
	if len(completed) == 0 {
		return prior
	}

	marker, _, _ := prior.Watermark()
	for _, c := range completed {
		candidate := c.Slice.Upper
		if c.ObservedMarker != "" && c.ObservedMarker > candidate {
			candidate = c.ObservedMarker
		}
		if candidate > marker {
			marker = candidate
		}
	}
	return prior.WithWatermark(marker)
}
