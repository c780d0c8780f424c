package planner

import (
	"context"
	"fmt"

	"github.com/nucleus/ingest-core/internal/checkpoint"
	"github.com/nucleus/ingest-core/internal/endpoint"
)

// RangeStrategy plans extraction for relational sources that track progress
// with a single scalar watermark over an incremental column. One slice per
// run, optionally refined into successive sub-slices by the adaptive
// row-count probe.
type RangeStrategy struct{}

// NewRangeStrategy creates the range strategy.
func NewRangeStrategy() *RangeStrategy {
	return &RangeStrategy{}
}

func (s *RangeStrategy) Name() string { return "range" }

// markerLayout picks the render format for a unit's incremental literal.
func markerLayout(unit *endpoint.UnitDescriptor) string {
	if unit != nil && unit.IncrementalLiteral == "epoch" {
		return "" // integers, no layout
	}
	return SQLTimestampLayout
}

// BuildPlan resolves (priorWatermark, snapshotNow] and, when a target slice
// size and a prober are supplied, bisects the window until each sub-window's
// row count fits the target. Probe failure degrades to the single unsplit
// window; it never fails the plan.
func (s *RangeStrategy) BuildPlan(ctx context.Context, req *PlanRequest) (*endpoint.IngestionPlan, error) {
	if req.Unit == nil {
		return nil, planningErr(nil, "unit descriptor required")
	}

	lower, _, err := req.Checkpoint.Watermark()
	if err != nil {
		return nil, planningErr(err, "checkpoint shape mismatch for range strategy")
	}
	if req.Checkpoint.HasCursor() {
		return nil, planningErr(nil, "range strategy cannot use a partitioned cursor checkpoint")
	}

	literal := req.Unit.IncrementalLiteral
	layout := markerLayout(req.Unit)
	var upper string
	if literal == "epoch" {
		upper = fmt.Sprintf("%d", req.now().Unix())
	} else {
		upper = formatInstant(req.now(), layout)
	}
	upper = clampUpper(upper, lower)

	stats := map[string]any{"resolvedUpper": upper}
	plan := &endpoint.IngestionPlan{
		UnitID:     req.Unit.UnitID,
		Strategy:   s.Name(),
		Statistics: stats,
	}

	params := map[string]any{}
	if req.Unit.IncrementalColumn != "" {
		params["incrementalColumn"] = req.Unit.IncrementalColumn
	}

	windows := []Window{{Lower: lower, Upper: upper}}
	if req.TargetSliceSize > 0 && req.Prober != nil && lower != upper {
		outcome := splitByRowCount(ctx, req.Prober, req.Unit.UnitID, lower, upper, literal, layout, req.TargetSliceSize)
		windows = outcome.Windows
		if outcome.Degraded {
			stats["probeDegraded"] = true
		}
	}

	for i, w := range windows {
		// Each slice owns its params so a reader mutating one slice does
		// not alias the rest of the plan.
		sliceParams := make(map[string]any, len(params))
		for k, v := range params {
			sliceParams[k] = v
		}
		plan.Slices = append(plan.Slices, &endpoint.IngestionSlice{
			SliceID:       fmt.Sprintf("incremental-%d", i),
			Sequence:      i,
			Lower:         w.Lower,
			Upper:         w.Upper,
			EstimatedRows: w.Rows,
			Params:        sliceParams,
		})
	}

	return plan, nil
}

// AdvanceCheckpoint takes the maximum of the prior watermark and the highest
// observed upper bound across completed slices.
func (s *RangeStrategy) AdvanceCheckpoint(prior checkpoint.Value, completed []CompletedSlice) checkpoint.Value {
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
