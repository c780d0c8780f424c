package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nucleus/ingest-core/internal/checkpoint"
	"github.com/nucleus/ingest-core/internal/core"
	"github.com/nucleus/ingest-core/internal/endpoint"
)

func sqlUnit() *endpoint.UnitDescriptor {
	return &endpoint.UnitDescriptor{
		UnitID:             "public.orders",
		Name:               "orders",
		Kind:               "table",
		SupportsIncremental: true,
		IncrementalColumn:  "updated_at",
		IncrementalLiteral: "timestamp",
	}
}

func TestRangePlanFromWatermark(t *testing.T) {
	s := NewRangeStrategy()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:       sqlUnit(),
		Checkpoint: checkpoint.Value{"watermark": "2024-01-01 00:00:00"},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Slices) != 1 {
		t.Fatalf("expected 1 slice, got %d", len(plan.Slices))
	}
	sl := plan.Slices[0]
	if sl.Lower != "2024-01-01 00:00:00" {
		t.Errorf("lower = %q, want prior watermark", sl.Lower)
	}
	if sl.Upper != "2024-06-01 12:00:00" {
		t.Errorf("upper = %q, want snapshot instant", sl.Upper)
	}
	if sl.Params["incrementalColumn"] != "updated_at" {
		t.Errorf("params = %v, want incrementalColumn", sl.Params)
	}

	next := s.AdvanceCheckpoint(checkpoint.Value{"watermark": "2024-01-01 00:00:00"}, []CompletedSlice{
		{Slice: sl, RecordCount: 42},
	})
	got, _, _ := next.Watermark()
	if got != "2024-06-01 12:00:00" {
		t.Errorf("advanced watermark = %q, want resolved upper", got)
	}
}

func TestRangePlanFirstRunHasOpenLower(t *testing.T) {
	s := NewRangeStrategy()
	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit: sqlUnit(),
		Now:  time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.Slices[0].Lower != BeginningOfTime {
		t.Errorf("first-run lower = %q, want beginning of time", plan.Slices[0].Lower)
	}
}

func TestRangeUpperClampedMonotonic(t *testing.T) {
	s := NewRangeStrategy()

	// Wall clock behind the stored watermark: the resolved upper must not
	// regress, so the plan degenerates to an empty window.
	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:       sqlUnit(),
		Checkpoint: checkpoint.Value{"watermark": "2024-06-01 12:00:00"},
		Now:        time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	sl := plan.Slices[0]
	if sl.Lower != sl.Upper {
		t.Errorf("expected empty window, got (%q, %q]", sl.Lower, sl.Upper)
	}

	// Advancing over an empty window must leave the watermark unchanged.
	next := s.AdvanceCheckpoint(checkpoint.Value{"watermark": "2024-06-01 12:00:00"}, []CompletedSlice{{Slice: sl}})
	got, _, _ := next.Watermark()
	if got != "2024-06-01 12:00:00" {
		t.Errorf("watermark = %q, regressed or moved", got)
	}
}

func TestRangeReplanAfterAdvanceYieldsEmptyWindow(t *testing.T) {
	s := NewRangeStrategy()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	req := &PlanRequest{Unit: sqlUnit(), Checkpoint: checkpoint.Value{"watermark": "2024-01-01 00:00:00"}, Now: now}

	plan, err := s.BuildPlan(context.Background(), req)
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	completed := make([]CompletedSlice, len(plan.Slices))
	for i, sl := range plan.Slices {
		completed[i] = CompletedSlice{Slice: sl}
	}
	next := s.AdvanceCheckpoint(req.Checkpoint, completed)

	replan, err := s.BuildPlan(context.Background(), &PlanRequest{Unit: sqlUnit(), Checkpoint: next, Now: now})
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	sl := replan.Slices[0]
	if sl.Lower != sl.Upper {
		t.Errorf("replan at same instant: window (%q, %q] not empty", sl.Lower, sl.Upper)
	}
}

func TestRangeRejectsCursorCheckpoint(t *testing.T) {
	s := NewRangeStrategy()
	_, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:       sqlUnit(),
		Checkpoint: checkpoint.Value{"cursor": map[string]any{"lastUpdated": "2024-01-01T00:00:00Z"}},
		Now:        time.Now(),
	})
	var pe *core.PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
}

func TestRangeEpochLiteral(t *testing.T) {
	s := NewRangeStrategy()
	unit := sqlUnit()
	unit.IncrementalLiteral = "epoch"
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:       unit,
		Checkpoint: checkpoint.Value{"watermark": "1700000000"},
		Now:        now,
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	want := "1717200000" // 2024-06-01T00:00:00Z
	if plan.Slices[0].Upper != want {
		t.Errorf("epoch upper = %q, want %q", plan.Slices[0].Upper, want)
	}
}

// epochProber counts rows between integer epoch bounds at a fixed density,
// for deterministic bisection tests.
type epochProber struct {
	rowsPerSecond int64
	calls         int
	err           error
}

func (p *epochProber) CountBetween(_ context.Context, _ string, lower, upper string) (int64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	var lo, hi int64
	if lower != "" {
		lo = mustParseInt(lower)
	}
	hi = mustParseInt(upper)
	if hi < lo {
		return 0, nil
	}
	return (hi - lo) * p.rowsPerSecond, nil
}

func mustParseInt(s string) int64 {
	var n int64
	for _, r := range s {
		n = n*10 + int64(r-'0')
	}
	return n
}

func TestRangeProbeRefinesWideWindow(t *testing.T) {
	s := NewRangeStrategy()
	unit := sqlUnit()
	unit.IncrementalLiteral = "epoch"

	prober := &epochProber{rowsPerSecond: 10}
	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:            unit,
		Checkpoint:      checkpoint.Value{"watermark": "1000000"},
		Now:             time.Unix(1003600, 0), // 3600s window, 36000 rows
		TargetSliceSize: 5000,
		Prober:          prober,
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Slices) < 2 {
		t.Fatalf("expected refinement into multiple slices, got %d", len(plan.Slices))
	}
	if _, degraded := plan.Statistics["probeDegraded"]; degraded {
		t.Fatalf("plan unexpectedly degraded: %v", plan.Statistics)
	}

	// Slices must tile the original window exactly, in order.
	if plan.Slices[0].Lower != "1000000" {
		t.Errorf("first slice lower = %q", plan.Slices[0].Lower)
	}
	for i := 1; i < len(plan.Slices); i++ {
		if plan.Slices[i].Lower != plan.Slices[i-1].Upper {
			t.Errorf("gap between slice %d and %d: %q != %q",
				i-1, i, plan.Slices[i-1].Upper, plan.Slices[i].Lower)
		}
	}
	if last := plan.Slices[len(plan.Slices)-1]; last.Upper != "1003600" {
		t.Errorf("final slice upper = %q, want original upper", last.Upper)
	}

	limit := float64(5000) * (1 + probeTolerance)
	for _, sl := range plan.Slices {
		if float64(sl.EstimatedRows) > limit {
			t.Errorf("slice %s estimated %d rows, exceeds tolerance", sl.SliceID, sl.EstimatedRows)
		}
	}
}

func TestRangeRefinedSlicesOwnTheirParams(t *testing.T) {
	s := NewRangeStrategy()
	unit := sqlUnit()
	unit.IncrementalLiteral = "epoch"

	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:            unit,
		Checkpoint:      checkpoint.Value{"watermark": "1000000"},
		Now:             time.Unix(1003600, 0),
		TargetSliceSize: 5000,
		Prober:          &epochProber{rowsPerSecond: 10},
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Slices) < 2 {
		t.Fatalf("need multiple slices, got %d", len(plan.Slices))
	}

	plan.Slices[0].Params["pageCursor"] = "abc"
	if _, leaked := plan.Slices[1].Params["pageCursor"]; leaked {
		t.Error("mutating one slice's params leaked into its sibling")
	}
	if plan.Slices[1].Params["incrementalColumn"] != "updated_at" {
		t.Errorf("sibling params = %v", plan.Slices[1].Params)
	}
}

func TestRangeProbeFailureDegradesToSingleSlice(t *testing.T) {
	s := NewRangeStrategy()
	unit := sqlUnit()
	unit.IncrementalLiteral = "epoch"

	plan, err := s.BuildPlan(context.Background(), &PlanRequest{
		Unit:            unit,
		Checkpoint:      checkpoint.Value{"watermark": "1000000"},
		Now:             time.Unix(1003600, 0),
		TargetSliceSize: 100,
		Prober:          &epochProber{err: errors.New("timeout")},
	})
	if err != nil {
		t.Fatalf("probe failure must not fail the plan: %v", err)
	}
	if len(plan.Slices) != 1 {
		t.Fatalf("expected single degraded slice, got %d", len(plan.Slices))
	}
	if plan.Statistics["probeDegraded"] != true {
		t.Errorf("statistics = %v, want probeDegraded", plan.Statistics)
	}
	sl := plan.Slices[0]
	if sl.Lower != "1000000" || sl.Upper != "1003600" {
		t.Errorf("degraded slice (%q, %q], want full original window", sl.Lower, sl.Upper)
	}
}
