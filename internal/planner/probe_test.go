package planner

import (
	"context"
	"errors"
	"testing"
)

// stubbornProber reports the same huge count for every window, so no amount
// of bisection ever fits the target.
type stubbornProber struct {
	rows  int64
	calls int
}

func (p *stubbornProber) CountBetween(_ context.Context, _ string, _, _ string) (int64, error) {
	p.calls++
	return p.rows, nil
}

func TestProbeAcceptsWindowWithinTolerance(t *testing.T) {
	prober := &epochProber{rowsPerSecond: 1}
	// 1200 rows against a target of 1000: within 25% tolerance, no split.
	out := splitByRowCount(context.Background(), prober, "u", "1000000", "1001200", "epoch", "", 1000)
	if out.Degraded {
		t.Fatalf("degraded: %v", out.Cause)
	}
	if len(out.Windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(out.Windows))
	}
	if prober.calls != 1 {
		t.Errorf("probe calls = %d, want a single full-window count", prober.calls)
	}
}

func TestProbeWindowsTileRangeInOrder(t *testing.T) {
	prober := &epochProber{rowsPerSecond: 7}
	lower, upper := "1000000", "1003000" // 21000 rows
	out := splitByRowCount(context.Background(), prober, "u", lower, upper, "epoch", "", 4000)
	if out.Degraded {
		t.Fatalf("degraded: %v", out.Cause)
	}
	if len(out.Windows) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(out.Windows))
	}
	if out.Windows[0].Lower != lower {
		t.Errorf("first window lower = %q", out.Windows[0].Lower)
	}
	for i := 1; i < len(out.Windows); i++ {
		if out.Windows[i].Lower != out.Windows[i-1].Upper {
			t.Errorf("windows %d/%d not contiguous: %q vs %q",
				i-1, i, out.Windows[i-1].Upper, out.Windows[i].Lower)
		}
	}
	if last := out.Windows[len(out.Windows)-1]; last.Upper != upper {
		t.Errorf("last window upper = %q, want %q", last.Upper, upper)
	}
	limit := float64(4000) * (1 + probeTolerance)
	for _, w := range out.Windows {
		if float64(w.Rows) > limit {
			t.Errorf("window (%s, %s] has %d rows, over tolerance", w.Lower, w.Upper, w.Rows)
		}
	}
}

func TestProbeFirstRunShipsFullWindowUnsplit(t *testing.T) {
	prober := &epochProber{rowsPerSecond: 100}
	out := splitByRowCount(context.Background(), prober, "u", BeginningOfTime, "1000000", "epoch", "", 10)
	if out.Degraded {
		t.Fatalf("degraded: %v", out.Cause)
	}
	if len(out.Windows) != 1 || out.Windows[0].Lower != BeginningOfTime {
		t.Fatalf("first run must keep the open-lower window intact: %+v", out.Windows)
	}
}

func TestProbeErrorDegrades(t *testing.T) {
	prober := &epochProber{err: errors.New("connection refused")}
	out := splitByRowCount(context.Background(), prober, "u", "1000000", "1001000", "epoch", "", 10)
	if !out.Degraded {
		t.Fatal("expected degraded outcome on probe error")
	}
	if out.Cause == nil {
		t.Error("degraded outcome must carry its cause")
	}
	if len(out.Windows) != 1 || out.Windows[0].Lower != "1000000" || out.Windows[0].Upper != "1001000" {
		t.Errorf("degraded windows = %+v, want the original range", out.Windows)
	}
}

func TestProbeGivesUpWithinIterationBudget(t *testing.T) {
	prober := &stubbornProber{rows: 1 << 40}
	out := splitByRowCount(context.Background(), prober, "u", "1000000", "2000000", "epoch", "", 100)
	if !out.Degraded {
		t.Fatal("expected degraded outcome when no split can fit")
	}
	if prober.calls > probeMaxIterations {
		t.Errorf("probe ran %d counts, budget is %d", prober.calls, probeMaxIterations)
	}
	if len(out.Windows) != 1 {
		t.Errorf("degraded outcome must ship the single original window, got %d", len(out.Windows))
	}
}

func TestProbeTimestampMidpoint(t *testing.T) {
	mid, ok := midpoint("2024-01-01 00:00:00", "2024-01-02 00:00:00", "timestamp", SQLTimestampLayout)
	if !ok {
		t.Fatal("midpoint not computable")
	}
	if mid != "2024-01-01 12:00:00" {
		t.Errorf("midpoint = %q", mid)
	}
}

func TestProbeMidpointIndivisible(t *testing.T) {
	if _, ok := midpoint("1000", "1000", "epoch", ""); ok {
		t.Error("zero-width epoch window must not bisect")
	}
	if mid, ok := midpoint("1000", "1001", "epoch", ""); ok && mid != "1000" {
		t.Errorf("adjacent epoch bounds produced mid %q", mid)
	}
}
