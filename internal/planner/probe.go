package planner

import (
	"context"
	"strconv"
	"time"
)

// =============================================================================
// ADAPTIVE ROW-COUNT PROBE
// Bounds range-slice width by actual row volume instead of a fixed size.
// =============================================================================

const (
	// probeTolerance is the accepted overshoot over the target before a
	// window gets bisected.
	probeTolerance = 0.25

	// probeMaxIterations caps total probe calls per plan, logarithmic in
	// the value range of any realistic window.
	probeMaxIterations = 48
)

// Window is one accepted probe window, half-open (Lower, Upper].
type Window struct {
	Lower string
	Upper string
	Rows  int64
}

// ProbeOutcome reports the result of adaptive refinement. Degraded is an
// explicit variant, not an error: a failed or exhausted probe falls back to
// the original unsplit window and never blocks the plan.
type ProbeOutcome struct {
	Windows  []Window
	Degraded bool
	Cause    error
}

// splitByRowCount refines (lower, upper] into successive windows whose row
// counts fit the target within tolerance. The windows cover the full
// original range in order. literal selects the midpoint arithmetic
// ("timestamp" or "epoch"); layout is the timestamp render format.
func splitByRowCount(ctx context.Context, probe Prober, unitID, lower, upper, literal, layout string, target int64) *ProbeOutcome {
	full := func(cause error) *ProbeOutcome {
		return &ProbeOutcome{
			Windows:  []Window{{Lower: lower, Upper: upper}},
			Degraded: cause != nil,
			Cause:    cause,
		}
	}

	limit := float64(target) * (1 + probeTolerance)
	iterations := 0

	count := func(lo, hi string) (int64, error) {
		iterations++
		return probe.CountBetween(ctx, unitID, lo, hi)
	}

	total, err := count(lower, upper)
	if err != nil {
		return full(err)
	}
	if float64(total) <= limit {
		return &ProbeOutcome{Windows: []Window{{Lower: lower, Upper: upper, Rows: total}}}
	}

	// A first run has no lower value to bisect from; ship the full window.
	if lower == BeginningOfTime {
		return &ProbeOutcome{Windows: []Window{{Lower: lower, Upper: upper, Rows: total}}}
	}

	var windows []Window
	cursor := lower
	remaining := total
	for cursor < upper {
		lo, hi := cursor, upper
		rows := remaining

		// Shrink the candidate until it fits, bisecting by value.
		for float64(rows) > limit && iterations < probeMaxIterations {
			mid, ok := midpoint(lo, hi, literal, layout)
			if !ok || mid <= lo || mid >= hi {
				break
			}
			hi = mid
			rows, err = count(lo, hi)
			if err != nil {
				return full(err)
			}
		}

		if float64(rows) > limit {
			// Iteration budget exhausted or window indivisible: give up on
			// refinement and return the original unsplit range.
			return &ProbeOutcome{
				Windows:  []Window{{Lower: lower, Upper: upper, Rows: total}},
				Degraded: true,
			}
		}

		windows = append(windows, Window{Lower: lo, Upper: hi, Rows: rows})
		cursor = hi

		if cursor < upper {
			remaining, err = count(cursor, upper)
			if err != nil {
				return full(err)
			}
		}
	}

	return &ProbeOutcome{Windows: windows}
}

// midpoint bisects a window at its value midpoint, not its row midpoint.
func midpoint(lower, upper, literal, layout string) (string, bool) {
	if literal == "epoch" {
		lo, err1 := strconv.ParseInt(lower, 10, 64)
		hi, err2 := strconv.ParseInt(upper, 10, 64)
		if err1 != nil || err2 != nil || hi <= lo {
			return "", false
		}
		return strconv.FormatInt(lo+(hi-lo)/2, 10), true
	}

	lo, err1 := time.Parse(layout, lower)
	hi, err2 := time.Parse(layout, upper)
	if err1 != nil || err2 != nil || !hi.After(lo) {
		return "", false
	}
	mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
	return mid.UTC().Format(layout), true
}
