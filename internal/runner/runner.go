// Package runner executes ingestion plans against source endpoints and
// evolves checkpoints from the completed slice prefix.
package runner

import (
	"context"
	"log"

	"github.com/nucleus/ingest-core/internal/checkpoint"
	"github.com/nucleus/ingest-core/internal/core"
	"github.com/nucleus/ingest-core/internal/endpoint"
	"github.com/nucleus/ingest-core/internal/planner"
	"github.com/nucleus/ingest-core/pkg/staging"
)

const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// Runner plans and executes single-unit ingestion runs. Strategies and
// staging providers are explicit dependencies so tests can supply isolated
// registries.
type Runner struct {
	strategies    *planner.Registry
	staging       *staging.Registry
	largeRunBytes int64
}

// New creates a runner. A nil staging registry disables staging: results
// carry records inline.
func New(strategies *planner.Registry, stagingReg *staging.Registry) *Runner {
	if strategies == nil {
		strategies = planner.DefaultStrategies()
	}
	return &Runner{
		strategies:    strategies,
		staging:       stagingReg,
		largeRunBytes: staging.DefaultLargeRunThresholdBytes,
	}
}

// SetLargeRunThreshold overrides the payload size above which staging must
// go through an object-backed provider. Non-positive keeps the default.
func (r *Runner) SetLargeRunThreshold(bytes int64) {
	if bytes > 0 {
		r.largeRunBytes = bytes
	}
}

// sliceBatch pairs one executed slice with the records it produced, for the
// staging hand-off after execution.
type sliceBatch struct {
	slice   *endpoint.IngestionSlice
	records []map[string]any
}

// RunUnit executes one ingestion run: plan, execute slices in order, advance
// the checkpoint over the completed prefix, stage the output.
//
// On a mid-plan slice failure both return values are set: the result carries
// the checkpoint advanced through every slice before the failing one, and
// the error is a core.SliceExecutionError naming the failing slice. The
// caller persists the partial checkpoint and the next run resumes from it.
func (r *Runner) RunUnit(ctx context.Context, src endpoint.SourceEndpoint, req *core.IngestionUnitRequest) (*core.IngestionUnitResult, error) {
	if req == nil {
		return nil, core.NewPlanningError("request required")
	}

	unit, err := r.resolveUnit(ctx, src, req.UnitID)
	if err != nil {
		return nil, err
	}

	caps := src.Capabilities()
	mode := req.Mode
	if mode == "" {
		mode = ModeIncremental
	}
	switch mode {
	case ModeIncremental:
		if caps == nil || !caps.SupportsIncremental || !unit.SupportsIncremental {
			return nil, core.NewPlanningError("unit %s does not support incremental mode", unit.UnitID)
		}
	case ModeFull:
		// Full mode replans from the beginning of time regardless of any
		// stored checkpoint.
	default:
		return nil, core.NewPlanningError("unknown mode %q", mode)
	}

	family := src.Descriptor().Family
	strategy, ok := r.strategies.Get(family)
	if !ok {
		return nil, core.NewPlanningError("no slicing strategy for family %q", family)
	}

	policy, err := planner.ParsePolicy(req.Policy)
	if err != nil {
		return nil, core.NewPlanningError("invalid policy: %v", err)
	}

	prior := checkpoint.Value(req.Checkpoint)
	planFrom := prior
	if mode == ModeFull {
		planFrom = nil
	}

	planReq := &planner.PlanRequest{
		Unit:            unit,
		Checkpoint:      planFrom,
		Policy:          policy,
		TargetSliceSize: targetSliceSize(policy, caps),
	}
	if caps != nil && caps.SupportsCountProbe {
		if probe, ok := src.(endpoint.CountProbe); ok {
			planReq.Prober = probe
		}
	}

	plan, err := strategy.BuildPlan(ctx, planReq)
	if err != nil {
		return nil, err
	}
	log.Printf("[runner] unit=%s strategy=%s slices=%d", unit.UnitID, plan.Strategy, len(plan.Slices))

	result := &core.IngestionUnitResult{
		Stats: &core.RunStats{SlicesTotal: len(plan.Slices)},
	}

	var (
		completed []planner.CompletedSlice
		batches   []sliceBatch
		transient = req.TransientState
	)

	finish := func(execErr error) (*core.IngestionUnitResult, error) {
		if len(completed) > 0 {
			next := strategy.AdvanceCheckpoint(prior, completed)
			result.NewCheckpoint = map[string]any(next)
		}
		result.TransientState = transient
		r.stageOrInline(ctx, req, unit, batches, result)
		return result, execErr
	}

	for i, slice := range plan.Slices {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(&core.SliceExecutionError{
				Position: i, SliceID: slice.SliceID, Lower: slice.Lower, Upper: slice.Upper, Err: ctxErr,
			})
		}

		records, observed, nextTransient, readErr := r.readSlice(ctx, src, unit.UnitID, slice, transient)
		if readErr != nil {
			return finish(&core.SliceExecutionError{
				Position: i, SliceID: slice.SliceID, Lower: slice.Lower, Upper: slice.Upper, Err: readErr,
			})
		}
		if nextTransient != nil {
			transient = nextTransient
		}

		completed = append(completed, planner.CompletedSlice{
			Slice:          slice,
			ObservedMarker: observed,
			RecordCount:    int64(len(records)),
		})
		if len(records) > 0 {
			batches = append(batches, sliceBatch{slice: slice, records: records})
		}

		result.Stats.SlicesDone++
		result.Stats.RecordCount += int64(len(records))
		if key, ok := slice.Params["partitionKey"].(string); ok && key != "" {
			if result.Stats.PerPartition == nil {
				result.Stats.PerPartition = make(map[string]int64)
			}
			result.Stats.PerPartition[key] += int64(len(records))
		}
	}

	return finish(nil)
}

// resolveUnit matches the requested unit ID against the endpoint's listing.
func (r *Runner) resolveUnit(ctx context.Context, src endpoint.SourceEndpoint, unitID string) (*endpoint.UnitDescriptor, error) {
	if unitID == "" {
		return nil, core.NewPlanningError("unitId required")
	}
	units, err := src.ListUnits(ctx)
	if err != nil {
		return nil, &core.PlanningError{Reason: "list units", Err: err}
	}
	for _, u := range units {
		if u.UnitID == unitID {
			return u, nil
		}
	}
	return nil, core.NewPlanningError("unknown unit %q on endpoint %s", unitID, src.ID())
}

// readSlice drains one slice's iterator and harvests the optional marker and
// transient-state refinements.
func (r *Runner) readSlice(ctx context.Context, src endpoint.SourceEndpoint, unitID string, slice *endpoint.IngestionSlice, transient map[string]any) (records []map[string]any, observed string, nextTransient map[string]any, err error) {
	it, err := src.ReadSlice(ctx, &endpoint.SliceReadRequest{
		UnitID:         unitID,
		Slice:          slice,
		TransientState: transient,
	})
	if err != nil {
		return nil, "", nil, err
	}
	defer it.Close()

	for it.Next() {
		records = append(records, it.Value())
	}
	if iterErr := it.Err(); iterErr != nil {
		return nil, "", nil, iterErr
	}

	if mo, ok := it.(endpoint.MarkerObserver); ok {
		observed = mo.ObservedMarker()
	}
	if tc, ok := it.(endpoint.TransientCarrier); ok {
		nextTransient = tc.TransientState()
	}
	return records, observed, nextTransient, nil
}

// stageOrInline hands the run output to a staging provider. Small payloads
// stay inline unless the request names a provider; staging failure is never
// fatal, the result falls back to inline records or a temp-file spill.
func (r *Runner) stageOrInline(ctx context.Context, req *core.IngestionUnitRequest, unit *endpoint.UnitDescriptor, batches []sliceBatch, result *core.IngestionUnitResult) {
	var all []map[string]any
	for _, b := range batches {
		all = append(all, b.records...)
	}
	if len(all) == 0 {
		return
	}

	size := staging.EstimateBytes(all)
	if req.StagingProviderID == "" && size <= staging.MaxInlineBytes {
		result.Records = all
		return
	}

	if r.staging == nil {
		r.inlineOrSpill(all, size, result)
		return
	}

	provider, err := r.staging.SelectProvider(req.StagingProviderID, size, r.largeRunBytes)
	if err != nil {
		log.Printf("[runner] staging unavailable: %v", err)
		r.inlineOrSpill(all, size, result)
		return
	}

	stageID := staging.NewStageID()
	stageRef := staging.MakeStageRef(provider.ID(), stageID)
	source := staging.SourceRef{
		EndpointID:   req.EndpointID,
		SourceFamily: unit.Kind,
		UnitID:       unit.UnitID,
	}
	for _, b := range batches {
		partition, _ := b.slice.Params["partitionKey"].(string)
		envelopes := staging.WrapRecords(b.records, source, b.slice.SliceID, partition, b.slice.Upper)
		if _, putErr := provider.PutBatch(ctx, &staging.PutBatchRequest{
			StageRef: stageRef,
			SliceID:  b.slice.SliceID,
			Records:  envelopes,
		}); putErr != nil {
			log.Printf("[runner] staging batch for slice %s failed: %v", b.slice.SliceID, putErr)
			r.inlineOrSpill(all, size, result)
			return
		}
	}

	result.StageRef = stageRef
	result.StagingProviderID = provider.ID()
	if sp, ok := provider.(staging.StagePather); ok {
		result.StagingPath = sp.StagePath(stageID)
	}
	result.Records = nil
}

// inlineOrSpill degrades a run that could not stage: small payloads return
// inline, oversized payloads spill to a temp file referenced by StagingPath.
func (r *Runner) inlineOrSpill(all []map[string]any, size int64, result *core.IngestionUnitResult) {
	if size <= staging.MaxInlineBytes {
		result.Records = all
		return
	}
	handle, err := staging.StageRecords(all, "")
	if err != nil || handle == nil {
		log.Printf("[runner] temp spill failed, returning records inline: %v", err)
		result.Records = all
		return
	}
	log.Printf("[runner] staged %d bytes to temp file %s", size, handle.Path)
	result.StagingPath = handle.Path
}

// targetSliceSize resolves the effective slice-size hint: an explicit policy
// value wins, then the endpoint's default fetch size.
func targetSliceSize(policy *planner.Policy, caps *endpoint.Capabilities) int64 {
	if policy != nil && policy.TargetSliceSize > 0 {
		return policy.TargetSliceSize
	}
	if caps != nil && caps.DefaultFetchSize > 0 {
		return int64(caps.DefaultFetchSize)
	}
	return 0
}
