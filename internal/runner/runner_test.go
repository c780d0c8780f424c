package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/nucleus/ingest-core/internal/core"
	"github.com/nucleus/ingest-core/internal/endpoint"
	"github.com/nucleus/ingest-core/internal/planner"
	"github.com/nucleus/ingest-core/pkg/staging"
)

// sliceIter replays canned records and reports an observed marker.
type sliceIter struct {
	recs     []endpoint.Record
	pos      int
	observed string
	failAt   int // 1-based record index to fail at, 0 disables
}

func (it *sliceIter) Next() bool {
	if it.failAt > 0 && it.pos+1 >= it.failAt {
		return false
	}
	if it.pos >= len(it.recs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIter) Value() endpoint.Record { return it.recs[it.pos-1] }

func (it *sliceIter) Err() error {
	if it.failAt > 0 && it.pos+1 >= it.failAt {
		return errors.New("source connection lost")
	}
	return nil
}

func (it *sliceIter) Close() error { return nil }

func (it *sliceIter) ObservedMarker() string { return it.observed }

// fakeTracker is a partition-family source with per-partition canned data.
type fakeTracker struct {
	byPartition map[string][]endpoint.Record
	failOn      string // partition whose read fails
	listErr     error
	reads       []string
}

func (f *fakeTracker) ID() string { return "http.tracker-test" }

func (f *fakeTracker) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{ID: f.ID(), Family: "tracker"}
}

func (f *fakeTracker) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true,
		IncrementalLiteral:  "timestamp",
	}
}

func (f *fakeTracker) ValidateConfig(context.Context, map[string]any) (*endpoint.ValidationResult, error) {
	return &endpoint.ValidationResult{Valid: true}, nil
}

func (f *fakeTracker) Close() error { return nil }

func (f *fakeTracker) ListUnits(context.Context) ([]*endpoint.UnitDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []*endpoint.UnitDescriptor{{
		UnitID:              "issues",
		Name:                "issues",
		Kind:                "collection",
		SupportsIncremental: true,
	}}, nil
}

func (f *fakeTracker) ReadSlice(_ context.Context, req *endpoint.SliceReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	key, _ := req.Slice.Params["partitionKey"].(string)
	f.reads = append(f.reads, key)
	if key == f.failOn {
		return nil, fmt.Errorf("partition %s unavailable", key)
	}
	return &sliceIter{recs: f.byPartition[key]}, nil
}

func runnerUnderTest(stagingReg *staging.Registry) *Runner {
	return New(planner.DefaultStrategies(), stagingReg)
}

func TestRunUnitHappyPath(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": {{"id": "E-1"}, {"id": "E-2"}},
		"ops": {{"id": "O-1"}},
	}}
	r := runnerUnderTest(nil)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		EndpointID: "ep-1",
		UnitID:     "issues",
		Mode:       ModeIncremental,
		Policy:     map[string]any{"partitionKeys": []string{"eng", "ops"}},
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if res.Stats.RecordCount != 3 || res.Stats.SlicesDone != 2 || res.Stats.SlicesTotal != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if res.Stats.PerPartition["eng"] != 2 || res.Stats.PerPartition["ops"] != 1 {
		t.Errorf("per-partition = %v", res.Stats.PerPartition)
	}
	if len(res.Records) != 3 {
		t.Errorf("inline records = %d", len(res.Records))
	}
	if res.NewCheckpoint == nil {
		t.Fatal("checkpoint did not advance")
	}
	cursor, ok := res.NewCheckpoint["cursor"].(map[string]any)
	if !ok {
		t.Fatalf("checkpoint = %v, want cursor tree", res.NewCheckpoint)
	}
	projects, ok := cursor["projects"].(map[string]any)
	if !ok || projects["eng"] == nil || projects["ops"] == nil {
		t.Errorf("cursor = %v, want per-project entries", cursor)
	}
}

func TestRunUnitPartialCheckpointOnSliceFailure(t *testing.T) {
	// Slices run in sorted partition order: eng succeeds, ops fails. The
	// returned checkpoint must cover exactly the completed prefix.
	src := &fakeTracker{
		byPartition: map[string][]endpoint.Record{"eng": {{"id": "E-1"}}},
		failOn:      "ops",
	}
	r := runnerUnderTest(nil)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng", "ops", "qa"}},
	})
	var se *core.SliceExecutionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SliceExecutionError, got %v", err)
	}
	if se.SliceID != "project-ops" || se.Position != 1 {
		t.Errorf("failure at %d (%s), want project-ops at 1", se.Position, se.SliceID)
	}
	if res == nil {
		t.Fatal("partial result must accompany the error")
	}
	if res.Stats.SlicesDone != 1 {
		t.Errorf("slices done = %d, want completed prefix only", res.Stats.SlicesDone)
	}

	cursor, _ := res.NewCheckpoint["cursor"].(map[string]any)
	projects, _ := cursor["projects"].(map[string]any)
	if projects == nil || projects["eng"] == nil {
		t.Fatalf("checkpoint = %v, want eng entry", res.NewCheckpoint)
	}
	if projects["ops"] != nil || projects["qa"] != nil {
		t.Errorf("checkpoint advanced past the failure: %v", projects)
	}
	// qa never ran: the failure stops the plan, not just the one slice.
	for _, read := range src.reads {
		if read == "qa" {
			t.Error("slice after the failure was executed")
		}
	}
}

func TestRunUnitNoSlicesCompletedKeepsCheckpointNil(t *testing.T) {
	src := &fakeTracker{failOn: "eng"}
	r := runnerUnderTest(nil)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng"}},
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if res.NewCheckpoint != nil {
		t.Errorf("checkpoint = %v, want nil when nothing completed", res.NewCheckpoint)
	}
}

func TestRunUnitCancellation(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{"eng": {{"id": "E-1"}}}}
	r := runnerUnderTest(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.RunUnit(ctx, src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng"}},
	})
	var se *core.SliceExecutionError
	if !errors.As(err, &se) {
		t.Fatalf("expected SliceExecutionError wrapping cancellation, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause = %v, want context.Canceled", se.Err)
	}
}

func TestRunUnitRejectsUnknownUnit(t *testing.T) {
	r := runnerUnderTest(nil)
	_, err := r.RunUnit(context.Background(), &fakeTracker{}, &core.IngestionUnitRequest{
		UnitID: "nope",
		Policy: map[string]any{"partitionKeys": []string{}},
	})
	var pe *core.PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
}

func TestRunUnitStagesRecordsWhenProviderAvailable(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": {{"id": "E-1"}, {"id": "E-2"}},
	}}
	reg := staging.NewRegistry(staging.NewMemoryProvider(0))
	r := runnerUnderTest(reg)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID:            "issues",
		Policy:            map[string]any{"partitionKeys": []string{"eng"}},
		StagingProviderID: staging.ProviderMemory,
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if res.StageRef == "" || res.StagingProviderID != staging.ProviderMemory {
		t.Fatalf("staging ref=%q provider=%q", res.StageRef, res.StagingProviderID)
	}
	if res.Records != nil {
		t.Error("staged run must not carry inline records")
	}

	provider, _ := reg.Get(res.StagingProviderID)
	refs, err := provider.ListBatches(context.Background(), res.StageRef, "project-eng")
	if err != nil || len(refs) != 1 {
		t.Fatalf("staged batches = %v err=%v", refs, err)
	}
	got, err := provider.GetBatch(context.Background(), res.StageRef, refs[0])
	if err != nil || len(got) != 2 {
		t.Fatalf("staged records = %d err=%v", len(got), err)
	}
	if got[0].PartitionKey != "eng" || got[0].Source.UnitID != "issues" {
		t.Errorf("envelope metadata = %+v", got[0])
	}
}

func TestRunUnitFallsBackInlineOnStagingFailure(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": {{"id": "E-1"}, {"id": "E-2"}, {"id": "E-3"}},
	}}
	// A 1-byte cap makes every PutBatch fail with E_STAGE_TOO_LARGE.
	reg := staging.NewRegistry(staging.NewMemoryProvider(1))
	r := runnerUnderTest(reg)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID:            "issues",
		Policy:            map[string]any{"partitionKeys": []string{"eng"}},
		StagingProviderID: staging.ProviderMemory,
	})
	if err != nil {
		t.Fatalf("staging failure must not fail the run: %v", err)
	}
	if res.StageRef != "" {
		t.Errorf("stage ref = %q after failed staging", res.StageRef)
	}
	if len(res.Records) != 3 {
		t.Errorf("inline fallback records = %d", len(res.Records))
	}
	if res.NewCheckpoint == nil {
		t.Error("checkpoint must still advance when staging degrades")
	}
}

func TestRunUnitSmallRunStaysInline(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": {{"id": "E-1"}},
	}}
	// Registry present, but no provider requested and the payload is tiny.
	r := runnerUnderTest(staging.NewRegistry(staging.NewMemoryProvider(0)))

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng"}},
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if res.StageRef != "" || res.StagingProviderID != "" {
		t.Errorf("small unrequested run staged: ref=%q provider=%q", res.StageRef, res.StagingProviderID)
	}
	if len(res.Records) != 1 {
		t.Errorf("inline records = %d, want 1", len(res.Records))
	}
}

// bulkyPartition produces records whose JSONL encoding exceeds the inline
// payload bound.
func bulkyPartition(n int) []endpoint.Record {
	filler := strings.Repeat("x", 1024)
	out := make([]endpoint.Record, n)
	for i := range out {
		out[i] = endpoint.Record{"id": fmt.Sprintf("E-%d", i), "body": filler}
	}
	return out
}

func TestRunUnitLargeRunRequiresObjectStore(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": bulkyPartition(600),
	}}
	root := t.TempDir()
	reg := staging.NewRegistry(
		staging.NewMemoryProvider(0),
		staging.NewObjectStoreProvider(root),
	)
	r := runnerUnderTest(reg)
	r.SetLargeRunThreshold(1024)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng"}},
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if res.StagingProviderID != staging.ProviderObjectStore {
		t.Fatalf("provider = %q, want object store above the threshold", res.StagingProviderID)
	}
	if !strings.HasPrefix(res.StagingPath, root) {
		t.Errorf("staging path = %q, want under %q", res.StagingPath, root)
	}
	if res.Records != nil {
		t.Error("staged run must not carry inline records")
	}
}

func TestRunUnitOversizedPayloadSpillsWithoutRegistry(t *testing.T) {
	src := &fakeTracker{byPartition: map[string][]endpoint.Record{
		"eng": bulkyPartition(600),
	}}
	r := runnerUnderTest(nil)

	res, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Policy: map[string]any{"partitionKeys": []string{"eng"}},
	})
	if err != nil {
		t.Fatalf("RunUnit: %v", err)
	}
	if res.StagingPath == "" {
		t.Fatal("oversized payload with no staging must spill to a temp file")
	}
	defer staging.Cleanup(res.StagingPath)
	if res.Records != nil {
		t.Error("spilled run must not carry inline records")
	}
	if _, statErr := os.Stat(res.StagingPath); statErr != nil {
		t.Errorf("spill file missing: %v", statErr)
	}
}

func TestRunUnitIncrementalRequiresCapability(t *testing.T) {
	src := &noIncrementalSource{fakeTracker{}}
	r := runnerUnderTest(nil)
	_, err := r.RunUnit(context.Background(), src, &core.IngestionUnitRequest{
		UnitID: "issues",
		Mode:   ModeIncremental,
	})
	var pe *core.PlanningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PlanningError, got %v", err)
	}
}

type noIncrementalSource struct{ fakeTracker }

func (s *noIncrementalSource) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{SupportsFull: true}
}
