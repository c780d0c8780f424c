package staging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func envelopes(n int, sliceID string) []RecordEnvelope {
	out := make([]RecordEnvelope, n)
	for i := range out {
		out[i] = RecordEnvelope{
			Source:  SourceRef{EndpointID: "ep-1", UnitID: "issues"},
			SliceID: sliceID,
			Payload: map[string]any{"id": i, "body": "payload"},
		}
	}
	return out
}

func TestMemoryProviderRoundTrip(t *testing.T) {
	p := NewMemoryProvider(0)
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &PutBatchRequest{SliceID: "project-eng", Records: envelopes(3, "project-eng")})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if res.Stats.Records != 3 || res.Stats.Bytes <= 0 {
		t.Errorf("stats = %+v", res.Stats)
	}

	refs, err := p.ListBatches(ctx, res.StageRef, "project-eng")
	if err != nil || len(refs) != 1 {
		t.Fatalf("ListBatches: refs=%v err=%v", refs, err)
	}

	got, err := p.GetBatch(ctx, res.StageRef, res.BatchRef)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got) != 3 || got[0].Source.UnitID != "issues" {
		t.Errorf("round trip lost data: %+v", got)
	}

	if err := p.FinalizeStage(ctx, res.StageRef); err != nil {
		t.Fatalf("FinalizeStage: %v", err)
	}
	if _, err := p.GetBatch(ctx, res.StageRef, res.BatchRef); err == nil {
		t.Error("finalized stage still readable")
	}
}

func TestMemoryProviderEnforcesCap(t *testing.T) {
	p := NewMemoryProvider(64)
	_, err := p.PutBatch(context.Background(), &PutBatchRequest{SliceID: "s", Records: envelopes(10, "s")})
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected staging Error, got %v", err)
	}
	if se.Code != CodeStageTooLarge || se.Retryable {
		t.Errorf("code=%s retryable=%v", se.Code, se.Retryable)
	}
}

func TestObjectProviderRoundTrip(t *testing.T) {
	p := NewObjectStoreProvider(t.TempDir())
	ctx := context.Background()

	first, err := p.PutBatch(ctx, &PutBatchRequest{SliceID: "space-docs", Records: envelopes(2, "space-docs")})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	second, err := p.PutBatch(ctx, &PutBatchRequest{StageRef: first.StageRef, SliceID: "space-docs", BatchSeq: 1, Records: envelopes(2, "space-docs")})
	if err != nil {
		t.Fatalf("second PutBatch: %v", err)
	}
	if second.StageRef != first.StageRef {
		t.Errorf("stage ref changed across batches: %q vs %q", first.StageRef, second.StageRef)
	}

	refs, err := p.ListBatches(ctx, first.StageRef, "space-docs")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 batches, got %v", refs)
	}

	got, err := p.GetBatch(ctx, first.StageRef, first.BatchRef)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got) != 2 || got[0].SliceID != "space-docs" {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestObjectProviderStagePath(t *testing.T) {
	root := t.TempDir()
	p := NewObjectStoreProvider(root)

	res, err := p.PutBatch(context.Background(), &PutBatchRequest{SliceID: "space-docs", Records: envelopes(1, "space-docs")})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	_, stageID := ParseStageRef(res.StageRef)
	dir := p.StagePath(stageID)
	if dir != filepath.Join(root, stageID) {
		t.Errorf("stage path = %q", dir)
	}
	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		t.Errorf("stage dir missing: %v", statErr)
	}
}

func TestStageRecordsWritesTempFile(t *testing.T) {
	handle, err := StageRecords([]map[string]any{{"id": "E-1"}}, "")
	if err != nil {
		t.Fatalf("StageRecords: %v", err)
	}
	defer Cleanup(handle.Path)

	data, err := os.ReadFile(handle.Path)
	if err != nil {
		t.Fatalf("read handle file: %v", err)
	}
	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil || len(got) != 1 || got[0]["id"] != "E-1" {
		t.Errorf("handle round trip = %v err=%v", got, err)
	}

	Cleanup(handle.Path)
	if _, statErr := os.Stat(handle.Path); statErr == nil {
		t.Error("cleanup left the spill file behind")
	}
}

func TestSelectProviderPrefersObjectStoreForLargeRuns(t *testing.T) {
	mem := NewMemoryProvider(0)
	obj := NewObjectStoreProvider(t.TempDir())
	reg := NewRegistry(mem, obj)

	p, err := reg.SelectProvider(ProviderMemory, DefaultLargeRunThresholdBytes+1, 0)
	if err != nil {
		t.Fatalf("SelectProvider: %v", err)
	}
	if p.ID() != ProviderObjectStore {
		t.Errorf("large run selected %q, want object store", p.ID())
	}

	p, err = reg.SelectProvider("", 100, 0)
	if err != nil {
		t.Fatalf("SelectProvider small: %v", err)
	}
	if p.ID() != ProviderMemory {
		t.Errorf("small run selected %q, want memory", p.ID())
	}
}

func TestSelectProviderUnavailable(t *testing.T) {
	reg := NewRegistry(NewMemoryProvider(0))
	_, err := reg.SelectProvider("", DefaultLargeRunThresholdBytes+1, 0)
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("expected staging Error, got %v", err)
	}
	if se.Code != CodeStagingUnavailable || !se.Retryable {
		t.Errorf("code=%s retryable=%v", se.Code, se.Retryable)
	}
}

func TestWrapRecordsPromotesEntityKind(t *testing.T) {
	recs := []map[string]any{
		{"entityKind": "work.item", "id": "ENG-1"},
		{"id": "row-2"},
	}
	wrapped := WrapRecords(recs, SourceRef{EndpointID: "ep-1", UnitID: "issues"}, "project-eng", "eng", "2024-05-04T00:00:00Z")

	if wrapped[0].EntityKind != "work.item" {
		t.Errorf("entity kind = %q, want work.item", wrapped[0].EntityKind)
	}
	if wrapped[1].EntityKind != "" {
		t.Errorf("untagged record got kind %q", wrapped[1].EntityKind)
	}
	if wrapped[0].PartitionKey != "eng" || wrapped[0].SliceID != "project-eng" {
		t.Errorf("envelope = %+v", wrapped[0])
	}
}

func TestStageRefRoundTrip(t *testing.T) {
	ref := MakeStageRef(ProviderMinIO, "stage-abc")
	provider, stageID := ParseStageRef(ref)
	if provider != ProviderMinIO || stageID != "stage-abc" {
		t.Errorf("parsed %q/%q", provider, stageID)
	}

	provider, stageID = ParseStageRef("bare-id")
	if provider != "" || stageID != "bare-id" {
		t.Errorf("bare ref parsed %q/%q", provider, stageID)
	}
}
