package minio

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nucleus/ingest-core/pkg/staging"
)

func testProvider(t *testing.T) (*StagingProvider, *LocalStore) {
	t.Helper()
	store := NewLocalStore(t.TempDir())
	cfg := ParseConfig(map[string]any{
		"endpointUrl": "file:///unused",
		"bucket":      "staging-test",
		"tenantId":    "acme",
	})
	p, err := NewStagingProvider(cfg, store)
	if err != nil {
		t.Fatalf("NewStagingProvider: %v", err)
	}
	return p, store
}

func envelope(entityKind, sliceID, key string) staging.RecordEnvelope {
	return staging.RecordEnvelope{
		EntityKind:   entityKind,
		Source:       staging.SourceRef{EndpointID: "http.jira", SourceFamily: "tracker", UnitID: "issues"},
		PartitionKey: "eng",
		SliceID:      sliceID,
		Payload:      map[string]any{"issueKey": key, "summary": "fixture"},
		ObservedAt:   "2024-05-04T09:15:00Z",
	}
}

func TestPutBatchRoundTrip(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	res, err := p.PutBatch(ctx, &staging.PutBatchRequest{
		SliceID: "project-eng",
		Records: []staging.RecordEnvelope{
			envelope("work.item", "project-eng", "ENG-1"),
			envelope("work.item", "project-eng", "ENG-2"),
		},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	if res.Stats.Records != 2 || res.Stats.Bytes <= 0 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	providerID, stageID := staging.ParseStageRef(res.StageRef)
	if providerID != staging.ProviderMinIO || stageID == "" {
		t.Fatalf("stageRef = %q", res.StageRef)
	}
	if !strings.HasSuffix(res.BatchRef, ".jsonl.gz") {
		t.Fatalf("batchRef = %q", res.BatchRef)
	}

	records, err := p.GetBatch(ctx, res.StageRef, res.BatchRef)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Payload["issueKey"] != "ENG-1" || records[0].Source.EndpointID != "http.jira" {
		t.Fatalf("envelope = %+v", records[0])
	}
}

func TestPutBatchSequencesWithinStage(t *testing.T) {
	p, _ := testProvider(t)
	ctx := context.Background()

	stageRef := staging.MakeStageRef(p.ID(), staging.NewStageID())

	first, err := p.PutBatch(ctx, &staging.PutBatchRequest{
		StageRef: stageRef,
		SliceID:  "project-eng",
		Records:  []staging.RecordEnvelope{envelope("work.item", "project-eng", "ENG-1")},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}
	second, err := p.PutBatch(ctx, &staging.PutBatchRequest{
		StageRef: stageRef,
		SliceID:  "project-eng",
		Records:  []staging.RecordEnvelope{envelope("work.item", "project-eng", "ENG-2")},
	})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	if first.BatchRef != "project-eng/000000.jsonl.gz" {
		t.Fatalf("first batchRef = %q", first.BatchRef)
	}
	if second.BatchRef != "project-eng/000001.jsonl.gz" {
		t.Fatalf("second batchRef = %q", second.BatchRef)
	}

	refs, err := p.ListBatches(ctx, stageRef, "")
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %v", refs)
	}

	engOnly, err := p.ListBatches(ctx, stageRef, "project-eng")
	if err != nil {
		t.Fatalf("ListBatches filtered: %v", err)
	}
	if len(engOnly) != 2 {
		t.Fatalf("filtered refs = %v", engOnly)
	}
}

func TestGetBatchMissingObject(t *testing.T) {
	p, _ := testProvider(t)

	_, err := p.GetBatch(context.Background(), staging.MakeStageRef(p.ID(), "stage-missing"), "gone/000000.jsonl.gz")
	var coded *Error
	if !errors.As(err, &coded) || coded.Code != CodeObjectNotFound {
		t.Fatalf("expected %s, got %v", CodeObjectNotFound, err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := ParseConfig(map[string]any{})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing endpointUrl")
	}

	cfg = ParseConfig(map[string]any{"endpointUrl": "http://localhost:9000"})
	var coded *Error
	if err := cfg.Validate(); !errors.As(err, &coded) || coded.Code != CodeAuthInvalid {
		t.Fatalf("expected %s for missing credentials, got %v", CodeAuthInvalid, err)
	}

	cfg = ParseConfig(map[string]any{"endpointUrl": "file:///tmp/store"})
	if err := cfg.Validate(); err != nil {
		t.Fatalf("file endpoint should not require credentials: %v", err)
	}
	if cfg.Bucket != defaultBucket || cfg.TenantID != defaultTenantID {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}
