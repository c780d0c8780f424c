package minio

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/nucleus/ingest-core/pkg/staging"
)

var _ staging.Provider = (*StagingProvider)(nil)

// StagingProvider writes staged JSONL.GZ batches into a MinIO bucket.
type StagingProvider struct {
	store     ObjectStore
	bucket    string
	tenantID  string
	stageRoot string
}

// NewStagingProvider constructs a MinIO-backed staging provider. With a nil
// store it dials the configured endpoint, falling back to the local store
// for file:// endpoints or when the S3 client cannot be built.
func NewStagingProvider(cfg *Config, store ObjectStore) (*StagingProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket is required for staging"))
	}

	if store == nil {
		if cfg.isRemote() {
			if s3, err := NewS3Client(cfg); err == nil {
				store = s3
			}
		}
		if store == nil {
			store = NewLocalStore(cfg.objectRoot())
		}
	}

	if exists, err := store.BucketExists(context.Background(), cfg.Bucket); err != nil {
		return nil, err
	} else if !exists {
		if err := store.EnsureBucket(context.Background(), cfg.Bucket); err != nil {
			return nil, wrapError(CodeBucketNotFound, false, fmt.Errorf("bucket %s not found: %w", cfg.Bucket, err))
		}
	}

	tenant := strings.TrimPrefix(cfg.TenantID, "/")
	if tenant == "" {
		tenant = defaultTenantID
	}

	return &StagingProvider{
		store:     store,
		bucket:    cfg.Bucket,
		tenantID:  tenant,
		stageRoot: "staging",
	}, nil
}

func (p *StagingProvider) ID() string {
	return staging.ProviderMinIO
}

func (p *StagingProvider) PutBatch(ctx context.Context, req *staging.PutBatchRequest) (*staging.PutBatchResult, error) {
	if req == nil {
		return nil, wrapError(CodeStagingWriteFailed, false, fmt.Errorf("request is required"))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageRef := req.StageRef
	if req.StageID != "" {
		stageRef = staging.MakeStageRef(p.ID(), req.StageID)
	}
	if stageRef == "" {
		stageRef = staging.MakeStageRef(p.ID(), staging.NewStageID())
	}
	_, stageID := staging.ParseStageRef(stageRef)
	if stageID == "" {
		stageID = staging.NewStageID()
		stageRef = staging.MakeStageRef(p.ID(), stageID)
	}

	batchSeq := req.BatchSeq
	if batchSeq <= 0 {
		if existing, err := p.ListBatches(ctx, stageRef, req.SliceID); err == nil {
			batchSeq = len(existing)
		}
	}

	buf := &bytes.Buffer{}
	if err := encodeEnvelopes(buf, req.Records); err != nil {
		return nil, wrapError(CodeStagingWriteFailed, true, err)
	}

	batchRef := joinPath(req.SliceID, fmt.Sprintf("%06d.jsonl.gz", batchSeq))
	objectKey := joinPath(p.stageRoot, p.tenantID, stageID, batchRef)

	if err := p.store.PutObject(ctx, p.bucket, objectKey, buf.Bytes()); err != nil {
		return nil, err
	}

	return &staging.PutBatchResult{
		StageRef: stageRef,
		BatchRef: batchRef,
		Stats: staging.BatchStats{
			Records: len(req.Records),
			Bytes:   int64(buf.Len()),
		},
	}, nil
}

func (p *StagingProvider) ListBatches(ctx context.Context, stageRef string, sliceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := staging.ParseStageRef(stageRef)
	stagePrefix := joinPath(p.stageRoot, p.tenantID, stageID)
	prefix := stagePrefix
	if sliceID != "" {
		prefix = joinPath(prefix, sliceID)
	}

	keys, err := p.store.ListPrefix(ctx, p.bucket, prefix)
	if err != nil {
		return nil, err
	}

	var batchRefs []string
	for _, key := range keys {
		trimmed := strings.TrimPrefix(key, stagePrefix+"/")
		if sliceID != "" && !strings.HasPrefix(trimmed, sliceID+"/") {
			continue
		}
		batchRefs = append(batchRefs, trimmed)
	}
	sort.Strings(batchRefs)
	return batchRefs, nil
}

func (p *StagingProvider) GetBatch(ctx context.Context, stageRef string, batchRef string) ([]staging.RecordEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, stageID := staging.ParseStageRef(stageRef)
	key := joinPath(p.stageRoot, p.tenantID, stageID, batchRef)

	data, err := p.store.GetObject(ctx, p.bucket, key)
	if err != nil {
		return nil, err
	}
	return decodeEnvelopes(bytes.NewReader(data))
}

// FinalizeStage leaves staged artifacts in place for downstream compaction
// and debugging.
func (p *StagingProvider) FinalizeStage(ctx context.Context, stageRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = stageRef
	return nil
}

func encodeEnvelopes(w io.Writer, records []staging.RecordEnvelope) error {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = gz.Close()
			return err
		}
	}
	return gz.Close()
}

func decodeEnvelopes(r io.Reader) ([]staging.RecordEnvelope, error) {
	var reader io.Reader = r
	if gz, err := gzip.NewReader(r); err == nil {
		defer gz.Close()
		reader = gz
	}
	dec := json.NewDecoder(reader)
	var records []staging.RecordEnvelope
	for dec.More() {
		var rec staging.RecordEnvelope
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
