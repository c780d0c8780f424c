package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nucleus/ingest-core/pkg/staging"
)

// ArtifactResult captures the outcome of compacting a stage into columnar
// part files.
type ArtifactResult struct {
	Objects   []string
	Artifacts map[string]string
	Records   int64
	Bytes     int64
}

// ArtifactWriter compacts staged JSONL batches into parquet part files
// partitioned by entity kind and load date.
type ArtifactWriter struct {
	store  ObjectStore
	config *Config
}

// NewArtifactWriter builds a writer over an existing store.
func NewArtifactWriter(cfg *Config, store ObjectStore) (*ArtifactWriter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		store = NewLocalStore(cfg.objectRoot())
	}
	return &ArtifactWriter{store: store, config: cfg}, nil
}

// CompactStage reads every batch of a stage back from its provider and
// rewrites the payloads as snappy-compressed parquet files, one part per
// entity kind.
func (w *ArtifactWriter) CompactStage(ctx context.Context, provider staging.Provider, stageRef, sinkID, loadDate string) (*ArtifactResult, error) {
	if provider == nil {
		return nil, wrapError(CodeArtifactWriteFailed, false, fmt.Errorf("staging provider required"))
	}
	if stageRef == "" {
		return nil, wrapError(CodeArtifactWriteFailed, false, fmt.Errorf("stageRef is required"))
	}
	if sinkID == "" {
		sinkID = "dataset"
	}
	if loadDate == "" {
		loadDate = time.Now().UTC().Format("2006-01-02")
	}
	_, runID := staging.ParseStageRef(stageRef)

	batchRefs, err := provider.ListBatches(ctx, stageRef, "")
	if err != nil {
		return nil, err
	}

	byKind := make(map[string][]staging.RecordEnvelope)
	for _, batchRef := range batchRefs {
		records, getErr := provider.GetBatch(ctx, stageRef, batchRef)
		if getErr != nil {
			return nil, getErr
		}
		for _, rec := range records {
			slug := entitySlug(rec)
			byKind[slug] = append(byKind[slug], rec)
		}
	}

	kinds := make([]string, 0, len(byKind))
	for kind := range byKind {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	result := &ArtifactResult{Artifacts: map[string]string{}}
	partSeq := 0
	for _, kind := range kinds {
		records := byKind[kind]
		data, encErr := writeParquet(records)
		if encErr != nil {
			return nil, wrapError(CodeArtifactWriteFailed, true, encErr)
		}

		key := joinPath(
			w.config.BasePrefix,
			w.config.TenantID,
			sinkID,
			kind,
			fmt.Sprintf("dt=%s", loadDate),
			fmt.Sprintf("run=%s", runID),
			fmt.Sprintf("part-%06d.parquet", partSeq),
		)
		if putErr := w.store.PutObject(ctx, w.config.Bucket, key, data); putErr != nil {
			return nil, putErr
		}

		objURL := fmt.Sprintf("minio://%s/%s", w.config.Bucket, key)
		result.Objects = append(result.Objects, objURL)
		result.Artifacts[kind] = fmt.Sprintf("minio://%s/%s", w.config.Bucket, joinPath(w.config.BasePrefix, w.config.TenantID, sinkID, kind))
		result.Records += int64(len(records))
		result.Bytes += int64(len(data))
		partSeq++
	}

	return result, nil
}

func entitySlug(rec staging.RecordEnvelope) string {
	kind := rec.EntityKind
	if kind == "" {
		kind = "raw"
	}
	return strings.ReplaceAll(kind, "/", ".")
}

// writeParquet renders envelopes as one parquet buffer with the schema
// inferred from the payloads.
func writeParquet(records []staging.RecordEnvelope) ([]byte, error) {
	columns := inferColumns(records)

	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchema(columns), pfw, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			row[col.name] = col.render(rec.Payload[col.name])
		}
		line, marshalErr := json.Marshal(row)
		if marshalErr != nil {
			_ = pw.WriteStop()
			return nil, marshalErr
		}
		if writeErr := pw.Write(string(line)); writeErr != nil {
			_ = pw.WriteStop()
			return nil, writeErr
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := pfw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type parquetColumn struct {
	name     string
	physical string
}

// render coerces a payload value to the column's physical type; anything
// non-scalar falls back to its JSON text.
func (c parquetColumn) render(v any) any {
	if v == nil {
		return nil
	}
	switch c.physical {
	case "BOOLEAN":
		if b, ok := v.(bool); ok {
			return b
		}
		return nil
	case "INT64":
		switch t := v.(type) {
		case int:
			return int64(t)
		case int64:
			return t
		case float64:
			return int64(t)
		}
		return nil
	case "DOUBLE":
		switch t := v.(type) {
		case float64:
			return t
		case int:
			return float64(t)
		case int64:
			return float64(t)
		}
		return nil
	default:
		if s, ok := v.(string); ok {
			return s
		}
		text, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(text)
	}
}

// inferColumns derives a stable column set from the first non-nil value seen
// per payload key.
func inferColumns(records []staging.RecordEnvelope) []parquetColumn {
	types := make(map[string]string)
	for _, rec := range records {
		for key, val := range rec.Payload {
			if _, seen := types[key]; seen || val == nil {
				continue
			}
			types[key] = physicalType(val)
		}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	columns := make([]parquetColumn, 0, len(names))
	for _, name := range names {
		columns = append(columns, parquetColumn{name: name, physical: types[name]})
	}
	return columns
}

func physicalType(v any) string {
	switch t := v.(type) {
	case bool:
		return "BOOLEAN"
	case int, int64:
		return "INT64"
	case float64:
		if t == float64(int64(t)) {
			return "INT64"
		}
		return "DOUBLE"
	default:
		return "BYTE_ARRAY"
	}
}

func parquetSchema(columns []parquetColumn) string {
	fields := make([]map[string]string, 0, len(columns))
	for _, col := range columns {
		tag := fmt.Sprintf("name=%s, type=%s, repetitiontype=OPTIONAL", col.name, col.physical)
		if col.physical == "BYTE_ARRAY" {
			tag = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", col.name)
		}
		fields = append(fields, map[string]string{"Tag": tag})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": fields,
	}
	b, _ := json.Marshal(out)
	return string(b)
}
