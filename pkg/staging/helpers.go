package staging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// cloneEnvelopes shallow-copies an envelope slice to avoid caller mutation.
func cloneEnvelopes(in []RecordEnvelope) []RecordEnvelope {
	out := make([]RecordEnvelope, len(in))
	copy(out, in)
	return out
}

// envelopeSizeBytes approximates payload size using JSONL encoding.
func envelopeSizeBytes(records []RecordEnvelope) (int64, error) {
	buf := &bytes.Buffer{}
	if err := writeJSONLines(buf, records, false); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// EstimateBytes reports the JSONL size of raw records after wrapping, for
// provider selection. Estimation failure returns zero; selection then takes
// the small-run path.
func EstimateBytes(records []map[string]any) int64 {
	if len(records) == 0 {
		return 0
	}
	envelopes := make([]RecordEnvelope, len(records))
	for i, rec := range records {
		envelopes[i] = RecordEnvelope{Payload: rec}
	}
	size, err := envelopeSizeBytes(envelopes)
	if err != nil {
		return 0
	}
	return size
}

// WrapRecords lifts raw connector records into envelopes for staging. A
// payload-level "entityKind" tag, when present, is promoted onto the envelope
// so downstream compaction can partition by kind.
func WrapRecords(records []map[string]any, source SourceRef, sliceID, partitionKey, observedAt string) []RecordEnvelope {
	out := make([]RecordEnvelope, len(records))
	for i, rec := range records {
		kind, _ := rec["entityKind"].(string)
		out[i] = RecordEnvelope{
			Source:       source,
			EntityKind:   kind,
			PartitionKey: partitionKey,
			SliceID:      sliceID,
			Payload:      rec,
			ObservedAt:   observedAt,
		}
	}
	return out
}

func writeJSONLines(w io.Writer, records []RecordEnvelope, compress bool) error {
	var writer io.Writer = w
	var gz *gzip.Writer

	if compress {
		gz = gzip.NewWriter(w)
		writer = gz
	}

	enc := json.NewEncoder(writer)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			if gz != nil {
				gz.Close()
			}
			return fmt.Errorf("encode record: %w", err)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("flush gzip: %w", err)
		}
	}
	return nil
}

func readJSONLines(r io.Reader) ([]RecordEnvelope, error) {
	dec := json.NewDecoder(r)
	var records []RecordEnvelope
	for dec.More() {
		var rec RecordEnvelope
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
