package jdbc

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nucleus/ingest-core/internal/endpoint"
)

// rowIterator streams sql.Rows as endpoint records and tracks the highest
// incremental marker seen.
type rowIterator struct {
	rows      *sql.Rows
	cols      []string
	markerCol string

	current  endpoint.Record
	observed string
	err      error
}

var _ endpoint.MarkerObserver = (*rowIterator)(nil)

func (it *rowIterator) Next() bool {
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}

	values := make([]any, len(it.cols))
	ptrs := make([]any, len(it.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = err
		return false
	}

	record := make(endpoint.Record, len(it.cols))
	for i, col := range it.cols {
		record[col] = values[i]
	}
	it.current = record

	if it.markerCol != "" {
		if marker := markerString(record[it.markerCol]); marker > it.observed {
			it.observed = marker
		}
	}
	return true
}

func (it *rowIterator) Value() endpoint.Record { return it.current }
func (it *rowIterator) Err() error             { return it.err }
func (it *rowIterator) Close() error           { return it.rows.Close() }

// ObservedMarker reports the highest incremental value drained so far.
func (it *rowIterator) ObservedMarker() string { return it.observed }

// markerString renders a scanned incremental value in the layout the
// planner compares with.
func markerString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.UTC().Format("2006-01-02 15:04:05")
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
