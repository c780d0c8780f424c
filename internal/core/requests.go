package core

// =============================================================================
// INGESTION REQUEST/RESULT MODELS
// Request and response types for ingestion unit runs.
// =============================================================================

// IngestionUnitRequest triggers one ingestion run for a single unit.
type IngestionUnitRequest struct {
	EndpointID        string
	UnitID            string
	Mode              string // "full" | "incremental"
	Checkpoint        map[string]any
	Policy            map[string]any
	StagingProviderID string
	TransientState    map[string]any
}

// RunStats aggregates per-run counters.
type RunStats struct {
	RecordCount  int64
	SlicesTotal  int
	SlicesDone   int
	PerPartition map[string]int64
}

// ToMap renders stats as a JSON-compatible tree for callers that persist them.
func (s *RunStats) ToMap() map[string]any {
	out := map[string]any{
		"recordCount": s.RecordCount,
		"slicesTotal": s.SlicesTotal,
		"slicesDone":  s.SlicesDone,
	}
	if len(s.PerPartition) > 0 {
		per := make(map[string]any, len(s.PerPartition))
		for k, v := range s.PerPartition {
			per[k] = v
		}
		out["perPartitionCounts"] = per
	}
	return out
}

// IngestionUnitResult contains one ingestion run outcome.
//
// NewCheckpoint is nil when nothing advanced. Records and StageRef are
// mutually exclusive: a successful staging hand-off clears Records.
// StagingPath is set alongside StageRef when the stage lives on local disk,
// or alone when an oversized payload spilled to a temp file because no
// provider could take it.
type IngestionUnitResult struct {
	NewCheckpoint     map[string]any
	Stats             *RunStats
	Records           []map[string]any
	StagingPath       string
	StagingProviderID string
	StageRef          string
	TransientState    map[string]any
}
