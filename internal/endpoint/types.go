package endpoint

// Record represents a single extracted record as key-value pairs.
type Record = map[string]any

// Iterator provides streaming access to records.
type Iterator[T any] interface {
	// Next advances to the next record. Returns false when done or on error.
	Next() bool

	// Value returns the current record. Only valid after Next() returns true.
	Value() T

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources. Must be called when done.
	Close() error
}

// UnitDescriptor identifies one logical dataset exposed by an endpoint.
// Immutable; produced per ListUnits call.
type UnitDescriptor struct {
	UnitID              string
	Name                string
	Kind                string // "table", "view", "entity", "folder"
	SupportsIncremental bool
	IncrementalColumn   string
	IncrementalLiteral  string // "timestamp", "epoch"
	PrimaryKeys         []string
}

// IngestionSlice is one bounded, independently executable extraction task.
// Lower and Upper are opaque to the runner; only the strategy that produced
// them and the endpoint that reads them interpret the values.
type IngestionSlice struct {
	SliceID       string
	Sequence      int
	Lower         string
	Upper         string
	EstimatedRows int64
	Params        map[string]any
}

// IngestionPlan is an ordered sequence of slices for one unit. Order is
// significant: slices are applied front-to-back so a failure partway through
// leaves the checkpoint consistent with only the completed prefix.
type IngestionPlan struct {
	UnitID     string
	Strategy   string
	Slices     []*IngestionSlice
	Statistics map[string]any
}

// SliceReadRequest asks an endpoint to read one slice of a unit.
type SliceReadRequest struct {
	UnitID         string
	Slice          *IngestionSlice
	Limit          int64
	TransientState map[string]any
}
