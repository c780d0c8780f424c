// Package endpoint defines the capability contract that all source
// connector families implement.
//
// Architecture:
//
//	Endpoint        - Base contract (ID, Descriptor, Capabilities, ValidateConfig)
//	SourceEndpoint  - Read data (ListUnits, ReadSlice)
//	CountProbe      - Row-count probing between bounds (adaptive slicing)
//
// Callers never branch on the concrete family type: the descriptor's Family
// selects a slicing strategy, and ReadSlice interprets the opaque slice
// bounds that family's strategy produced.
package endpoint

import "context"

// Endpoint is the base contract all connectors implement.
type Endpoint interface {
	// ID returns the unique template identifier (e.g., "jdbc.postgres", "http.jira").
	ID() string

	// Descriptor returns metadata about this endpoint type, including the
	// family identifier used for strategy selection.
	Descriptor() *Descriptor

	// Capabilities returns the set of supported operations.
	Capabilities() *Capabilities

	// ValidateConfig tests configuration validity and connectivity.
	ValidateConfig(ctx context.Context, config map[string]any) (*ValidationResult, error)

	// Close releases any resources held by the endpoint.
	Close() error
}

// SourceEndpoint can enumerate units and read bounded slices from them.
type SourceEndpoint interface {
	Endpoint

	// ListUnits returns the logical datasets this endpoint exposes.
	ListUnits(ctx context.Context) ([]*UnitDescriptor, error)

	// ReadSlice streams the records covered by one slice. Coverage is
	// half-open (lower, upper]: the lower bound was ingested by the run
	// that produced it. Returns an Iterator that must be closed after use.
	ReadSlice(ctx context.Context, req *SliceReadRequest) (Iterator[Record], error)
}

// CountProbe endpoints can cheaply count rows between incremental bounds.
// The range strategy uses it to bound slice width by actual row volume.
type CountProbe interface {
	// CountBetween returns the row count in (lower, upper] for a unit.
	CountBetween(ctx context.Context, unitID, lower, upper string) (int64, error)
}

// MarkerObserver is an optional refinement of Iterator: after the iterator is
// drained, ObservedMarker reports the highest incremental marker actually
// seen, letting the runner advance the checkpoint past the planned upper
// bound when the source returned fresher rows.
type MarkerObserver interface {
	ObservedMarker() string
}

// TransientCarrier is an optional refinement of Iterator for strategies that
// need memory beyond the checkpoint (e.g. a delta token or an in-flight
// pagination cursor). The runner round-trips the state to the next run.
type TransientCarrier interface {
	TransientState() map[string]any
}
