// Package core defines the request/result models and the error taxonomy
// shared by the ingestion planner, the plan runner, and the connector
// families.
//
// The types here are the module's external contract: callers hand an
// IngestionUnitRequest to the runner and receive an IngestionUnitResult.
// Checkpoints and policies travel as generic JSON-compatible trees so the
// caller's durable store never needs to interpret them.
package core
