package staging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Handle describes a staged payload reference for callers that expect a
// file path instead of a stage ref.
type Handle struct {
	Path       string `json:"path"`
	ProviderID string `json:"providerId,omitempty"`
	StageRef   string `json:"stageRef,omitempty"`
	BatchRef   string `json:"batchRef,omitempty"`
}

// StageRecords writes records to a temp file and returns a lightweight
// handle. The runner spills oversized payloads through it when no staging
// provider can take them.
func StageRecords(records any, providerID string) (*Handle, error) {
	if records == nil {
		return nil, nil
	}

	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}

	filename := fmt.Sprintf("ingest-records-%s.json", uuid.New().String())
	path := filepath.Join(os.TempDir(), filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write staging file: %w", err)
	}

	if providerID == "" {
		providerID = ProviderMemory
	}

	return &Handle{Path: path, ProviderID: providerID}, nil
}

// Cleanup removes a staging artifact, best-effort.
func Cleanup(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
