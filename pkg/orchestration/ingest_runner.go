package orchestration

import (
	"context"
	"fmt"
	"os"
	"time"

	minioConnector "github.com/nucleus/ingest-core/internal/connector/minio"
	"github.com/nucleus/ingest-core/internal/config"
	"github.com/nucleus/ingest-core/internal/core"
	"github.com/nucleus/ingest-core/internal/endpoint"
	"github.com/nucleus/ingest-core/internal/runner"
	"github.com/nucleus/ingest-core/pkg/staging"
)

// runnerDefaults holds environment defaults applied when a request leaves a
// knob unset.
var runnerDefaults = config.LoadRunnerConfig()

// IngestionRunRequest carries one unit-run invocation: which endpoint to
// instantiate, which unit to pull, and the prior checkpoint.
type IngestionRunRequest struct {
	EndpointID     string
	EndpointConfig map[string]any
	UnitID         string
	Mode           string
	Checkpoint     map[string]any
	Policy         map[string]any
	TransientState map[string]any

	StagingProviderID string

	// CompactArtifacts rewrites the staged batches as parquet part files
	// after a successful staged run.
	CompactArtifacts bool
	SinkID           string
	LoadDate         string
}

// IngestionRunResult is the runner result plus optional artifact locations.
type IngestionRunResult struct {
	*core.IngestionUnitResult
	Artifacts map[string]string
}

// RunIngestion creates the endpoint, runs one ingestion unit against it, and
// optionally compacts the staged output into columnar artifacts.
func RunIngestion(ctx context.Context, req IngestionRunRequest) (*IngestionRunResult, error) {
	if req.EndpointID == "" {
		return nil, fmt.Errorf("endpointId is required")
	}
	endpointConfig := req.EndpointConfig
	if endpointConfig == nil {
		endpointConfig = map[string]any{}
	}

	src, err := endpoint.DefaultRegistry().CreateSource(req.EndpointID, endpointConfig)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if req.StagingProviderID == "" {
		req.StagingProviderID = runnerDefaults.StagingProviderID
	}

	run := runner.New(nil, DefaultStagingRegistry())
	run.SetLargeRunThreshold(config.LoadStagingConfig().LargeRunBytes)
	unitResult, runErr := run.RunUnit(ctx, src, &core.IngestionUnitRequest{
		EndpointID:        req.EndpointID,
		UnitID:            req.UnitID,
		Mode:              req.Mode,
		Checkpoint:        req.Checkpoint,
		Policy:            withDefaultPolicy(req.Policy, runnerDefaults),
		StagingProviderID: req.StagingProviderID,
		TransientState:    req.TransientState,
	})
	if unitResult == nil {
		return nil, runErr
	}

	result := &IngestionRunResult{IngestionUnitResult: unitResult}
	if runErr != nil || !req.CompactArtifacts || unitResult.StageRef == "" {
		return result, runErr
	}

	artifacts, compactErr := compactArtifacts(ctx, unitResult.StageRef, req.SinkID, req.LoadDate)
	if compactErr != nil {
		// The stage itself is intact; compaction can rerun later.
		return result, fmt.Errorf("compact artifacts: %w", compactErr)
	}
	result.Artifacts = artifacts
	return result, nil
}

// withDefaultPolicy fills the environment targetSliceSize default into a
// policy that does not set one. The caller's map is never mutated.
func withDefaultPolicy(policy map[string]any, defaults *config.RunnerConfig) map[string]any {
	if defaults == nil || defaults.TargetSliceSize <= 0 {
		return policy
	}
	if _, ok := policy["targetSliceSize"]; ok {
		return policy
	}
	merged := make(map[string]any, len(policy)+1)
	for k, v := range policy {
		merged[k] = v
	}
	merged["targetSliceSize"] = defaults.TargetSliceSize
	return merged
}

func compactArtifacts(ctx context.Context, stageRef, sinkID, loadDate string) (map[string]string, error) {
	providerID, _ := staging.ParseStageRef(stageRef)
	provider, ok := DefaultStagingRegistry().Get(providerID)
	if !ok {
		return nil, fmt.Errorf("unknown staging provider %q", providerID)
	}
	if loadDate == "" {
		loadDate = time.Now().UTC().Format("2006-01-02")
	}

	stagingCfg := config.LoadStagingConfig()
	cfg := minioConnector.ParseConfig(map[string]any{
		"endpointUrl":     stagingCfg.MinioEndpoint,
		"accessKeyId":     stagingCfg.MinioAccessKey,
		"secretAccessKey": stagingCfg.MinioSecretKey,
		"bucket":          stagingCfg.Bucket,
		"basePrefix":      stagingCfg.BasePrefix,
		"tenantId":        stagingCfg.TenantID,
	})
	if cfg.EndpointURL == "" {
		cfg.EndpointURL = "file://" + os.TempDir()
	}

	writer, err := minioConnector.NewArtifactWriter(cfg, nil)
	if err != nil {
		return nil, err
	}
	res, err := writer.CompactStage(ctx, provider, stageRef, sinkID, loadDate)
	if err != nil {
		return nil, err
	}
	return res.Artifacts, nil
}
