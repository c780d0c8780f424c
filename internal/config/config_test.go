package config

import (
	"testing"

	"github.com/nucleus/ingest-core/pkg/staging"
)

func TestLoadStagingConfigDefaults(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "")
	t.Setenv("MINIO_BUCKET", "")
	t.Setenv("INGEST_LARGE_RUN_THRESHOLD_BYTES", "")

	cfg := LoadStagingConfig()
	if cfg.Bucket != "ingest-staging" {
		t.Fatalf("bucket = %q", cfg.Bucket)
	}
	if cfg.LargeRunBytes != staging.DefaultLargeRunThresholdBytes {
		t.Fatalf("threshold = %d", cfg.LargeRunBytes)
	}
}

func TestLoadStagingConfigOverrides(t *testing.T) {
	t.Setenv("MINIO_ENDPOINT", "http://localhost:9000")
	t.Setenv("MINIO_BUCKET", "lake")
	t.Setenv("INGEST_LARGE_RUN_THRESHOLD_BYTES", "1048576")

	cfg := LoadStagingConfig()
	if cfg.MinioEndpoint != "http://localhost:9000" || cfg.Bucket != "lake" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LargeRunBytes != 1048576 {
		t.Fatalf("threshold = %d", cfg.LargeRunBytes)
	}
}

func TestLoadRunnerConfig(t *testing.T) {
	t.Setenv("INGEST_TARGET_SLICE_SIZE", "5000")
	t.Setenv("INGEST_STAGING_PROVIDER", "memory")

	cfg := LoadRunnerConfig()
	if cfg.TargetSliceSize != 5000 || cfg.StagingProviderID != "memory" {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("INGEST_TARGET_SLICE_SIZE", "not-a-number")
	if got := LoadRunnerConfig().TargetSliceSize; got != 0 {
		t.Fatalf("bad int should fall back to default, got %d", got)
	}
}
