// Package config provides environment-driven configuration for the
// ingestion runtime.
package config

import (
	"os"
	"strconv"

	"github.com/nucleus/ingest-core/pkg/staging"
)

// StagingConfig holds object-store staging configuration.
type StagingConfig struct {
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	Bucket          string
	BasePrefix      string
	TenantID        string
	LargeRunBytes   int64
	ObjectStoreRoot string
}

// LoadStagingConfig loads staging settings from the environment.
func LoadStagingConfig() *StagingConfig {
	return &StagingConfig{
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		Bucket:          getEnv("MINIO_BUCKET", "ingest-staging"),
		BasePrefix:      getEnv("MINIO_STAGE_PREFIX", ""),
		TenantID:        getEnv("TENANT_ID", ""),
		LargeRunBytes:   getEnvInt64("INGEST_LARGE_RUN_THRESHOLD_BYTES", staging.DefaultLargeRunThresholdBytes),
		ObjectStoreRoot: getEnv("INGEST_OBJECT_STORE_ROOT", ""),
	}
}

// RunnerConfig holds default planning knobs for the ingestion runner.
type RunnerConfig struct {
	TargetSliceSize   int64
	StagingProviderID string
}

// LoadRunnerConfig loads runner settings from the environment.
func LoadRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		TargetSliceSize:   getEnvInt64("INGEST_TARGET_SLICE_SIZE", 0),
		StagingProviderID: getEnv("INGEST_STAGING_PROVIDER", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
