// Package orchestration wires process-level defaults: the staging provider
// registry and the ingestion runner built on top of it.
package orchestration

import (
	"log"
	"sync"

	minioProvider "github.com/nucleus/ingest-core/internal/connector/minio"
	"github.com/nucleus/ingest-core/internal/config"
	"github.com/nucleus/ingest-core/pkg/staging"
)

var (
	defaultStagingRegistry     *staging.Registry
	defaultStagingRegistryOnce sync.Once
)

// DefaultStagingRegistry returns the shared staging registry (memory,
// object-store, and MinIO when configured).
func DefaultStagingRegistry() *staging.Registry {
	defaultStagingRegistryOnce.Do(func() {
		defaultStagingRegistry = BuildStagingRegistry()
	})
	return defaultStagingRegistry
}

// BuildStagingRegistry constructs the staging registry with all available
// providers. Registration order: memory, object-store, minio. Size-based
// selection prefers MinIO for large payloads.
func BuildStagingRegistry() *staging.Registry {
	reg := staging.NewRegistry()

	stagingCfg := config.LoadStagingConfig()

	reg.Register(staging.NewMemoryProvider(staging.DefaultMemoryCapBytes))
	reg.Register(staging.NewObjectStoreProvider(stagingCfg.ObjectStoreRoot))

	if stagingCfg.MinioEndpoint == "" {
		log.Printf("[staging-registry] no MINIO_ENDPOINT configured, skipping MinIO registration")
		log.Printf("[staging-registry] providers: %v", reg.ProviderIDs())
		return reg
	}

	p, err := NewMinioStagingProvider(stagingCfg)
	if err != nil {
		log.Printf("[staging-registry] failed to create MinIO provider: %v", err)
	} else if p != nil {
		reg.Register(p)
	}

	log.Printf("[staging-registry] providers: %v", reg.ProviderIDs())
	return reg
}

// NewMinioStagingProvider builds a MinIO staging provider from staging
// settings. Returns nil without error when MinIO is not configured.
func NewMinioStagingProvider(stagingCfg *config.StagingConfig) (staging.Provider, error) {
	if stagingCfg == nil || stagingCfg.MinioEndpoint == "" {
		return nil, nil
	}

	cfg := minioProvider.ParseConfig(map[string]any{
		"endpointUrl":     stagingCfg.MinioEndpoint,
		"accessKeyId":     stagingCfg.MinioAccessKey,
		"secretAccessKey": stagingCfg.MinioSecretKey,
		"bucket":          stagingCfg.Bucket,
		"basePrefix":      stagingCfg.BasePrefix,
		"tenantId":        stagingCfg.TenantID,
	})

	return minioProvider.NewStagingProvider(cfg, nil)
}
