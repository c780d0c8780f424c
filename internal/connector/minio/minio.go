// Package minio provides the object-store endpoint used as the staging and
// artifact backend: a MinIO/S3 client behind the ObjectStore interface, a
// local on-disk fallback, a staging.Provider, and a parquet artifact writer.
package minio

import (
	"context"
	"fmt"

	"github.com/nucleus/ingest-core/internal/endpoint"
)

var _ endpoint.Endpoint = (*Endpoint)(nil)

// Endpoint is the object.minio endpoint. It is not a source; it exists so
// staging targets validate and register like any other endpoint.
type Endpoint struct {
	config *Config
	store  ObjectStore
}

// New creates the endpoint from loose config parameters. file:// endpoints
// run on the local store.
func New(config map[string]any) (*Endpoint, error) {
	cfg := ParseConfig(config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store ObjectStore
	if cfg.isRemote() {
		s3, err := NewS3Client(cfg)
		if err != nil {
			return nil, err
		}
		store = s3
	} else {
		store = NewLocalStore(cfg.objectRoot())
	}

	return &Endpoint{config: cfg, store: store}, nil
}

func (e *Endpoint) ID() string { return "object.minio" }

func (e *Endpoint) Descriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "object.minio",
		Family:      "object",
		Title:       "MinIO Object Store",
		Vendor:      "MinIO",
		Description: "S3-compatible object store for staged batches and columnar artifacts",
		Categories:  []string{"storage", "staging"},
		Protocols:   []string{"s3", "https"},
		DocsURL:     "https://min.io/docs/minio/linux/developers/go/minio-go.html",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "endpointUrl", Label: "Endpoint URL", ValueType: "string", Required: true, Semantic: "HOST", Placeholder: "http://localhost:9000"},
			{Key: "accessKeyId", Label: "Access Key ID", ValueType: "string", Required: true, Semantic: "GENERIC"},
			{Key: "secretAccessKey", Label: "Secret Access Key", ValueType: "password", Required: true, Sensitive: true, Semantic: "PASSWORD"},
			{Key: "bucket", Label: "Bucket", ValueType: "string", Required: false, Placeholder: defaultBucket},
			{Key: "region", Label: "Region", ValueType: "string", Required: false},
			{Key: "basePrefix", Label: "Base Prefix", ValueType: "string", Required: false, Placeholder: defaultBasePrefix},
			{Key: "tenantId", Label: "Tenant ID", ValueType: "string", Required: false, Placeholder: defaultTenantID},
		},
	}
}

func (e *Endpoint) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        false,
		SupportsIncremental: false,
		SupportsCountProbe:  false,
		SupportsPreview:     false,
	}
}

// ValidateConfig pings the store and checks the configured bucket.
func (e *Endpoint) ValidateConfig(ctx context.Context, _ map[string]any) (*endpoint.ValidationResult, error) {
	if err := e.store.Ping(ctx); err != nil {
		return &endpoint.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("store unreachable: %v", err),
		}, nil
	}

	exists, err := e.store.BucketExists(ctx, e.config.Bucket)
	if err != nil {
		return &endpoint.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("bucket check failed: %v", err),
		}, nil
	}
	if !exists {
		return &endpoint.ValidationResult{
			Valid:   true,
			Message: fmt.Sprintf("reachable; bucket %s will be created on first stage", e.config.Bucket),
		}, nil
	}

	return &endpoint.ValidationResult{
		Valid:   true,
		Message: fmt.Sprintf("bucket %s is reachable", e.config.Bucket),
	}, nil
}

func (e *Endpoint) Close() error { return nil }

// Store exposes the underlying object store for the staging provider and
// artifact writer.
func (e *Endpoint) Store() ObjectStore { return e.store }

// Config exposes the parsed configuration.
func (e *Endpoint) Config() *Config { return e.config }
