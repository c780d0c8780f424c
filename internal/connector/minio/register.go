package minio

import "github.com/nucleus/ingest-core/internal/endpoint"

// init registers the object.minio factory with the endpoint registry.
func init() {
	endpoint.Register("object.minio", func(config map[string]any) (endpoint.Endpoint, error) {
		return New(config)
	})
}
