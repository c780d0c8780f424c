package onedrive

import (
	"github.com/nucleus/ingest-core/internal/endpoint"
)

// init registers the OneDrive factory with the endpoint registry.
func init() {
	endpoint.Register("graph.onedrive", func(config map[string]any) (endpoint.Endpoint, error) {
		cfg, err := ParseConfig(config)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}
