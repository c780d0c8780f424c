package jdbc

import (
	"github.com/nucleus/ingest-core/internal/endpoint"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	_ "github.com/lib/pq"              // database/sql driver "postgres"
)

// init registers the relational source factories with the endpoint
// registry.
func init() {
	registry := endpoint.DefaultRegistry()

	registry.Register("jdbc.postgres", func(config map[string]any) (endpoint.Endpoint, error) {
		cfg := ensureDriver(config, "postgres")
		return NewBase(cfg)
	})

	// Same wire protocol, pgx driver stack.
	registry.Register("jdbc.pgx", func(config map[string]any) (endpoint.Endpoint, error) {
		cfg := ensureDriver(config, "pgx")
		return NewBase(cfg)
	})
}

func ensureDriver(config map[string]any, driver string) map[string]any {
	out := make(map[string]any, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	out["driver"] = driver
	return out
}
