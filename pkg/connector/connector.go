// Package connector registers all source and object-store connectors.
package connector

import (
	// Import all connectors to register them
	_ "github.com/nucleus/ingest-core/internal/connector/confluence"
	_ "github.com/nucleus/ingest-core/internal/connector/jdbc"
	_ "github.com/nucleus/ingest-core/internal/connector/jira"
	_ "github.com/nucleus/ingest-core/internal/connector/minio"
	_ "github.com/nucleus/ingest-core/internal/connector/onedrive"
)

// All imports trigger init() functions that register connector factories.
