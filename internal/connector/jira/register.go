package jira

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nucleus/ingest-core/internal/endpoint"
)

// init registers the Jira factory with the endpoint registry.
func init() {
	endpoint.Register("http.jira", func(config map[string]any) (endpoint.Endpoint, error) {
		cfg, err := ConfigFromMap(config)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

// ConfigFromMap decodes a generic config map into a Config. The projects
// field accepts either a list or a comma-separated string.
func ConfigFromMap(m map[string]any) (*Config, error) {
	projectsCSV, csvOK := m["projects"].(string)
	if csvOK {
		m = cloneWithout(m, "projects")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if csvOK {
		for _, key := range strings.Split(projectsCSV, ",") {
			if key = strings.TrimSpace(key); key != "" {
				cfg.Projects = append(cfg.Projects, key)
			}
		}
	}
	return &cfg, nil
}

func cloneWithout(m map[string]any, drop string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k != drop {
			out[k] = v
		}
	}
	return out
}
