package endpoint_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nucleus/ingest-core/internal/endpoint"
)

type stubEndpoint struct {
	id string
}

func (s *stubEndpoint) ID() string                        { return s.id }
func (s *stubEndpoint) Descriptor() *endpoint.Descriptor  { return &endpoint.Descriptor{ID: s.id, Family: "stub"} }
func (s *stubEndpoint) Capabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{SupportsFull: true}
}
func (s *stubEndpoint) ValidateConfig(ctx context.Context, config map[string]any) (*endpoint.ValidationResult, error) {
	return &endpoint.ValidationResult{Valid: true}, nil
}
func (s *stubEndpoint) Close() error { return nil }

func TestRegistry_RegisterAndCreate(t *testing.T) {
	registry := endpoint.NewRegistry()
	registry.Register("stub.alpha", func(config map[string]any) (endpoint.Endpoint, error) {
		return &stubEndpoint{id: "stub.alpha"}, nil
	})

	ep, err := registry.Create("stub.alpha", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer ep.Close()

	if ep.ID() != "stub.alpha" {
		t.Fatalf("unexpected endpoint ID: %s", ep.ID())
	}
	if ep.Descriptor().Family != "stub" {
		t.Fatalf("unexpected family: %s", ep.Descriptor().Family)
	}
}

func TestRegistry_UnknownTemplate(t *testing.T) {
	registry := endpoint.NewRegistry()
	if _, err := registry.Create("no.such.template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	registry := endpoint.NewRegistry()
	factory := func(config map[string]any) (endpoint.Endpoint, error) {
		return &stubEndpoint{id: "stub.dup"}, nil
	}
	registry.Register("stub.dup", factory)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	registry.Register("stub.dup", factory)
}

func TestRegistry_CreateSourceRejectsNonSource(t *testing.T) {
	registry := endpoint.NewRegistry()
	registry.Register("stub.plain", func(config map[string]any) (endpoint.Endpoint, error) {
		return &stubEndpoint{id: "stub.plain"}, nil
	})

	_, err := registry.CreateSource("stub.plain", nil)
	if err == nil {
		t.Fatal("expected error: stub endpoint is not a source")
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	registry := endpoint.NewRegistry()
	sentinel := errors.New("bad config")
	registry.Register("stub.broken", func(config map[string]any) (endpoint.Endpoint, error) {
		return nil, sentinel
	})

	if _, err := registry.Create("stub.broken", nil); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}
