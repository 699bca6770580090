package tool

import (
	"context"
	"testing"
)

func noopHandler(_ context.Context, _ map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&Descriptor{Name: "search", Handler: noopHandler}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	desc, ok := registry.Lookup("search")
	if !ok {
		t.Fatal("Expected to find registered tool")
	}
	if desc.Name != "search" {
		t.Errorf("Expected name 'search', got: %s", desc.Name)
	}

	if _, ok := registry.Lookup("missing"); ok {
		t.Error("Expected lookup miss for unregistered tool")
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&Descriptor{Name: "search", Handler: noopHandler}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := registry.Register(&Descriptor{Name: "search", Handler: noopHandler}); err == nil {
		t.Fatal("Expected error for duplicate registration")
	}
}

func TestRegistry_EmptyName(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&Descriptor{Handler: noopHandler}); err == nil {
		t.Fatal("Expected error for unnamed descriptor")
	}
}

func TestRegistry_NamesInRegistrationOrder(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"c", "a", "b"} {
		if err := registry.Register(&Descriptor{Name: name, Handler: noopHandler}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	names := registry.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected order %v, got: %v", want, names)
		}
	}
}
