// Package tool holds the tool registry and the dispatcher that invokes
// registered tools against their upstream API.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/traia-io/newsapi-mcp/internal/d402"
)

// Handler executes a tool call with fully resolved parameters and returns
// the upstream JSON payload.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Param describes one declared tool parameter. Which parameters are
// required is expressed by the descriptor's InputSchema; the dispatcher
// enforces it there.
type Param struct {
	Name string
	// Type is the JSON schema type, "string" or "integer".
	Type string
	// Default is applied when an optional parameter is omitted. Nil means
	// the parameter is simply not forwarded.
	Default any
	// UpstreamName overrides Name in the upstream request (e.g. the
	// reserved word "from_" maps to the query parameter "from").
	UpstreamName string
	Description  string
}

// Descriptor is an immutable description of a registered tool: its
// parameters, its price, and the handler that serves it. Created once at
// startup and never mutated afterwards.
type Descriptor struct {
	Name        string
	Description string
	// Endpoint is the upstream API path the tool forwards to, reported
	// back in error payloads.
	Endpoint string
	Params   []Param
	// Price is the d402 price of a call. Nil marks a free tool.
	Price *d402.TokenAmount
	// InputSchema is the JSON schema served to MCP clients and enforced
	// by the dispatcher before any outbound call.
	InputSchema json.RawMessage
	Handler     Handler
}

// Registry maps tool names to descriptors. All registrations happen during
// startup; afterwards the registry is read-only and safe for any number of
// concurrent lookups.
type Registry struct {
	tools map[string]*Descriptor
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Duplicate names are a startup error.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool: descriptor has no name")
	}
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tool: %q is already registered", d.Name)
	}
	r.tools[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Lookup returns the descriptor for name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	d, ok := r.tools[name]
	return d, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
