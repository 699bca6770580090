package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrValidation marks calls rejected before any outbound request was made.
var ErrValidation = errors.New("tool: invalid arguments")

// Dispatcher validates tool arguments and invokes the registered handler.
// Each invocation performs exactly one outbound call; there are no retries
// and no caching.
type Dispatcher struct{}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Invoke validates args against the descriptor's schema, applies declared
// defaults for omitted optional parameters, and runs the handler once.
// Validation failures return ErrValidation before anything leaves the
// process; handler failures are returned as-is for the caller to report.
func (d *Dispatcher) Invoke(ctx context.Context, desc *Descriptor, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = make(map[string]any)
	}

	if len(desc.InputSchema) > 0 {
		schemaLoader := gojsonschema.NewBytesLoader(desc.InputSchema)
		documentLoader := gojsonschema.NewGoLoader(args)

		result, err := gojsonschema.Validate(schemaLoader, documentLoader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if !result.Valid() {
			issues := make([]string, 0, len(result.Errors()))
			for _, issue := range result.Errors() {
				issues = append(issues, issue.String())
			}
			return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(issues, "; "))
		}
	}

	params := make(map[string]any, len(desc.Params))
	for _, p := range desc.Params {
		value, present := args[p.Name]
		if !present {
			if p.Default == nil {
				continue
			}
			value = p.Default
		}
		name := p.Name
		if p.UpstreamName != "" {
			name = p.UpstreamName
		}
		params[name] = value
	}

	return desc.Handler(ctx, params)
}
