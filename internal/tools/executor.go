package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolError is a non-recoverable error raised when tool arguments fail
// schema validation before dispatch ever reaches the adapter. It is
// distinct from a tool's own runtime failure, which is surfaced as an
// ordinary (possibly is_error) tool result instead.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string { return fmt.Sprintf("tool %q: %s", e.Tool, e.Message) }

// Executor validates a tool call's arguments against the registered
// JSON-schema-shaped descriptor before dispatching through the Registry,
// matching component H ("tool executor & schemas"): presence of required
// fields, scalar type matches, and enum membership are checked once per
// call; violations never reach the adapter.
//
// Grounded on the teacher's internal/agent/engine.go argument handling
// (json.Unmarshal into typed struct, ad hoc per tool) generalized into a
// single schema-driven validation pass shared by every tool.
type Executor struct {
	registry Registry
}

// NewExecutor wraps a Registry with schema validation.
func NewExecutor(registry Registry) *Executor {
	return &Executor{registry: registry}
}

// Run validates args against the tool's schema, then dispatches through the
// wrapped registry. A schema violation returns a *ToolError and never calls
// Dispatch.
func (e *Executor) Run(ctx context.Context, name string, args json.RawMessage) ([]byte, error) {
	schemas := e.registry.Schemas()
	var schema *schemaParams
	for _, s := range schemas {
		if s.Name == name {
			schema = parseSchemaParams(s.Parameters)
			break
		}
	}
	if schema != nil {
		if err := schema.Validate(args); err != nil {
			return nil, &ToolError{Tool: name, Message: err.Error()}
		}
	}
	return e.registry.Dispatch(ctx, name, args)
}

// schemaParams is the subset of a JSON-Schema object descriptor the
// validator understands: required field presence, a scalar "type" per
// property, and "enum" membership.
type schemaParams struct {
	Required   []string
	Properties map[string]schemaProperty
}

type schemaProperty struct {
	Type string
	Enum []any
}

func parseSchemaParams(params map[string]any) *schemaParams {
	if params == nil {
		return nil
	}
	sp := &schemaParams{Properties: map[string]schemaProperty{}}
	if req, ok := params["required"].([]string); ok {
		sp.Required = req
	} else if reqAny, ok := params["required"].([]any); ok {
		for _, r := range reqAny {
			if s, ok := r.(string); ok {
				sp.Required = append(sp.Required, s)
			}
		}
	}
	props, _ := params["properties"].(map[string]any)
	for name, raw := range props {
		def, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		prop := schemaProperty{}
		if t, ok := def["type"].(string); ok {
			prop.Type = t
		}
		if enum, ok := def["enum"].([]any); ok {
			prop.Enum = enum
		}
		sp.Properties[name] = prop
	}
	return sp
}

// Validate checks raw JSON tool-call arguments against the schema:
// required fields are present, each known property's scalar type matches,
// and enum membership holds when declared.
func (s *schemaParams) Validate(raw json.RawMessage) error {
	var obj map[string]any
	if len(raw) == 0 {
		obj = map[string]any{}
	} else if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}

	for _, req := range s.Required {
		if _, ok := obj[req]; !ok {
			return fmt.Errorf("missing required argument %q", req)
		}
	}

	for name, val := range obj {
		prop, ok := s.Properties[name]
		if !ok {
			continue
		}
		if prop.Type != "" && !typeMatches(prop.Type, val) {
			return fmt.Errorf("argument %q: expected type %s, got %T", name, prop.Type, val)
		}
		if len(prop.Enum) > 0 && !enumContains(prop.Enum, val) {
			return fmt.Errorf("argument %q: value %v not in allowed enum", name, val)
		}
	}
	return nil
}

func typeMatches(schemaType string, val any) bool {
	switch schemaType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		_, ok := val.(float64)
		return ok
	case "integer":
		f, ok := val.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

func enumContains(enum []any, val any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(val) {
			return true
		}
	}
	return false
}
