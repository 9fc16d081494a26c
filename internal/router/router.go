// Package router implements the Action Router's contract surface
// (spec.md §4.7): ValidateParams (schema validation + coercion),
// WaitRequired/IsUntrusted/IsSelfContained governance tables. The action
// catalog itself stays open-ended per spec.md §9 Open Question (c); this
// package ships the contract plus the six example actions the spec names
// (orient, spawn, message, wait, shell, call_mcp), grounded on the
// capability-group governance-table pattern in
// internal/tools/policy/groups.go.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownAction is returned by ValidateParams when no ActionSpec is
// registered for the given action name.
var ErrUnknownAction = fmt.Errorf("unknown action")

// ActionSpec describes one action's validation schema and governance
// flags (spec.md §4.7, §9).
type ActionSpec struct {
	Name string

	// Untrusted actions (spec.md §9: "shell execution, web fetch, external
	// HTTP API, MCP tool call, arbitrary answer engine") get their result
	// NO_EXECUTE-wrapped (spec.md §4.8).
	Untrusted bool

	// SelfContained actions (spec.md §9: "TODO update, orient") have an
	// effect wholly within the agent; on success with wait:false they
	// immediately schedule the next consensus cycle (spec.md §4.7).
	SelfContained bool

	// WaitRequired actions mandate a non-false wait value in the Decision
	// envelope — e.g. the "wait" action's entire purpose is to suspend the
	// agent, so a wait=false decision naming it is a contract violation the
	// core should reject (spec.md §4.7's "WaitRequired(action) -> bool").
	WaitRequired bool

	schema *jsonschemav5.Schema
	// arrayFields lists the top-level properties whose schema type is
	// "array", used for the empty-object-to-empty-list coercion (spec.md
	// §4.6: "empty object -> empty list for list-typed fields").
	arrayFields map[string]bool
	// rawSchema is the generated JSON Schema document, kept for Describe
	// so the Consensus Engine can compose it into the integrated system
	// prompt (spec.md §4.6: "compose the integrated system prompt from
	// action-schema + prompt_fields").
	rawSchema json.RawMessage
}

// Catalog is a registry of ActionSpecs, implementing the Action Router's
// ValidateParams/WaitRequired/IsUntrusted/IsSelfContained contract.
type Catalog struct {
	actions map[string]*ActionSpec
}

// NewCatalog builds an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{actions: map[string]*ActionSpec{}}
}

// Register compiles paramsStruct's generated JSON Schema (via
// invopop/jsonschema) and adds action to the catalog.
func (c *Catalog) Register(action string, paramsStruct any, untrusted, selfContained, waitRequired bool) error {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(paramsStruct)
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("router: marshal schema for %s: %w", action, err)
	}

	compiler := jsonschemav5.NewCompiler()
	resourceURL := "schema://" + action
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("router: add schema resource for %s: %w", action, err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("router: compile schema for %s: %w", action, err)
	}

	arrayFields := map[string]bool{}
	if schema.Properties != nil {
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value != nil && pair.Value.Type == "array" {
				arrayFields[pair.Key] = true
			}
		}
	}

	c.actions[action] = &ActionSpec{
		Name:          action,
		Untrusted:     untrusted,
		SelfContained: selfContained,
		WaitRequired:  waitRequired,
		schema:        compiled,
		arrayFields:   arrayFields,
		rawSchema:     json.RawMessage(schemaJSON),
	}
	return nil
}

// Describe returns every registered action's generated JSON Schema,
// keyed by action name, for composing an integrated system prompt
// (spec.md §4.6).
func (c *Catalog) Describe() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(c.actions))
	for name, spec := range c.actions {
		out[name] = spec.rawSchema
	}
	return out
}

// ValidateParams validates and coerces params against action's schema
// (spec.md §4.6/§4.7). The coerced params replace the original on
// success.
func (c *Catalog) ValidateParams(action string, params json.RawMessage) (json.RawMessage, error) {
	spec, ok := c.actions[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, fmt.Errorf("router: %s: invalid params JSON: %w", action, err)
	}

	coerced := coerceArrayFields(decoded, spec.arrayFields)

	if err := spec.schema.Validate(coerced); err != nil {
		return nil, fmt.Errorf("router: %s: %w", action, err)
	}

	coercedJSON, err := json.Marshal(coerced)
	if err != nil {
		return nil, fmt.Errorf("router: %s: re-marshal coerced params: %w", action, err)
	}
	return coercedJSON, nil
}

// coerceArrayFields replaces any top-level field that is both declared
// array-typed and present as an empty JSON object with an empty list
// (spec.md §4.6: "empty object -> empty list for list-typed fields").
func coerceArrayFields(decoded any, arrayFields map[string]bool) any {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return decoded
	}
	for field := range arrayFields {
		if v, present := obj[field]; present {
			if m, isMap := v.(map[string]any); isMap && len(m) == 0 {
				obj[field] = []any{}
			}
		}
	}
	return obj
}

// WaitRequired reports whether action mandates a non-false wait value.
func (c *Catalog) WaitRequired(action string) bool {
	spec, ok := c.actions[action]
	return ok && spec.WaitRequired
}

// IsUntrusted reports whether action's result must be NO_EXECUTE-wrapped.
func (c *Catalog) IsUntrusted(action string) bool {
	spec, ok := c.actions[action]
	return ok && spec.Untrusted
}

// IsSelfContained reports whether action's effect is wholly within the agent.
func (c *Catalog) IsSelfContained(action string) bool {
	spec, ok := c.actions[action]
	return ok && spec.SelfContained
}
