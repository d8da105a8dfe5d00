package tooldispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsonschemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor generates a JSON Schema document for a tool's argument type
// using invopop/jsonschema, for advertising to a provider alongside the
// tool name/description.
func SchemaFor(v interface{}) (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}
	return data, nil
}

// ArgValidator validates a raw tool-call argument payload against a
// compiled JSON Schema before a Tool ever sees it, using
// santhosh-tekuri/jsonschema/v5 (draft 2020-12 by default).
type ArgValidator struct {
	schema *jsonschemavalidate.Schema
}

// NewArgValidator compiles schemaDoc (a JSON Schema document, as produced
// by SchemaFor or hand-written) for repeated validation.
func NewArgValidator(name string, schemaDoc json.RawMessage) (*ArgValidator, error) {
	compiler := jsonschemavalidate.NewCompiler()
	resource := "mem://" + name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(schemaDoc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ArgValidator{schema: schema}, nil
}

// Validate reports whether args conforms to the compiled schema.
func (v *ArgValidator) Validate(args json.RawMessage) error {
	var decoded interface{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("validate args: %w", err)
	}
	return nil
}

// builtinSchemas maps each built-in tool name to the JSON Schema document
// for its argument type, generated from the same structs Execute
// unmarshals into, so the schema a provider is shown and the struct a
// call is decoded into can never drift apart.
var builtinSchemas = map[string]json.RawMessage{
	"vfs_read":      mustSchemaFor(vfsReadArgs{}),
	"vfs_write":     mustSchemaFor(vfsWriteArgs{}),
	"vfs_list":      mustSchemaFor(vfsListArgs{}),
	"vfs_delete":    mustSchemaFor(vfsDeleteArgs{}),
	"spawn_agent":   mustSchemaFor(spawnAgentArgs{}),
	"signal_parent": mustSchemaFor(signalParentArgs{}),
	"web_search":    mustSchemaFor(webSearchArgs{}),
	"web_fetch":     mustSchemaFor(webFetchArgs{}),
}

func mustSchemaFor(v interface{}) json.RawMessage {
	schema, err := SchemaFor(v)
	if err != nil {
		panic(fmt.Sprintf("tooldispatch: generate schema for %T: %v", v, err))
	}
	return schema
}

// SchemaForTool returns the advertised JSON Schema document for a
// built-in tool name, or nil if name isn't one of the built-ins.
func SchemaForTool(name string) json.RawMessage {
	return builtinSchemas[name]
}
