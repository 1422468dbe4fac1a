package state

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/clasp-io/clasp/value"
)

// validateMeta enforces an optional meta-carried JSON Schema (SPEC_FULL.md
// §B): when meta is a map with a "schema" entry, the schema is compiled and
// the incoming value's JSON projection is checked against it. A meta value
// with no "schema" key, or no meta at all, is always valid.
func validateMeta(meta *value.Value, v value.Value) error {
	if meta == nil {
		return nil
	}
	m, ok := meta.Map()
	if !ok {
		return nil
	}
	schemaVal, ok := m["schema"]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(schemaVal.Interface())
	if err != nil {
		return &RejectError{Reason: ReasonTypeMismatch}
	}

	compiler := jsonschema.NewCompiler()
	unmarshaled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &RejectError{Reason: ReasonTypeMismatch}
	}
	const resourceURL = "mem://param-meta-schema.json"
	if err := compiler.AddResource(resourceURL, unmarshaled); err != nil {
		return &RejectError{Reason: ReasonTypeMismatch}
	}
	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return &RejectError{Reason: ReasonTypeMismatch}
	}
	if err := schema.Validate(v.Interface()); err != nil {
		return &RejectError{Reason: ReasonTypeMismatch}
	}
	return nil
}
