// Package schema validates inbound webhook bodies against the change-event
// JSON Schema before anything is persisted or enqueued.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed event.schema.json
var eventSchema []byte

const schemaURL = "https://arbiter.schemas.local/event.schema.json"

var compiled = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(eventSchema)); err != nil {
		panic(fmt.Sprintf("schema: add resource: %v", err))
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("schema: compile: %v", err))
	}
	return schema
}

// Validate checks a raw webhook body against the change-event schema.
// It returns a descriptive error for malformed JSON or schema violations.
func Validate(rawBody []byte) error {
	var doc any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return fmt.Errorf("body is not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return err
	}
	return nil
}
