package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const hypercardCardSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "template": {"type": "string"},
    "data": {
      "type": "object",
      "properties": {
        "artifact": {
          "type": "object",
          "properties": {"id": {"type": ["string", "number"]}}
        }
      }
    }
  }
}`

const hypercardWidgetSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "template": {"type": "string"},
    "widget": {"type": ["string", "object"]},
    "data": {"type": "object"}
  }
}`

// recordSchema validates result records before an adapter reads them.
type recordSchema struct {
	schema *jsonschema.Schema
}

func compileRecordSchema(name, source string) (*recordSchema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://relaytimeline/" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &recordSchema{schema: schema}, nil
}

func mustCompileRecordSchema(name, source string) *recordSchema {
	schema, err := compileRecordSchema(name, source)
	if err != nil {
		panic(err)
	}
	return schema
}

// Validate round-trips the record through the schema library's decoder so
// numbers reach the validator as json.Number.
func (s *recordSchema) Validate(record map[string]any) error {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return s.schema.Validate(instance)
}
