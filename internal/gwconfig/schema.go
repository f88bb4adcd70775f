package gwconfig

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema is a structural first pass over the raw config document,
// run before the semantic, cross-field validation in validate.go. It catches
// the easy mistakes (wrong JSON types, missing required top-level keys)
// with a clear error message; the hand-written validator still owns the
// rules a generic schema can't express (unique ports, unique aliases, runner
// existence, max_delay_seconds >= base_delay_seconds).
const documentSchemaJSON = `{
  "type": "object",
  "required": ["api", "models"],
  "properties": {
    "api": {
      "type": "object",
      "required": ["host", "port"],
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer"}
      }
    },
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["model", "runner"],
        "properties": {
          "model": {"type": "string"},
          "alias": {"type": "string"},
          "runner": {"type": "string"},
          "args": {"type": "string"},
          "env": {"type": "object"},
          "tensor_split": {"type": "array", "items": {"type": "number"}}
        }
      }
    },
    "retry_config": {
      "type": "object",
      "properties": {
        "max_retries": {"type": "integer", "minimum": 0},
        "base_delay_seconds": {"type": "number", "minimum": 0},
        "max_delay_seconds": {"type": "number", "minimum": 0},
        "retry_on_model_loading": {"type": "boolean"}
      }
    },
    "auto_start_runners": {"type": "boolean"}
  }
}`

func compileDocumentSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("flexllama-config.json", strings.NewReader(documentSchemaJSON)); err != nil {
		return nil, fmt.Errorf("unable to load config schema: %w", err)
	}
	return compiler.Compile("flexllama-config.json")
}

// validateSchema runs the structural schema pass over the decoded JSON
// value (a map[string]any, as produced by encoding/json for a generic
// interface{} target).
func validateSchema(doc any) error {
	schema, err := compileDocumentSchema()
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}
