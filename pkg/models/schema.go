package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidFlowDefinition indicates an imported flow document failed
// schema validation.
var ErrInvalidFlowDefinition = errors.New("invalid flow definition")

// IsInvalidFlowDefinition checks if an error came from flow document
// validation.
func IsInvalidFlowDefinition(err error) bool {
	return errors.Is(err, ErrInvalidFlowDefinition)
}

// flowDefinitionSchema validates imported automation flow documents. Step
// configuration is deliberately open: kind-specific fields are optional and
// unknown keys are retained rather than rejected.
const flowDefinitionSchema = `{
  "type": "object",
  "required": ["name", "channel", "steps"],
  "properties": {
    "name": {"type": "string", "minLength": 3},
    "channel": {"type": "string", "enum": ["email", "sms"]},
    "status": {"type": "string", "enum": ["active", "paused"]},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["kind"],
        "properties": {
          "id": {"type": "string"},
          "kind": {"type": "string", "enum": ["wait", "message", "rating", "action", "condition"]},
          "config": {"type": "object"}
        },
        "additionalProperties": true
      }
    },
    "templates": {
      "type": "object",
      "properties": {
        "initial": {"type": "string"},
        "high_rating": {"type": "string"},
        "low_rating": {"type": "string"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": true
}`

// ValidateFlowDefinition checks a raw flow document against the flow schema
// before import.
func ValidateFlowDefinition(raw []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(flowDefinitionSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFlowDefinition, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}

	return fmt.Errorf("%w: %s", ErrInvalidFlowDefinition, strings.Join(details, "; "))
}
