package evidence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// eventSchema is the fail-closed gate on capture submissions: a malformed
// event is rejected before an evidence id is ever assigned.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event_type", "regulation_context"],
  "properties": {
    "event_type": {
      "type": "string",
      "enum": ["violation-detected", "remediation-applied", "scan-completed"]
    },
    "regulation_context": {
      "type": "string",
      "minLength": 1
    },
    "detection_context": {
      "type": "object",
      "properties": {
        "detected_by": {"type": "string"},
        "matched_pattern": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "violation_ref": {"type": "string"},
    "metadata": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var compiledEventSchema = mustCompileEventSchema()

func mustCompileEventSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://sentinel-ledger.dev/schemas/evidence-event.schema.json"
	if err := c.AddResource(url, strings.NewReader(eventSchema)); err != nil {
		panic(fmt.Sprintf("evidence event schema load: %v", err))
	}
	return c.MustCompile(url)
}

// ValidateEvent checks an event against the capture schema.
func ValidateEvent(event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("event not serializable: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("event not serializable: %w", err)
	}
	if err := compiledEventSchema.Validate(generic); err != nil {
		return fmt.Errorf("invalid evidence event: %w", err)
	}
	return nil
}
