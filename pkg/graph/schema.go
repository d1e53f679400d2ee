package graph

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// definitionSchema constrains imported automation definitions before they are
// allowed into the graph. Kept permissive on display metadata, strict on the
// fields the coordinator relies on.
var definitionSchema = map[string]any{
	"type":     "object",
	"required": []string{"code", "name"},
	"properties": map[string]any{
		"code": map[string]any{"type": "string", "minLength": 1},
		"name": map[string]any{"type": "string", "minLength": 1},
		"dependencies": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"status": map[string]any{
			"type": "string",
			"enum": []string{"operational", "monitoring", "warning", "error"},
		},
		"webhook_url":  map[string]any{"type": "string"},
		"webhook_path": map[string]any{"type": "string"},
	},
}

// ValidateDefinition validates a loosely-typed automation definition against
// the definition schema.
func ValidateDefinition(definition map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(definitionSchema)
	dataLoader := gojsonschema.NewGoLoader(definition)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}
