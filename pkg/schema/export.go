package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from
// the Go Script struct using invopop/jsonschema. The schema covers the
// declarative form only — imperative scripts have no engine-visible
// structure beyond syntax validity.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Script{})
	s.ID = "https://github.com/ormasoftchile/regrun/schemas/script-v0.json"
	s.Title = "Regtest Scenario Script v0"
	s.Description = "Schema for regrun declarative script JSON documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return data, nil
}
