package httpapi

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// mutationSchema guards the submission endpoint: a payload that does not
// match is rejected before it can reach the admission controller.
const mutationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["operation", "layerId", "geometry"],
  "properties": {
    "operation": {"type": "string", "enum": ["create", "update", "delete"]},
    "layerId": {"type": "string", "minLength": 1},
    "remoteId": {"type": "string"},
    "geometry": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"type": "string", "enum": ["point", "polyline", "polygon"]},
        "point": {"$ref": "#/$defs/coordinate"},
        "paths": {"$ref": "#/$defs/coordinateGrid"},
        "rings": {"$ref": "#/$defs/coordinateGrid"}
      }
    },
    "attributes": {"type": "object"}
  },
  "$defs": {
    "coordinate": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": {"type": "number"},
        "y": {"type": "number"}
      }
    },
    "coordinateGrid": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "array",
        "minItems": 2,
        "items": {"$ref": "#/$defs/coordinate"}
      }
    }
  }
}`

func compileMutationSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(mutationSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mutation.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("mutation.json")
}
