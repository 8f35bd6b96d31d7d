package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

const botSchemaURL = "https://botconstructor.dev/schemas/bot.json"

// botSchemaJSON describes the editor's document. Node data stays free-form;
// each handler reads its own keys.
const botSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://botconstructor.dev/schemas/bot.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "version": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/variable" }
    },
    "settings": { "type": "object" }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "pattern": "^(trigger|action|condition|data|integration|utility|scenario)-[a-z0-9-]+$"
        },
        "data": { "type": "object" },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          }
        }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": "string" },
        "targetHandle": { "type": "string" }
      }
    },
    "variable": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["", "string", "number", "boolean", "object", "array", "any"]
        },
        "description": { "type": "string" }
      }
    }
  }
}`

// ShapeValidator checks documents against the bot JSON Schema. It is safe
// for concurrent use.
type ShapeValidator struct {
	schema *jsonschema.Schema
}

// NewShapeValidator compiles the bot document schema.
func NewShapeValidator() (*ShapeValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(botSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal bot schema: %w", err)
	}
	if err := c.AddResource(botSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add bot schema resource: %w", err)
	}
	compiled, err := c.Compile(botSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile bot schema: %w", err)
	}
	return &ShapeValidator{schema: compiled}, nil
}

// Check validates an already decoded schema.
func (v *ShapeValidator) Check(s *schema.BotSchema) *schema.ValidationResult {
	edges := s.Edges
	if edges == nil {
		edges = []schema.Edge{}
	}
	b, err := json.Marshal(struct {
		*schema.BotSchema
		Edges []schema.Edge `json:"edges"`
	}{s, edges})
	if err != nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "cannot encode bot schema: "+err.Error())
		return r
	}
	return v.CheckDocument(b)
}

// CheckDocument validates raw JSON.
func (v *ShapeValidator) CheckDocument(data []byte) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "invalid JSON: "+err.Error())
		return result
	}
	if err := v.schema.Validate(doc); err != nil {
		for _, viol := range violations(err) {
			result.AddError(viol.path, schema.ErrCodeValidation, viol.message)
		}
	}
	return result
}

type violation struct {
	path    string
	message string
}

// violations flattens a jsonschema error tree into its leaf messages.
func violations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "/", message: err.Error()}}
	}
	return collectViolations(verr)
}

func collectViolations(verr *jsonschema.ValidationError) []violation {
	if len(verr.Causes) == 0 {
		return []violation{{path: "/" + strings.Join(verr.InstanceLocation, "/"), message: verr.Error()}}
	}
	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
