// Package validation checks bot schemas before they are registered: the
// document shape against a JSON Schema, then node and edge references,
// then the graph as a whole.
package validation

import (
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// NodeTypes reports whether a node type has a handler. *engine.Registry
// satisfies it.
type NodeTypes interface {
	Has(nodeType string) bool
}

// BotValidator runs the three-stage pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (ids, edge references, node types, node settings)
// 3. Graph (triggers, reachability, cycles)
type BotValidator struct {
	shape *ShapeValidator
	types NodeTypes
}

// NewBotValidator creates a BotValidator. types may be nil to skip the
// handler check.
func NewBotValidator(types NodeTypes) (*BotValidator, error) {
	sv, err := NewShapeValidator()
	if err != nil {
		return nil, err
	}
	return &BotValidator{shape: sv, types: types}, nil
}

// Validate runs the full pipeline over a decoded schema. Structural errors
// short-circuit the later stages.
func (v *BotValidator) Validate(s *schema.BotSchema) *schema.ValidationResult {
	if s == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "bot schema is nil")
		return r
	}

	result := v.shape.Check(s)
	if !result.Valid() {
		return result
	}
	return v.checkGraph(s, result)
}

// ValidateDocument parses raw schema JSON and validates it. The returned
// schema is nil when the document does not decode.
func (v *BotValidator) ValidateDocument(data []byte) (*schema.BotSchema, *schema.ValidationResult) {
	result := v.shape.CheckDocument(data)
	if !result.Valid() {
		return nil, result
	}
	s, err := schema.ParseBotSchema(data)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return nil, result
	}
	return s, v.checkGraph(s, result)
}

func (v *BotValidator) checkGraph(s *schema.BotSchema, result *schema.ValidationResult) *schema.ValidationResult {
	result.Merge(checkSemantic(s, v.types))

	// A graph with dangling edges or duplicate ids is not worth walking.
	if result.Valid() {
		result.Merge(checkGraph(s))
	}
	return result
}
