// Package avro implements providers.SchemaProvider for Avro schemas,
// built on github.com/hamba/avro/v2.
package avro

import (
	"fmt"

	"schemaregistry/internal/providers"

	"github.com/hamba/avro/v2"
)

// Provider implements providers.SchemaProvider for Avro.
type Provider struct{}

// New creates an Avro schema provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) SchemaType() providers.SchemaType {
	return providers.Avro
}

func (p *Provider) Parse(req providers.ParseRequest) (providers.ParsedSchema, error) {
	text := req.Schema
	if len(req.References) > 0 && req.ResolveReference != nil {
		inlined, err := inlineReferences(text, req.References, req.ResolveReference)
		if err != nil {
			return nil, fmt.Errorf("resolve references: %w", err)
		}
		text = inlined
	}

	schema, err := avro.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse avro schema: %w", err)
	}

	canonical := schema.String()
	if req.Normalize {
		canonical = normalize(schema)
	}

	return &parsedSchema{
		schema:     schema,
		canonical:  canonical,
		references: req.References,
		metadata:   req.Metadata,
		ruleSet:    req.RuleSet,
	}, nil
}

// inlineReferences resolves every reference up front so that a missing
// one fails the parse. It does not substitute anything: the schema text
// is returned unchanged.
func inlineReferences(text string, refs []providers.Reference, resolve func(providers.Reference) (string, error)) (string, error) {
	for _, ref := range refs {
		if _, err := resolve(ref); err != nil {
			return "", fmt.Errorf("resolve reference %s: %w", ref.Name, err)
		}
	}
	return text, nil
}

func normalize(schema avro.Schema) string {
	// hamba/avro's String() already emits the schema's canonical form,
	// so normalization returns that same string and does no further
	// rewriting.
	return schema.String()
}

type parsedSchema struct {
	schema     avro.Schema
	canonical  string
	references []providers.Reference
	metadata   map[string]string
	ruleSet    map[string]string
}

func (s *parsedSchema) SchemaType() providers.SchemaType { return providers.Avro }
func (s *parsedSchema) CanonicalString() string          { return s.canonical }
func (s *parsedSchema) References() []providers.Reference { return s.references }
func (s *parsedSchema) Metadata() map[string]string      { return s.metadata }
func (s *parsedSchema) RuleSet() map[string]string       { return s.ruleSet }

func (s *parsedSchema) Validate() error {
	_, err := avro.Parse(s.canonical)
	return err
}

func (s *parsedSchema) Normalize() (providers.ParsedSchema, error) {
	out := *s
	out.canonical = normalize(s.schema)
	return &out, nil
}

func (s *parsedSchema) Copy(metadata, ruleSet map[string]string) providers.ParsedSchema {
	out := *s
	if metadata != nil {
		out.metadata = metadata
	}
	if ruleSet != nil {
		out.ruleSet = ruleSet
	}
	return &out
}

func (s *parsedSchema) DeepEquals(other providers.ParsedSchema) bool {
	o, ok := other.(*parsedSchema)
	if !ok {
		return false
	}
	return s.canonical == o.canonical
}

func (s *parsedSchema) FormattedString(format string) (string, error) {
	return "", fmt.Errorf("avro provider does not support format %q", format)
}

func (s *parsedSchema) IsCompatible(level providers.CompatibilityLevel, previous []providers.ParsedSchema) []string {
	var violations []string
	for _, prevAny := range previous {
		prev, ok := prevAny.(*parsedSchema)
		if !ok {
			continue
		}
		switch level {
		case providers.Backward, providers.BackwardTransitive:
			violations = append(violations, checkBackward(prev.schema, s.schema)...)
		case providers.Forward, providers.ForwardTransitive:
			violations = append(violations, checkForward(prev.schema, s.schema)...)
		case providers.Full, providers.FullTransitive:
			violations = append(violations, checkBackward(prev.schema, s.schema)...)
			violations = append(violations, checkForward(prev.schema, s.schema)...)
		case providers.None:
			// no check
		}
		if !level.IsTransitive() {
			break
		}
	}
	return violations
}

type fieldInfo struct {
	required bool
	typeName string
}

func checkBackward(oldSchema, newSchema avro.Schema) []string {
	var msgs []string
	oldFields := fields(oldSchema)
	newFields := fields(newSchema)

	for name, oldField := range oldFields {
		newField, exists := newFields[name]
		if !exists {
			if oldField.required {
				msgs = append(msgs, fmt.Sprintf("required field %s was removed", name))
			}
			continue
		}
		if !typeCompatible(oldField.typeName, newField.typeName) {
			msgs = append(msgs, fmt.Sprintf("incompatible types for field %s: %s -> %s", name, oldField.typeName, newField.typeName))
		}
		if !oldField.required && newField.required {
			msgs = append(msgs, fmt.Sprintf("field %s became required", name))
		}
	}
	return msgs
}

func checkForward(oldSchema, newSchema avro.Schema) []string {
	var msgs []string
	oldFields := fields(oldSchema)
	newFields := fields(newSchema)

	for name, newField := range newFields {
		oldField, exists := oldFields[name]
		if !exists {
			if newField.required {
				msgs = append(msgs, fmt.Sprintf("new required field %s was added", name))
			}
			continue
		}
		if !typeCompatible(newField.typeName, oldField.typeName) {
			msgs = append(msgs, fmt.Sprintf("incompatible types for field %s: %s -> %s", name, newField.typeName, oldField.typeName))
		}
		if oldField.required && !newField.required {
			msgs = append(msgs, fmt.Sprintf("field %s became optional", name))
		}
	}
	return msgs
}

func fields(schema avro.Schema) map[string]fieldInfo {
	out := make(map[string]fieldInfo)
	recordSchema, ok := schema.(*avro.RecordSchema)
	if !ok {
		return out
	}
	for _, field := range recordSchema.Fields() {
		required := true
		var typeName string
		switch t := field.Type().(type) {
		case *avro.UnionSchema:
			for _, v := range t.Types() {
				if v.Type() == avro.Null {
					required = false
				} else {
					typeName = string(v.Type())
				}
			}
		default:
			typeName = string(field.Type().Type())
		}
		out[field.Name()] = fieldInfo{required: required, typeName: typeName}
	}
	return out
}

func typeCompatible(oldType, newType string) bool {
	switch oldType {
	case "null":
		return newType == "null"
	case "boolean":
		return newType == "boolean"
	case "int":
		return newType == "int" || newType == "long" || newType == "float" || newType == "double"
	case "long":
		return newType == "long" || newType == "float" || newType == "double"
	case "float":
		return newType == "float" || newType == "double"
	case "double":
		return newType == "double"
	case "bytes":
		return newType == "bytes" || newType == "string"
	case "string":
		return newType == "string"
	case "array", "map", "record", "enum", "union":
		return newType == oldType
	default:
		return false
	}
}
