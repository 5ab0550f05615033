// Package jsonschema implements providers.SchemaProvider for JSON
// Schema, built on github.com/santhosh-tekuri/jsonschema/v5.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"schemaregistry/internal/providers"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Provider implements providers.SchemaProvider for JSON Schema.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) SchemaType() providers.SchemaType {
	return providers.JSON
}

func (p *Provider) Parse(req providers.ParseRequest) (providers.ParsedSchema, error) {
	compiled, err := compile(req.Schema)
	if err != nil {
		return nil, fmt.Errorf("compile json schema: %w", err)
	}

	canonical := req.Schema
	if req.Normalize {
		canonical = normalize(req.Schema)
	}

	return &parsedSchema{
		compiled:   compiled,
		raw:        req.Schema,
		canonical:  canonical,
		references: req.References,
		metadata:   req.Metadata,
		ruleSet:    req.RuleSet,
	}, nil
}

func compile(text string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader([]byte(text))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile("schema.json")
}

// normalize re-marshals the schema through a decoded map so that key
// order and incidental whitespace do not affect the canonical string.
func normalize(text string) string {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return text
	}
	out, err := json.Marshal(m)
	if err != nil {
		return text
	}
	return string(out)
}

type parsedSchema struct {
	compiled   *jsonschema.Schema
	raw        string
	canonical  string
	references []providers.Reference
	metadata   map[string]string
	ruleSet    map[string]string
}

func (s *parsedSchema) SchemaType() providers.SchemaType       { return providers.JSON }
func (s *parsedSchema) CanonicalString() string                { return s.canonical }
func (s *parsedSchema) References() []providers.Reference      { return s.references }
func (s *parsedSchema) Metadata() map[string]string             { return s.metadata }
func (s *parsedSchema) RuleSet() map[string]string              { return s.ruleSet }

func (s *parsedSchema) Validate() error {
	_, err := compile(s.raw)
	return err
}

func (s *parsedSchema) Normalize() (providers.ParsedSchema, error) {
	out := *s
	out.canonical = normalize(s.raw)
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
	return normalize(s.raw) == normalize(o.raw)
}

func (s *parsedSchema) FormattedString(format string) (string, error) {
	return "", fmt.Errorf("json schema provider does not support format %q", format)
}

type propertyInfo struct {
	required bool
	typeName string
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
			violations = append(violations, checkBackward(prev.raw, s.raw)...)
		case providers.Forward, providers.ForwardTransitive:
			violations = append(violations, checkForward(prev.raw, s.raw)...)
		case providers.Full, providers.FullTransitive:
			violations = append(violations, checkBackward(prev.raw, s.raw)...)
			violations = append(violations, checkForward(prev.raw, s.raw)...)
		case providers.None:
		}
		if !level.IsTransitive() {
			break
		}
	}
	return violations
}

func checkBackward(oldText, newText string) []string {
	var msgs []string
	oldProps := properties(oldText)
	newProps := properties(newText)

	for name, info := range oldProps {
		if info.required {
			if _, exists := newProps[name]; !exists {
				msgs = append(msgs, fmt.Sprintf("required property %s removed in new schema", name))
			}
		}
	}
	for name, oldInfo := range oldProps {
		if newInfo, exists := newProps[name]; exists {
			if !typeCompatible(oldInfo.typeName, newInfo.typeName) {
				msgs = append(msgs, fmt.Sprintf("incompatible type change for property %s", name))
			}
		}
	}
	return msgs
}

func checkForward(oldText, newText string) []string {
	var msgs []string
	oldProps := properties(oldText)
	newProps := properties(newText)

	for name, info := range newProps {
		if info.required {
			if _, exists := oldProps[name]; !exists {
				msgs = append(msgs, fmt.Sprintf("required property %s added in new schema", name))
			}
		}
	}
	for name, newInfo := range newProps {
		if oldInfo, exists := oldProps[name]; exists {
			if !typeCompatible(oldInfo.typeName, newInfo.typeName) {
				msgs = append(msgs, fmt.Sprintf("incompatible type change for property %s", name))
			}
		}
	}
	return msgs
}

func properties(text string) map[string]propertyInfo {
	props := make(map[string]propertyInfo)
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return props
	}
	rawProps, ok := m["properties"].(map[string]interface{})
	if !ok {
		return props
	}
	required := make(map[string]bool)
	if reqList, ok := m["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}
	for name, raw := range rawProps {
		propMap, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		typeName := "object"
		if t, ok := propMap["type"].(string); ok {
			typeName = t
		}
		props[name] = propertyInfo{required: required[name], typeName: typeName}
	}
	return props
}

func typeCompatible(oldType, newType string) bool {
	switch oldType {
	case "null", "boolean", "integer", "number", "string", "array", "object":
		return newType == oldType
	default:
		return false
	}
}
