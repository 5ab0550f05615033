// Package protobuf implements providers.SchemaProvider for Protobuf
// schemas, built on google.golang.org/protobuf. Schema text is a
// FileDescriptorProto encoded as JSON, matching how the Confluent wire
// protocol represents protobuf schemas.
package protobuf

import (
	"fmt"

	"schemaregistry/internal/providers"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Provider implements providers.SchemaProvider for Protobuf.
type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) SchemaType() providers.SchemaType {
	return providers.Protobuf
}

func (p *Provider) Parse(req providers.ParseRequest) (providers.ParsedSchema, error) {
	fileDesc, err := parseFileDescriptor(req.Schema)
	if err != nil {
		return nil, err
	}
	if fileDesc.Messages().Len() == 0 {
		return nil, fmt.Errorf("no message type found in schema")
	}

	canonical := req.Schema
	if req.Normalize {
		canonical, err = canonicalize(fileDesc)
		if err != nil {
			return nil, fmt.Errorf("normalize schema: %w", err)
		}
	}

	return &parsedSchema{
		fileDesc:   fileDesc,
		raw:        req.Schema,
		canonical:  canonical,
		references: req.References,
		metadata:   req.Metadata,
		ruleSet:    req.RuleSet,
	}, nil
}

func parseFileDescriptor(text string) (protoreflect.FileDescriptor, error) {
	var fileDescProto descriptorpb.FileDescriptorProto
	if err := protojson.Unmarshal([]byte(text), &fileDescProto); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	fileDesc, err := protodesc.NewFile(&fileDescProto, protoregistry.GlobalFiles)
	if err != nil {
		return nil, fmt.Errorf("create file descriptor: %w", err)
	}
	return fileDesc, nil
}

// canonicalize re-renders the descriptor through protojson with
// deterministic field ordering, eliminating incidental textual
// variation (key order, whitespace) in the original JSON.
func canonicalize(fileDesc protoreflect.FileDescriptor) (string, error) {
	fdProto := protodesc.ToFileDescriptorProto(fileDesc)
	out, err := protojson.MarshalOptions{}.Marshal(fdProto)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type parsedSchema struct {
	fileDesc   protoreflect.FileDescriptor
	raw        string
	canonical  string
	references []providers.Reference
	metadata   map[string]string
	ruleSet    map[string]string
}

func (s *parsedSchema) SchemaType() providers.SchemaType  { return providers.Protobuf }
func (s *parsedSchema) CanonicalString() string           { return s.canonical }
func (s *parsedSchema) References() []providers.Reference { return s.references }
func (s *parsedSchema) Metadata() map[string]string       { return s.metadata }
func (s *parsedSchema) RuleSet() map[string]string        { return s.ruleSet }

func (s *parsedSchema) Validate() error {
	_, err := parseFileDescriptor(s.raw)
	return err
}

func (s *parsedSchema) Normalize() (providers.ParsedSchema, error) {
	canonical, err := canonicalize(s.fileDesc)
	if err != nil {
		return nil, err
	}
	out := *s
	out.canonical = canonical
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
	a, errA := canonicalize(s.fileDesc)
	b, errB := canonicalize(o.fileDesc)
	if errA != nil || errB != nil {
		return s.raw == o.raw
	}
	return a == b
}

func (s *parsedSchema) FormattedString(format string) (string, error) {
	return "", fmt.Errorf("protobuf provider does not support format %q", format)
}

type fieldInfo struct {
	required bool
	kind     string
}

func (s *parsedSchema) IsCompatible(level providers.CompatibilityLevel, previous []providers.ParsedSchema) []string {
	var violations []string
	for _, prevAny := range previous {
		prev, ok := prevAny.(*parsedSchema)
		if !ok || prev.fileDesc.Messages().Len() == 0 || s.fileDesc.Messages().Len() == 0 {
			continue
		}
		oldMsg := prev.fileDesc.Messages().Get(0)
		newMsg := s.fileDesc.Messages().Get(0)
		switch level {
		case providers.Backward, providers.BackwardTransitive:
			violations = append(violations, checkBackward(oldMsg, newMsg)...)
		case providers.Forward, providers.ForwardTransitive:
			violations = append(violations, checkForward(oldMsg, newMsg)...)
		case providers.Full, providers.FullTransitive:
			violations = append(violations, checkBackward(oldMsg, newMsg)...)
			violations = append(violations, checkForward(oldMsg, newMsg)...)
		case providers.None:
		}
		if !level.IsTransitive() {
			break
		}
	}
	return violations
}

func checkBackward(oldMessage, newMessage protoreflect.MessageDescriptor) []string {
	var msgs []string
	oldFields := fields(oldMessage)
	newFields := fields(newMessage)

	for name, oldField := range oldFields {
		newField, exists := newFields[name]
		if !exists {
			if oldField.required {
				msgs = append(msgs, fmt.Sprintf("required field %s was removed", name))
			}
			continue
		}
		if !typeCompatible(oldField.kind, newField.kind) {
			msgs = append(msgs, fmt.Sprintf("incompatible types for field %s: %s -> %s", name, oldField.kind, newField.kind))
		}
		if !oldField.required && newField.required {
			msgs = append(msgs, fmt.Sprintf("field %s became required", name))
		}
	}
	return msgs
}

func checkForward(oldMessage, newMessage protoreflect.MessageDescriptor) []string {
	var msgs []string
	oldFields := fields(oldMessage)
	newFields := fields(newMessage)

	for name, newField := range newFields {
		oldField, exists := oldFields[name]
		if !exists {
			if newField.required {
				msgs = append(msgs, fmt.Sprintf("new required field %s was added", name))
			}
			continue
		}
		if !typeCompatible(newField.kind, oldField.kind) {
			msgs = append(msgs, fmt.Sprintf("incompatible types for field %s: %s -> %s", name, newField.kind, oldField.kind))
		}
		if oldField.required && !newField.required {
			msgs = append(msgs, fmt.Sprintf("field %s became optional", name))
		}
	}
	return msgs
}

func fields(message protoreflect.MessageDescriptor) map[string]fieldInfo {
	out := make(map[string]fieldInfo, message.Fields().Len())
	for i := 0; i < message.Fields().Len(); i++ {
		field := message.Fields().Get(i)
		out[string(field.Name())] = fieldInfo{
			required: field.Cardinality() == protoreflect.Required,
			kind:     field.Kind().String(),
		}
	}
	return out
}

func typeCompatible(oldType, newType string) bool {
	switch oldType {
	case "double":
		return newType == "double"
	case "float":
		return newType == "float" || newType == "double"
	case "int32":
		return newType == "int32" || newType == "int64" || newType == "uint32" || newType == "uint64" ||
			newType == "sint32" || newType == "sint64" || newType == "fixed32" || newType == "fixed64" ||
			newType == "sfixed32" || newType == "sfixed64"
	case "int64":
		return newType == "int64" || newType == "uint64" || newType == "sint64" || newType == "fixed64" || newType == "sfixed64"
	case "uint32":
		return newType == "uint32" || newType == "uint64" || newType == "fixed32" || newType == "fixed64"
	case "uint64":
		return newType == "uint64" || newType == "fixed64"
	case "sint32":
		return newType == "sint32" || newType == "sint64" || newType == "int32" || newType == "int64"
	case "sint64":
		return newType == "sint64" || newType == "int64"
	case "fixed32":
		return newType == "fixed32" || newType == "fixed64" || newType == "uint32" || newType == "uint64"
	case "fixed64":
		return newType == "fixed64" || newType == "uint64"
	case "sfixed32":
		return newType == "sfixed32" || newType == "sfixed64" || newType == "int32" || newType == "int64"
	case "sfixed64":
		return newType == "sfixed64" || newType == "int64"
	case "bool", "string", "bytes", "enum", "message", "group":
		return newType == oldType
	default:
		return false
	}
}
