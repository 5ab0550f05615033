// Package providers implements the per-schema-type parsing,
// canonicalization, normalization, and compatibility-checking contract
// consumed by the registry core. Concrete implementations live in the
// avro, jsonschema, and protobuf subpackages.
package providers

import "fmt"

// SchemaType discriminates the supported wire formats.
type SchemaType string

const (
	Avro     SchemaType = "AVRO"
	JSON     SchemaType = "JSON"
	Protobuf SchemaType = "PROTOBUF"
)

// CompatibilityLevel governs which prior schemas a candidate must be
// compatible with.
type CompatibilityLevel string

const (
	None               CompatibilityLevel = "NONE"
	Backward           CompatibilityLevel = "BACKWARD"
	BackwardTransitive CompatibilityLevel = "BACKWARD_TRANSITIVE"
	Forward            CompatibilityLevel = "FORWARD"
	ForwardTransitive  CompatibilityLevel = "FORWARD_TRANSITIVE"
	Full               CompatibilityLevel = "FULL"
	FullTransitive     CompatibilityLevel = "FULL_TRANSITIVE"
)

// IsTransitive reports whether level requires checking against every
// prior version rather than just the latest.
func (l CompatibilityLevel) IsTransitive() bool {
	switch l {
	case BackwardTransitive, ForwardTransitive, FullTransitive:
		return true
	default:
		return false
	}
}

// Reference names another subject+version this schema depends on.
type Reference struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// ParseRequest is the input to a SchemaProvider.Parse call.
type ParseRequest struct {
	Schema     string
	References []Reference
	Metadata   map[string]string
	RuleSet    map[string]string
	IsNew      bool
	Normalize  bool
	// ResolveReference returns the canonical text of a referenced
	// (subject, version, name), used to resolve references during
	// parsing. May be nil if the schema has no references.
	ResolveReference func(ref Reference) (string, error)
}

// ParsedSchema is the opaque handle a provider hands back after parsing.
// The core never inspects a parsed schema's internals; it only calls
// these capabilities.
type ParsedSchema interface {
	SchemaType() SchemaType
	CanonicalString() string
	References() []Reference
	Metadata() map[string]string
	RuleSet() map[string]string
	Validate() error
	Normalize() (ParsedSchema, error)
	// Copy returns a ParsedSchema identical to this one except for the
	// supplied metadata/ruleSet overrides (either may be nil to keep
	// the existing value).
	Copy(metadata, ruleSet map[string]string) ParsedSchema
	// IsCompatible checks this schema against previous according to
	// level, returning one message per violation. An empty result
	// means compatible.
	IsCompatible(level CompatibilityLevel, previous []ParsedSchema) []string
	// DeepEquals reports structural equality after resolution —
	// stronger than comparing CanonicalString when references are
	// involved.
	DeepEquals(other ParsedSchema) bool
	// FormattedString renders the schema in an alternate format, or
	// returns an error if the provider does not support it.
	FormattedString(format string) (string, error)
}

// SchemaProvider parses raw schema text for one SchemaType.
type SchemaProvider interface {
	SchemaType() SchemaType
	Parse(req ParseRequest) (ParsedSchema, error)
}

// Registry dispatches to a SchemaProvider by type discriminator.
type Registry struct {
	providers map[SchemaType]SchemaProvider
}

// NewRegistry builds a dispatch table from the supplied providers.
func NewRegistry(ps ...SchemaProvider) *Registry {
	r := &Registry{providers: make(map[SchemaType]SchemaProvider, len(ps))}
	for _, p := range ps {
		r.providers[p.SchemaType()] = p
	}
	return r
}

// For returns the provider registered for t, or an error if none is
// registered — callers surface this as InvalidSchema.
func (r *Registry) For(t SchemaType) (SchemaProvider, error) {
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("no schema provider registered for type %q", t)
	}
	return p, nil
}
