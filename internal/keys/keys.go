// Package keys defines the durable record kinds written to the log and
// their JSON wire encoding.
package keys

import (
	"encoding/json"
	"fmt"

	"schemaregistry/internal/providers"
)

// Kind discriminates the record kinds multiplexed onto a single log.
type Kind string

const (
	KindSchema        Kind = "SCHEMA"
	KindConfig        Kind = "CONFIG"
	KindMode          Kind = "MODE"
	KindContext       Kind = "CONTEXT"
	KindDeleteSubject Kind = "DELETE_SUBJECT"
	KindClearSubject  Kind = "CLEAR_SUBJECT"
	KindNoop          Kind = "NOOP"
)

// Mode is a subject (or global) write policy.
type Mode string

const (
	ModeReadWrite       Mode = "READWRITE"
	ModeReadOnly        Mode = "READONLY"
	ModeReadOnlyOverride Mode = "READONLY_OVERRIDE"
	ModeImport          Mode = "IMPORT"
)

// SchemaKey identifies one (subject, version) record.
type SchemaKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

func NewSchemaKey(subject string, version int) SchemaKey {
	return SchemaKey{Keytype: KindSchema, Subject: subject, Version: version}
}

// String renders a log-key string suitable for use as a NATS KV entry name.
func (k SchemaKey) String() string {
	return fmt.Sprintf("schemas.%s.versions.%d", sanitize(k.Subject), k.Version)
}

// SchemaValue is the durable body of a schema record. A nil value (empty
// Schema/Type/zero ID) paired with Deleted=false never occurs; tombstones
// are represented by the absence of any value at the key, not by this
// struct's zero value.
type SchemaValue struct {
	ID         int                    `json:"id"`
	Subject    string                 `json:"subject"`
	Version    int                    `json:"version"`
	SchemaType string                 `json:"schemaType"`
	Schema     string                 `json:"schema"`
	References []providers.Reference  `json:"references,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
	RuleSet    map[string]string      `json:"ruleSet,omitempty"`
	Deleted    bool                   `json:"deleted"`
}

// ConfigKey identifies the config record for a subject, or the global
// config when Subject is empty.
type ConfigKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject,omitempty"`
}

func NewConfigKey(subject string) ConfigKey {
	return ConfigKey{Keytype: KindConfig, Subject: subject}
}

func (k ConfigKey) String() string {
	if k.Subject == "" {
		return "config.global"
	}
	return "config.subjects." + sanitize(k.Subject)
}

// ConfigValue holds a subject's (or global) compatibility policy.
type ConfigValue struct {
	CompatibilityLevel  string            `json:"compatibilityLevel,omitempty"`
	CompatibilityGroup  string            `json:"compatibilityGroup,omitempty"`
	DefaultMetadata     map[string]string `json:"defaultMetadata,omitempty"`
	OverrideMetadata    map[string]string `json:"overrideMetadata,omitempty"`
	DefaultRuleSet      map[string]string `json:"defaultRuleSet,omitempty"`
	OverrideRuleSet     map[string]string `json:"overrideRuleSet,omitempty"`
}

// Merge applies non-empty fields of other on top of c, new-wins semantics
// per field (spec: "new wins field-by-field for non-null fields").
func (c ConfigValue) Merge(other ConfigValue) ConfigValue {
	out := c
	if other.CompatibilityLevel != "" {
		out.CompatibilityLevel = other.CompatibilityLevel
	}
	if other.CompatibilityGroup != "" {
		out.CompatibilityGroup = other.CompatibilityGroup
	}
	if other.DefaultMetadata != nil {
		out.DefaultMetadata = other.DefaultMetadata
	}
	if other.OverrideMetadata != nil {
		out.OverrideMetadata = other.OverrideMetadata
	}
	if other.DefaultRuleSet != nil {
		out.DefaultRuleSet = other.DefaultRuleSet
	}
	if other.OverrideRuleSet != nil {
		out.OverrideRuleSet = other.OverrideRuleSet
	}
	return out
}

// ModeKey identifies the mode record for a subject, or the global mode
// when Subject is empty.
type ModeKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject,omitempty"`
}

func NewModeKey(subject string) ModeKey {
	return ModeKey{Keytype: KindMode, Subject: subject}
}

func (k ModeKey) String() string {
	if k.Subject == "" {
		return "mode.global"
	}
	return "mode.subjects." + sanitize(k.Subject)
}

type ModeValue struct {
	Mode Mode `json:"mode"`
}

// ContextKey marks the existence of a non-default context within a
// tenant.
type ContextKey struct {
	Keytype Kind   `json:"keytype"`
	Tenant  string `json:"tenant,omitempty"`
	Context string `json:"context"`
}

func NewContextKey(tenant, context string) ContextKey {
	return ContextKey{Keytype: KindContext, Tenant: tenant, Context: context}
}

func (k ContextKey) String() string {
	return fmt.Sprintf("contexts.%s.%s", sanitize(k.Tenant), sanitize(k.Context))
}

type ContextValue struct {
	Tenant  string `json:"tenant,omitempty"`
	Context string `json:"context"`
}

// DeleteSubjectKey carries the soft-delete watermark for a subject.
type DeleteSubjectKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject"`
}

func NewDeleteSubjectKey(subject string) DeleteSubjectKey {
	return DeleteSubjectKey{Keytype: KindDeleteSubject, Subject: subject}
}

func (k DeleteSubjectKey) String() string {
	return "delete_subject." + sanitize(k.Subject)
}

type DeleteSubjectValue struct {
	Subject string `json:"subject"`
	Version int    `json:"version"`
}

// ClearSubjectKey is a cache-clearing event emitted on mode transitions
// into IMPORT.
type ClearSubjectKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject"`
}

func NewClearSubjectKey(subject string) ClearSubjectKey {
	return ClearSubjectKey{Keytype: KindClearSubject, Subject: subject}
}

func (k ClearSubjectKey) String() string {
	return "clear_subject." + sanitize(k.Subject)
}

type ClearSubjectValue struct {
	Subject string `json:"subject"`
}

// NoopKey is the read-barrier sentinel. Subject is empty for a
// global barrier.
type NoopKey struct {
	Keytype Kind   `json:"keytype"`
	Subject string `json:"subject,omitempty"`
	Nonce   string `json:"nonce"`
}

func (k NoopKey) String() string {
	if k.Subject == "" {
		return "noop.global." + sanitize(k.Nonce)
	}
	return "noop.subjects." + sanitize(k.Subject) + "." + sanitize(k.Nonce)
}

// sanitize maps whitespace, '.', '*', '>', ':' and '/' to '_' so that
// subject and context strings, context-qualified ones included, form
// valid NATS KV key tokens; an empty string becomes "_". The mapping is
// lossy (the original string cannot be recovered from a key), and other
// characters are passed through unchanged.
func sanitize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.', '*', '>', ' ', '\t', '\n', '/', ':':
			out = append(out, '_')
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// Marshal encodes a value for storage.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes a stored value.
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
