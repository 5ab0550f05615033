// Package qualify parses context-qualified subject strings and builds
// the context-fallback search order used by unqualified lookups,
// grounded on QualifiedSubject / CONTEXT_DELIMITER /
// CONTEXT_PREFIX / DEFAULT_CONTEXT in the original Confluent
// Schema Registry source this module's behavior was distilled from.
package qualify

import "strings"

// DefaultContext is the unnamed namespace subjects live in when no
// context prefix is present.
const DefaultContext = "."

// contextDelimiter separates the leading context-marker segment and the
// bare subject in a qualified subject string: ":.<context>:<subject>".
const contextDelimiter = ":"

// Qualified is a parsed subject: a context name (DefaultContext if the
// input carried no prefix) and the bare subject within it.
type Qualified struct {
	Context string
	Subject string
}

// IsDefault reports whether q names the default context.
func (q Qualified) IsDefault() bool { return q.Context == DefaultContext }

// String re-renders q into its qualified subject form, e.g.
// ":.ctx:sub1" for context "ctx" subject "sub1", or bare "sub1" for the
// default context.
func (q Qualified) String() string {
	if q.Context == "" || q.Context == DefaultContext {
		return q.Subject
	}
	return contextDelimiter + "." + q.Context + contextDelimiter + q.Subject
}

// Parse splits a possibly context-qualified subject string of the form
// ":.<context>:<subject>" into its parts. A string with no recognized
// prefix is treated as an unqualified subject in the default context.
func Parse(raw string) Qualified {
	if !strings.HasPrefix(raw, contextDelimiter) {
		return Qualified{Context: DefaultContext, Subject: raw}
	}
	rest := raw[len(contextDelimiter):]
	idx := strings.Index(rest, contextDelimiter)
	if idx < 0 {
		return Qualified{Context: DefaultContext, Subject: raw}
	}
	contextPart := rest[:idx]
	subjectPart := rest[idx+len(contextDelimiter):]
	context := strings.TrimPrefix(contextPart, ".")
	if context == "" {
		return Qualified{Context: DefaultContext, Subject: subjectPart}
	}
	return Qualified{Context: context, Subject: subjectPart}
}

// Qualify builds the qualified subject string for subject within
// context.
func Qualify(context, subject string) string {
	return Qualified{Context: context, Subject: subject}.String()
}

// FallbackOrder returns the context search order for an unqualified
// lookup: the default context first, then every other known context in
// the order supplied (the registry supplies cache.Contexts(), which is
// sorted by name). A context-qualified input never reaches this
// function — callers only consult it when Parse(input).IsDefault().
func FallbackOrder(knownContexts []string) []string {
	order := make([]string, 0, len(knownContexts)+1)
	order = append(order, DefaultContext)
	for _, c := range knownContexts {
		if c != DefaultContext && c != "" {
			order = append(order, c)
		}
	}
	return order
}
