// Package cache implements the LookupCache: the in-memory, ordered
// materialization of the log that every node builds from the LogStore's
// consumer. It is the sole shared mutable structure in the process
// (spec §5): the consumer is the only writer, readers may be many,
// grounded on the teacher's Registry cache fields
// (schemaCache/subjectCache/versionCache/configCache) and their
// maintenance in handleSchemaUpdate/handleConfigUpdate, generalized to
// the full record-kind set plus the reverse-reference index the
// original Confluent lookupCache maintains.
package cache

import (
	"sort"
	"strings"
	"sync"

	"schemaregistry/internal/keys"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/qualify"
)

// ReferenceKey names one (subject, version) that a schema depends on,
// used as a map key for the reverse-reference index.
type ReferenceKey struct {
	Subject string
	Version int
}

// Cache is the LookupCache. Safe for concurrent use: Apply is only ever
// called by the store's single consumer goroutine; every other method
// may be called concurrently by request-handling workers.
type Cache struct {
	mu sync.RWMutex

	// schemas[subject][version] -> value
	schemas map[string]map[int]keys.SchemaValue
	// byID[id] -> set of (subject,version)
	byID map[int]map[ReferenceKey]struct{}
	// byContent[type|canonical|refs] -> id
	byContent map[string]int
	// reverseRefs[subject][version] -> set of ids that reference it
	reverseRefs map[string]map[int]map[int]struct{}

	configs map[string]keys.ConfigValue
	modes   map[string]keys.Mode
	contexts map[string]struct{}

	deletedSubjects map[string]int // subject -> watermark version
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		schemas:         make(map[string]map[int]keys.SchemaValue),
		byID:            make(map[int]map[ReferenceKey]struct{}),
		byContent:       make(map[string]int),
		reverseRefs:     make(map[string]map[int]map[int]struct{}),
		configs:         make(map[string]keys.ConfigValue),
		modes:           make(map[string]keys.Mode),
		contexts:        make(map[string]struct{}),
		deletedSubjects: make(map[string]int),
	}
}

// Apply implements store.Applier. It must be deterministic and
// idempotent with respect to replay: applying the same log twice from
// scratch yields the same observable state.
func (c *Cache) Apply(key string, value []byte, revision uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(key, "schemas."):
		c.applySchema(key, value)
	case strings.HasPrefix(key, "config."):
		c.applyConfig(key, value)
	case strings.HasPrefix(key, "mode."):
		c.applyMode(key, value)
	case strings.HasPrefix(key, "contexts."):
		c.applyContext(key, value)
	case strings.HasPrefix(key, "delete_subject."):
		c.applyDeleteSubject(key, value)
	case strings.HasPrefix(key, "clear_subject."):
		c.applyClearSubject(key, value)
	case strings.HasPrefix(key, "noop."):
		// no cache effect; the store's barrier logic only cares about
		// having observed the revision.
	}
}

func (c *Cache) applySchema(key string, value []byte) {
	if value == nil {
		c.removeSchemaByKeyString(key)
		return
	}
	var v keys.SchemaValue
	if err := keys.Unmarshal(value, &v); err != nil {
		return
	}
	c.putSchema(v)
}

func (c *Cache) putSchema(v keys.SchemaValue) {
	if c.schemas[v.Subject] == nil {
		c.schemas[v.Subject] = make(map[int]keys.SchemaValue)
	}
	if old, ok := c.schemas[v.Subject][v.Version]; ok {
		c.unindexReferences(v.Subject, v.Version, old.References)
		c.unindexContent(old)
	}
	c.schemas[v.Subject][v.Version] = v

	rk := ReferenceKey{Subject: v.Subject, Version: v.Version}
	if c.byID[v.ID] == nil {
		c.byID[v.ID] = make(map[ReferenceKey]struct{})
	}
	c.byID[v.ID][rk] = struct{}{}

	if !v.Deleted {
		c.byContent[contentKey(v.SchemaType, v.Schema, v.References)] = v.ID
	}
	c.indexReferences(v.Subject, v.Version, v.References)
}

func (c *Cache) removeSchemaByKeyString(key string) {
	// key format: schemas.<sanitized subject>.versions.<version>. The
	// sanitized segment cannot be turned back into the subject, so the
	// subject is found by re-encoding each cached subject's key.
	parts := strings.Split(key, ".")
	if len(parts) < 4 {
		return
	}
	versionStr := parts[3]
	version := atoiSafe(versionStr)

	subject := ""
	for s := range c.schemas {
		if keys.NewSchemaKey(s, version).String() == key {
			subject = s
			break
		}
	}
	versions, ok := c.schemas[subject]
	if !ok {
		return
	}
	old, ok := versions[version]
	if !ok {
		return
	}
	// unindex while the record is still present: unindexReferences
	// looks up the referencing id through c.schemas.
	c.unindexReferences(subject, version, old.References)
	delete(versions, version)
	if len(versions) == 0 {
		delete(c.schemas, subject)
	}
	rk := ReferenceKey{Subject: subject, Version: version}
	if set, ok := c.byID[old.ID]; ok {
		delete(set, rk)
		if len(set) == 0 {
			delete(c.byID, old.ID)
		}
	}
	c.unindexContent(old)
}

func (c *Cache) indexReferences(subject string, version int, refs []providers.Reference) {
	for _, ref := range refs {
		if c.reverseRefs[ref.Subject] == nil {
			c.reverseRefs[ref.Subject] = make(map[int]map[int]struct{})
		}
		// store the referencing schema's id under the referenced
		// (subject, version); id is resolved lazily by the caller via
		// the schema record, so key by version and track subject/version
		// of the referencer via a synthetic id-less marker is avoided:
		// we store the referencer's id directly once known.
		if v, ok := c.schemas[subject][version]; ok {
			if c.reverseRefs[ref.Subject][ref.Version] == nil {
				c.reverseRefs[ref.Subject][ref.Version] = make(map[int]struct{})
			}
			c.reverseRefs[ref.Subject][ref.Version][v.ID] = struct{}{}
		}
	}
}

func (c *Cache) unindexReferences(subject string, version int, refs []providers.Reference) {
	for _, ref := range refs {
		if byVersion, ok := c.reverseRefs[ref.Subject]; ok {
			if ids, ok := byVersion[ref.Version]; ok {
				if v, ok := c.schemas[subject][version]; ok {
					delete(ids, v.ID)
				}
				if len(ids) == 0 {
					delete(byVersion, ref.Version)
				}
			}
			if len(byVersion) == 0 {
				delete(c.reverseRefs, ref.Subject)
			}
		}
	}
}

func (c *Cache) unindexContent(v keys.SchemaValue) {
	ck := contentKey(v.SchemaType, v.Schema, v.References)
	if id, ok := c.byContent[ck]; ok && id == v.ID {
		delete(c.byContent, ck)
	}
}

func contentKey(schemaType, canonical string, refs []providers.Reference) string {
	var b strings.Builder
	b.WriteString(schemaType)
	b.WriteByte('\x00')
	b.WriteString(canonical)
	for _, r := range refs {
		b.WriteByte('\x00')
		b.WriteString(r.Name)
		b.WriteByte('\x00')
		b.WriteString(r.Subject)
		b.WriteByte('\x00')
		b.WriteString(itoa(r.Version))
	}
	return b.String()
}

func (c *Cache) applyConfig(key string, value []byte) {
	subject := configSubjectFromKey(key)
	if value == nil {
		delete(c.configs, subject)
		return
	}
	var v keys.ConfigValue
	if err := keys.Unmarshal(value, &v); err != nil {
		return
	}
	c.configs[subject] = v
}

func configSubjectFromKey(key string) string {
	if key == "config.global" {
		return ""
	}
	return strings.TrimPrefix(key, "config.subjects.")
}

func (c *Cache) applyMode(key string, value []byte) {
	subject := modeSubjectFromKey(key)
	if value == nil {
		delete(c.modes, subject)
		return
	}
	var v keys.ModeValue
	if err := keys.Unmarshal(value, &v); err != nil {
		return
	}
	c.modes[subject] = v.Mode
}

func modeSubjectFromKey(key string) string {
	if key == "mode.global" {
		return ""
	}
	return strings.TrimPrefix(key, "mode.subjects.")
}

func (c *Cache) applyContext(key string, value []byte) {
	if value == nil {
		delete(c.contexts, key)
		return
	}
	var v keys.ContextValue
	if err := keys.Unmarshal(value, &v); err == nil {
		c.contexts[v.Context] = struct{}{}
	}
}

func (c *Cache) applyDeleteSubject(key string, value []byte) {
	if value == nil {
		return
	}
	var v keys.DeleteSubjectValue
	if err := keys.Unmarshal(value, &v); err == nil {
		c.deletedSubjects[v.Subject] = v.Version
	}
}

func (c *Cache) applyClearSubject(key string, value []byte) {
	if value == nil {
		return
	}
	var v keys.ClearSubjectValue
	if err := keys.Unmarshal(value, &v); err != nil {
		return
	}
	delete(c.deletedSubjects, v.Subject)
}

// Get returns the schema record for (subject, version).
func (c *Cache) Get(subject string, version int) (keys.SchemaValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.schemas[subject][version]
	return v, ok
}

// LatestVersion returns the highest version number recorded for
// subject, including soft-deleted versions, and whether any version
// exists.
func (c *Cache) LatestVersion(subject string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions, ok := c.schemas[subject]
	if !ok || len(versions) == 0 {
		return 0, false
	}
	max := 0
	for v := range versions {
		if v > max {
			max = v
		}
	}
	return max, true
}

// Versions returns every version recorded for subject, sorted
// descending, optionally including soft-deleted ones.
func (c *Cache) Versions(subject string, includeDeleted bool) []keys.SchemaValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.schemas[subject]
	out := make([]keys.SchemaValue, 0, len(versions))
	for _, v := range versions {
		if !includeDeleted && v.Deleted {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// SchemaKeyByIDInContext returns a (subject, version) recorded under id
// whose subject lives in exactly the named context (qualify.DefaultContext
// for the default context). Callers that want cross-context resolution
// walk contexts explicitly, the same way subject lookup does (see
// qualify.FallbackOrder); this method never guesses across contexts.
func (c *Cache) SchemaKeyByIDInContext(id int, context string) (string, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.byID[id]
	if !ok {
		return "", 0, false
	}
	for rk := range set {
		if qualify.Parse(rk.Subject).Context == context {
			return rk.Subject, rk.Version, true
		}
	}
	return "", 0, false
}

// IDExists reports whether id is already attached to any (subject,
// version) in any context. Used for the id-collision check during
// assignment (spec §4.6.1 step 12), where uniqueness is global rather
// than scoped to a single context.
func (c *Cache) IDExists(id int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byID[id]
	return ok
}

// SchemaIDAndSubjects performs the content-addressed lookup: given a
// canonicalized schema (type, text, references), returns its id and the
// set of (subject -> version) pairs it is registered under.
func (c *Cache) SchemaIDAndSubjects(schemaType, canonical string, refs []providers.Reference) (int, map[string]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byContent[contentKey(schemaType, canonical, refs)]
	if !ok {
		return 0, nil, false
	}
	out := make(map[string]int)
	for rk := range c.byID[id] {
		if v, ok := c.schemas[rk.Subject][rk.Version]; ok && !v.Deleted {
			out[rk.Subject] = rk.Version
		}
	}
	return id, out, true
}

// ReferencesSchema returns the ids of the schemas whose references name
// (subject, version); an empty result means nothing references it.
// Soft-deleted referencing schemas are included.
func (c *Cache) ReferencesSchema(subject string, version int) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids, ok := c.reverseRefs[subject][version]
	if !ok {
		return nil
	}
	out := make([]int, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// Subjects returns every subject with the given prefix (empty matches
// all), optionally including subjects whose only versions are
// soft-deleted.
func (c *Cache) Subjects(prefix string, includeDeleted bool) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for subject, versions := range c.schemas {
		if prefix != "" && !strings.HasPrefix(subject, prefix) {
			continue
		}
		if !includeDeleted {
			anyLive := false
			for _, v := range versions {
				if !v.Deleted {
					anyLive = true
					break
				}
			}
			if !anyLive {
				continue
			}
		}
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}

// Config returns the effective config for subject. inScope=true falls
// back subject-specific -> global -> defaultValue.
func (c *Cache) Config(subject string, inScope bool, defaultValue keys.ConfigValue) keys.ConfigValue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.configs[subject]; ok {
		return v
	}
	if !inScope {
		return defaultValue
	}
	if v, ok := c.configs[""]; ok {
		return v
	}
	return defaultValue
}

// Mode returns the effective mode for subject. inScope=true falls back
// subject-specific -> global -> defaultValue. A global
// READONLY_OVERRIDE always wins regardless of subject-specific mode.
func (c *Cache) Mode(subject string, inScope bool, defaultValue keys.Mode) keys.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if global, ok := c.modes[""]; ok && global == keys.ModeReadOnlyOverride {
		return keys.ModeReadOnlyOverride
	}
	if v, ok := c.modes[subject]; ok {
		return v
	}
	if !inScope {
		return defaultValue
	}
	if v, ok := c.modes[""]; ok {
		return v
	}
	return defaultValue
}

// Contexts returns every known non-default context, in no particular
// order beyond being stable for a given cache state.
func (c *Cache) Contexts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.contexts))
	for ctx := range c.contexts {
		out = append(out, ctx)
	}
	sort.Strings(out)
	return out
}

// DeleteWatermark returns the soft-delete watermark version recorded
// for subject, if any.
func (c *Cache) DeleteWatermark(subject string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.deletedSubjects[subject]
	return v, ok
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return n
		}
		n = n*10 + int(s[i]-'0')
	}
	return n
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
