// Package registry implements RegistryCore (spec §4.6): the
// orchestration layer tying together the LogStore, LookupCache,
// IdGenerator, LeaderElector, and SchemaProvider registry into the
// registration/lookup/delete/config/mode algorithm. Grounded on the
// teacher's Registry.RegisterSchema/DeleteSchemaVersion/DeleteSubject/
// LookupSchema for overall shape, generalized step by step to match
// the original KafkaSchemaRegistry's register/deleteSchemaVersion/
// deleteSubject/lookUpSchemaUnderSubjectUsingContexts (see
// SPEC_FULL.md's "SUPPLEMENTED FEATURES" for the specific behaviors
// ported from the original).
package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"schemaregistry/internal/cache"
	"schemaregistry/internal/forward"
	"schemaregistry/internal/idgen"
	"schemaregistry/internal/keys"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/providers/parsecache"
	"schemaregistry/internal/qualify"
	"schemaregistry/internal/rerrors"
	"schemaregistry/internal/store"
)

// MinVersion is the first version number assigned under a subject.
const MinVersion = 1

// RegisterInput is the caller-supplied data for a registration.
type RegisterInput struct {
	Subject    string
	Schema     string
	SchemaType providers.SchemaType
	References []providers.Reference
	Metadata   map[string]string
	RuleSet    map[string]string
	// ID is the caller-supplied id, or -1 if the system should assign
	// one. Only honored under IMPORT mode.
	ID int
	// Version is the caller-supplied version, or 0 if the system
	// should assign one. Only honored under IMPORT mode.
	Version   int
	Normalize bool
}

// LeaderResolver reports the current leader's base URL (empty if
// unknown) and whether this node is the leader.
type LeaderResolver interface {
	IsLeader() bool
	LeaderBaseURL() (string, bool)
}

// Registry is RegistryCore.
type Registry struct {
	store      store.Store
	cache      *cache.Cache
	idgen      *idgen.Generator
	providers  *providers.Registry
	parseCache *parsecache.Cache
	forwarder  *forward.Client
	leader     LeaderResolver

	timeout         time.Duration
	writeMaxRetries int
	modeMutability  bool
	defaultCompat   providers.CompatibilityLevel
}

// Config bundles the construction-time options for a Registry.
type Config struct {
	Store                store.Store
	Cache                *cache.Cache
	IDGen                *idgen.Generator
	Providers            *providers.Registry
	ParseCache           *parsecache.Cache
	Forwarder            *forward.Client
	Leader               LeaderResolver
	Timeout              time.Duration
	WriteMaxRetries      int
	ModeMutability       bool
	DefaultCompatibility providers.CompatibilityLevel
}

// New builds a Registry from its collaborators.
func New(cfg Config) *Registry {
	return &Registry{
		store:           cfg.Store,
		cache:           cfg.Cache,
		idgen:           cfg.IDGen,
		providers:       cfg.Providers,
		parseCache:      cfg.ParseCache,
		forwarder:       cfg.Forwarder,
		leader:          cfg.Leader,
		timeout:         cfg.Timeout,
		writeMaxRetries: cfg.WriteMaxRetries,
		modeMutability:  cfg.ModeMutability,
		defaultCompat:   cfg.DefaultCompatibility,
	}
}

// Register implements spec §4.6.1. Returns the assigned (or reused) id
// and version.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (id int, version int, err error) {
	q := qualify.Parse(in.Subject)
	mode := r.cache.Mode(in.Subject, true, keys.ModeReadWrite)

	// 1. mode gate
	if mode == keys.ModeReadOnly || mode == keys.ModeReadOnlyOverride {
		return 0, 0, rerrors.New(rerrors.OperationNotPermitted, "subject is in read-only mode")
	}
	if in.ID >= 0 && mode != keys.ModeImport {
		return 0, 0, rerrors.New(rerrors.OperationNotPermitted, "caller-supplied id requires IMPORT mode")
	}
	if in.ID < 0 && mode != keys.ModeReadWrite && mode != keys.ModeImport {
		return 0, 0, rerrors.New(rerrors.OperationNotPermitted, "subject does not accept writes in its current mode")
	}

	// 2. barrier
	if err := r.store.WaitUntilReaderReachesLastOffset(ctx, in.Subject, r.timeout); err != nil {
		return 0, 0, err
	}

	// 3. parse
	parsed, err := r.canonicalize(in, in.ID < 0)
	if err != nil {
		return 0, 0, rerrors.Wrap(rerrors.InvalidSchema, "parse schema", err)
	}
	if parsed == nil {
		// empty schema input: return the latest undeleted version's id
		// and version as they are; no new version is written and the
		// incoming metadata/ruleSet are not applied
		if latest, ok := r.latestUndeleted(in.Subject); ok {
			return latest.ID, latest.Version, nil
		}
		return 0, 0, rerrors.New(rerrors.InvalidSchema, "empty schema with no previous version to copy")
	}

	// 4. dedup fast path
	if hitID, hitVersion, ok := r.dedupFastPath(in.Subject, in.ID, parsed); ok {
		return hitID, hitVersion, nil
	}

	// 5. existing versions
	existing := r.cache.Versions(in.Subject, true)
	newVersion := MinVersion
	if len(existing) > 0 {
		newVersion = existing[0].Version + 1
	}

	// 6. reference-resolution dedup
	if len(parsed.References()) == 0 {
		for _, v := range existing {
			if v.Deleted || len(v.References) == 0 {
				continue
			}
			prevParsed, err := r.canonicalize(RegisterInput{
				Subject: in.Subject, Schema: v.Schema, SchemaType: providers.SchemaType(v.SchemaType),
				References: v.References, Normalize: in.Normalize,
			}, false)
			if err == nil && prevParsed != nil && parsed.DeepEquals(prevParsed) {
				return v.ID, v.Version, nil
			}
		}
	}

	// 7. metadata/ruleSet population + config merge
	metadata, ruleSet := parsed.Metadata(), parsed.RuleSet()
	if metadata == nil && len(existing) > 0 {
		metadata = existing[0].Metadata
	}
	if ruleSet == nil && len(existing) > 0 {
		ruleSet = existing[0].RuleSet
	}
	cfg := r.cache.Config(in.Subject, true, keys.ConfigValue{CompatibilityLevel: string(r.defaultCompat)})
	metadata = mergeStrings(cfg.DefaultMetadata, metadata, cfg.OverrideMetadata)
	ruleSet = mergeStrings(cfg.DefaultRuleSet, ruleSet, cfg.OverrideRuleSet)
	parsed = parsed.Copy(metadata, ruleSet)

	// 8. compatibility
	if mode != keys.ModeImport {
		level := providers.CompatibilityLevel(cfg.CompatibilityLevel)
		if level == "" {
			level = r.defaultCompat
		}
		previous := r.previousForCompatibility(in.Subject, existing, cfg.CompatibilityGroup, metadata)
		if violations := parsed.IsCompatible(level, previous); len(violations) > 0 {
			return 0, 0, rerrors.Newf(rerrors.IncompatibleSchema, "incompatible with prior schema(s): %v", violations)
		}
	}

	// 9. re-run dedup after normalization
	if hitID, hitVersion, ok := r.dedupFastPath(in.Subject, in.ID, parsed); ok {
		return hitID, hitVersion, nil
	}

	// 10. context marker
	if !q.IsDefault() {
		if err := r.ensureContextMarker(ctx, q.Context); err != nil {
			return 0, 0, err
		}
	}

	// 11. version assignment
	if in.Version > 0 {
		if in.Version != newVersion && mode != keys.ModeImport {
			return 0, 0, rerrors.Newf(rerrors.OperationNotPermitted, "version %d is not the next version %d", in.Version, newVersion)
		}
		newVersion = in.Version
	}

	// 12. id assignment
	var assignedID int
	if in.ID >= 0 {
		if err := r.checkIfSchemaWithIDExists(in.Subject, in.ID, parsed); err != nil {
			return 0, 0, err
		}
		assignedID = in.ID
		if err := r.writeSchema(ctx, in.Subject, newVersion, assignedID, parsed, false); err != nil {
			return 0, 0, err
		}
	} else {
		assignedID, err = r.assignIDWithRetries(ctx, in.Subject, newVersion, parsed)
		if err != nil {
			return 0, 0, err
		}
	}

	// 13. tombstone lower-versioned soft-deleted entries sharing this id
	r.tombstoneLowerVersionsWithSameID(ctx, in.Subject, newVersion, assignedID, existing)

	return assignedID, newVersion, nil
}

// RegisterOrForward implements spec §4.6.2.
func (r *Registry) RegisterOrForward(ctx context.Context, in RegisterInput, headers http.Header) (id int, version int, err error) {
	if hitID, hitVersion, ok := r.preDedupProbe(in); ok {
		return hitID, hitVersion, nil
	}

	lock := r.store.LockFor(in.Subject)
	lock.Lock()
	defer lock.Unlock()

	if r.leader.IsLeader() {
		return r.Register(ctx, in)
	}

	baseURL, known := r.leader.LeaderBaseURL()
	if !known {
		return 0, 0, rerrors.New(rerrors.UnknownLeader, "no leader is currently known")
	}

	body, err := encodeRegisterRequest(in)
	if err != nil {
		return 0, 0, rerrors.Wrap(rerrors.RequestForwarding, "encode forwarded request", err)
	}
	resp, respBody, err := r.forwarder.RegisterSchema(ctx, baseURL, in.Subject, in.Normalize, body, headers)
	if err != nil {
		return 0, 0, err
	}
	if resp.StatusCode/100 != 2 {
		return 0, 0, forward.DecodeError(resp.StatusCode, respBody)
	}
	return decodeRegisterResponse(respBody)
}

// preDedupProbe is the read-only check RegisterOrForward performs
// before acquiring any lock.
func (r *Registry) preDedupProbe(in RegisterInput) (int, int, bool) {
	parsed, err := r.canonicalize(in, in.ID < 0)
	if err != nil || parsed == nil {
		return 0, 0, false
	}
	id, subjects, ok := r.cache.SchemaIDAndSubjects(string(parsed.SchemaType()), parsed.CanonicalString(), parsed.References())
	if !ok {
		return 0, 0, false
	}
	if in.ID >= 0 && in.ID != id {
		return 0, 0, false
	}
	if v, ok := subjects[in.Subject]; ok {
		return id, v, true
	}
	return 0, 0, false
}

// DeleteSchemaVersion implements spec §4.6.3.
func (r *Registry) DeleteSchemaVersion(ctx context.Context, subject string, version int, permanent bool) error {
	mode := r.cache.Mode(subject, true, keys.ModeReadWrite)
	if mode == keys.ModeReadOnly || mode == keys.ModeReadOnlyOverride {
		return rerrors.New(rerrors.OperationNotPermitted, "subject is in read-only mode")
	}
	if ids := r.cache.ReferencesSchema(subject, version); len(ids) > 0 {
		return rerrors.Newf(rerrors.ReferenceExists, "schema (subject=%s, version=%d) is referenced by id(s) %v", subject, version, ids)
	}
	v, ok := r.cache.Get(subject, version)
	if !ok {
		return rerrors.Newf(rerrors.NotFound, "no schema for subject %s version %d", subject, version)
	}
	if permanent && !v.Deleted {
		return rerrors.Newf(rerrors.SchemaVersionNotSoftDeleted, "subject %s version %d must be soft-deleted before hard delete", subject, version)
	}

	if err := r.store.WaitUntilReaderReachesLastOffset(ctx, subject, r.timeout); err != nil {
		return err
	}

	key := keys.NewSchemaKey(subject, version)
	if permanent {
		if err := r.store.Delete(ctx, key.String()); err != nil {
			return err
		}
	} else {
		v.Deleted = true
		if err := r.writeSchemaValue(ctx, key, v); err != nil {
			return err
		}
	}

	if remaining := r.cache.Versions(subject, false); len(remaining) == 0 {
		_ = r.store.Delete(ctx, keys.NewModeKey(subject).String())
		_ = r.store.Delete(ctx, keys.NewConfigKey(subject).String())
	}
	return nil
}

// DeleteSubject implements spec §4.6.4. Returns the versions deleted.
func (r *Registry) DeleteSubject(ctx context.Context, subject string, permanent bool) ([]int, error) {
	mode := r.cache.Mode(subject, true, keys.ModeReadWrite)
	if mode == keys.ModeReadOnly || mode == keys.ModeReadOnlyOverride {
		return nil, rerrors.New(rerrors.OperationNotPermitted, "subject is in read-only mode")
	}

	versions := r.cache.Versions(subject, permanent)
	var toDelete []int
	for _, v := range versions {
		if !permanent && v.Deleted {
			continue
		}
		if ids := r.cache.ReferencesSchema(subject, v.Version); len(ids) > 0 {
			return nil, rerrors.Newf(rerrors.ReferenceExists, "schema (subject=%s, version=%d) is referenced by id(s) %v", subject, v.Version, ids)
		}
		toDelete = append(toDelete, v.Version)
	}

	if err := r.store.WaitUntilReaderReachesLastOffset(ctx, subject, r.timeout); err != nil {
		return nil, err
	}

	if permanent {
		for _, version := range toDelete {
			if err := r.store.Delete(ctx, keys.NewSchemaKey(subject, version).String()); err != nil {
				return nil, err
			}
		}
	} else {
		watermark := 0
		for _, version := range toDelete {
			if version > watermark {
				watermark = version
			}
			v, _ := r.cache.Get(subject, version)
			v.Deleted = true
			if err := r.writeSchemaValue(ctx, keys.NewSchemaKey(subject, version), v); err != nil {
				return nil, err
			}
		}
		dsKey := keys.NewDeleteSubjectKey(subject)
		dsVal := keys.DeleteSubjectValue{Subject: subject, Version: watermark}
		payload, err := keys.Marshal(dsVal)
		if err != nil {
			return nil, rerrors.Wrap(rerrors.Store, "marshal delete-subject record", err)
		}
		if err := r.store.Put(ctx, dsKey.String(), payload); err != nil {
			return nil, err
		}
	}

	return toDelete, nil
}

// LookupSchemaUnderSubject implements the content-addressed lookup used
// by the "register a schema you already have" REST endpoint, including
// the context-fallback rule of spec §4.6.5: the fallback context scan
// only runs when the input subject is itself unqualified.
func (r *Registry) LookupSchemaUnderSubject(subject, schemaText string, schemaType providers.SchemaType, references []providers.Reference, lookupDeleted bool) (id int, version int, found bool, err error) {
	parsed, err := r.providersFor(schemaType, ParseOptions{Schema: schemaText, References: references})
	if err != nil {
		return 0, 0, false, rerrors.Wrap(rerrors.InvalidSchema, "parse schema", err)
	}

	if id, subjects, ok := r.cache.SchemaIDAndSubjects(string(schemaType), parsed.CanonicalString(), references); ok {
		if v, ok := subjects[subject]; ok {
			return id, v, true, nil
		}
	}

	q := qualify.Parse(subject)
	if !q.IsDefault() {
		return 0, 0, false, nil
	}
	for _, ctxName := range qualify.FallbackOrder(r.cache.Contexts()) {
		if ctxName == qualify.DefaultContext {
			continue
		}
		qualifiedSubject := qualify.Qualify(ctxName, q.Subject)
		if id, subjects, ok := r.cache.SchemaIDAndSubjects(string(schemaType), parsed.CanonicalString(), references); ok {
			if v, ok := subjects[qualifiedSubject]; ok {
				return id, v, true, nil
			}
		}
	}
	return 0, 0, false, nil
}

// GetSchemaByID resolves a global schema id. It is first tried against
// contextHint's own context; if contextHint is itself unqualified
// (default context) and nothing matches there, it walks every other
// known context in the same order LookupSchemaUnderSubject does,
// returning the first hit (spec §4.6.5). A context-qualified hint never
// triggers that wider scan, matching the context-fallback rule already
// applied to subject lookups.
func (r *Registry) GetSchemaByID(id int, contextHint string) (subject string, version int, value keys.SchemaValue, found bool) {
	q := qualify.Parse(contextHint)
	if subject, version, ok := r.cache.SchemaKeyByIDInContext(id, q.Context); ok {
		v, ok := r.cache.Get(subject, version)
		return subject, version, v, ok
	}
	if !q.IsDefault() {
		return "", 0, keys.SchemaValue{}, false
	}
	for _, ctxName := range qualify.FallbackOrder(r.cache.Contexts()) {
		if ctxName == qualify.DefaultContext {
			continue
		}
		if subj, ver, ok := r.cache.SchemaKeyByIDInContext(id, ctxName); ok {
			v, ok := r.cache.Get(subj, ver)
			return subj, ver, v, ok
		}
	}
	return "", 0, keys.SchemaValue{}, false
}

// GetSchemaBySubjectVersion resolves "latest" to the highest undeleted
// version. A soft-deleted version is reported as not found.
func (r *Registry) GetSchemaBySubjectVersion(subject string, version int) (keys.SchemaValue, bool) {
	if version <= 0 {
		if latest, ok := r.latestUndeleted(subject); ok {
			return latest, true
		}
		return keys.SchemaValue{}, false
	}
	v, ok := r.cache.Get(subject, version)
	if !ok || v.Deleted {
		return keys.SchemaValue{}, false
	}
	return v, true
}

// GetVersions returns every version number recorded for subject.
func (r *Registry) GetVersions(subject string, includeDeleted bool) []int {
	versions := r.cache.Versions(subject, includeDeleted)
	out := make([]int, len(versions))
	for i, v := range versions {
		out[i] = v.Version
	}
	return out
}

// Subjects lists known subjects.
func (r *Registry) Subjects(prefix string, includeDeleted bool) []string {
	return r.cache.Subjects(prefix, includeDeleted)
}

// UpdateConfig implements spec §4.6.6's config half.
func (r *Registry) UpdateConfig(ctx context.Context, subject string, newConfig keys.ConfigValue) error {
	if err := r.store.WaitUntilReaderReachesLastOffset(ctx, subject, r.timeout); err != nil {
		return err
	}
	old := r.cache.Config(subject, false, keys.ConfigValue{})
	merged := old.Merge(newConfig)
	payload, err := keys.Marshal(merged)
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "marshal config", err)
	}
	return r.store.Put(ctx, keys.NewConfigKey(subject).String(), payload)
}

// DeleteConfig removes a subject's config override, reverting it to the
// global default.
func (r *Registry) DeleteConfig(ctx context.Context, subject string) error {
	return r.store.Delete(ctx, keys.NewConfigKey(subject).String())
}

// GetConfig returns the effective config for subject.
func (r *Registry) GetConfig(subject string, inScope bool) keys.ConfigValue {
	return r.cache.Config(subject, inScope, keys.ConfigValue{CompatibilityLevel: string(r.defaultCompat)})
}

// GetMode returns the effective mode for subject.
func (r *Registry) GetMode(subject string, inScope bool) keys.Mode {
	return r.cache.Mode(subject, inScope, keys.ModeReadWrite)
}

// SetMode implements spec §4.6.6's mode half: transitioning into
// IMPORT requires no existing subjects matching the subject prefix
// unless force, and writes a ClearSubject event to evict deleted-schema
// cache state.
func (r *Registry) SetMode(ctx context.Context, subject string, mode keys.Mode, force bool) error {
	if !r.modeMutability {
		return rerrors.New(rerrors.OperationNotPermitted, "mode mutability is disabled")
	}
	if mode == keys.ModeImport && !force {
		if subjects := r.cache.Subjects(subject, true); len(subjects) > 0 {
			return rerrors.Newf(rerrors.OperationNotPermitted, "cannot enter IMPORT mode: %d existing subject(s) match %q", len(subjects), subject)
		}
	}
	if err := r.store.WaitUntilReaderReachesLastOffset(ctx, subject, r.timeout); err != nil {
		return err
	}
	if mode == keys.ModeImport {
		csKey := keys.NewClearSubjectKey(subject)
		payload, err := keys.Marshal(keys.ClearSubjectValue{Subject: subject})
		if err != nil {
			return rerrors.Wrap(rerrors.Store, "marshal clear-subject record", err)
		}
		if err := r.store.Put(ctx, csKey.String(), payload); err != nil {
			return err
		}
	}
	payload, err := keys.Marshal(keys.ModeValue{Mode: mode})
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "marshal mode record", err)
	}
	return r.store.Put(ctx, keys.NewModeKey(subject).String(), payload)
}

// DeleteSubjectMode removes a subject's mode override.
func (r *Registry) DeleteSubjectMode(ctx context.Context, subject string) error {
	return r.store.Delete(ctx, keys.NewModeKey(subject).String())
}

// CheckCompatibility checks a candidate schema against one or all
// versions of subject, per spec §4.6.1 step 8 applied outside
// registration.
func (r *Registry) CheckCompatibility(subject string, in RegisterInput, against []int) ([]string, error) {
	parsed, err := r.canonicalize(in, false)
	if err != nil {
		return nil, rerrors.Wrap(rerrors.InvalidSchema, "parse schema", err)
	}
	cfg := r.cache.Config(subject, true, keys.ConfigValue{CompatibilityLevel: string(r.defaultCompat)})
	level := providers.CompatibilityLevel(cfg.CompatibilityLevel)
	if level == "" {
		level = r.defaultCompat
	}

	var previous []providers.ParsedSchema
	for _, version := range against {
		v, ok := r.cache.Get(subject, version)
		if !ok || v.Deleted {
			continue
		}
		prevParsed, err := r.canonicalize(RegisterInput{
			Subject: subject, Schema: v.Schema, SchemaType: providers.SchemaType(v.SchemaType), References: v.References,
		}, false)
		if err == nil && prevParsed != nil {
			previous = append(previous, prevParsed)
		}
	}
	return parsed.IsCompatible(level, previous), nil
}

// ---- internal helpers ----

type ParseOptions struct {
	Schema     string
	References []providers.Reference
}

func (r *Registry) providersFor(t providers.SchemaType, opts ParseOptions) (providers.ParsedSchema, error) {
	provider, err := r.providers.For(t)
	if err != nil {
		return nil, err
	}
	return provider.Parse(providers.ParseRequest{Schema: opts.Schema, References: opts.References})
}

func (r *Registry) canonicalize(in RegisterInput, isNew bool) (providers.ParsedSchema, error) {
	if in.Schema == "" && in.SchemaType == "" {
		return nil, nil
	}
	key := parsecache.Key{SchemaType: in.SchemaType, Schema: in.Schema, IsNew: isNew, Normalize: in.Normalize}
	if cached, ok := r.parseCache.Get(key); ok {
		return cached, nil
	}
	provider, err := r.providers.For(in.SchemaType)
	if err != nil {
		return nil, err
	}
	parsed, err := provider.Parse(providers.ParseRequest{
		Schema:     in.Schema,
		References: in.References,
		Metadata:   in.Metadata,
		RuleSet:    in.RuleSet,
		IsNew:      isNew,
		Normalize:  in.Normalize,
	})
	if err != nil {
		return nil, err
	}
	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	if in.Normalize {
		parsed, err = parsed.Normalize()
		if err != nil {
			return nil, err
		}
	}
	r.parseCache.Put(key, parsed)
	return parsed, nil
}

func (r *Registry) dedupFastPath(subject string, callerID int, parsed providers.ParsedSchema) (int, int, bool) {
	existingID, subjects, ok := r.cache.SchemaIDAndSubjects(string(parsed.SchemaType()), parsed.CanonicalString(), parsed.References())
	if !ok {
		return 0, 0, false
	}
	if callerID >= 0 && callerID != existingID {
		return 0, 0, false
	}
	if v, ok := subjects[subject]; ok {
		return existingID, v, true
	}
	return existingID, 0, false
}

func (r *Registry) latestUndeleted(subject string) (keys.SchemaValue, bool) {
	for _, v := range r.cache.Versions(subject, false) {
		return v, true
	}
	return keys.SchemaValue{}, false
}

func (r *Registry) previousForCompatibility(subject string, existing []keys.SchemaValue, group string, metadata map[string]string) []providers.ParsedSchema {
	var out []providers.ParsedSchema
	groupValue := metadata[group]
	for _, v := range existing {
		if v.Deleted {
			continue
		}
		if group != "" && v.Metadata[group] != groupValue {
			continue
		}
		parsed, err := r.canonicalize(RegisterInput{
			Subject: subject, Schema: v.Schema, SchemaType: providers.SchemaType(v.SchemaType), References: v.References,
		}, false)
		if err == nil && parsed != nil {
			out = append(out, parsed)
		}
	}
	return out
}

func (r *Registry) ensureContextMarker(ctx context.Context, context string) error {
	key := keys.NewContextKey("", context)
	if _, ok, err := r.store.Get(key.String()); err == nil && ok {
		return nil
	}
	payload, err := keys.Marshal(keys.ContextValue{Context: context})
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "marshal context marker", err)
	}
	return r.store.Put(ctx, key.String(), payload)
}

func (r *Registry) checkIfSchemaWithIDExists(subject string, id int, parsed providers.ParsedSchema) error {
	for _, v := range r.cache.Versions(subject, true) {
		if v.ID == id && v.Schema != parsed.CanonicalString() {
			return rerrors.Newf(rerrors.OperationNotPermitted, "id %d already used under subject %s with different content", id, subject)
		}
	}
	return nil
}

func (r *Registry) assignIDWithRetries(ctx context.Context, subject string, version int, parsed providers.ParsedSchema) (int, error) {
	for attempt := 0; attempt < r.writeMaxRetries; attempt++ {
		candidateID := r.idgen.NextID()
		if r.cache.IDExists(candidateID) {
			continue
		}
		if err := r.writeSchema(ctx, subject, version, candidateID, parsed, false); err != nil {
			if rerrors.Is(err, rerrors.NotLeader) {
				return 0, err
			}
			continue
		}
		return candidateID, nil
	}
	return 0, rerrors.New(rerrors.IdGeneration, "exhausted id-collision retries")
}

func (r *Registry) writeSchema(ctx context.Context, subject string, version, id int, parsed providers.ParsedSchema, deleted bool) error {
	value := keys.SchemaValue{
		ID:         id,
		Subject:    subject,
		Version:    version,
		SchemaType: string(parsed.SchemaType()),
		Schema:     parsed.CanonicalString(),
		References: parsed.References(),
		Metadata:   parsed.Metadata(),
		RuleSet:    parsed.RuleSet(),
		Deleted:    deleted,
	}
	return r.writeSchemaValue(ctx, keys.NewSchemaKey(subject, version), value)
}

func (r *Registry) writeSchemaValue(ctx context.Context, key keys.SchemaKey, value keys.SchemaValue) error {
	payload, err := keys.Marshal(value)
	if err != nil {
		return rerrors.Wrap(rerrors.Store, "marshal schema record", err)
	}
	return r.store.Put(ctx, key.String(), payload)
}

func (r *Registry) tombstoneLowerVersionsWithSameID(ctx context.Context, subject string, newVersion, id int, existing []keys.SchemaValue) {
	for _, v := range existing {
		if v.Version < newVersion && v.ID == id && v.Deleted {
			_ = r.store.Delete(ctx, keys.NewSchemaKey(subject, v.Version).String())
		}
	}
}

func mergeStrings(defaultVal, current, override map[string]string) map[string]string {
	if len(defaultVal) == 0 && len(current) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string)
	for k, v := range defaultVal {
		out[k] = v
	}
	for k, v := range current {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// encodeRegisterRequest/decodeRegisterResponse translate between
// RegisterInput and the REST layer's wire DTOs for forwarding.
func encodeRegisterRequest(in RegisterInput) ([]byte, error) {
	return keys.Marshal(struct {
		Schema     string                `json:"schema"`
		SchemaType string                `json:"schemaType,omitempty"`
		References []providers.Reference `json:"references,omitempty"`
		Metadata   map[string]string     `json:"metadata,omitempty"`
		RuleSet    map[string]string     `json:"ruleSet,omitempty"`
	}{
		Schema:     in.Schema,
		SchemaType: string(in.SchemaType),
		References: in.References,
		Metadata:   in.Metadata,
		RuleSet:    in.RuleSet,
	})
}

func decodeRegisterResponse(body []byte) (int, int, error) {
	var resp struct {
		ID      int `json:"id"`
		Version int `json:"version"`
	}
	if err := keys.Unmarshal(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("decode forwarded register response: %w", err)
	}
	return resp.ID, resp.Version, nil
}
