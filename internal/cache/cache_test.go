package cache

import (
	"testing"

	"schemaregistry/internal/keys"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/qualify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putSchema(t *testing.T, c *Cache, v keys.SchemaValue) {
	t.Helper()
	payload, err := keys.Marshal(v)
	require.NoError(t, err)
	c.Apply(keys.NewSchemaKey(v.Subject, v.Version).String(), payload, uint64(v.Version+1))
}

func TestCache_ApplySchema_GetAndVersions(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 1, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})
	putSchema(t, c, keys.SchemaValue{ID: 2, Subject: "orders-value", Version: 2, SchemaType: "AVRO", Schema: `{"type":"int"}`})

	v, ok := c.Get("orders-value", 1)
	require.True(t, ok)
	assert.Equal(t, 1, v.ID)

	latest, ok := c.LatestVersion("orders-value")
	require.True(t, ok)
	assert.Equal(t, 2, latest)

	versions := c.Versions("orders-value", true)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 1, versions[1].Version)
}

func TestCache_ApplySchema_Tombstone(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 1, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})
	c.Apply(keys.NewSchemaKey("orders-value", 1).String(), nil, 2)

	_, ok := c.Get("orders-value", 1)
	assert.False(t, ok)
}

func TestCache_SchemaIDAndSubjects_ContentAddressed(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 5, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})

	id, subjects, ok := c.SchemaIDAndSubjects("AVRO", `{"type":"string"}`, nil)
	require.True(t, ok)
	assert.Equal(t, 5, id)
	assert.Equal(t, 1, subjects["orders-value"])

	_, _, ok = c.SchemaIDAndSubjects("AVRO", `{"type":"int"}`, nil)
	assert.False(t, ok)
}

func TestCache_SchemaIDAndSubjects_ExcludesDeleted(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 5, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`, Deleted: true})

	_, _, ok := c.SchemaIDAndSubjects("AVRO", `{"type":"string"}`, nil)
	assert.False(t, ok)
}

func TestCache_ReferencesSchema(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 1, Subject: "common-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})
	putSchema(t, c, keys.SchemaValue{
		ID: 2, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"record"}`,
		References: []providers.Reference{{Name: "Common", Subject: "common-value", Version: 1}},
	})

	ids := c.ReferencesSchema("common-value", 1)
	assert.Equal(t, []int{2}, ids)

	assert.Empty(t, c.ReferencesSchema("common-value", 2))
}

func TestCache_SchemaKeyByIDInContext(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 9, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})

	subject, version, ok := c.SchemaKeyByIDInContext(9, qualify.DefaultContext)
	require.True(t, ok)
	assert.Equal(t, "orders-value", subject)
	assert.Equal(t, 1, version)

	_, _, ok = c.SchemaKeyByIDInContext(123, qualify.DefaultContext)
	assert.False(t, ok)

	// A default-context id must not be found by querying a different
	// context: SchemaKeyByIDInContext never guesses across contexts.
	_, _, ok = c.SchemaKeyByIDInContext(9, "ctx")
	assert.False(t, ok)
}

func TestCache_SchemaKeyByIDInContext_QualifiedSubject(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 9, Subject: qualify.Qualify("ctx", "sub1"), Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})

	subject, version, ok := c.SchemaKeyByIDInContext(9, "ctx")
	require.True(t, ok)
	assert.Equal(t, qualify.Qualify("ctx", "sub1"), subject)
	assert.Equal(t, 1, version)

	_, _, ok = c.SchemaKeyByIDInContext(9, qualify.DefaultContext)
	assert.False(t, ok)
}

func TestCache_IDExists(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 9, Subject: qualify.Qualify("ctx", "sub1"), Version: 1, SchemaType: "AVRO", Schema: `{"type":"string"}`})

	assert.True(t, c.IDExists(9))
	assert.False(t, c.IDExists(123))
}

func TestCache_Subjects(t *testing.T) {
	c := New()
	putSchema(t, c, keys.SchemaValue{ID: 1, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: "a"})
	putSchema(t, c, keys.SchemaValue{ID: 2, Subject: "payments-value", Version: 1, SchemaType: "AVRO", Schema: "b", Deleted: true})

	assert.Equal(t, []string{"orders-value"}, c.Subjects("", false))
	assert.Equal(t, []string{"orders-value", "payments-value"}, c.Subjects("", true))
}

func TestCache_ApplyConfig(t *testing.T) {
	c := New()
	global, err := keys.Marshal(keys.ConfigValue{CompatibilityLevel: "FULL"})
	require.NoError(t, err)
	c.Apply(keys.NewConfigKey("").String(), global, 1)

	subjectCfg, err := keys.Marshal(keys.ConfigValue{CompatibilityLevel: "BACKWARD"})
	require.NoError(t, err)
	c.Apply(keys.NewConfigKey("orders-value").String(), subjectCfg, 2)

	assert.Equal(t, "BACKWARD", c.Config("orders-value", true, keys.ConfigValue{}).CompatibilityLevel)
	assert.Equal(t, "FULL", c.Config("payments-value", true, keys.ConfigValue{}).CompatibilityLevel)
	assert.Equal(t, "", c.Config("payments-value", false, keys.ConfigValue{}).CompatibilityLevel)
}

func TestCache_ApplyMode_ReadOnlyOverrideWins(t *testing.T) {
	c := New()
	globalPayload, err := keys.Marshal(keys.ModeValue{Mode: keys.ModeReadOnlyOverride})
	require.NoError(t, err)
	c.Apply(keys.NewModeKey("").String(), globalPayload, 1)

	subjectPayload, err := keys.Marshal(keys.ModeValue{Mode: keys.ModeReadWrite})
	require.NoError(t, err)
	c.Apply(keys.NewModeKey("orders-value").String(), subjectPayload, 2)

	assert.Equal(t, keys.ModeReadOnlyOverride, c.Mode("orders-value", true, keys.ModeReadWrite))
}

func TestCache_ApplyContext(t *testing.T) {
	c := New()
	payload, err := keys.Marshal(keys.ContextValue{Context: "prod"})
	require.NoError(t, err)
	c.Apply(keys.NewContextKey("", "prod").String(), payload, 1)

	assert.Equal(t, []string{"prod"}, c.Contexts())
}

func TestCache_ApplyDeleteAndClearSubject(t *testing.T) {
	c := New()
	del, err := keys.Marshal(keys.DeleteSubjectValue{Subject: "orders-value", Version: 3})
	require.NoError(t, err)
	c.Apply(keys.NewDeleteSubjectKey("orders-value").String(), del, 1)

	watermark, ok := c.DeleteWatermark("orders-value")
	require.True(t, ok)
	assert.Equal(t, 3, watermark)

	clear, err := keys.Marshal(keys.ClearSubjectValue{Subject: "orders-value"})
	require.NoError(t, err)
	c.Apply(keys.NewClearSubjectKey("orders-value").String(), clear, 2)

	_, ok = c.DeleteWatermark("orders-value")
	assert.False(t, ok)
}

func TestCache_Apply_NoopRecordHasNoEffect(t *testing.T) {
	c := New()
	c.Apply("noop.global.abc", []byte("2024-01-01T00:00:00Z"), 1)
	assert.Empty(t, c.Subjects("", true))
}
