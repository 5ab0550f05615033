package avro

import (
	"testing"

	"schemaregistry/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchemaV1 = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"}]}`
const userSchemaV2BackwardCompatible = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"age","type":["null","int"],"default":null}]}`
const userSchemaV2Incompatible = `{"type":"record","name":"User","fields":[{"name":"name","type":"int"}]}`

func TestProvider_Parse(t *testing.T) {
	p := New()
	assert.Equal(t, providers.Avro, p.SchemaType())

	parsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)
	assert.Equal(t, providers.Avro, parsed.SchemaType())
	assert.NotEmpty(t, parsed.CanonicalString())
}

func TestProvider_Parse_InvalidSchema(t *testing.T) {
	p := New()
	_, err := p.Parse(providers.ParseRequest{Schema: `{"type": "not-a-real-type"}`})
	assert.Error(t, err)
}

func TestParsedSchema_IsCompatible_Backward(t *testing.T) {
	p := New()
	oldParsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)
	newParsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV2BackwardCompatible})
	require.NoError(t, err)

	violations := newParsed.IsCompatible(providers.Backward, []providers.ParsedSchema{oldParsed})
	assert.Empty(t, violations)
}

func TestParsedSchema_IsCompatible_IncompatibleTypeChange(t *testing.T) {
	p := New()
	oldParsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)
	newParsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV2Incompatible})
	require.NoError(t, err)

	violations := newParsed.IsCompatible(providers.Backward, []providers.ParsedSchema{oldParsed})
	assert.NotEmpty(t, violations)
}

func TestParsedSchema_DeepEquals(t *testing.T) {
	p := New()
	a, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)
	b, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)
	c, err := p.Parse(providers.ParseRequest{Schema: userSchemaV2BackwardCompatible})
	require.NoError(t, err)

	assert.True(t, a.DeepEquals(b))
	assert.False(t, a.DeepEquals(c))
}

func TestParsedSchema_Copy(t *testing.T) {
	p := New()
	parsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)

	copied := parsed.Copy(map[string]string{"owner": "team-x"}, nil)
	assert.Equal(t, "team-x", copied.Metadata()["owner"])
	assert.Equal(t, parsed.CanonicalString(), copied.CanonicalString())
}

func TestParsedSchema_FormattedString_Unsupported(t *testing.T) {
	p := New()
	parsed, err := p.Parse(providers.ParseRequest{Schema: userSchemaV1})
	require.NoError(t, err)

	_, err = parsed.FormattedString("resolved")
	assert.Error(t, err)
}
