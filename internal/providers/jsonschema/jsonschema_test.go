package jsonschema

import (
	"testing"

	"schemaregistry/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderSchemaV1 = `{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`
const orderSchemaV2AddsOptionalField = `{"type":"object","properties":{"id":{"type":"string"},"note":{"type":"string"}},"required":["id"]}`
const orderSchemaV2RemovesRequiredField = `{"type":"object","properties":{"note":{"type":"string"}}}`
const orderSchemaV2IncompatibleType = `{"type":"object","properties":{"id":{"type":"integer"}},"required":["id"]}`

func TestProvider_Parse(t *testing.T) {
	p := New()
	assert.Equal(t, providers.JSON, p.SchemaType())

	parsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1})
	require.NoError(t, err)
	assert.Equal(t, providers.JSON, parsed.SchemaType())
}

func TestProvider_Parse_InvalidJSON(t *testing.T) {
	p := New()
	_, err := p.Parse(providers.ParseRequest{Schema: `{"type": `})
	assert.Error(t, err)
}

func TestProvider_Parse_Normalize(t *testing.T) {
	p := New()
	unordered := `{"required":["id"],"type":"object","properties":{"id":{"type":"string"}}}`
	a, err := p.Parse(providers.ParseRequest{Schema: unordered, Normalize: true})
	require.NoError(t, err)
	b, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1, Normalize: true})
	require.NoError(t, err)
	assert.Equal(t, b.CanonicalString(), a.CanonicalString())
}

func TestParsedSchema_IsCompatible_Backward(t *testing.T) {
	p := New()
	oldParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1})
	require.NoError(t, err)
	newParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV2AddsOptionalField})
	require.NoError(t, err)

	assert.Empty(t, newParsed.IsCompatible(providers.Backward, []providers.ParsedSchema{oldParsed}))
}

func TestParsedSchema_IsCompatible_RemovingRequiredFieldBreaksBackward(t *testing.T) {
	p := New()
	oldParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1})
	require.NoError(t, err)
	newParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV2RemovesRequiredField})
	require.NoError(t, err)

	assert.NotEmpty(t, newParsed.IsCompatible(providers.Backward, []providers.ParsedSchema{oldParsed}))
}

func TestParsedSchema_IsCompatible_TypeChangeBreaksBackward(t *testing.T) {
	p := New()
	oldParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1})
	require.NoError(t, err)
	newParsed, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV2IncompatibleType})
	require.NoError(t, err)

	assert.NotEmpty(t, newParsed.IsCompatible(providers.Backward, []providers.ParsedSchema{oldParsed}))
}

func TestParsedSchema_DeepEquals_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	p := New()
	a, err := p.Parse(providers.ParseRequest{Schema: orderSchemaV1})
	require.NoError(t, err)
	reordered := `{"required":["id"],"type":"object","properties":{"id":{"type":"string"}}}`
	b, err := p.Parse(providers.ParseRequest{Schema: reordered})
	require.NoError(t, err)

	assert.True(t, a.DeepEquals(b))
}
