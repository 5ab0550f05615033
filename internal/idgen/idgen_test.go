package idgen

import (
	"testing"

	"schemaregistry/internal/cache"
	"schemaregistry/internal/keys"

	"github.com/stretchr/testify/assert"
)

func TestGenerator_NextID_PanicsBeforeInit(t *testing.T) {
	g := New(cache.New())
	assert.Panics(t, func() { g.NextID() })
}

func TestGenerator_Init_SeedsFromMaxObservedID(t *testing.T) {
	c := cache.New()
	payload, _ := keys.Marshal(keys.SchemaValue{ID: 41, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: "x"})
	c.Apply(keys.NewSchemaKey("orders-value", 1).String(), payload, 1)

	g := New(c)
	g.Init()
	assert.True(t, g.Ready())
	assert.Equal(t, 42, g.NextID())
	assert.Equal(t, 43, g.NextID())
}

func TestGenerator_Init_EmptyCacheStartsAtOne(t *testing.T) {
	g := New(cache.New())
	g.Init()
	assert.Equal(t, 1, g.NextID())
}

func TestGenerator_Reset(t *testing.T) {
	g := New(cache.New())
	g.Init()
	g.Reset()
	assert.False(t, g.Ready())
	assert.Panics(t, func() { g.NextID() })
}

func TestGenerator_Init_ConsidersSoftDeletedVersions(t *testing.T) {
	c := cache.New()
	payload, _ := keys.Marshal(keys.SchemaValue{ID: 99, Subject: "orders-value", Version: 1, SchemaType: "AVRO", Schema: "x", Deleted: true})
	c.Apply(keys.NewSchemaKey("orders-value", 1).String(), payload, 1)

	g := New(c)
	g.Init()
	assert.Equal(t, 100, g.NextID())
}
