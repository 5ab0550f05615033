// Package idgen implements the IdGenerator: monotonically increasing
// global schema IDs, seeded from the observed maximum after the leader
// catches up (spec §4.3), grounded on the teacher's getNextSchemaID
// scan-for-max strategy but restructured around an explicit init/issue
// lifecycle matching the original IncrementalIdGenerator.
package idgen

import (
	"sync/atomic"

	"schemaregistry/internal/cache"
)

// Generator is the IdGenerator contract.
type Generator struct {
	cache       *cache.Cache
	initialized atomic.Bool
	next        atomic.Int64
}

// New builds a generator over cache. Init must be called (after every
// leader transition that puts this node into leadership) before NextID
// may be used.
func New(c *cache.Cache) *Generator {
	return &Generator{cache: c}
}

// Init scans the cache for the current maximum id and seeds the
// counter at max+1. Safe to call repeatedly; each call re-scans, which
// matters because the cache may have advanced since the last
// leadership term.
func (g *Generator) Init() {
	max := g.maxObservedID()
	g.next.Store(int64(max) + 1)
	g.initialized.Store(true)
}

// Reset marks the generator uninitialized, e.g. on leader loss; calls
// to NextID before the next Init fail.
func (g *Generator) Reset() {
	g.initialized.Store(false)
}

// Ready reports whether Init has completed since the last Reset.
func (g *Generator) Ready() bool {
	return g.initialized.Load()
}

// NextID returns the next id to assign and advances the counter. Panics
// if called before Init — callers must check Ready() or rely on the
// registry core's leadership gating, which never issues ids before
// Init completes.
func (g *Generator) NextID() int {
	if !g.initialized.Load() {
		panic("idgen: NextID called before Init")
	}
	return int(g.next.Add(1) - 1)
}

func (g *Generator) maxObservedID() int {
	max := 0
	for _, subject := range g.cache.Subjects("", true) {
		for _, v := range g.cache.Versions(subject, true) {
			if v.ID > max {
				max = v.ID
			}
		}
	}
	return max
}
