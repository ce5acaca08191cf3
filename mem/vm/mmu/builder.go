package mmu

import (
	"log"

	"github.com/sarchlab/lazyvm/memory"
	"github.com/sarchlab/lazyvm/sim"
)

// A Builder can build MMUs.
type Builder struct {
	storage    *memory.Storage
	killer     Killer
	maxRetries int
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		maxRetries: 4,
	}
}

// WithStorage sets the physical memory the MMU reads and writes.
func (b Builder) WithStorage(s *memory.Storage) Builder {
	b.storage = s
	return b
}

// WithKiller sets who is told about processes that must die.
func (b Builder) WithKiller(k Killer) Builder {
	b.killer = k
	return b
}

// WithMaxRetries sets how many times an access may fault before the process
// is considered stuck. A resolved fault can be undone by an eviction before
// the access is retried, so one retry is not always enough.
func (b Builder) WithMaxRetries(n int) Builder {
	b.maxRetries = n
	return b
}

// Build returns a newly created MMU.
func (b Builder) Build(name string) *MMU {
	if b.storage == nil {
		log.Panic("mmu: physical memory is not set")
	}

	return &MMU{
		HookableBase: sim.NewHookableBase(),
		name:         name,
		storage:      b.storage,
		killer:       b.killer,
		maxRetries:   b.maxRetries,
	}
}
