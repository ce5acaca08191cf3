package mmu

import (
	"github.com/sarchlab/lazyvm/mem/pagetable"
	"github.com/sarchlab/lazyvm/mem/vm"
)

// A Walker walks the hardware page table of one process, updating the
// accessed and dirty bits like the hardware does.
type Walker interface {
	Touch(vAddr uint64, write bool) (pte pagetable.PTE, present, permitted bool)
}

// A Killer terminates a process whose fault could not be resolved.
type Killer interface {
	Kill(pid vm.PID, reason error)
}

// Context describes the process on whose behalf the MMU accesses memory.
type Context struct {
	Space *vm.AddressSpace
	Table Walker

	// StackPointer is the stack pointer the fault handler uses to decide on
	// stack growth.
	StackPointer uint64

	// User is false when the kernel accesses user memory, for example while
	// copying system call arguments.
	User bool
}
