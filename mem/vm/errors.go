package vm

import "errors"

var (
	// ErrInvalidAccess marks a fault that cannot be resolved: a kernel or
	// null address, an unmapped address outside the stack, or a write to a
	// read-only page. The faulting process must be terminated.
	ErrInvalidAccess = errors.New("invalid memory access")

	// ErrOutOfMemory is returned when no frame can be produced, even after
	// trying to evict one.
	ErrOutOfMemory = errors.New("out of physical frames")

	// ErrBackingStore wraps a failed read or write of a file or swap slot.
	ErrBackingStore = errors.New("backing store failure")

	// ErrAlreadyMapped is returned when inserting a page at an address that
	// is already in the supplemental page table.
	ErrAlreadyMapped = errors.New("virtual page already mapped")

	// ErrBadMapping is returned when a file mapping request violates its
	// preconditions.
	ErrBadMapping = errors.New("invalid file mapping")
)

// IsFatal reports whether err must terminate the process that caused it.
// Every fault error is fatal to the process, never to the kernel.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidAccess) ||
		errors.Is(err, ErrOutOfMemory) ||
		errors.Is(err, ErrBackingStore)
}
