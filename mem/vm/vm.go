// Package vm implements demand-paged virtual memory: the supplemental page
// table of each address space, lazily materialized pages, the physical frame
// pool with eviction, page fault resolution with stack growth, memory-mapped
// files and address-space duplication for fork.
package vm

import "fmt"

// Address-space layout of the user processes.
const (
	Log2PageSize        = 12
	PageSize     uint64 = 1 << Log2PageSize

	// UserStack is the top of the user stack. The stack grows down from
	// here.
	UserStack uint64 = 0x47480000

	// KernBase is the first kernel virtual address. Every address at or
	// above it belongs to the kernel.
	KernBase uint64 = 0x8004000000

	// MaxStackSize bounds how far below UserStack the stack may grow.
	MaxStackSize uint64 = 1 << 20

	// StackMargin is how far below the stack pointer an access may land and
	// still count as a stack access. A push writes before it moves the
	// stack pointer.
	StackMargin uint64 = 8
)

// PID stands for Process ID.
type PID uint32

// Type is the kind of a page.
type Type int

// Page types.
const (
	TypeUninit Type = iota
	TypeAnon
	TypeFile
)

func (t Type) String() string {
	switch t {
	case TypeUninit:
		return "uninit"
	case TypeAnon:
		return "anon"
	case TypeFile:
		return "file"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// RoundDown returns the start of the page that contains addr.
func RoundDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// RoundUp returns the first page boundary at or above addr.
func RoundUp(addr uint64) uint64 {
	return RoundDown(addr + PageSize - 1)
}

// PageOffset returns the offset of addr inside its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// IsKernelVAddr reports whether addr belongs to the kernel.
func IsKernelVAddr(addr uint64) bool {
	return addr >= KernBase
}

// IsUserVAddr reports whether addr is a user address.
func IsUserVAddr(addr uint64) bool {
	return addr < KernBase
}
