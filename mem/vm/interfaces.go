package vm

// File is an open file of the file layer. Every handle has its own cursor.
type File interface {
	// Reopen returns an independent handle of the same file. Closing either
	// handle does not affect the other.
	Reopen() (File, error)
	Seek(offset int64) error
	Read(buf []byte) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	Length() int64
	Close() error
}

// HardwareMapping is the hardware page table of one address space.
type HardwareMapping interface {
	GetMapping(vAddr uint64) (pAddr uint64, ok bool)

	// SetMapping installs a mapping. It fails if the page is already mapped.
	SetMapping(vAddr, pAddr uint64, writable bool) bool
	ClearMapping(vAddr uint64)

	// Detach removes a mapping and returns its dirty bit, as one step that no
	// concurrent write can interleave with.
	Detach(vAddr uint64) (dirty, mapped bool)

	IsDirty(vAddr uint64) bool
	SetDirty(vAddr uint64, dirty bool)
	IsAccessed(vAddr uint64) bool
	SetAccessed(vAddr uint64, accessed bool)
}

// SwapDevice stores the content of evicted anonymous pages.
type SwapDevice interface {
	Alloc() (slot int, err error)
	Free(slot int)
	Write(slot int, data []byte) error

	// Read returns the content of a slot without releasing it.
	Read(slot int) ([]byte, error)
}

// NoSlot marks an anonymous page that owns no swap slot.
const NoSlot = -1
