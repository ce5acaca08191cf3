// Package swap provides a slot-based swap device for anonymous pages.
package swap

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/sarchlab/lazyvm/memory"
)

// ErrFull is returned by Alloc when every slot is in use.
var ErrFull = errors.New("swap device is full")

// A Device stores evicted pages in fixed-size slots on a backing Storage.
type Device struct {
	sync.Mutex
	storage  *memory.Storage
	slotSize uint64
	numSlots int
	used     []uint64
	inUse    int
}

// NewDevice creates a device with numSlots slots of slotSize bytes each.
func NewDevice(numSlots int, slotSize uint64) *Device {
	return &Device{
		storage: memory.NewStorageWithUnitSize(
			uint64(numSlots)*slotSize, slotSize),
		slotSize: slotSize,
		numSlots: numSlots,
		used:     make([]uint64, (numSlots+63)/64),
	}
}

// Alloc reserves a free slot.
func (d *Device) Alloc() (int, error) {
	d.Lock()
	defer d.Unlock()

	for w, word := range d.used {
		if word == ^uint64(0) {
			continue
		}

		slot := w*64 + bits.TrailingZeros64(^word)
		if slot >= d.numSlots {
			break
		}

		d.used[w] |= 1 << (slot % 64)
		d.inUse++

		return slot, nil
	}

	return 0, ErrFull
}

// Free releases a slot. Its content is discarded.
func (d *Device) Free(slot int) {
	d.Lock()
	defer d.Unlock()

	d.slotMustBeUsed(slot)

	d.used[slot/64] &^= 1 << (slot % 64)
	d.inUse--

	_ = d.storage.Zero(d.offset(slot), d.slotSize)
}

// Write stores data in a reserved slot.
func (d *Device) Write(slot int, data []byte) error {
	d.Lock()
	d.slotMustBeUsed(slot)
	d.Unlock()

	if uint64(len(data)) > d.slotSize {
		return fmt.Errorf("swap: %d bytes do not fit in a %d-byte slot",
			len(data), d.slotSize)
	}

	return d.storage.Write(d.offset(slot), data)
}

// Read returns the content of a reserved slot. The slot stays reserved.
func (d *Device) Read(slot int) ([]byte, error) {
	d.Lock()
	d.slotMustBeUsed(slot)
	d.Unlock()

	return d.storage.Read(d.offset(slot), d.slotSize)
}

// NumSlots returns the capacity of the device in slots.
func (d *Device) NumSlots() int {
	return d.numSlots
}

// InUse returns how many slots are reserved.
func (d *Device) InUse() int {
	d.Lock()
	defer d.Unlock()

	return d.inUse
}

func (d *Device) offset(slot int) uint64 {
	return uint64(slot) * d.slotSize
}

func (d *Device) slotMustBeUsed(slot int) {
	if slot < 0 || slot >= d.numSlots || d.used[slot/64]&(1<<(slot%64)) == 0 {
		panic(fmt.Sprintf("swap slot %d is not allocated", slot))
	}
}
