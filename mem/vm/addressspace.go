package vm

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/lazyvm/sim"
)

// Hook positions of the events an AddressSpace reports.
var (
	HookPosPageFault   = &sim.HookPos{Name: "PageFault"}
	HookPosStackGrowth = &sim.HookPos{Name: "StackGrowth"}
	HookPosFatalFault  = &sim.HookPos{Name: "FatalFault"}
	HookPosMmap        = &sim.HookPos{Name: "Mmap"}
	HookPosMunmap      = &sim.HookPos{Name: "Munmap"}
	HookPosDuplicate   = &sim.HookPos{Name: "Duplicate"}
)

// An AddressSpace is the virtual memory of one process. It owns the
// supplemental page table and the hardware mapping of the process and
// borrows frames from a FrameManager shared with other address spaces.
type AddressSpace struct {
	*sim.HookableBase

	pid    PID
	spt    *SupplementalPageTable
	hw     HardwareMapping
	frames *FrameManager
	swap   SwapDevice

	teardownMu sync.Mutex
	tornDown   bool
}

// PID returns the ID of the process that owns the address space.
func (as *AddressSpace) PID() PID {
	return as.pid
}

// SPT returns the supplemental page table.
func (as *AddressSpace) SPT() *SupplementalPageTable {
	return as.spt
}

// Pages returns the pages of the address space in address order.
func (as *AddressSpace) Pages() []*Page {
	return as.spt.Pages()
}

// FindPage returns the page that contains addr.
func (as *AddressSpace) FindPage(addr uint64) (*Page, bool) {
	return as.spt.Find(addr)
}

// HardwareMapping returns the hardware page table of the address space.
func (as *AddressSpace) HardwareMapping() HardwareMapping {
	return as.hw
}

// FrameManager returns the frame pool the address space draws from.
func (as *AddressSpace) FrameManager() *FrameManager {
	return as.frames
}

func (as *AddressSpace) newPage(vAddr uint64, writable bool, v variant) *Page {
	if PageOffset(vAddr) != 0 {
		log.Panicf("page address 0x%x is not aligned", vAddr)
	}

	return &Page{
		vAddr:    vAddr,
		writable: writable,
		owner:    as,
		variant:  v,
	}
}

// RemoveAndDestroy removes the page that contains addr. Dirty file content
// is written back and the frame of the page is returned to the pool. It is
// not an error if there is no page at addr.
func (as *AddressSpace) RemoveAndDestroy(addr uint64) error {
	page, found := as.spt.remove(addr)
	if !found {
		return nil
	}

	return as.destroyPage(page)
}

func (as *AddressSpace) destroyPage(page *Page) error {
	page.mu.Lock()
	defer page.mu.Unlock()

	if page.destroyed {
		return nil
	}

	page.destroyed = true
	err := page.destroy()

	if frame := page.frame; frame != nil {
		as.hw.ClearMapping(page.vAddr)
		as.frames.Release(frame)
	}

	return err
}

// Teardown destroys every page of the address space. Calling it again has
// no effect.
func (as *AddressSpace) Teardown() error {
	as.teardownMu.Lock()
	defer as.teardownMu.Unlock()

	if as.tornDown {
		return nil
	}

	as.tornDown = true

	var errs []error
	for _, page := range as.spt.Pages() {
		if err := as.RemoveAndDestroy(page.vAddr); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// claim makes the page resident and maps it.
func (as *AddressSpace) claim(page *Page, write bool) error {
	if write && !page.writable {
		return fmt.Errorf("%w: write to read-only page 0x%x",
			ErrInvalidAccess, page.vAddr)
	}

	return as.claimWith(page, nil)
}

// claimWith makes the page resident. If content is not nil, it becomes the
// content of the page instead of what the page would load.
func (as *AddressSpace) claimWith(page *Page, content []byte) error {
	page.mu.Lock()
	defer page.mu.Unlock()

	if page.destroyed {
		return fmt.Errorf("%w: page 0x%x is gone", ErrInvalidAccess, page.vAddr)
	}

	if page.frame != nil {
		return nil
	}

	frame, err := as.frames.Acquire()
	if err != nil {
		return err
	}

	as.frames.link(frame, page)

	if content != nil {
		err = frame.write(content)
	} else {
		err = page.bringIntoMemory(frame)
	}

	if err != nil {
		as.frames.Release(frame)
		return err
	}

	if !as.hw.SetMapping(page.vAddr, frame.PAddr, page.writable) {
		log.Panicf("page 0x%x of process %d is mapped before it is claimed",
			page.vAddr, as.pid)
	}

	as.frames.Unpin(frame)

	return nil
}

// A Builder builds address spaces.
type Builder struct {
	frames *FrameManager
	hw     HardwareMapping
	swap   SwapDevice
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithFrameManager sets the frame pool.
func (b Builder) WithFrameManager(m *FrameManager) Builder {
	b.frames = m
	return b
}

// WithHardwareMapping sets the hardware page table of the process.
func (b Builder) WithHardwareMapping(hw HardwareMapping) Builder {
	b.hw = hw
	return b
}

// WithSwapDevice sets where evicted anonymous pages go. Without a swap
// device, anonymous pages are never evicted.
func (b Builder) WithSwapDevice(s SwapDevice) Builder {
	b.swap = s
	return b
}

// Build creates an empty address space for process pid.
func (b Builder) Build(pid PID) *AddressSpace {
	if b.frames == nil {
		log.Panic("address space without a frame manager")
	}

	if b.hw == nil {
		log.Panic("address space without a hardware mapping")
	}

	return &AddressSpace{
		HookableBase: sim.NewHookableBase(),
		pid:          pid,
		spt:          NewSupplementalPageTable(),
		hw:           b.hw,
		frames:       b.frames,
		swap:         b.swap,
	}
}
