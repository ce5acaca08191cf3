package vm

import (
	"fmt"
	"log"
	"sync"
)

// A Page is one page-aligned region of a virtual address space. It starts
// as an uninitialized page that only describes where its content comes from,
// and becomes an anonymous or file-backed page the first time it is brought
// into memory.
type Page struct {
	mu sync.Mutex

	vAddr    uint64
	writable bool
	owner    *AddressSpace

	// frame is changed only while holding both mu and the frame manager's
	// lock, so holding either one is enough to read it.
	frame *Frame

	variant   variant
	destroyed bool

	// mmapStart and mmapPages describe the file mapping the page belongs
	// to. mmapPages is zero for pages that were not created by MapFile.
	mmapStart uint64
	mmapPages int
}

// variant is the type-specific part of a page. It is implemented by
// *uninitPage, *anonPage and *filePage only.
type variant interface {
	pageType() Type
}

// VAddr returns the virtual address of the page.
func (p *Page) VAddr() uint64 {
	return p.vAddr
}

// Writable reports whether the process may write the page.
func (p *Page) Writable() bool {
	return p.writable
}

// Owner returns the address space the page belongs to.
func (p *Page) Owner() *AddressSpace {
	return p.owner
}

// Type returns the current type of the page.
func (p *Page) Type() Type {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.variant.pageType()
}

// TargetType returns the type the page has or will have once initialized.
func (p *Page) TargetType() Type {
	p.mu.Lock()
	defer p.mu.Unlock()

	if u, ok := p.variant.(*uninitPage); ok {
		return u.target
	}

	return p.variant.pageType()
}

// IsResident reports whether the page currently occupies a frame.
func (p *Page) IsResident() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.frame != nil
}

// Frame returns the frame that holds the page, or nil.
func (p *Page) Frame() *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.frame
}

// SwapSlot returns the swap slot of an evicted anonymous page, or NoSlot.
func (p *Page) SwapSlot() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.variant.(*anonPage); ok {
		return a.slot
	}

	return NoSlot
}

// Mapping returns the first address and the number of pages of the file
// mapping the page belongs to. n is zero if the page is not part of a file
// mapping.
func (p *Page) Mapping() (start uint64, n int) {
	return p.mmapStart, p.mmapPages
}

func (p *Page) String() string {
	return fmt.Sprintf("page 0x%x (%s)", p.vAddr, p.Type())
}

// bringIntoMemory loads the content of the page into frame. An uninitialized
// page is transmuted into its target type on success.
func (p *Page) bringIntoMemory(frame *Frame) error {
	switch v := p.variant.(type) {
	case *uninitPage:
		return v.initialize(p, frame)
	case *anonPage:
		return v.swapIn(p, frame)
	case *filePage:
		return v.swapIn(p, frame)
	default:
		log.Panicf("unknown page variant %T", v)
	}

	return nil
}

// evictFromMemory saves the content of the page so that frame can be reused.
// The hardware mapping is removed. The frame link is left to the caller.
func (p *Page) evictFromMemory(frame *Frame) error {
	switch v := p.variant.(type) {
	case *uninitPage:
		log.Panicf("page 0x%x is evicted before it is initialized", p.vAddr)
	case *anonPage:
		return v.swapOut(p, frame)
	case *filePage:
		return v.swapOut(p, frame)
	default:
		log.Panicf("unknown page variant %T", v)
	}

	return nil
}

// destroy releases the resources held by the variant. Dirty file-backed
// content is written back first. Clearing the mapping and releasing the frame
// is left to the caller.
func (p *Page) destroy() error {
	switch v := p.variant.(type) {
	case *uninitPage:
		return v.destroy()
	case *anonPage:
		return v.destroy(p)
	case *filePage:
		return v.destroy(p)
	default:
		log.Panicf("unknown page variant %T", v)
	}

	return nil
}

// restoreMapping reinstalls the mapping of a page whose eviction failed
// after its mapping was detached.
func (p *Page) restoreMapping(frame *Frame, dirty bool) {
	hw := p.owner.hw
	if !hw.SetMapping(p.vAddr, frame.PAddr, p.writable) {
		log.Panicf("page 0x%x was remapped during its eviction", p.vAddr)
	}

	if dirty {
		hw.SetDirty(p.vAddr, true)
	}
}
