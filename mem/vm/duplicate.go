package vm

import (
	"fmt"
	"log"

	"github.com/sarchlab/lazyvm/sim"
)

// DuplicateEvent is the detail of the HookPosDuplicate hook.
type DuplicateEvent struct {
	Parent   PID
	Child    PID
	NumPages int
}

// pageCopy is what Duplicate needs to know about a source page.
type pageCopy struct {
	vAddr     uint64
	writable  bool
	mmapStart uint64
	mmapPages int

	variant variant
	content []byte
	dirty   bool
}

// Duplicate copies every page of src into dst, which must be empty. The
// child gets its own copy of resident and swapped-out anonymous content and
// its own handles of the files that back its pages. Pages that were never
// loaded stay lazy in the child. If any page cannot be copied, dst is torn
// down and the error is returned.
func Duplicate(dst, src *AddressSpace) error {
	if dst.spt.Len() != 0 {
		log.Panicf("duplicating into non-empty address space %d", dst.pid)
	}

	pages := src.spt.Pages()
	for _, page := range pages {
		if err := duplicatePage(dst, src, page); err != nil {
			_ = dst.Teardown()
			return fmt.Errorf("duplicating page 0x%x of process %d: %w",
				page.vAddr, src.pid, err)
		}
	}

	src.InvokeHook(sim.HookCtx{
		Domain: src,
		Pos:    HookPosDuplicate,
		Detail: DuplicateEvent{
			Parent:   src.pid,
			Child:    dst.pid,
			NumPages: len(pages),
		},
	})

	return nil
}

func duplicatePage(dst, src *AddressSpace, page *Page) error {
	c, err := snapshot(src, page)
	if err != nil {
		return err
	}

	if c == nil {
		return nil
	}

	child := dst.newPage(c.vAddr, c.writable, c.variant)
	child.mmapStart = c.mmapStart
	child.mmapPages = c.mmapPages

	if err := dst.spt.Insert(child); err != nil {
		_ = child.destroy()
		return err
	}

	if c.content == nil {
		return nil
	}

	if err := dst.claimWith(child, c.content); err != nil {
		return err
	}

	if c.dirty {
		dst.hw.SetDirty(child.vAddr, true)
	}

	return nil
}

// snapshot copies the state of a source page while holding its lock, so that
// it can be neither evicted nor destroyed halfway. It returns nil if the page
// was destroyed after the page list was taken.
func snapshot(src *AddressSpace, page *Page) (*pageCopy, error) {
	page.mu.Lock()
	defer page.mu.Unlock()

	if page.destroyed {
		return nil, nil
	}

	c := &pageCopy{
		vAddr:     page.vAddr,
		writable:  page.writable,
		mmapStart: page.mmapStart,
		mmapPages: page.mmapPages,
	}

	var err error
	switch v := page.variant.(type) {
	case *uninitPage:
		c.variant, err = v.clone()
	case *anonPage:
		c.variant = &anonPage{slot: NoSlot}
		c.content, err = v.content(page)
	case *filePage:
		c.variant, err = v.clone()
		if err == nil && page.frame != nil {
			c.content, err = page.frame.read()
			c.dirty = src.hw.IsDirty(page.vAddr)
		}
	default:
		log.Panicf("unknown page variant %T", v)
	}

	if err != nil {
		if c.variant != nil {
			_ = (&Page{variant: c.variant}).destroy()
		}

		return nil, err
	}

	return c, nil
}

func (u *uninitPage) clone() (variant, error) {
	aux, err := u.aux.Clone()
	if err != nil {
		return nil, err
	}

	return &uninitPage{init: u.init, aux: aux, target: u.target}, nil
}

// content returns the data of the page, from its frame or its swap slot. It
// returns nil for a page that was never loaded. The swap slot is kept.
func (a *anonPage) content(p *Page) ([]byte, error) {
	if p.frame != nil {
		return p.frame.read()
	}

	if a.slot == NoSlot {
		return nil, nil
	}

	data, err := p.owner.swap.Read(a.slot)
	if err != nil {
		return nil, fmt.Errorf("%w: reading swap slot %d: %v",
			ErrBackingStore, a.slot, err)
	}

	return data, nil
}

func (f *filePage) clone() (variant, error) {
	handle, err := f.file.Reopen()
	if err != nil {
		return nil, fmt.Errorf("%w: reopening file: %v", ErrBackingStore, err)
	}

	return &filePage{file: handle, offset: f.offset, readBytes: f.readBytes}, nil
}
