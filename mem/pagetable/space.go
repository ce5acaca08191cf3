package pagetable

// A Space is the view of a PageTable restricted to one process. It is what
// the virtual memory manager sees as the hardware mapping of an address
// space.
type Space struct {
	pid   PID
	table *pageTableImpl
}

// NewSpace returns the view of pid's entries in pt. The PageTable must have
// been created by NewPageTable.
func NewSpace(pt PageTable, pid PID) *Space {
	impl, ok := pt.(*pageTableImpl)
	if !ok {
		panic("pagetable: NewSpace requires a table created by NewPageTable")
	}

	return &Space{pid: pid, table: impl}
}

// PID returns the process that owns the space.
func (s *Space) PID() PID {
	return s.pid
}

func (s *Space) processTable() *processTable {
	return s.table.getTable(s.pid)
}

// GetMapping returns the physical page that vAddr maps to.
func (s *Space) GetMapping(vAddr uint64) (uint64, bool) {
	pte, found := s.table.Find(s.pid, vAddr)
	if !found {
		return 0, false
	}

	return pte.PAddr, true
}

// SetMapping maps the virtual page of vAddr to pAddr. It fails if the
// virtual page is already mapped.
func (s *Space) SetMapping(vAddr, pAddr uint64, writable bool) bool {
	return s.table.Insert(PTE{
		PID:      s.pid,
		VAddr:    vAddr,
		PAddr:    pAddr,
		Writable: writable,
	})
}

// ClearMapping removes the mapping of the virtual page of vAddr, if any.
func (s *Space) ClearMapping(vAddr uint64) {
	s.table.Remove(s.pid, vAddr)
}

// Detach removes the mapping of vAddr and reports whether the page was
// written while it was mapped. The check and the removal happen under one
// lock, so no write can slip in between them.
func (s *Space) Detach(vAddr uint64) (dirty bool, mapped bool) {
	pte, found := s.table.Remove(s.pid, vAddr)
	if !found {
		return false, false
	}

	return pte.Dirty, true
}

// IsDirty reports whether the page has been written since the dirty bit was
// last cleared.
func (s *Space) IsDirty(vAddr uint64) bool {
	pte, found := s.table.Find(s.pid, vAddr)

	return found && pte.Dirty
}

// SetDirty sets or clears the dirty bit.
func (s *Space) SetDirty(vAddr uint64, dirty bool) {
	s.processTable().modify(s.table.alignToPage(vAddr), func(pte *PTE) {
		pte.Dirty = dirty
	})
}

// ClearDirty clears the dirty bit.
func (s *Space) ClearDirty(vAddr uint64) {
	s.SetDirty(vAddr, false)
}

// IsAccessed reports whether the page has been read or written since the
// accessed bit was last cleared.
func (s *Space) IsAccessed(vAddr uint64) bool {
	pte, found := s.table.Find(s.pid, vAddr)

	return found && pte.Accessed
}

// SetAccessed sets or clears the accessed bit.
func (s *Space) SetAccessed(vAddr uint64, accessed bool) {
	s.processTable().modify(s.table.alignToPage(vAddr), func(pte *PTE) {
		pte.Accessed = accessed
	})
}

// Touch records an access the way the hardware does during a translation.
// present is false if the page is not mapped; permitted is false if the
// access is a write to a read-only page. The bits are only updated for a
// permitted access.
func (s *Space) Touch(vAddr uint64, write bool) (pte PTE, present, permitted bool) {
	present = s.processTable().modify(s.table.alignToPage(vAddr),
		func(e *PTE) {
			if write && !e.Writable {
				pte = *e
				return
			}

			permitted = true
			e.Accessed = true
			if write {
				e.Dirty = true
			}
			pte = *e
		})

	return pte, present, permitted
}

// Destroy removes every entry of the process.
func (s *Space) Destroy() {
	s.table.Drop(s.pid)
}
