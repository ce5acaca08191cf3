package vm

import (
	"fmt"
	"sort"
	"sync"
)

// A SupplementalPageTable records every page of one address space, resident
// or not, together with where its content comes from.
type SupplementalPageTable struct {
	mu    sync.Mutex
	pages map[uint64]*Page
}

// NewSupplementalPageTable creates an empty table.
func NewSupplementalPageTable() *SupplementalPageTable {
	return &SupplementalPageTable{
		pages: make(map[uint64]*Page),
	}
}

// Insert adds page to the table. It fails if the address is taken.
func (t *SupplementalPageTable) Insert(page *Page) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, found := t.pages[page.vAddr]; found {
		return fmt.Errorf("%w: 0x%x", ErrAlreadyMapped, page.vAddr)
	}

	t.pages[page.vAddr] = page

	return nil
}

// Find returns the page that contains addr.
func (t *SupplementalPageTable) Find(addr uint64) (*Page, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	page, found := t.pages[RoundDown(addr)]

	return page, found
}

func (t *SupplementalPageTable) remove(addr uint64) (*Page, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vAddr := RoundDown(addr)
	page, found := t.pages[vAddr]
	if found {
		delete(t.pages, vAddr)
	}

	return page, found
}

// Pages returns the pages in address order.
func (t *SupplementalPageTable) Pages() []*Page {
	t.mu.Lock()
	pages := make([]*Page, 0, len(t.pages))
	for _, p := range t.pages {
		pages = append(pages, p)
	}
	t.mu.Unlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].vAddr < pages[j].vAddr
	})

	return pages
}

// Len returns the number of pages.
func (t *SupplementalPageTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pages)
}
