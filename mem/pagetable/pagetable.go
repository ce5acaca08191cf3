// Package pagetable models the hardware page tables that the MMU walks. Each
// process owns one table; entries carry the present, writable, accessed and
// dirty bits that the hardware maintains.
package pagetable

import (
	"container/list"
	"log"
	"sync"
)

// PID stands for Process ID.
type PID uint32

// A PTE is an entry in the page table, maintaining the information about how
// to translate a virtual address to a physical address.
type PTE struct {
	PID      PID
	VAddr    uint64
	PAddr    uint64
	Writable bool
	Accessed bool
	Dirty    bool
}

// A PageTable holds the page table entries of all the processes.
type PageTable interface {
	// Insert adds a new entry. It returns false if the virtual page is already
	// mapped.
	Insert(pte PTE) bool
	Remove(pid PID, vAddr uint64) (PTE, bool)
	Find(pid PID, vAddr uint64) (PTE, bool)
	Update(pte PTE)
	Entries(pid PID) []PTE
	Drop(pid PID)
	Log2PageSize() uint64
}

// NewPageTable creates a new PageTable.
func NewPageTable(log2PageSize uint64) PageTable {
	return &pageTableImpl{
		log2PageSize: log2PageSize,
		tables:       make(map[PID]*processTable),
	}
}

// pageTableImpl is the default implementation of a Page Table
type pageTableImpl struct {
	sync.Mutex
	log2PageSize uint64
	tables       map[PID]*processTable
}

func (pt *pageTableImpl) getTable(pid PID) *processTable {
	pt.Lock()
	defer pt.Unlock()

	table, found := pt.tables[pid]
	if !found {
		table = &processTable{
			entries:      list.New(),
			entriesTable: make(map[uint64]*list.Element),
		}
		pt.tables[pid] = table
	}

	return table
}

func (pt *pageTableImpl) alignToPage(addr uint64) uint64 {
	return (addr >> pt.log2PageSize) << pt.log2PageSize
}

func (pt *pageTableImpl) Log2PageSize() uint64 {
	return pt.log2PageSize
}

// Insert puts a new entry into the PageTable.
func (pt *pageTableImpl) Insert(pte PTE) bool {
	pte.VAddr = pt.alignToPage(pte.VAddr)
	table := pt.getTable(pte.PID)

	return table.insert(pte)
}

// Remove removes the entry in the page table that contains the target
// address and returns it.
func (pt *pageTableImpl) Remove(pid PID, vAddr uint64) (PTE, bool) {
	table := pt.getTable(pid)

	return table.remove(pt.alignToPage(vAddr))
}

// Find returns the entry that contains the given virtual address. The bool
// return value indicates if the entry is found or not.
func (pt *pageTableImpl) Find(pid PID, vAddr uint64) (PTE, bool) {
	table := pt.getTable(pid)

	return table.find(pt.alignToPage(vAddr))
}

// Update changes the fields of an existing entry. The PID and the VAddr
// fields are used to locate the entry to update.
func (pt *pageTableImpl) Update(pte PTE) {
	pte.VAddr = pt.alignToPage(pte.VAddr)
	table := pt.getTable(pte.PID)
	table.update(pte)
}

// Entries returns the entries of a process in insertion order.
func (pt *pageTableImpl) Entries(pid PID) []PTE {
	table := pt.getTable(pid)

	return table.all()
}

// Drop forgets every entry of the process.
func (pt *pageTableImpl) Drop(pid PID) {
	pt.Lock()
	defer pt.Unlock()

	delete(pt.tables, pid)
}

type processTable struct {
	sync.Mutex
	entries      *list.List
	entriesTable map[uint64]*list.Element
}

func (t *processTable) insert(pte PTE) bool {
	t.Lock()
	defer t.Unlock()

	if _, found := t.entriesTable[pte.VAddr]; found {
		return false
	}

	elem := t.entries.PushBack(pte)
	t.entriesTable[pte.VAddr] = elem

	return true
}

func (t *processTable) remove(vAddr uint64) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return PTE{}, false
	}

	t.entries.Remove(elem)
	delete(t.entriesTable, vAddr)

	return elem.Value.(PTE), true
}

func (t *processTable) update(pte PTE) {
	t.Lock()
	defer t.Unlock()

	t.entryMustExist(pte.VAddr)

	elem := t.entriesTable[pte.VAddr]
	elem.Value = pte
}

// modify applies fn to an existing entry while the table is locked. It
// returns false if there is no entry.
func (t *processTable) modify(vAddr uint64, fn func(pte *PTE)) bool {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if !found {
		return false
	}

	pte := elem.Value.(PTE)
	fn(&pte)
	elem.Value = pte

	return true
}

func (t *processTable) find(vAddr uint64) (PTE, bool) {
	t.Lock()
	defer t.Unlock()

	elem, found := t.entriesTable[vAddr]
	if found {
		return elem.Value.(PTE), true
	}

	return PTE{}, false
}

func (t *processTable) all() []PTE {
	t.Lock()
	defer t.Unlock()

	ptes := make([]PTE, 0, t.entries.Len())
	for e := t.entries.Front(); e != nil; e = e.Next() {
		ptes = append(ptes, e.Value.(PTE))
	}

	return ptes
}

func (t *processTable) entryMustExist(vAddr uint64) {
	if _, found := t.entriesTable[vAddr]; !found {
		log.Panicf("page table entry 0x%x does not exist", vAddr)
	}
}
