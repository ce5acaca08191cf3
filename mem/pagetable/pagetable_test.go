package pagetable

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PageTable", func() {
	var pt PageTable

	BeforeEach(func() {
		pt = NewPageTable(12)
	})

	It("should find entries by any address inside the page", func() {
		Expect(pt.Insert(PTE{PID: 1, VAddr: 0x1000, PAddr: 0x8000})).To(BeTrue())

		pte, found := pt.Find(1, 0x1fff)

		Expect(found).To(BeTrue())
		Expect(pte.PAddr).To(Equal(uint64(0x8000)))
	})

	It("should not mix processes", func() {
		pt.Insert(PTE{PID: 1, VAddr: 0x1000, PAddr: 0x8000})

		_, found := pt.Find(2, 0x1000)

		Expect(found).To(BeFalse())
	})

	It("should refuse to map a page twice", func() {
		Expect(pt.Insert(PTE{PID: 1, VAddr: 0x1000})).To(BeTrue())
		Expect(pt.Insert(PTE{PID: 1, VAddr: 0x1004})).To(BeFalse())
	})

	It("should remove entries", func() {
		pt.Insert(PTE{PID: 1, VAddr: 0x1000, Dirty: true})

		pte, removed := pt.Remove(1, 0x1000)

		Expect(removed).To(BeTrue())
		Expect(pte.Dirty).To(BeTrue())
		Expect(pt.Entries(1)).To(BeEmpty())
	})

	It("should panic when updating a missing entry", func() {
		Expect(func() { pt.Update(PTE{PID: 1, VAddr: 0x1000}) }).To(Panic())
	})

	It("should list entries in insertion order", func() {
		pt.Insert(PTE{PID: 1, VAddr: 0x3000})
		pt.Insert(PTE{PID: 1, VAddr: 0x1000})

		entries := pt.Entries(1)

		Expect(entries).To(HaveLen(2))
		Expect(entries[0].VAddr).To(Equal(uint64(0x3000)))
		Expect(entries[1].VAddr).To(Equal(uint64(0x1000)))
	})
})

var _ = Describe("Space", func() {
	var (
		pt    PageTable
		space *Space
	)

	BeforeEach(func() {
		pt = NewPageTable(12)
		space = NewSpace(pt, 7)
	})

	It("should set and get mappings", func() {
		Expect(space.SetMapping(0x4000, 0x9000, true)).To(BeTrue())
		Expect(space.SetMapping(0x4000, 0xa000, true)).To(BeFalse())

		pAddr, ok := space.GetMapping(0x4010)

		Expect(ok).To(BeTrue())
		Expect(pAddr).To(Equal(uint64(0x9000)))
	})

	It("should track dirty and accessed bits on touch", func() {
		space.SetMapping(0x4000, 0x9000, true)

		_, present, permitted := space.Touch(0x4008, false)
		Expect(present).To(BeTrue())
		Expect(permitted).To(BeTrue())
		Expect(space.IsAccessed(0x4000)).To(BeTrue())
		Expect(space.IsDirty(0x4000)).To(BeFalse())

		space.Touch(0x4008, true)
		Expect(space.IsDirty(0x4000)).To(BeTrue())

		space.ClearDirty(0x4000)
		space.SetAccessed(0x4000, false)
		Expect(space.IsDirty(0x4000)).To(BeFalse())
		Expect(space.IsAccessed(0x4000)).To(BeFalse())
	})

	It("should reject writes to read-only pages", func() {
		space.SetMapping(0x4000, 0x9000, false)

		_, present, permitted := space.Touch(0x4000, true)

		Expect(present).To(BeTrue())
		Expect(permitted).To(BeFalse())
		Expect(space.IsDirty(0x4000)).To(BeFalse())
	})

	It("should report not present", func() {
		_, present, _ := space.Touch(0x4000, false)

		Expect(present).To(BeFalse())
	})

	It("should detach with the dirty bit", func() {
		space.SetMapping(0x4000, 0x9000, true)
		space.Touch(0x4000, true)

		dirty, mapped := space.Detach(0x4000)

		Expect(mapped).To(BeTrue())
		Expect(dirty).To(BeTrue())
		_, ok := space.GetMapping(0x4000)
		Expect(ok).To(BeFalse())
	})

	It("should destroy all entries", func() {
		space.SetMapping(0x4000, 0x9000, true)
		space.SetMapping(0x5000, 0xa000, true)

		space.Destroy()

		Expect(pt.Entries(7)).To(BeEmpty())
	})
})
