package vm

import (
	"bytes"
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("SupplementalPageTable", func() {
	var spt *SupplementalPageTable

	BeforeEach(func() {
		spt = NewSupplementalPageTable()
	})

	It("should find a page by any address inside it", func() {
		page := &Page{vAddr: 0x4000}
		Expect(spt.Insert(page)).To(Succeed())

		found, ok := spt.Find(0x4abc)

		Expect(ok).To(BeTrue())
		Expect(found).To(BeIdenticalTo(page))
	})

	It("should reject a second page at the same address", func() {
		Expect(spt.Insert(&Page{vAddr: 0x4000})).To(Succeed())

		err := spt.Insert(&Page{vAddr: 0x4000})

		Expect(err).To(MatchError(ErrAlreadyMapped))
		Expect(spt.Len()).To(Equal(1))
	})

	It("should not find a removed page", func() {
		Expect(spt.Insert(&Page{vAddr: 0x4000})).To(Succeed())

		_, removed := spt.remove(0x4010)
		_, found := spt.Find(0x4000)

		Expect(removed).To(BeTrue())
		Expect(found).To(BeFalse())
	})

	It("should list pages in address order", func() {
		for _, addr := range []uint64{0x9000, 0x1000, 0x5000} {
			Expect(spt.Insert(&Page{vAddr: addr})).To(Succeed())
		}

		pages := spt.Pages()

		Expect(pages).To(HaveLen(3))
		Expect(pages[0].vAddr).To(Equal(uint64(0x1000)))
		Expect(pages[1].vAddr).To(Equal(uint64(0x5000)))
		Expect(pages[2].vAddr).To(Equal(uint64(0x9000)))
	})
})

var _ = Describe("Page", func() {
	var (
		mockCtrl *gomock.Controller
		file     *MockFile
		env      *testEnv
		as       *AddressSpace
		data     []byte
	)

	readFrom := func(content []byte) func(buf []byte) (int, error) {
		pos := 0
		return func(buf []byte) (int, error) {
			if pos >= len(content) {
				return 0, io.EOF
			}

			n := copy(buf, content[pos:])
			pos += n

			return n, nil
		}
	}

	allocFilePage := func(addr uint64) {
		aux := &LoadAux{
			File:      file,
			Offset:    0x2000,
			ReadBytes: 100,
			ZeroBytes: PageSize - 100,
		}
		Expect(as.AllocPageWithInitializer(TypeFile, addr, true, nil, aux)).
			To(Succeed())
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		file = NewMockFile(mockCtrl)
		env = newTestEnv(1, NewFIFOVictimFinder())
		as, _ = env.newSpace(1)
		data = bytes.Repeat([]byte{'x'}, 100)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should load a file page the first time it is claimed", func() {
		allocFilePage(0x10000)
		file.EXPECT().Seek(int64(0x2000)).Return(nil)
		file.EXPECT().Read(gomock.Any()).DoAndReturn(readFrom(data))

		Expect(as.ClaimPage(0x10000)).To(Succeed())

		page, _ := as.FindPage(0x10000)
		Expect(page.Type()).To(Equal(TypeFile))
		content := env.frameContent(page)
		Expect(content[:100]).To(Equal(data))
		Expect(content[100:]).To(Equal(make([]byte, PageSize-100)))
		pAddr, mapped := as.hw.GetMapping(0x10000)
		Expect(mapped).To(BeTrue())
		Expect(pAddr).To(Equal(page.Frame().PAddr))
	})

	It("should stay uninitialized if loading fails", func() {
		allocFilePage(0x10000)
		file.EXPECT().Seek(int64(0x2000)).Return(nil)
		file.EXPECT().Read(gomock.Any()).DoAndReturn(readFrom(data[:50])).
			Times(2)

		err := as.ClaimPage(0x10000)

		Expect(err).To(MatchError(ErrBackingStore))
		page, _ := as.FindPage(0x10000)
		Expect(page.Type()).To(Equal(TypeUninit))
		Expect(page.TargetType()).To(Equal(TypeFile))
		Expect(page.IsResident()).To(BeFalse())
		_, mapped := as.hw.GetMapping(0x10000)
		Expect(mapped).To(BeFalse())
		Expect(env.frames.Stats().Free).To(Equal(1))

		file.EXPECT().Close().Return(nil)
		Expect(as.Teardown()).To(Succeed())
	})

	It("should close the payload exactly once if never loaded", func() {
		allocFilePage(0x10000)
		file.EXPECT().Close().Return(nil).Times(1)

		Expect(as.RemoveAndDestroy(0x10000)).To(Succeed())
		Expect(as.RemoveAndDestroy(0x10000)).To(Succeed())
		Expect(as.Teardown()).To(Succeed())
	})

	It("should release the payload if registration fails", func() {
		Expect(as.AllocPage(TypeAnon, 0x10000, true)).To(Succeed())
		file.EXPECT().Close().Return(nil)

		err := as.AllocPageWithInitializer(TypeFile, 0x10000, true, nil,
			&LoadAux{File: file, ReadBytes: 10})

		Expect(err).To(MatchError(ErrAlreadyMapped))
	})

	Context("when a file page is resident", func() {
		BeforeEach(func() {
			allocFilePage(0x10000)
			Expect(as.AllocPage(TypeAnon, 0x20000, true)).To(Succeed())
			file.EXPECT().Seek(int64(0x2000)).Return(nil)
			file.EXPECT().Read(gomock.Any()).DoAndReturn(readFrom(data))
			Expect(as.ClaimPage(0x10000)).To(Succeed())
		})

		It("should not write a clean page back when it is evicted", func() {
			Expect(as.ClaimPage(0x20000)).To(Succeed())

			page, _ := as.FindPage(0x10000)
			Expect(page.IsResident()).To(BeFalse())
			Expect(page.Type()).To(Equal(TypeFile))
		})

		It("should write the file part of a dirty page back on eviction", func() {
			page, _ := as.FindPage(0x10000)
			env.fill(page, 'y')
			as.hw.SetDirty(0x10000, true)
			file.EXPECT().
				WriteAt(bytes.Repeat([]byte{'y'}, 100), int64(0x2000)).
				Return(100, nil)

			Expect(as.ClaimPage(0x20000)).To(Succeed())

			Expect(page.IsResident()).To(BeFalse())
		})

		It("should keep the page mapped and dirty if the write back fails",
			func() {
				as.hw.SetDirty(0x10000, true)
				file.EXPECT().WriteAt(gomock.Any(), int64(0x2000)).
					Return(0, errors.New("disk error"))

				err := as.ClaimPage(0x20000)

				Expect(err).To(MatchError(ErrOutOfMemory))
				page, _ := as.FindPage(0x10000)
				Expect(page.IsResident()).To(BeTrue())
				Expect(as.hw.IsDirty(0x10000)).To(BeTrue())
				_, mapped := as.hw.GetMapping(0x10000)
				Expect(mapped).To(BeTrue())
				Expect(env.frames.Audit()).To(Succeed())
			})

		It("should treat a short write back as a failure", func() {
			as.hw.SetDirty(0x10000, true)
			file.EXPECT().WriteAt(gomock.Any(), int64(0x2000)).Return(40, nil)

			err := as.ClaimPage(0x20000)

			Expect(err).To(MatchError(ErrOutOfMemory))
		})

		It("should write back and close when a dirty page is destroyed", func() {
			as.hw.SetDirty(0x10000, true)
			gomock.InOrder(
				file.EXPECT().WriteAt(gomock.Any(), int64(0x2000)).
					Return(100, nil),
				file.EXPECT().Close().Return(nil),
			)

			Expect(as.RemoveAndDestroy(0x10000)).To(Succeed())

			_, mapped := as.hw.GetMapping(0x10000)
			Expect(mapped).To(BeFalse())
			Expect(env.frames.Stats().Free).To(Equal(1))
		})

		It("should reload a page from the file after eviction", func() {
			Expect(as.ClaimPage(0x20000)).To(Succeed())
			file.EXPECT().Seek(int64(0x2000)).Return(nil)
			file.EXPECT().Read(gomock.Any()).DoAndReturn(readFrom(data))

			Expect(as.ClaimPage(0x10000)).To(Succeed())

			page, _ := as.FindPage(0x10000)
			Expect(env.frameContent(page)[:100]).To(Equal(data))
		})
	})

	It("should run the initializer only once", func() {
		calls := 0
		fill := func(buf []byte, aux *LoadAux) error {
			calls++
			buf[0] = 42
			return nil
		}
		Expect(as.AllocPageWithInitializer(TypeAnon, 0x10000, true, fill, nil)).
			To(Succeed())
		Expect(as.AllocPage(TypeAnon, 0x20000, true)).To(Succeed())

		Expect(as.ClaimPage(0x10000)).To(Succeed())
		Expect(as.ClaimPage(0x20000)).To(Succeed())
		Expect(as.ClaimPage(0x10000)).To(Succeed())

		page, _ := as.FindPage(0x10000)
		Expect(calls).To(Equal(1))
		Expect(page.Type()).To(Equal(TypeAnon))
		Expect(env.frameContent(page)[0]).To(Equal(byte(42)))
	})

	It("should panic on an unknown variant", func() {
		page := &Page{variant: nil}

		Expect(func() { _ = page.destroy() }).To(Panic())
	})
})
