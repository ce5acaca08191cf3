package vm

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/lazyvm/sim"
)

var _ = Describe("FrameManager", func() {
	var (
		env *testEnv
		as  *AddressSpace
	)

	Context("without eviction", func() {
		BeforeEach(func() {
			env = newTestEnv(2, NewFIFOVictimFinder())
		})

		It("should hand out pinned, zeroed frames from low addresses", func() {
			f1, err := env.frames.Acquire()
			Expect(err).NotTo(HaveOccurred())
			f2, err := env.frames.Acquire()
			Expect(err).NotTo(HaveOccurred())

			Expect(f1.PAddr).To(Equal(uint64(0)))
			Expect(f2.PAddr).To(Equal(PageSize))
			Expect(f1.IsPinned()).To(BeTrue())
			Expect(f1.Page()).To(BeNil())

			data, _ := f1.read()
			Expect(data).To(Equal(make([]byte, PageSize)))
		})

		It("should fail when every frame is pinned", func() {
			_, _ = env.frames.Acquire()
			_, _ = env.frames.Acquire()

			_, err := env.frames.Acquire()

			Expect(err).To(MatchError(ErrOutOfMemory))
		})

		It("should zero a released frame before handing it out again", func() {
			f, _ := env.frames.Acquire()
			Expect(f.write(bytes.Repeat([]byte{7}, int(PageSize)))).To(Succeed())
			env.frames.Release(f)

			f2, err := env.frames.Acquire()

			Expect(err).NotTo(HaveOccurred())
			Expect(f2).To(BeIdenticalTo(f))
			data, _ := f2.read()
			Expect(data).To(Equal(make([]byte, PageSize)))
		})

		It("should report stats", func() {
			as, _ = env.newSpace(1)
			Expect(as.AllocPage(TypeAnon, 0x1000, true)).To(Succeed())
			Expect(as.ClaimPage(0x1000)).To(Succeed())

			stats := env.frames.Stats()

			Expect(stats.Total).To(Equal(2))
			Expect(stats.Free).To(Equal(1))
			Expect(stats.Resident).To(Equal(1))
			Expect(stats.Evictions).To(BeZero())

			infos := env.frames.Frames()
			Expect(infos[0].Used).To(BeTrue())
			Expect(infos[0].PID).To(Equal(PID(1)))
			Expect(infos[0].VAddr).To(Equal(uint64(0x1000)))
			Expect(infos[1].Used).To(BeFalse())
		})

		It("should panic when building a pool that does not fit", func() {
			Expect(func() {
				MakeFrameManagerBuilder().
					WithStorage(env.frames.Storage()).
					WithNumFrames(3).
					Build()
			}).To(Panic())
		})
	})

	Context("with FIFO eviction", func() {
		var hookCalls []EvictEvent

		BeforeEach(func() {
			env = newTestEnv(2, NewFIFOVictimFinder())
			as, _ = env.newSpace(1)
			hookCalls = nil
			env.frames.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
				hookCalls = append(hookCalls, ctx.Detail.(EvictEvent))
			}))

			for _, addr := range []uint64{0x1000, 0x2000, 0x3000} {
				Expect(as.AllocPage(TypeAnon, addr, true)).To(Succeed())
			}
		})

		It("should evict the oldest page to swap", func() {
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			p1, _ := as.FindPage(0x1000)
			env.fill(p1, 0xaa)
			Expect(as.ClaimPage(0x2000)).To(Succeed())

			Expect(as.ClaimPage(0x3000)).To(Succeed())

			Expect(p1.IsResident()).To(BeFalse())
			Expect(p1.SwapSlot()).NotTo(Equal(NoSlot))
			_, mapped := as.hw.GetMapping(0x1000)
			Expect(mapped).To(BeFalse())
			Expect(env.swap.InUse()).To(Equal(1))
			Expect(env.frames.Stats().Evictions).To(Equal(uint64(1)))
			Expect(hookCalls).To(HaveLen(1))
			Expect(hookCalls[0].VAddr).To(Equal(uint64(0x1000)))
			Expect(hookCalls[0].Type).To(Equal(TypeAnon))
			Expect(env.frames.Audit()).To(Succeed())
		})

		It("should bring an evicted page back with its content", func() {
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			p1, _ := as.FindPage(0x1000)
			env.fill(p1, 0xaa)
			Expect(as.ClaimPage(0x2000)).To(Succeed())
			Expect(as.ClaimPage(0x3000)).To(Succeed())

			Expect(as.ClaimPage(0x1000)).To(Succeed())

			Expect(env.frameContent(p1)).To(Equal(bytes.Repeat([]byte{0xaa}, int(PageSize))))
			Expect(p1.SwapSlot()).To(Equal(NoSlot))
			Expect(env.swap.InUse()).To(Equal(1))
			Expect(env.frames.Audit()).To(Succeed())
		})

		It("should free the swap slot when an evicted page is destroyed", func() {
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			Expect(as.ClaimPage(0x2000)).To(Succeed())
			Expect(as.ClaimPage(0x3000)).To(Succeed())
			Expect(env.swap.InUse()).To(Equal(1))

			Expect(as.Teardown()).To(Succeed())

			Expect(env.swap.InUse()).To(BeZero())
			Expect(env.frames.Stats().Free).To(Equal(2))
		})
	})

	Context("with clock eviction", func() {
		BeforeEach(func() {
			env = newTestEnv(2, NewClockVictimFinder())
			as, _ = env.newSpace(1)

			for _, addr := range []uint64{0x1000, 0x2000, 0x3000} {
				Expect(as.AllocPage(TypeAnon, addr, true)).To(Succeed())
			}
		})

		It("should give recently accessed pages a second chance", func() {
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			Expect(as.ClaimPage(0x2000)).To(Succeed())
			as.hw.SetAccessed(0x1000, true)

			Expect(as.ClaimPage(0x3000)).To(Succeed())

			p1, _ := as.FindPage(0x1000)
			p2, _ := as.FindPage(0x2000)
			Expect(p1.IsResident()).To(BeTrue())
			Expect(p2.IsResident()).To(BeFalse())
			Expect(as.hw.IsAccessed(0x1000)).To(BeFalse())
		})

		It("should evict even if every page was accessed", func() {
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			Expect(as.ClaimPage(0x2000)).To(Succeed())
			as.hw.SetAccessed(0x1000, true)
			as.hw.SetAccessed(0x2000, true)

			Expect(as.ClaimPage(0x3000)).To(Succeed())

			Expect(env.frames.Stats().Evictions).To(Equal(uint64(1)))
			Expect(env.frames.Audit()).To(Succeed())
		})
	})

	Context("when saving the victim fails", func() {
		var (
			mockCtrl *gomock.Controller
			swapDev  *MockSwapDevice
		)

		BeforeEach(func() {
			mockCtrl = gomock.NewController(GinkgoT())
			swapDev = NewMockSwapDevice(mockCtrl)
			env = newTestEnv(1, NewFIFOVictimFinder())

			as = MakeBuilder().
				WithFrameManager(env.frames).
				WithHardwareMapping(env.pt2Space(1)).
				WithSwapDevice(swapDev).
				Build(1)

			Expect(as.AllocPage(TypeAnon, 0x1000, true)).To(Succeed())
			Expect(as.AllocPage(TypeAnon, 0x2000, true)).To(Succeed())
			Expect(as.ClaimPage(0x1000)).To(Succeed())
			as.hw.SetDirty(0x1000, true)
		})

		AfterEach(func() {
			mockCtrl.Finish()
		})

		It("should keep the victim resident and report out of memory", func() {
			swapDev.EXPECT().Alloc().Return(0, errors.New("swap full"))

			err := as.ClaimPage(0x2000)

			Expect(err).To(MatchError(ErrOutOfMemory))
			p1, _ := as.FindPage(0x1000)
			Expect(p1.IsResident()).To(BeTrue())
			Expect(p1.Frame().IsPinned()).To(BeFalse())
			pAddr, mapped := as.hw.GetMapping(0x1000)
			Expect(mapped).To(BeTrue())
			Expect(pAddr).To(Equal(p1.Frame().PAddr))
			Expect(as.hw.IsDirty(0x1000)).To(BeTrue())

			p2, _ := as.FindPage(0x2000)
			Expect(p2.IsResident()).To(BeFalse())
			Expect(p2.Type()).To(Equal(TypeUninit))
			Expect(env.frames.Audit()).To(Succeed())
		})

		It("should release the slot if the write fails", func() {
			swapDev.EXPECT().Alloc().Return(3, nil)
			swapDev.EXPECT().Write(3, gomock.Any()).Return(errors.New("io"))
			swapDev.EXPECT().Free(3)

			err := as.ClaimPage(0x2000)

			Expect(err).To(MatchError(ErrOutOfMemory))
			Expect(IsFatal(err)).To(BeTrue())
		})
	})
})

var _ = Describe("VictimFinder", func() {
	It("should find nothing when every frame is free or pinned", func() {
		frames := []*Frame{
			{PAddr: 0},
			{PAddr: PageSize, page: &Page{}, pinned: true},
		}

		_, found := NewClockVictimFinder().FindVictim(frames)
		Expect(found).To(BeFalse())

		_, found = NewFIFOVictimFinder().FindVictim(frames)
		Expect(found).To(BeFalse())
	})

	It("should pick the oldest load in FIFO order", func() {
		frames := []*Frame{
			{PAddr: 0, page: &Page{}, loadSeq: 5},
			{PAddr: PageSize, page: &Page{}, loadSeq: 2},
			{PAddr: 2 * PageSize, page: &Page{}, loadSeq: 1, pinned: true},
		}

		victim, found := NewFIFOVictimFinder().FindVictim(frames)

		Expect(found).To(BeTrue())
		Expect(victim.PAddr).To(Equal(PageSize))
	})
})
