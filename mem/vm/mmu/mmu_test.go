package mmu

import (
	"bytes"

	"github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/lazyvm/fs"
	"github.com/sarchlab/lazyvm/mem/pagetable"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/swap"
	"github.com/sarchlab/lazyvm/sim"
)

var _ = ginkgo.Describe("MMU", func() {
	var (
		mockCtrl *gomock.Controller
		killer   *MockKiller
		frames   *vm.FrameManager
		table    *pagetable.Space
		as       *vm.AddressSpace
		m        *MMU
		ctx      Context
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		killer = NewMockKiller(mockCtrl)

		frames = vm.MakeFrameManagerBuilder().WithNumFrames(4).Build()
		table = pagetable.NewSpace(pagetable.NewPageTable(vm.Log2PageSize), 7)
		as = vm.MakeBuilder().
			WithFrameManager(frames).
			WithHardwareMapping(table).
			WithSwapDevice(swap.NewDevice(8, vm.PageSize)).
			Build(7)

		m = MakeBuilder().
			WithStorage(frames.Storage()).
			WithKiller(killer).
			Build("MMU")

		sp, err := as.SetupStack()
		Expect(err).NotTo(HaveOccurred())

		ctx = Context{Space: as, Table: table, StackPointer: sp, User: true}
	})

	ginkgo.AfterEach(func() {
		mockCtrl.Finish()
	})

	ginkgo.It("should read back what was written", func() {
		Expect(as.AllocPage(vm.TypeAnon, 0x10000, true)).To(Succeed())

		Expect(m.Write(ctx, 0x10010, []byte("hello"))).To(Succeed())
		data, err := m.Read(ctx, 0x10010, 5)

		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("hello")))
		Expect(table.IsDirty(0x10000)).To(BeTrue())
		Expect(table.IsAccessed(0x10000)).To(BeTrue())
		Expect(m.Stats().Faults).To(Equal(uint64(1)))
	})

	ginkgo.It("should split an access that crosses a page boundary", func() {
		Expect(as.AllocPage(vm.TypeAnon, 0x10000, true)).To(Succeed())
		Expect(as.AllocPage(vm.TypeAnon, 0x11000, true)).To(Succeed())
		data := bytes.Repeat([]byte{'z'}, 32)

		Expect(m.Write(ctx, 0x11000-16, data)).To(Succeed())
		got, err := m.Read(ctx, 0x11000-16, 32)

		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(data))
		Expect(table.IsDirty(0x10000)).To(BeTrue())
		Expect(table.IsDirty(0x11000)).To(BeTrue())
	})

	ginkgo.It("should grow the stack when writing right below it", func() {
		ctx.StackPointer = vm.UserStack - vm.PageSize

		Expect(m.Write(ctx, ctx.StackPointer-8, []byte{1, 2, 3, 4})).
			To(Succeed())

		page, found := as.FindPage(ctx.StackPointer - 8)
		Expect(found).To(BeTrue())
		Expect(page.Writable()).To(BeTrue())
	})

	ginkgo.It("should kill a process that touches an unmapped address", func() {
		killer.EXPECT().Kill(vm.PID(7), gomock.Any()).
			Do(func(_ vm.PID, reason error) {
				Expect(reason).To(MatchError(vm.ErrInvalidAccess))
			})

		_, err := m.Read(ctx, 0x900000, 4)

		Expect(err).To(MatchError(ErrKilled))
		Expect(err).To(MatchError(vm.ErrInvalidAccess))
		Expect(m.Stats().Kills).To(Equal(uint64(1)))
	})

	ginkgo.It("should kill a process that writes a read-only page", func() {
		file := fs.NewMemFS()
		file.Create("ro", bytes.Repeat([]byte{'r'}, 64))
		handle, _ := file.Open("ro")
		_, err := as.MapFile(0x20000, 64, false, handle, 0)
		Expect(err).NotTo(HaveOccurred())
		killer.EXPECT().Kill(vm.PID(7), gomock.Any())

		data, err := m.Read(ctx, 0x20000, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("rr")))

		err = m.Write(ctx, 0x20000, []byte("w"))
		Expect(err).To(MatchError(vm.ErrInvalidAccess))
		Expect(table.IsDirty(0x20000)).To(BeFalse())
	})

	ginkgo.It("should report every completed access to hooks", func() {
		var events []AccessEvent
		m.AcceptHook(sim.HookFunc(func(hc sim.HookCtx) {
			events = append(events, hc.Detail.(AccessEvent))
		}))
		Expect(as.AllocPage(vm.TypeAnon, 0x10000, true)).To(Succeed())

		Expect(m.Write(ctx, 0x10000, []byte{1})).To(Succeed())

		Expect(events).To(ConsistOf(AccessEvent{
			PID: 7, VAddr: 0x10000, Length: 1, Write: true,
		}))
	})

	ginkgo.It("should panic when built without memory", func() {
		Expect(func() { MakeBuilder().Build("MMU") }).To(Panic())
	})
})
