package workload_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/lazyvm/fs"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/swap"
	"github.com/sarchlab/lazyvm/process"
	"github.com/sarchlab/lazyvm/vmsim/workload"
)

var _ = Describe("Executor", func() {
	var (
		mockCtrl *gomock.Controller
		files    *fs.MemFS
		k        *process.Kernel
		out      *bytes.Buffer
		e        *workload.Executor
	)

	run := func(script string) workload.Result {
		cmds, err := workload.ParseString(script)
		Expect(err).NotTo(HaveOccurred())

		return e.Run(cmds)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())

		files = fs.NewMemFS()
		k = process.MakeBuilder().
			WithFrameManager(vm.MakeFrameManagerBuilder().
				WithNumFrames(4).
				Build()).
			WithSwapDevice(swap.NewDevice(16, vm.PageSize)).
			WithFileSystem(files).
			Build()

		out = new(bytes.Buffer)
		e = workload.NewExecutor(k, out)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should map, modify and write back a file", func() {
		data := bytes.Repeat([]byte("0123456789"), 10)
		files.Create("notes.txt", data)

		res := run(`
spawn 1
open 1 3 notes.txt
mmap 1 0x10000000 100 rw 3 0
close 1 3
read 1 0x10000000 10
write 1 0x10000000 HELLO
munmap 1 0x10000000
exit 1
`)

		Expect(res).To(Equal(workload.Result{Commands: 8}))
		Expect(out.String()).To(ContainSubstring("sp=0x47480000"))
		Expect(out.String()).To(ContainSubstring("mapped at 0x10000000"))
		Expect(out.String()).To(ContainSubstring(`"0123456789"`))

		contents, _ := files.Contents("notes.txt")
		Expect(contents[:10]).To(Equal([]byte("HELLO56789")))
		Expect(contents).To(HaveLen(100))
	})

	It("should load a segment and read it lazily", func() {
		image := make([]byte, 2*vm.PageSize)
		copy(image[vm.PageSize:], "code")
		files.Create("prog", image)

		res := run(`
spawn 1
load 1 prog 4096 0x8048000 4 4092 ro
read 1 0x8048000 4
`)

		Expect(res.Failures).To(BeZero())
		Expect(out.String()).To(ContainSubstring(`"code"`))
	})

	It("should keep a forked child independent", func() {
		res := run(`
spawn 1
push 1 8
write 1 0x4747fff8 parent
fork 1 2
write 1 0x4747fff8 PARENT
read 2 0x4747fff8 6
`)

		Expect(res.Failures).To(BeZero())
		Expect(out.String()).To(ContainSubstring(`read 2 0x4747fff8: "parent"`))
	})

	It("should report failing commands and continue", func() {
		res := run(`
spawn 1
write 1 0x20000000 boom
read 1 0x47470000 1
spawn 2
stats
`)

		Expect(res).To(Equal(workload.Result{Commands: 5, Failures: 2}))
		Expect(out.String()).To(ContainSubstring("error"))
		Expect(out.String()).To(ContainSubstring("process 1 killed"))
		Expect(out.String()).To(ContainSubstring("process 2 running"))
		Expect(out.String()).To(ContainSubstring("kills=1"))

		state, _ := mustProcess(k, 1).State()
		Expect(state).To(Equal(process.StateKilled))
	})

	It("should report progress", func() {
		progress := NewMockProgress(mockCtrl)
		e.WithProgress(progress)

		progress.EXPECT().IncrementInProgress(uint64(1)).Times(2)
		progress.EXPECT().MoveInProgressToFinished(uint64(1)).Times(2)

		run("spawn 1\nstats\n")
	})
})

func mustProcess(k *process.Kernel, pid vm.PID) *process.Process {
	p, found := k.Process(pid)
	Expect(found).To(BeTrue())

	return p
}
