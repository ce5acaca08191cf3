package process

import (
	"log"

	"github.com/sarchlab/lazyvm/mem/pagetable"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/mmu"
	"github.com/sarchlab/lazyvm/sim"
)

// A Builder builds kernels.
type Builder struct {
	frames *vm.FrameManager
	swap   vm.SwapDevice
	files  FileSystem
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithFrameManager sets the pool of physical frames.
func (b Builder) WithFrameManager(m *vm.FrameManager) Builder {
	b.frames = m
	return b
}

// WithSwapDevice sets the swap device of the anonymous pages.
func (b Builder) WithSwapDevice(s vm.SwapDevice) Builder {
	b.swap = s
	return b
}

// WithFileSystem sets where executables and mapped files come from.
func (b Builder) WithFileSystem(fs FileSystem) Builder {
	b.files = fs
	return b
}

// Build creates the kernel.
func (b Builder) Build() *Kernel {
	if b.frames == nil {
		log.Panic("kernel without a frame manager")
	}

	if b.files == nil {
		log.Panic("kernel without a file system")
	}

	k := &Kernel{
		HookableBase: sim.NewHookableBase(),
		procs:        make(map[vm.PID]*Process),
		pt:           pagetable.NewPageTable(vm.Log2PageSize),
		frames:       b.frames,
		swap:         b.swap,
		files:        b.files,
	}

	k.mmu = mmu.MakeBuilder().
		WithStorage(b.frames.Storage()).
		WithKiller(k).
		Build("MMU")

	return k
}
