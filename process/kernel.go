// Package process is the process layer of the simulated kernel. It creates
// address spaces for processes, keeps their file descriptors and stack
// pointers, and terminates processes whose memory accesses cannot be
// resolved.
package process

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/lazyvm/mem/pagetable"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/mmu"
	"github.com/sarchlab/lazyvm/sim"
)

// Hook positions of process lifecycle events.
var (
	HookPosSpawn = &sim.HookPos{Name: "Spawn"}
	HookPosFork  = &sim.HookPos{Name: "Fork"}
	HookPosExit  = &sim.HookPos{Name: "Exit"}
)

var (
	// ErrNoProcess is returned for a PID that does not name a live process.
	ErrNoProcess = errors.New("no such process")

	// ErrPIDInUse is returned when spawning a process with a PID that is
	// taken.
	ErrPIDInUse = errors.New("pid in use")

	// ErrBadFD is returned for a file descriptor that is not open.
	ErrBadFD = errors.New("bad file descriptor")
)

// A FileSystem opens files by name.
type FileSystem interface {
	Open(name string) (vm.File, error)
}

// ExitEvent is the detail of the HookPosExit hook.
type ExitEvent struct {
	PID    vm.PID
	State  State
	Reason error
}

// Kernel owns the processes and the memory they share.
type Kernel struct {
	*sim.HookableBase

	mu     sync.Mutex
	procs  map[vm.PID]*Process
	hooks  []sim.Hook
	pt     pagetable.PageTable
	frames *vm.FrameManager
	swap   vm.SwapDevice
	files  FileSystem
	mmu    *mmu.MMU
}

// AcceptHook registers a hook with the kernel, the frame manager, the MMU
// and the address space of every process created from now on.
func (k *Kernel) AcceptHook(hook sim.Hook) {
	k.HookableBase.AcceptHook(hook)
	k.frames.AcceptHook(hook)
	k.mmu.AcceptHook(hook)

	k.mu.Lock()
	k.hooks = append(k.hooks, hook)
	k.mu.Unlock()
}

// FrameManager returns the frame pool shared by the processes.
func (k *Kernel) FrameManager() *vm.FrameManager {
	return k.frames
}

// MMU returns the MMU the processes access memory through.
func (k *Kernel) MMU() *mmu.MMU {
	return k.mmu
}

// Files returns the file system.
func (k *Kernel) Files() FileSystem {
	return k.files
}

// Process returns the process with the given PID, dead or alive.
func (k *Kernel) Process(pid vm.PID) (*Process, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, found := k.procs[pid]

	return p, found
}

// Processes returns every process in PID order.
func (k *Kernel) Processes() []*Process {
	k.mu.Lock()
	procs := make([]*Process, 0, len(k.procs))
	for _, p := range k.procs {
		procs = append(procs, p)
	}
	k.mu.Unlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].pid < procs[j].pid
	})

	return procs
}

func (k *Kernel) live(pid vm.PID) (*Process, error) {
	p, found := k.Process(pid)
	if !found || !p.Alive() {
		return nil, fmt.Errorf("%w: %d", ErrNoProcess, pid)
	}

	return p, nil
}

// newProcess registers a process with an empty address space.
func (k *Kernel) newProcess(pid vm.PID) (*Process, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if old, found := k.procs[pid]; found && old.Alive() {
		return nil, fmt.Errorf("%w: %d", ErrPIDInUse, pid)
	}

	table := pagetable.NewSpace(k.pt, pagetable.PID(pid))
	space := vm.MakeBuilder().
		WithFrameManager(k.frames).
		WithHardwareMapping(table).
		WithSwapDevice(k.swap).
		Build(pid)

	for _, h := range k.hooks {
		space.AcceptHook(h)
	}

	p := &Process{
		pid:   pid,
		space: space,
		table: table,
		fds:   make(map[int]vm.File),
		state: StateRunning,
	}
	k.procs[pid] = p

	return p, nil
}

// Spawn creates a process with an initial stack page.
func (k *Kernel) Spawn(pid vm.PID) (*Process, error) {
	p, err := k.newProcess(pid)
	if err != nil {
		return nil, err
	}

	sp, err := p.space.SetupStack()
	if err != nil {
		k.terminate(p, StateKilled, err)
		return nil, err
	}

	p.setStackPointer(sp)

	k.InvokeHook(sim.HookCtx{Domain: k, Pos: HookPosSpawn, Item: p})

	return p, nil
}

// Load registers a segment of the named executable in the process. A
// process whose image cannot be loaded is killed.
func (k *Kernel) Load(
	pid vm.PID,
	name string,
	offset int64,
	addr, readBytes, zeroBytes uint64,
	writable bool,
) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	file, err := k.files.Open(name)
	if err != nil {
		k.Kill(pid, err)
		return err
	}
	defer file.Close()

	err = p.space.LoadSegment(file, offset, addr, readBytes, zeroBytes, writable)
	if err != nil {
		k.Kill(pid, err)
		return err
	}

	return nil
}

// Open opens the named file as descriptor fd of the process.
func (k *Kernel) Open(pid vm.PID, fd int, name string) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	file, err := k.files.Open(name)
	if err != nil {
		return err
	}

	if err := p.setFD(fd, file); err != nil {
		_ = file.Close()
		return err
	}

	return nil
}

// Close closes descriptor fd of the process. Mappings of the file stay.
func (k *Kernel) Close(pid vm.PID, fd int) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	file, err := p.takeFD(fd)
	if err != nil {
		return err
	}

	return file.Close()
}

// Mmap maps length bytes of descriptor fd at addr. A failed mapping is
// reported to the process, which keeps running.
func (k *Kernel) Mmap(
	pid vm.PID,
	addr, length uint64,
	writable bool,
	fd int,
	offset int64,
) (uint64, error) {
	p, err := k.live(pid)
	if err != nil {
		return 0, err
	}

	file, err := p.fd(fd)
	if err != nil {
		return 0, err
	}

	return p.space.MapFile(addr, length, writable, file, offset)
}

// Munmap removes the mapping that starts at addr.
func (k *Kernel) Munmap(pid vm.PID, addr uint64) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	return p.space.Unmap(addr)
}

// Write stores data in the memory of the process. An invalid access kills
// the process.
func (k *Kernel) Write(pid vm.PID, addr uint64, data []byte) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	return k.mmu.Write(p.context(), addr, data)
}

// Read loads n bytes from the memory of the process. An invalid access
// kills the process.
func (k *Kernel) Read(pid vm.PID, addr uint64, n int) ([]byte, error) {
	p, err := k.live(pid)
	if err != nil {
		return nil, err
	}

	return k.mmu.Read(p.context(), addr, n)
}

// Push moves the stack pointer down by n bytes and zeroes the bytes it
// exposes, like a sequence of push instructions would.
func (k *Kernel) Push(pid vm.PID, n uint64) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	sp := p.StackPointer() - n
	p.setStackPointer(sp)

	return k.mmu.Write(p.context(), sp, make([]byte, n))
}

// Fork creates process child as a copy of parent. The child inherits the
// stack pointer and a fresh handle of every open descriptor.
func (k *Kernel) Fork(parent, child vm.PID) (*Process, error) {
	pp, err := k.live(parent)
	if err != nil {
		return nil, err
	}

	cp, err := k.newProcess(child)
	if err != nil {
		return nil, err
	}

	if err := vm.Duplicate(cp.space, pp.space); err != nil {
		k.terminate(cp, StateKilled, err)
		return nil, err
	}

	if err := pp.copyFDsTo(cp); err != nil {
		k.terminate(cp, StateKilled, err)
		return nil, err
	}

	cp.setStackPointer(pp.StackPointer())

	k.InvokeHook(sim.HookCtx{Domain: k, Pos: HookPosFork, Item: cp})

	return cp, nil
}

// Exit terminates the process normally. Its mappings are written back and
// its descriptors closed.
func (k *Kernel) Exit(pid vm.PID) error {
	p, err := k.live(pid)
	if err != nil {
		return err
	}

	return k.terminate(p, StateExited, nil)
}

// Kill terminates the process because of reason. It implements mmu.Killer.
func (k *Kernel) Kill(pid vm.PID, reason error) {
	p, err := k.live(pid)
	if err != nil {
		return
	}

	log.Printf("process %d killed: %v", pid, reason)

	if err := k.terminate(p, StateKilled, reason); err != nil {
		log.Printf("process %d: %v", pid, err)
	}
}

func (k *Kernel) terminate(p *Process, state State, reason error) error {
	if !p.finish(state, reason) {
		return nil
	}

	errs := []error{p.space.Teardown(), p.closeFDs()}
	p.table.Destroy()

	k.InvokeHook(sim.HookCtx{
		Domain: k,
		Pos:    HookPosExit,
		Item:   p,
		Detail: ExitEvent{PID: p.pid, State: state, Reason: reason},
	})

	return errors.Join(errs...)
}
