package process

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/lazyvm/mem/pagetable"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/mmu"
)

// State is the lifecycle state of a process.
type State int

// Process states.
const (
	StateRunning State = iota
	StateExited
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A Process is a user program with its own address space.
type Process struct {
	pid   vm.PID
	space *vm.AddressSpace
	table *pagetable.Space

	mu     sync.Mutex
	sp     uint64
	fds    map[int]vm.File
	state  State
	reason error
}

// PID returns the process ID.
func (p *Process) PID() vm.PID {
	return p.pid
}

// AddressSpace returns the virtual memory of the process.
func (p *Process) AddressSpace() *vm.AddressSpace {
	return p.space
}

// PageTable returns the hardware page table of the process.
func (p *Process) PageTable() *pagetable.Space {
	return p.table
}

// StackPointer returns the current user stack pointer.
func (p *Process) StackPointer() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sp
}

func (p *Process) setStackPointer(sp uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sp = sp
}

// State returns the lifecycle state and, for a killed process, why it was
// killed.
func (p *Process) State() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state, p.reason
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state == StateRunning
}

// FDs returns the open descriptors in increasing order.
func (p *Process) FDs() []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	fds := make([]int, 0, len(p.fds))
	for fd := range p.fds {
		fds = append(fds, fd)
	}
	sort.Ints(fds)

	return fds
}

func (p *Process) context() mmu.Context {
	return mmu.Context{
		Space:        p.space,
		Table:        p.table,
		StackPointer: p.StackPointer(),
		User:         true,
	}
}

// finish moves the process out of the running state. It returns false if
// the process had already finished.
func (p *Process) finish(state State, reason error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateRunning {
		return false
	}

	p.state = state
	p.reason = reason

	return true
}

func (p *Process) fd(fd int) (vm.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, found := p.fds[fd]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrBadFD, fd)
	}

	return file, nil
}

func (p *Process) setFD(fd int, file vm.File) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadFD, fd)
	}

	if _, found := p.fds[fd]; found {
		return fmt.Errorf("%w: %d is already open", ErrBadFD, fd)
	}

	p.fds[fd] = file

	return nil
}

func (p *Process) takeFD(fd int) (vm.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, found := p.fds[fd]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrBadFD, fd)
	}

	delete(p.fds, fd)

	return file, nil
}

func (p *Process) copyFDsTo(child *Process) error {
	for _, fd := range p.FDs() {
		file, err := p.fd(fd)
		if err != nil {
			continue
		}

		dup, err := file.Reopen()
		if err != nil {
			return fmt.Errorf("duplicating descriptor %d: %w", fd, err)
		}

		if err := child.setFD(fd, dup); err != nil {
			_ = dup.Close()
			return err
		}
	}

	return nil
}

func (p *Process) closeFDs() error {
	p.mu.Lock()
	fds := p.fds
	p.fds = make(map[int]vm.File)
	p.mu.Unlock()

	var errs []error
	for _, file := range fds {
		errs = append(errs, file.Close())
	}

	return errors.Join(errs...)
}
