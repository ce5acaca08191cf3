package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/lazyvm/sim"
)

// A Fault describes a page fault.
type Fault struct {
	Addr uint64

	// StackPointer is the user stack pointer at the time of the fault. For a
	// fault raised while the kernel works on behalf of the process, it is
	// the value saved when the process entered the kernel.
	StackPointer uint64

	Write      bool
	NotPresent bool
	User       bool
}

// FaultEvent is the detail of the fault hooks.
type FaultEvent struct {
	PID   PID
	Fault Fault
	Err   error
}

// HandleFault resolves a page fault. A nil return means the faulting access
// can be retried. Any error is fatal to the process, as reported by IsFatal.
func (as *AddressSpace) HandleFault(f Fault) error {
	err := as.handleFault(f)

	event := FaultEvent{PID: as.pid, Fault: f, Err: err}
	as.InvokeHook(sim.HookCtx{
		Domain: as,
		Pos:    HookPosPageFault,
		Detail: event,
	})

	if err != nil {
		as.InvokeHook(sim.HookCtx{
			Domain: as,
			Pos:    HookPosFatalFault,
			Detail: event,
		})
	}

	return err
}

func (as *AddressSpace) handleFault(f Fault) error {
	if IsKernelVAddr(f.Addr) || f.Addr < PageSize {
		return fmt.Errorf("%w: address 0x%x", ErrInvalidAccess, f.Addr)
	}

	if !f.NotPresent {
		return fmt.Errorf("%w: protection violation at 0x%x",
			ErrInvalidAccess, f.Addr)
	}

	page, found := as.spt.Find(f.Addr)
	if !found && isStackAccess(f) {
		var err error
		page, err = as.growStack(f)
		if err != nil {
			return err
		}

		found = true
	}

	if !found {
		return fmt.Errorf("%w: no page at 0x%x", ErrInvalidAccess, f.Addr)
	}

	return as.claim(page, f.Write)
}

// isStackAccess reports whether the faulting address is in the part of the
// address space the stack may grow into and not too far below the stack
// pointer.
func isStackAccess(f Fault) bool {
	if f.Addr >= UserStack || f.Addr < UserStack-MaxStackSize {
		return false
	}

	return f.StackPointer < StackMargin || f.Addr >= f.StackPointer-StackMargin
}

func (as *AddressSpace) growStack(f Fault) (*Page, error) {
	vAddr := RoundDown(f.Addr)
	page := as.newPage(vAddr, true, &anonPage{slot: NoSlot})

	err := as.spt.Insert(page)
	if errors.Is(err, ErrAlreadyMapped) {
		// Another thread of the process grew the stack first.
		if existing, found := as.spt.Find(vAddr); found {
			return existing, nil
		}
	}

	if err != nil {
		return nil, err
	}

	as.InvokeHook(sim.HookCtx{
		Domain: as,
		Pos:    HookPosStackGrowth,
		Item:   page,
		Detail: FaultEvent{PID: as.pid, Fault: f},
	})

	return page, nil
}
