// Package mmu performs the memory accesses of user processes. It translates
// virtual addresses through the hardware page table and raises page faults
// into the virtual memory manager when a translation is missing.
package mmu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/lazyvm/memory"
	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/sim"
)

// HookPosAccess marks a completed memory access.
var HookPosAccess = &sim.HookPos{Name: "Access"}

// ErrKilled is returned when an access kills the process.
var ErrKilled = errors.New("process killed")

// AccessEvent is the detail of the HookPosAccess hook.
type AccessEvent struct {
	PID    vm.PID
	VAddr  uint64
	Length int
	Write  bool
}

// Stats counts the accesses performed by the MMU.
type Stats struct {
	Accesses uint64
	Faults   uint64
	Kills    uint64
}

// MMU is the memory management unit shared by every process.
type MMU struct {
	*sim.HookableBase

	name       string
	storage    *memory.Storage
	killer     Killer
	maxRetries int

	accesses atomic.Uint64
	faults   atomic.Uint64
	kills    atomic.Uint64
}

// Name returns the name of the MMU.
func (m *MMU) Name() string {
	return m.name
}

// Read reads n bytes of user memory at vAddr.
func (m *MMU) Read(ctx Context, vAddr uint64, n int) ([]byte, error) {
	buf := make([]byte, 0, n)

	err := m.forEachPage(ctx, vAddr, n, false,
		func(pAddr uint64, from, to int) error {
			data, err := m.storage.Read(pAddr, uint64(to-from))
			if err != nil {
				return err
			}

			buf = append(buf, data...)

			return nil
		})
	if err != nil {
		return nil, err
	}

	m.access(ctx, vAddr, n, false)

	return buf, nil
}

// Write writes data to user memory at vAddr.
func (m *MMU) Write(ctx Context, vAddr uint64, data []byte) error {
	err := m.forEachPage(ctx, vAddr, len(data), true,
		func(pAddr uint64, from, to int) error {
			return m.storage.Write(pAddr, data[from:to])
		})
	if err != nil {
		return err
	}

	m.access(ctx, vAddr, len(data), true)

	return nil
}

// forEachPage translates every page the access touches and calls fn with the
// physical address and the part of the access that falls in the page.
func (m *MMU) forEachPage(
	ctx Context,
	vAddr uint64,
	n int,
	write bool,
	fn func(pAddr uint64, from, to int) error,
) error {
	from := 0
	for from < n {
		addr := vAddr + uint64(from)
		to := min(n, from+int(vm.PageSize-vm.PageOffset(addr)))

		pAddr, err := m.translate(ctx, addr, write)
		if err != nil {
			return err
		}

		if err := fn(pAddr, from, to); err != nil {
			return err
		}

		from = to
	}

	return nil
}

func (m *MMU) translate(ctx Context, vAddr uint64, write bool) (uint64, error) {
	for attempt := 0; ; attempt++ {
		pte, present, permitted := ctx.Table.Touch(vAddr, write)
		if present && permitted {
			return pte.PAddr + vm.PageOffset(vAddr), nil
		}

		if attempt == m.maxRetries {
			return 0, m.kill(ctx, fmt.Errorf(
				"%w: 0x%x keeps faulting", vm.ErrInvalidAccess, vAddr))
		}

		m.faults.Add(1)

		err := ctx.Space.HandleFault(vm.Fault{
			Addr:         vAddr,
			StackPointer: ctx.StackPointer,
			Write:        write,
			NotPresent:   !present,
			User:         ctx.User,
		})
		if err != nil {
			return 0, m.kill(ctx, err)
		}
	}
}

func (m *MMU) kill(ctx Context, reason error) error {
	m.kills.Add(1)

	if m.killer != nil {
		m.killer.Kill(ctx.Space.PID(), reason)
	}

	return fmt.Errorf("%w: %w", ErrKilled, reason)
}

func (m *MMU) access(ctx Context, vAddr uint64, n int, write bool) {
	m.accesses.Add(1)

	m.InvokeHook(sim.HookCtx{
		Domain: m,
		Pos:    HookPosAccess,
		Detail: AccessEvent{
			PID:    ctx.Space.PID(),
			VAddr:  vAddr,
			Length: n,
			Write:  write,
		},
	})
}

// Stats returns the access counters.
func (m *MMU) Stats() Stats {
	return Stats{
		Accesses: m.accesses.Load(),
		Faults:   m.faults.Load(),
		Kills:    m.kills.Load(),
	}
}
