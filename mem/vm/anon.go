package vm

import (
	"errors"
	"fmt"
)

// errNoSwap is returned when an anonymous page must be evicted but the
// address space has no swap device.
var errNoSwap = errors.New("no swap device")

type anonPage struct {
	slot int
}

func (a *anonPage) pageType() Type {
	return TypeAnon
}

// swapIn restores the page from its swap slot, or leaves the frame zero if
// the page was never evicted. The slot is released after a successful read.
func (a *anonPage) swapIn(p *Page, frame *Frame) error {
	if a.slot == NoSlot {
		return nil
	}

	data, err := p.owner.swap.Read(a.slot)
	if err != nil {
		return fmt.Errorf("%w: reading swap slot %d: %v",
			ErrBackingStore, a.slot, err)
	}

	if err := frame.write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStore, err)
	}

	p.owner.swap.Free(a.slot)
	a.slot = NoSlot

	return nil
}

// swapOut detaches the page from the hardware table and writes the frame to
// a new swap slot.
func (a *anonPage) swapOut(p *Page, frame *Frame) error {
	swap := p.owner.swap
	if swap == nil {
		return errNoSwap
	}

	dirty, _ := p.owner.hw.Detach(p.vAddr)

	slot, err := a.writeToSwap(swap, frame)
	if err != nil {
		p.restoreMapping(frame, dirty)
		return err
	}

	a.slot = slot

	return nil
}

func (a *anonPage) writeToSwap(swap SwapDevice, frame *Frame) (int, error) {
	data, err := frame.read()
	if err != nil {
		return NoSlot, err
	}

	slot, err := swap.Alloc()
	if err != nil {
		return NoSlot, err
	}

	if err := swap.Write(slot, data); err != nil {
		swap.Free(slot)
		return NoSlot, fmt.Errorf("%w: writing swap slot %d: %v",
			ErrBackingStore, slot, err)
	}

	return slot, nil
}

func (a *anonPage) destroy(p *Page) error {
	if a.slot != NoSlot {
		p.owner.swap.Free(a.slot)
		a.slot = NoSlot
	}

	return nil
}
