package vm

import (
	"errors"
	"fmt"

	"github.com/sarchlab/lazyvm/sim"
)

// MmapEvent is the detail of the HookPosMmap and HookPosMunmap hooks.
type MmapEvent struct {
	PID      PID
	Addr     uint64
	NumPages int
}

// MapFile maps length bytes of file, starting at offset, at addr. Nothing is
// read until the pages are touched. Each page gets its own handle of the
// file, so the caller may close file right away. The part of the last page
// past the end of the file reads as zero and is never written back.
func (as *AddressSpace) MapFile(
	addr, length uint64,
	writable bool,
	file File,
	offset int64,
) (uint64, error) {
	if err := as.mappingMustBeValid(addr, length, file, offset); err != nil {
		return 0, err
	}

	numPages := int(RoundUp(length) / PageSize)
	for i := 0; i < numPages; i++ {
		if _, found := as.spt.Find(addr + uint64(i)*PageSize); found {
			return 0, fmt.Errorf("%w: 0x%x overlaps an existing page",
				ErrBadMapping, addr+uint64(i)*PageSize)
		}
	}

	var readLeft uint64
	if fileLen := file.Length(); offset < fileLen {
		readLeft = min(length, uint64(fileLen-offset))
	}

	for i := 0; i < numPages; i++ {
		vAddr := addr + uint64(i)*PageSize
		readBytes := min(readLeft, PageSize)

		page, err := as.newMappedPage(vAddr, writable, file,
			offset+int64(i)*int64(PageSize), readBytes)
		if err == nil {
			page.mmapStart = addr
			page.mmapPages = numPages
			err = as.spt.Insert(page)
		}

		if err != nil {
			if page != nil {
				_ = page.destroy()
			}

			as.unregister(addr, i)

			return 0, err
		}

		readLeft -= readBytes
	}

	as.InvokeHook(sim.HookCtx{
		Domain: as,
		Pos:    HookPosMmap,
		Detail: MmapEvent{PID: as.pid, Addr: addr, NumPages: numPages},
	})

	return addr, nil
}

func (as *AddressSpace) mappingMustBeValid(
	addr, length uint64,
	file File,
	offset int64,
) error {
	switch {
	case file == nil:
		return fmt.Errorf("%w: no file", ErrBadMapping)
	case addr == 0:
		return fmt.Errorf("%w: null address", ErrBadMapping)
	case PageOffset(addr) != 0:
		return fmt.Errorf("%w: address 0x%x is not page aligned",
			ErrBadMapping, addr)
	case offset < 0 || PageOffset(uint64(offset)) != 0:
		return fmt.Errorf("%w: offset %d is not page aligned",
			ErrBadMapping, offset)
	case length == 0:
		return fmt.Errorf("%w: empty mapping", ErrBadMapping)
	case IsKernelVAddr(addr) || length > KernBase-addr:
		return fmt.Errorf("%w: 0x%x+%d reaches kernel space",
			ErrBadMapping, addr, length)
	case file.Length() == 0:
		return fmt.Errorf("%w: empty file", ErrBadMapping)
	}

	return nil
}

func (as *AddressSpace) newMappedPage(
	vAddr uint64,
	writable bool,
	file File,
	offset int64,
	readBytes uint64,
) (*Page, error) {
	handle, err := file.Reopen()
	if err != nil {
		return nil, fmt.Errorf("%w: reopening file: %v", ErrBackingStore, err)
	}

	aux := &LoadAux{
		File:      handle,
		Offset:    offset,
		ReadBytes: readBytes,
		ZeroBytes: PageSize - readBytes,
	}

	page := as.newPage(vAddr, writable,
		&uninitPage{aux: aux, target: TypeFile})

	return page, nil
}

func (as *AddressSpace) unregister(addr uint64, numPages int) {
	for i := 0; i < numPages; i++ {
		_ = as.RemoveAndDestroy(addr + uint64(i)*PageSize)
	}
}

// Unmap removes the mapping created by MapFile at addr. Modified pages are
// written back to the file. Unmap does nothing if addr is not the first page
// of a mapping.
func (as *AddressSpace) Unmap(addr uint64) error {
	page, found := as.spt.Find(addr)
	if !found {
		return nil
	}

	start, numPages := page.Mapping()
	if numPages == 0 || start != page.vAddr {
		return nil
	}

	var errs []error
	for i := 0; i < numPages; i++ {
		vAddr := start + uint64(i)*PageSize

		p, found := as.spt.Find(vAddr)
		if !found || p.mmapStart != start {
			continue
		}

		if err := as.RemoveAndDestroy(vAddr); err != nil {
			errs = append(errs, err)
		}
	}

	as.InvokeHook(sim.HookCtx{
		Domain: as,
		Pos:    HookPosMunmap,
		Detail: MmapEvent{PID: as.pid, Addr: start, NumPages: numPages},
	})

	return errors.Join(errs...)
}
