package vm

import (
	"fmt"
)

// AllocPage registers an uninitialized page at addr that becomes a page of
// type t the first time it is touched. An anonymous page starts zero.
func (as *AddressSpace) AllocPage(t Type, addr uint64, writable bool) error {
	return as.AllocPageWithInitializer(t, addr, writable, nil, nil)
}

// AllocPageWithInitializer registers an uninitialized page at addr. When
// the page is first brought into memory, initializer fills it from aux and
// the page becomes of type t. The page owns aux from now on, even if
// registration fails.
func (as *AddressSpace) AllocPageWithInitializer(
	t Type,
	addr uint64,
	writable bool,
	initializer Initializer,
	aux *LoadAux,
) error {
	err := as.allocMustBeValid(t, addr, aux)
	if err == nil {
		page := as.newPage(addr, writable,
			&uninitPage{init: initializer, aux: aux, target: t})
		err = as.spt.Insert(page)
	}

	if err != nil {
		_ = aux.release()
		return err
	}

	return nil
}

func (as *AddressSpace) allocMustBeValid(t Type, addr uint64, aux *LoadAux) error {
	switch {
	case t != TypeAnon && t != TypeFile:
		return fmt.Errorf("cannot allocate a page of type %s", t)
	case t == TypeFile && (aux == nil || aux.File == nil):
		return fmt.Errorf("%w: file page without a file", ErrBadMapping)
	case PageOffset(addr) != 0:
		return fmt.Errorf("%w: address 0x%x is not page aligned",
			ErrBadMapping, addr)
	case addr == 0 || IsKernelVAddr(addr):
		return fmt.Errorf("%w: 0x%x is not a user page", ErrBadMapping, addr)
	}

	return nil
}

// ClaimPage makes the page at addr resident right away.
func (as *AddressSpace) ClaimPage(addr uint64) error {
	page, found := as.spt.Find(addr)
	if !found {
		return fmt.Errorf("%w: no page at 0x%x", ErrInvalidAccess, addr)
	}

	return as.claim(page, false)
}

// LoadSegment registers the pages of a segment of an executable image at
// upage. The first readBytes bytes come from file at offset and the
// following zeroBytes bytes are zero. The pages are anonymous once loaded,
// so changes never reach the file.
func (as *AddressSpace) LoadSegment(
	file File,
	offset int64,
	upage uint64,
	readBytes, zeroBytes uint64,
	writable bool,
) error {
	switch {
	case (readBytes+zeroBytes)%PageSize != 0:
		return fmt.Errorf("%w: segment size %d is not a page multiple",
			ErrBadMapping, readBytes+zeroBytes)
	case PageOffset(upage) != 0:
		return fmt.Errorf("%w: segment address 0x%x is not page aligned",
			ErrBadMapping, upage)
	case offset < 0 || PageOffset(uint64(offset)) != 0:
		return fmt.Errorf("%w: segment offset %d is not page aligned",
			ErrBadMapping, offset)
	}

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, PageSize)
		pageZero := PageSize - pageRead

		handle, err := file.Reopen()
		if err != nil {
			return fmt.Errorf("%w: reopening file: %v", ErrBackingStore, err)
		}

		aux := &LoadAux{
			File:      handle,
			Offset:    offset,
			ReadBytes: pageRead,
			ZeroBytes: pageZero,
		}

		err = as.AllocPageWithInitializer(
			TypeAnon, upage, writable, LazyLoadSegment, aux)
		if err != nil {
			return err
		}

		readBytes -= pageRead
		zeroBytes -= pageZero
		offset += int64(PageSize)
		upage += PageSize
	}

	return nil
}

// SetupStack creates the first stack page right below UserStack and returns
// the initial stack pointer.
func (as *AddressSpace) SetupStack() (uint64, error) {
	stackBottom := UserStack - PageSize

	if err := as.AllocPage(TypeAnon, stackBottom, true); err != nil {
		return 0, err
	}

	if err := as.ClaimPage(stackBottom); err != nil {
		_ = as.RemoveAndDestroy(stackBottom)
		return 0, err
	}

	return UserStack, nil
}
