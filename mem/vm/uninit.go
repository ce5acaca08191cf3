package vm

import (
	"errors"
	"fmt"
	"io"
)

// LoadAux describes where the content of a page comes from: ReadBytes bytes
// of File starting at Offset, followed by ZeroBytes zero bytes.
//
// A LoadAux is owned by exactly one uninitialized page. Ownership moves to
// the initialized page, or the LoadAux is released when the page is destroyed
// before being initialized. It is never shared; fork clones it.
type LoadAux struct {
	File      File
	Offset    int64
	ReadBytes uint64
	ZeroBytes uint64
}

// Clone returns an independent copy of the descriptor with its own file
// handle.
func (a *LoadAux) Clone() (*LoadAux, error) {
	if a == nil {
		return nil, nil
	}

	c := *a
	if a.File != nil {
		f, err := a.File.Reopen()
		if err != nil {
			return nil, fmt.Errorf("%w: reopening file: %v", ErrBackingStore, err)
		}

		c.File = f
	}

	return &c, nil
}

func (a *LoadAux) release() error {
	if a == nil || a.File == nil {
		return nil
	}

	return a.File.Close()
}

// An Initializer fills a page-sized buffer the first time a page is brought
// into memory.
type Initializer func(page []byte, aux *LoadAux) error

// LazyLoadSegment is the Initializer of pages of an executable image. It
// reads aux.ReadBytes bytes at aux.Offset and leaves the rest of the page
// zero.
func LazyLoadSegment(page []byte, aux *LoadAux) error {
	if aux == nil || aux.File == nil {
		return errors.New("lazy segment without a file")
	}

	return readAt(aux.File, page[:aux.ReadBytes], aux.Offset)
}

// readAt fills buf from file at offset. A short read is an error.
func readAt(file File, buf []byte, offset int64) error {
	if err := file.Seek(offset); err != nil {
		return err
	}

	read := 0
	for read < len(buf) {
		n, err := file.Read(buf[read:])
		read += n

		if read == len(buf) {
			break
		}

		if err == io.EOF || (err == nil && n == 0) {
			return io.ErrUnexpectedEOF
		}

		if err != nil {
			return err
		}
	}

	return nil
}

type uninitPage struct {
	init   Initializer
	aux    *LoadAux
	target Type
}

func (u *uninitPage) pageType() Type {
	return TypeUninit
}

// initialize builds the content of the page and transmutes it into its
// target type. The page keeps its uninitialized state if loading fails.
func (u *uninitPage) initialize(p *Page, frame *Frame) error {
	buf := make([]byte, PageSize)

	var next variant
	switch u.target {
	case TypeAnon:
		next = &anonPage{slot: NoSlot}
	case TypeFile:
		if u.aux == nil || u.aux.File == nil {
			return fmt.Errorf("%w: file page 0x%x without a file",
				ErrBackingStore, p.vAddr)
		}

		next = &filePage{
			file:      u.aux.File,
			offset:    u.aux.Offset,
			readBytes: u.aux.ReadBytes,
		}
	default:
		return fmt.Errorf("page 0x%x cannot become %s", p.vAddr, u.target)
	}

	var err error
	switch {
	case u.init != nil:
		err = u.init(buf, u.aux)
	case u.target == TypeFile:
		err = next.(*filePage).load(buf)
	}

	if err != nil {
		return fmt.Errorf("%w: loading page 0x%x: %v",
			ErrBackingStore, p.vAddr, err)
	}

	if err := frame.write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStore, err)
	}

	// The file handle now belongs to the file page. An anonymous page does
	// not need it anymore.
	aux := u.aux
	u.aux = nil
	u.init = nil
	if u.target == TypeAnon {
		_ = aux.release()
	}

	p.variant = next

	return nil
}

func (u *uninitPage) destroy() error {
	aux := u.aux
	u.aux = nil

	return aux.release()
}
