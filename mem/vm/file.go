package vm

import (
	"errors"
	"fmt"
)

type filePage struct {
	file      File
	offset    int64
	readBytes uint64
}

func (f *filePage) pageType() Type {
	return TypeFile
}

// load reads the file part of the page into buf. The rest of buf is left
// untouched, so it must already be zero.
func (f *filePage) load(buf []byte) error {
	if f.readBytes == 0 {
		return nil
	}

	return readAt(f.file, buf[:f.readBytes], f.offset)
}

func (f *filePage) swapIn(p *Page, frame *Frame) error {
	buf := make([]byte, PageSize)
	if err := f.load(buf); err != nil {
		return fmt.Errorf("%w: reading page 0x%x: %v",
			ErrBackingStore, p.vAddr, err)
	}

	if err := frame.write(buf); err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStore, err)
	}

	return nil
}

// swapOut detaches the page and writes it back if the process modified it.
// The dirty bit is read and cleared together with the removal of the
// mapping; the write itself happens afterward.
func (f *filePage) swapOut(p *Page, frame *Frame) error {
	dirty, _ := p.owner.hw.Detach(p.vAddr)
	if !dirty {
		return nil
	}

	if err := f.writeBack(frame); err != nil {
		p.restoreMapping(frame, true)
		return err
	}

	return nil
}

func (f *filePage) writeBack(frame *Frame) error {
	if f.readBytes == 0 {
		return nil
	}

	data, err := frame.read()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackingStore, err)
	}

	n, err := f.file.WriteAt(data[:f.readBytes], f.offset)
	if err == nil && uint64(n) != f.readBytes {
		err = errors.New("short write")
	}

	if err != nil {
		return fmt.Errorf("%w: writing back at offset %d: %v",
			ErrBackingStore, f.offset, err)
	}

	return nil
}

// destroy writes back a resident dirty page and closes the handle the page
// owns.
func (f *filePage) destroy(p *Page) error {
	var writeErr error
	if p.frame != nil {
		dirty, _ := p.owner.hw.Detach(p.vAddr)
		if dirty {
			writeErr = f.writeBack(p.frame)
		}
	}

	closeErr := f.file.Close()
	f.file = nil

	return errors.Join(writeErr, closeErr)
}
