package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/sarchlab/lazyvm/mem/vm"
)

// OSFS opens files under a host directory.
type OSFS struct {
	root string
}

// NewOSFS returns an OSFS rooted at dir.
func NewOSFS(dir string) *OSFS {
	return &OSFS{root: dir}
}

// Open opens the named file for reading and, when permitted, writing.
func (fs *OSFS) Open(name string) (vm.File, error) {
	return openOSFile(filepath.Join(fs.root, filepath.Clean("/"+name)))
}

func openOSFile(path string) (vm.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrPermission) {
		f, err = os.Open(path)
	}

	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return &osFile{File: f}, nil
}

type osFile struct {
	*os.File
}

func (f *osFile) Reopen() (vm.File, error) {
	return openOSFile(f.Name())
}

func (f *osFile) Seek(offset int64) error {
	_, err := f.File.Seek(offset, io.SeekStart)

	return err
}

func (f *osFile) Length() int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}

	return info.Size()
}
