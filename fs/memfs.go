// Package fs provides the file layer consumed by the virtual memory manager:
// an in-memory file system for simulations and tests, and an adapter over
// host files.
package fs

import (
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/sarchlab/lazyvm/mem/vm"
)

var (
	// ErrNotFound is returned when opening a file that does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrClosed is returned when using a handle after Close.
	ErrClosed = errors.New("file already closed")
)

type inode struct {
	sync.RWMutex
	data     []byte
	openRefs int
	writes   int
}

// MemFS is a flat in-memory file system. Files have a fixed length set at
// creation; writes never extend a file.
type MemFS struct {
	sync.Mutex
	files map[string]*inode
}

// NewMemFS creates an empty MemFS.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*inode)}
}

// Create adds or replaces a file with a copy of data.
func (fs *MemFS) Create(name string, data []byte) {
	fs.Lock()
	defer fs.Unlock()

	fs.files[name] = &inode{data: append([]byte(nil), data...)}
}

// Open returns a new handle of the named file positioned at offset 0.
func (fs *MemFS) Open(name string) (vm.File, error) {
	fs.Lock()
	node, found := fs.files[name]
	fs.Unlock()

	if !found {
		return nil, ErrNotFound
	}

	return newMemHandle(node), nil
}

// Contents returns a copy of the bytes of the named file.
func (fs *MemFS) Contents(name string) ([]byte, bool) {
	fs.Lock()
	node, found := fs.files[name]
	fs.Unlock()

	if !found {
		return nil, false
	}

	node.RLock()
	defer node.RUnlock()

	return append([]byte(nil), node.data...), true
}

// OpenHandles returns how many handles of the named file are still open.
func (fs *MemFS) OpenHandles(name string) int {
	fs.Lock()
	node, found := fs.files[name]
	fs.Unlock()

	if !found {
		return 0
	}

	node.RLock()
	defer node.RUnlock()

	return node.openRefs
}

// WriteCount returns how many WriteAt calls reached the named file.
func (fs *MemFS) WriteCount(name string) int {
	fs.Lock()
	node, found := fs.files[name]
	fs.Unlock()

	if !found {
		return 0
	}

	node.RLock()
	defer node.RUnlock()

	return node.writes
}

// Names lists the files in lexical order.
func (fs *MemFS) Names() []string {
	fs.Lock()
	defer fs.Unlock()

	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

type memHandle struct {
	sync.Mutex
	node   *inode
	pos    int64
	closed bool
}

func newMemHandle(node *inode) *memHandle {
	node.Lock()
	node.openRefs++
	node.Unlock()

	return &memHandle{node: node}
}

func (h *memHandle) Reopen() (vm.File, error) {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	return newMemHandle(h.node), nil
}

func (h *memHandle) Seek(offset int64) error {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.pos = offset

	return nil
}

func (h *memHandle) Read(buf []byte) (int, error) {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	h.node.RLock()
	defer h.node.RUnlock()

	if h.pos >= int64(len(h.node.data)) {
		return 0, io.EOF
	}

	n := copy(buf, h.node.data[h.pos:])
	h.pos += int64(n)

	return n, nil
}

func (h *memHandle) WriteAt(buf []byte, offset int64) (int, error) {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	h.node.Lock()
	defer h.node.Unlock()

	if offset >= int64(len(h.node.data)) {
		return 0, io.EOF
	}

	h.node.writes++
	n := copy(h.node.data[offset:], buf)
	if n < len(buf) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (h *memHandle) Length() int64 {
	h.node.RLock()
	defer h.node.RUnlock()

	return int64(len(h.node.data))
}

func (h *memHandle) Close() error {
	h.Lock()
	defer h.Unlock()

	if h.closed {
		return ErrClosed
	}

	h.closed = true

	h.node.Lock()
	h.node.openRefs--
	h.node.Unlock()

	return nil
}
