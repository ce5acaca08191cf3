package vm

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/lazyvm/memory"
	"github.com/sarchlab/lazyvm/sim"
)

// HookPosFrameEvict marks that a frame was taken away from its page.
var HookPosFrameEvict = &sim.HookPos{Name: "FrameEvict"}

// A Frame is one physical page of the user pool.
type Frame struct {
	PAddr uint64

	storage *memory.Storage

	// The fields below are guarded by the frame manager's lock.
	page     *Page
	pinned   bool
	evicting bool
	loadSeq  uint64
}

// Page returns the page that occupies the frame, or nil.
func (f *Frame) Page() *Page {
	return f.page
}

// IsPinned reports whether the frame is in use by an in-flight fault or
// eviction and must not be chosen as a victim.
func (f *Frame) IsPinned() bool {
	return f.pinned
}

func (f *Frame) read() ([]byte, error) {
	return f.storage.Read(f.PAddr, PageSize)
}

func (f *Frame) write(data []byte) error {
	return f.storage.Write(f.PAddr, data)
}

func (f *Frame) zero() error {
	return f.storage.Zero(f.PAddr, PageSize)
}

// EvictEvent is the detail of a HookPosFrameEvict hook.
type EvictEvent struct {
	PID   PID
	VAddr uint64
	PAddr uint64
	Type  Type
}

// FrameStats summarizes the state of the frame pool.
type FrameStats struct {
	Total     int
	Free      int
	Resident  int
	Evictions uint64
}

// A FrameManager hands out the physical frames of the user pool. It is
// shared by all the address spaces.
type FrameManager struct {
	*sim.HookableBase

	mu        sync.Mutex
	storage   *memory.Storage
	frames    []*Frame
	free      []*Frame
	finder    VictimFinder
	seq       uint64
	evictions uint64
}

// Acquire returns a zeroed frame that is pinned and not linked to any page.
// If the pool is exhausted, a victim frame is evicted. The caller must link
// the frame to a page and then Unpin it, or Release it.
func (m *FrameManager) Acquire() (*Frame, error) {
	m.mu.Lock()
	frame := m.popFree()
	m.mu.Unlock()

	if frame == nil {
		var err error
		frame, err = m.evict()
		if err != nil {
			return nil, err
		}
	}

	if err := frame.zero(); err != nil {
		m.Release(frame)
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	return frame, nil
}

func (m *FrameManager) popFree() *Frame {
	n := len(m.free)
	if n == 0 {
		return nil
	}

	frame := m.free[n-1]
	m.free = m.free[:n-1]
	frame.pinned = true

	return frame
}

// evict takes a frame away from a resident page. The victim is pinned
// before the lock is dropped, so no one else can choose it while its
// content is being saved. Victims that cannot be saved stay pinned until
// evict returns, so that the next candidate is a different frame.
func (m *FrameManager) evict() (*Frame, error) {
	var (
		failed  []failedVictim
		lastErr error
	)

	defer m.unpinFailed(&failed)

	for {
		m.mu.Lock()
		if frame := m.popFree(); frame != nil {
			m.mu.Unlock()
			return frame, nil
		}

		victim, found := m.finder.FindVictim(m.frames)
		if !found {
			m.mu.Unlock()

			if lastErr != nil {
				return nil, lastErr
			}

			return nil, ErrOutOfMemory
		}

		m.frameMustBeEvictable(victim)
		victim.pinned = true
		victim.evicting = true
		page := victim.page
		m.mu.Unlock()

		event, err := m.evictPage(page, victim)

		m.mu.Lock()
		victim.evicting = false
		if err == nil {
			m.evictions++
		}
		m.mu.Unlock()

		if err != nil {
			failed = append(failed, failedVictim{frame: victim, page: page})
			lastErr = fmt.Errorf("%w: evicting 0x%x: %v",
				ErrOutOfMemory, page.vAddr, err)

			continue
		}

		if event != nil {
			m.InvokeHook(sim.HookCtx{
				Domain: m,
				Pos:    HookPosFrameEvict,
				Item:   victim,
				Detail: *event,
			})
		}

		return victim, nil
	}
}

type failedVictim struct {
	frame *Frame
	page  *Page
}

// unpinFailed unpins the victims whose eviction failed, unless the frame has
// changed hands in the meantime.
func (m *FrameManager) unpinFailed(failed *[]failedVictim) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range *failed {
		if v.frame.page == v.page && !v.frame.evicting {
			v.frame.pinned = false
		}
	}
}

// evictPage saves page and unlinks it from frame. If the page was destroyed
// while the victim was being chosen, the frame is already unlinked and
// nothing needs to be saved.
func (m *FrameManager) evictPage(page *Page, frame *Frame) (*EvictEvent, error) {
	page.mu.Lock()
	defer page.mu.Unlock()

	m.mu.Lock()
	linked := frame.page == page
	m.mu.Unlock()

	if !linked {
		return nil, nil
	}

	event := &EvictEvent{
		PID:   page.owner.pid,
		VAddr: page.vAddr,
		PAddr: frame.PAddr,
		Type:  page.variant.pageType(),
	}

	if err := page.evictFromMemory(frame); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.unlink(frame)
	m.mu.Unlock()

	return event, nil
}

// link makes frame hold page. The caller holds page.mu.
func (m *FrameManager) link(frame *Frame, page *Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frame.page != nil || page.frame != nil {
		log.Panicf("linking page 0x%x to frame 0x%x twice",
			page.vAddr, frame.PAddr)
	}

	if !frame.pinned {
		log.Panicf("linking unpinned frame 0x%x", frame.PAddr)
	}

	m.seq++
	frame.loadSeq = m.seq
	frame.page = page
	page.frame = frame
}

func (m *FrameManager) unlink(frame *Frame) {
	if frame.page != nil {
		frame.page.frame = nil
		frame.page = nil
	}
}

// Unpin makes a linked frame a candidate for eviction again.
func (m *FrameManager) Unpin(frame *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame.pinned = false
}

// Release unlinks the frame and returns it to the pool. The caller must have
// cleared the hardware mapping. A frame that is being evicted is only
// unlinked; the evictor keeps it.
func (m *FrameManager) Release(frame *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unlink(frame)

	if frame.evicting {
		return
	}

	frame.pinned = false
	m.free = append(m.free, frame)
}

// Stats returns a summary of the pool.
func (m *FrameManager) Stats() FrameStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := FrameStats{
		Total:     len(m.frames),
		Free:      len(m.free),
		Evictions: m.evictions,
	}

	for _, f := range m.frames {
		if f.page != nil {
			stats.Resident++
		}
	}

	return stats
}

// FrameInfo is a snapshot of one frame.
type FrameInfo struct {
	PAddr  uint64
	PID    PID
	VAddr  uint64
	Used   bool
	Pinned bool
}

// Frames returns a snapshot of every frame in physical address order.
func (m *FrameManager) Frames() []FrameInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]FrameInfo, 0, len(m.frames))
	for _, f := range m.frames {
		info := FrameInfo{PAddr: f.PAddr, Pinned: f.pinned}
		if f.page != nil {
			info.Used = true
			info.PID = f.page.owner.pid
			info.VAddr = f.page.vAddr
		}

		infos = append(infos, info)
	}

	return infos
}

// Audit checks that every frame and page refer to each other and that no
// page is held by two frames.
func (m *FrameManager) Audit() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[*Page]*Frame)
	for _, f := range m.frames {
		if f.page == nil {
			continue
		}

		if f.page.frame != f {
			return fmt.Errorf("frame 0x%x holds page 0x%x, "+
				"but the page does not refer back", f.PAddr, f.page.vAddr)
		}

		if other, dup := seen[f.page]; dup {
			return fmt.Errorf("page 0x%x is held by frames 0x%x and 0x%x",
				f.page.vAddr, other.PAddr, f.PAddr)
		}

		seen[f.page] = f
	}

	return nil
}

func (m *FrameManager) frameMustBeEvictable(f *Frame) {
	if f.page == nil || f.pinned {
		log.Panicf("victim finder chose frame 0x%x that cannot be evicted",
			f.PAddr)
	}
}

// A FrameManagerBuilder builds FrameManagers.
type FrameManagerBuilder struct {
	storage   *memory.Storage
	base      uint64
	numFrames int
	finder    VictimFinder
}

// MakeFrameManagerBuilder creates a builder with 64 frames at physical
// address 0 and the clock policy.
func MakeFrameManagerBuilder() FrameManagerBuilder {
	return FrameManagerBuilder{
		numFrames: 64,
	}
}

// WithStorage sets the physical memory the frames live in. By default a
// storage just large enough for the frames is created.
func (b FrameManagerBuilder) WithStorage(s *memory.Storage) FrameManagerBuilder {
	b.storage = s
	return b
}

// WithBaseAddress sets the physical address of the first frame.
func (b FrameManagerBuilder) WithBaseAddress(base uint64) FrameManagerBuilder {
	b.base = base
	return b
}

// WithNumFrames sets the size of the user pool.
func (b FrameManagerBuilder) WithNumFrames(n int) FrameManagerBuilder {
	b.numFrames = n
	return b
}

// WithVictimFinder sets the replacement policy.
func (b FrameManagerBuilder) WithVictimFinder(f VictimFinder) FrameManagerBuilder {
	b.finder = f
	return b
}

// Build creates the FrameManager.
func (b FrameManagerBuilder) Build() *FrameManager {
	if b.base%PageSize != 0 {
		log.Panicf("frame pool base 0x%x is not page aligned", b.base)
	}

	storage := b.storage
	if storage == nil {
		storage = memory.NewStorageWithUnitSize(
			b.base+uint64(b.numFrames)*PageSize, PageSize)
	}

	if b.base+uint64(b.numFrames)*PageSize > storage.Capacity() {
		log.Panicf("%d frames at 0x%x do not fit in physical memory",
			b.numFrames, b.base)
	}

	finder := b.finder
	if finder == nil {
		finder = NewClockVictimFinder()
	}

	m := &FrameManager{
		HookableBase: sim.NewHookableBase(),
		storage:      storage,
		finder:       finder,
		frames:       make([]*Frame, 0, b.numFrames),
		free:         make([]*Frame, 0, b.numFrames),
	}

	for i := 0; i < b.numFrames; i++ {
		f := &Frame{
			PAddr:   b.base + uint64(i)*PageSize,
			storage: storage,
		}
		m.frames = append(m.frames, f)
	}

	// Hand out low addresses first.
	for i := len(m.frames) - 1; i >= 0; i-- {
		m.free = append(m.free, m.frames[i])
	}

	return m
}

// Storage returns the physical memory the frames live in.
func (m *FrameManager) Storage() *memory.Storage {
	return m.storage
}

// NewFrameManager creates a pool of numFrames frames starting at base in
// storage.
func NewFrameManager(
	storage *memory.Storage,
	base uint64,
	numFrames int,
	finder VictimFinder,
) *FrameManager {
	return MakeFrameManagerBuilder().
		WithStorage(storage).
		WithBaseAddress(base).
		WithNumFrames(numFrames).
		WithVictimFinder(finder).
		Build()
}
