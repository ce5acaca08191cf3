package vm

// A VictimFinder decides which frame to evict when the pool is exhausted.
// It is called with the frame manager locked and must only return a frame
// that holds a page and is not pinned.
type VictimFinder interface {
	FindVictim(frames []*Frame) (*Frame, bool)
}

func evictable(f *Frame) bool {
	return f.page != nil && !f.pinned
}

// ClockVictimFinder implements the second-chance policy. A frame whose page
// was accessed since the hand last passed gets its accessed bit cleared and
// is skipped once.
type ClockVictimFinder struct {
	hand int
}

// NewClockVictimFinder creates a ClockVictimFinder.
func NewClockVictimFinder() *ClockVictimFinder {
	return &ClockVictimFinder{}
}

// FindVictim returns the first evictable frame after the hand whose page has
// not been accessed recently.
func (c *ClockVictimFinder) FindVictim(frames []*Frame) (*Frame, bool) {
	n := len(frames)
	if n == 0 {
		return nil, false
	}

	// Two rounds are enough: the first clears every accessed bit.
	for i := 0; i < 2*n; i++ {
		f := frames[c.hand%n]
		c.hand = (c.hand + 1) % n

		if !evictable(f) {
			continue
		}

		hw := f.page.owner.hw
		if hw.IsAccessed(f.page.vAddr) {
			hw.SetAccessed(f.page.vAddr, false)
			continue
		}

		return f, true
	}

	return nil, false
}

// FIFOVictimFinder evicts the frame that was loaded first.
type FIFOVictimFinder struct{}

// NewFIFOVictimFinder creates a FIFOVictimFinder.
func NewFIFOVictimFinder() *FIFOVictimFinder {
	return &FIFOVictimFinder{}
}

// FindVictim returns the evictable frame with the oldest load.
func (FIFOVictimFinder) FindVictim(frames []*Frame) (*Frame, bool) {
	var victim *Frame

	for _, f := range frames {
		if !evictable(f) {
			continue
		}

		if victim == nil || f.loadSeq < victim.loadSeq {
			victim = f
		}
	}

	return victim, victim != nil
}
