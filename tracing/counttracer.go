package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/lazyvm/sim"
)

// CountTracer counts the events of each kind, in total and per process.
type CountTracer struct {
	lock      sync.Mutex
	filter    EventFilter
	kinds     []string
	count     map[string]uint64
	pidCounts map[uint32]map[string]uint64
}

// NewCountTracer creates a CountTracer. A nil filter accepts every event.
func NewCountTracer(filter EventFilter) *CountTracer {
	if filter == nil {
		filter = AllEvents
	}

	return &CountTracer{
		filter:    filter,
		count:     make(map[string]uint64),
		pidCounts: make(map[uint32]map[string]uint64),
	}
}

// Func counts the event carried by the hook.
func (t *CountTracer) Func(ctx sim.HookCtx) {
	e, ok := EventFromHook(ctx)
	if !ok || !t.filter(e) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, seen := t.count[e.Kind]; !seen {
		t.kinds = append(t.kinds, e.Kind)
	}
	t.count[e.Kind]++

	perPID, ok := t.pidCounts[e.PID]
	if !ok {
		perPID = make(map[string]uint64)
		t.pidCounts[e.PID] = perPID
	}
	perPID[e.Kind]++
}

// Kinds returns the kinds seen so far, in lexical order.
func (t *CountTracer) Kinds() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	kinds := append([]string(nil), t.kinds...)
	sort.Strings(kinds)

	return kinds
}

// Count returns how many events of a kind were seen.
func (t *CountTracer) Count(kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.count[kind]
}

// CountOf returns how many events of a kind were seen for one process.
func (t *CountTracer) CountOf(pid uint32, kind string) uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	return t.pidCounts[pid][kind]
}
