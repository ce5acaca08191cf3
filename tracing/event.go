// Package tracing turns the hooks of the virtual memory system into trace
// records and writes them to a log, a database, or counters.
package tracing

import (
	"fmt"

	"github.com/sarchlab/lazyvm/mem/vm"
	"github.com/sarchlab/lazyvm/mem/vm/mmu"
	"github.com/sarchlab/lazyvm/process"
	"github.com/sarchlab/lazyvm/sim"
)

// An Event is one traced occurrence. Kind is the name of the hook position.
type Event struct {
	ID     string
	Kind   string
	PID    uint32
	VAddr  uint64
	Detail string
}

// EventFilter decides whether an event is traced.
type EventFilter func(e Event) bool

// AllEvents accepts every event.
func AllEvents(Event) bool {
	return true
}

// KindFilter accepts the events of the given kinds.
func KindFilter(kinds ...string) EventFilter {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}

	return func(e Event) bool {
		return set[e.Kind]
	}
}

// EventFromHook converts a hook invocation into an event. It returns false
// for hooks that do not carry a known detail.
func EventFromHook(ctx sim.HookCtx) (Event, bool) {
	if ctx.Pos == nil {
		return Event{}, false
	}

	e := Event{Kind: ctx.Pos.Name}

	switch d := ctx.Detail.(type) {
	case vm.FaultEvent:
		e.PID = uint32(d.PID)
		e.VAddr = d.Fault.Addr
		e.Detail = describeFault(d)
	case vm.EvictEvent:
		e.PID = uint32(d.PID)
		e.VAddr = d.VAddr
		e.Detail = fmt.Sprintf("paddr=%#x type=%s", d.PAddr, d.Type)
	case vm.MmapEvent:
		e.PID = uint32(d.PID)
		e.VAddr = d.Addr
		e.Detail = fmt.Sprintf("pages=%d", d.NumPages)
	case vm.DuplicateEvent:
		e.PID = uint32(d.Parent)
		e.Detail = fmt.Sprintf("child=%d pages=%d", d.Child, d.NumPages)
	case mmu.AccessEvent:
		e.PID = uint32(d.PID)
		e.VAddr = d.VAddr
		e.Detail = fmt.Sprintf("%s len=%d", accessKind(d.Write), d.Length)
	case process.ExitEvent:
		e.PID = uint32(d.PID)
		e.Detail = d.State.String()
		if d.Reason != nil {
			e.Detail += ": " + d.Reason.Error()
		}
	case nil:
		p, ok := ctx.Item.(*process.Process)
		if !ok {
			return Event{}, false
		}
		e.PID = uint32(p.PID())
		e.Detail = fmt.Sprintf("sp=%#x", p.StackPointer())
	default:
		return Event{}, false
	}

	e.ID = sim.GetIDGenerator().Generate()

	return e, true
}

func describeFault(d vm.FaultEvent) string {
	s := fmt.Sprintf("%s %s sp=%#x",
		accessKind(d.Fault.Write), presence(d.Fault.NotPresent),
		d.Fault.StackPointer)

	if d.Err != nil {
		s += " err=" + d.Err.Error()
	}

	return s
}

func accessKind(write bool) string {
	if write {
		return "write"
	}

	return "read"
}

func presence(notPresent bool) string {
	if notPresent {
		return "not-present"
	}

	return "protection"
}
