package tracing

import (
	"log"
	"sync"

	"github.com/sarchlab/lazyvm/sim"
)

// LogTracer is a hook that prints one line per event.
type LogTracer struct {
	mu     sync.Mutex
	logger *log.Logger
	filter EventFilter
}

// NewLogTracer creates a LogTracer that prints the events accepted by
// filter. A nil filter accepts every event.
func NewLogTracer(logger *log.Logger, filter EventFilter) *LogTracer {
	if filter == nil {
		filter = AllEvents
	}

	return &LogTracer{logger: logger, filter: filter}
}

// Func prints the event carried by the hook.
func (t *LogTracer) Func(ctx sim.HookCtx) {
	e, ok := EventFromHook(ctx)
	if !ok || !t.filter(e) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.logger.Printf("%s, %s, %d, 0x%x, %s\n",
		e.ID, e.Kind, e.PID, e.VAddr, e.Detail)
}
