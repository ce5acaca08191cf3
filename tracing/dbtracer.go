package tracing

import (
	"github.com/sarchlab/lazyvm/datarecording"
	"github.com/sarchlab/lazyvm/sim"
)

// DBTracer is a hook that stores events in a table of a data recorder.
type DBTracer struct {
	recorder  datarecording.DataRecorder
	tableName string
	filter    EventFilter
}

// NewDBTracer creates the table and returns a tracer that fills it. A nil
// filter accepts every event.
func NewDBTracer(
	recorder datarecording.DataRecorder,
	tableName string,
	filter EventFilter,
) *DBTracer {
	if filter == nil {
		filter = AllEvents
	}

	recorder.CreateTable(tableName, Event{})

	return &DBTracer{
		recorder:  recorder,
		tableName: tableName,
		filter:    filter,
	}
}

// Func records the event carried by the hook.
func (t *DBTracer) Func(ctx sim.HookCtx) {
	e, ok := EventFromHook(ctx)
	if !ok || !t.filter(e) {
		return
	}

	t.recorder.InsertData(t.tableName, e)
}

// Flush writes the buffered events.
func (t *DBTracer) Flush() {
	t.recorder.Flush()
}
