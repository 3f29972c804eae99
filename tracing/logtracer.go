package tracing

import (
	"log"
	"sync"

	"github.com/sarchlab/pmap/hooking"
)

// LogTracer writes one line per finished task.
type LogTracer struct {
	hooking.LogHookBase

	mu         sync.Mutex
	timeTeller TimeTeller
	filter     TaskFilter
	inflight   map[string]Task
}

// NewLogTracer creates a tracer that logs to logger. Only tasks accepted by
// filter are logged; a nil filter accepts everything.
func NewLogTracer(logger *log.Logger, filter TaskFilter) *LogTracer {
	return &LogTracer{
		LogHookBase: hooking.LogHookBase{Logger: logger},
		timeTeller:  WallClock(),
		filter:      filter,
		inflight:    make(map[string]Task),
	}
}

// StartTask remembers the task until it ends.
func (t *LogTracer) StartTask(task Task) {
	if t.filter != nil && !t.filter(task) {
		return
	}

	task.StartTime = t.timeTeller.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.inflight[task.ID] = task
}

// StepTask does nothing.
func (t *LogTracer) StepTask(_ Task) {}

// EndTask logs the finished task.
func (t *LogTracer) EndTask(task Task) {
	t.mu.Lock()
	original, ok := t.inflight[task.ID]
	delete(t.inflight, task.ID)
	t.mu.Unlock()

	if !ok {
		return
	}

	original.EndTime = t.timeTeller.Now()

	status := "ok"
	if task.Err != nil {
		status = task.Err.Error()
	}

	t.Printf("%s %s/%s %v %s (%s)",
		original.Where, original.Kind, original.What,
		original.Detail, status, original.Duration())
}
