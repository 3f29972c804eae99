package tracing

import "sync"

// CountingTracer counts finished tasks by kind and what, and failures
// separately.
type CountingTracer struct {
	mu       sync.Mutex
	inflight map[string]Task
	done     map[string]int
	failed   map[string]int
}

// NewCountingTracer creates a CountingTracer.
func NewCountingTracer() *CountingTracer {
	return &CountingTracer{
		inflight: make(map[string]Task),
		done:     make(map[string]int),
		failed:   make(map[string]int),
	}
}

func key(task Task) string {
	return task.Kind + "/" + task.What
}

// StartTask remembers the task until it ends.
func (t *CountingTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inflight[task.ID] = task
}

// StepTask does nothing.
func (t *CountingTracer) StepTask(_ Task) {}

// EndTask counts the task.
func (t *CountingTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	delete(t.inflight, task.ID)

	if task.Err != nil {
		t.failed[key(original)]++
		return
	}

	t.done[key(original)]++
}

// Count returns how many tasks of kind/what succeeded.
func (t *CountingTracer) Count(kind, what string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.done[kind+"/"+what]
}

// Failed returns how many tasks of kind/what failed.
func (t *CountingTracer) Failed(kind, what string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.failed[kind+"/"+what]
}

// InFlight returns how many tasks started but did not end.
func (t *CountingTracer) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.inflight)
}
