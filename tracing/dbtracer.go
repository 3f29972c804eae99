package tracing

import (
	"fmt"
	"sync"

	"github.com/sarchlab/pmap/datarecording"
)

type taskTableEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	Detail    string
	Error     string
	StartTime int64
	EndTime   int64
}

// DBTracer is a tracer that stores finished tasks into a database.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder
	tableName  string

	tracingTasks map[string]Task
}

// NewDBTracer creates a DBTracer writing into table tableName of backend.
func NewDBTracer(
	timeTeller TimeTeller,
	backend datarecording.DataRecorder,
	tableName string,
) *DBTracer {
	backend.CreateTable(tableName, taskTableEntry{})

	return &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		tableName:    tableName,
		tracingTasks: make(map[string]Task),
	}
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	task.StartTime = t.timeTeller.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracingTasks[task.ID] = task
}

// StepTask does nothing.
func (t *DBTracer) StepTask(_ Task) {}

// EndTask writes the finished task.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	original, ok := t.tracingTasks[task.ID]
	delete(t.tracingTasks, task.ID)
	t.mu.Unlock()

	if !ok {
		return
	}

	original.EndTime = t.timeTeller.Now()

	entry := taskTableEntry{
		ID:        original.ID,
		ParentID:  original.ParentID,
		Kind:      original.Kind,
		What:      original.What,
		Location:  original.Where,
		StartTime: original.StartTime.UnixNano(),
		EndTime:   original.EndTime.UnixNano(),
	}

	if original.Detail != nil {
		entry.Detail = fmt.Sprint(original.Detail)
	}

	if task.Err != nil {
		entry.Error = task.Err.Error()
	}

	t.backend.InsertData(t.tableName, entry)
}

// Terminate writes everything buffered.
func (t *DBTracer) Terminate() {
	t.backend.Flush()
}
