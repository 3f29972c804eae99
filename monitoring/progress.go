package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
)

// A ProgressBar counts the steps of a workload that the web page shows.
// A step is either in progress or finished; a step that was never marked
// in progress may be finished directly.
type ProgressBar struct {
	mu         sync.Mutex
	id         string
	name       string
	start      time.Time
	total      uint64
	finished   uint64
	inProgress uint64
}

type progressRsp struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

func newProgressBar(name string, total uint64) *ProgressBar {
	return &ProgressBar{
		id:    xid.New().String(),
		name:  name,
		start: time.Now(),
		total: total,
	}
}

// ID returns the identifier the API reports for the bar.
func (b *ProgressBar) ID() string {
	return b.id
}

// IncrementInProgress marks amount more steps as started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inProgress += amount
}

// IncrementFinished counts amount steps as finished.
func (b *ProgressBar) IncrementFinished(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished += amount
}

// MoveInProgressToFinished finishes amount started steps. Finishing more
// steps than were started panics.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount > b.inProgress {
		panic(fmt.Sprintf("progress bar %s: finishing %d of %d started steps",
			b.name, amount, b.inProgress))
	}

	b.inProgress -= amount
	b.finished += amount
}

func (b *ProgressBar) snapshot() progressRsp {
	b.mu.Lock()
	defer b.mu.Unlock()

	return progressRsp{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.start,
		Total:      b.total,
		Finished:   b.finished,
		InProgress: b.inProgress,
	}
}
