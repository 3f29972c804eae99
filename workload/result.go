package workload

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// A Result is the outcome of one workload.
type Result struct {
	Name     string
	Passed   bool
	Messages []string
	Duration time.Duration
}

func (r Result) String() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "%s %s (%s)", status, r.Name, r.Duration)

	for _, msg := range r.Messages {
		sb.WriteString("\n    ")
		sb.WriteString(msg)
	}

	return sb.String()
}

// recorder collects the messages of a running workload. It is safe for
// concurrent use.
type recorder struct {
	mu     sync.Mutex
	name   string
	start  time.Time
	failed bool
	msgs   []string
}

func newRecorder(name string) *recorder {
	return &recorder{name: name, start: time.Now()}
}

func (r *recorder) logf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func (r *recorder) failf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failed = true
	r.msgs = append(r.msgs, "FAIL: "+fmt.Sprintf(format, args...))
}

// expect records a failure unless ok holds and returns ok.
func (r *recorder) expect(ok bool, format string, args ...any) bool {
	if !ok {
		r.failf(format, args...)
	}

	return ok
}

// must records a failure if err is not nil and returns true if it is nil.
func (r *recorder) must(err error, what string) bool {
	if err != nil {
		r.failf("%s: %v", what, err)
		return false
	}

	return true
}

func (r *recorder) result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Result{
		Name:     r.name,
		Passed:   !r.failed,
		Messages: append([]string(nil), r.msgs...),
		Duration: time.Since(r.start),
	}
}
