// Package trust implements the trust boundary that validates executable
// mappings against code signing data.
package trust

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// A Monitor runs operations inside the restricted trust context. Entry is
// serialized. Arguments reach the body by value, so the caller cannot change
// them once the call has started.
type Monitor struct {
	mu     sync.Mutex
	inside atomic.Bool

	statsMu sync.Mutex
	calls   map[string]uint64
}

// NewMonitor creates a monitor.
func NewMonitor() *Monitor {
	return &Monitor{calls: make(map[string]uint64)}
}

// Call runs fn inside the monitor. A panic inside fn is fatal and is
// re-raised with the name of the operation.
func (m *Monitor) Call(op string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inside.Store(true)
	defer m.inside.Store(false)

	m.count(op)

	defer func() {
		if r := recover(); r != nil {
			panic(fmt.Sprintf("trust monitor: %s: %v", op, r))
		}
	}()

	return fn()
}

// InMonitor reports whether a monitor call is executing.
func (m *Monitor) InMonitor() bool {
	return m.inside.Load()
}

func (m *Monitor) count(op string) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	m.calls[op]++
}

// Calls returns how many times op entered the monitor.
func (m *Monitor) Calls(op string) uint64 {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	return m.calls[op]
}
