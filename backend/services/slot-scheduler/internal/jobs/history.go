package jobs

import (
	"context"
	"sync"
)

// History keeps the last report of every job seen by this process. It backs the status
// endpoint when no shared store is configured.
type History struct {
	mu   sync.RWMutex
	last map[string]Report
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{last: make(map[string]Report)}
}

// ObserveRun implements Observer.
func (h *History) ObserveRun(_ context.Context, report Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[report.Job] = report
}

// List returns the last reports of names, skipping jobs that never ran here.
func (h *History) List(_ context.Context, names []string) ([]Report, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Report, 0, len(names))
	for _, n := range names {
		if r, ok := h.last[n]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
