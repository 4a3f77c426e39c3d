package crawl

import (
	"sync"
)

// storeCounts is the store surface the status holder reads.
type storeCounts interface {
	PaperCount() int
	ProcessedCounts() (processed, stubs int)
}

// statusHolder guards the run status for concurrent readers. The crawl loop
// itself is single-threaded; the holder exists so the control API can read
// status while a tick is in flight.
type statusHolder struct {
	mu sync.Mutex
	s  Status
}

func newStatusHolder(runID, runName string) *statusHolder {
	return &statusHolder{s: Status{RunID: runID, RunName: runName}}
}

func (h *statusHolder) get() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s
}

func (h *statusHolder) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s.State = state
}

// update refreshes state, iteration, stop reason, and table counts in one
// locked write.
func (h *statusHolder) update(state State, iteration int, stopReason string, counts storeCounts) {
	processed, stubs := counts.ProcessedCounts()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s.State = state
	h.s.Iteration = iteration
	h.s.StopReason = stopReason
	h.s.Papers = counts.PaperCount()
	h.s.Processed = processed
	h.s.Stubs = stubs
}

// updateCounts refreshes the table counts without touching lifecycle fields.
// Used by the seed and user passes, which run outside iteration accounting.
func (h *statusHolder) updateCounts(counts storeCounts) {
	processed, stubs := counts.ProcessedCounts()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.s.Papers = counts.PaperCount()
	h.s.Processed = processed
	h.s.Stubs = stubs
}
