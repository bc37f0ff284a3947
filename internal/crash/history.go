package crash

import "sync"

const DEFAULT_HISTORY_SIZE = 50

// History keeps the most recent settled rounds, newest first.
type History struct {
	mu       sync.RWMutex
	entries  []HistoryEntry
	capacity int
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DEFAULT_HISTORY_SIZE
	}
	return &History{
		entries:  make([]HistoryEntry, 0, capacity),
		capacity: capacity,
	}
}

func (h *History) Push(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]HistoryEntry{e}, h.entries...)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[:h.capacity]
	}
}

// Load replaces the contents with entries given newest first.
func (h *History) Load(entries []HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(entries) > h.capacity {
		entries = entries[:h.capacity]
	}
	h.entries = append(h.entries[:0], entries...)
}

func (h *History) List() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

func (h *History) Find(roundID string) (HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range h.entries {
		if e.RoundID == roundID {
			return e, true
		}
	}
	return HistoryEntry{}, false
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

func (h *History) Capacity() int {
	return h.capacity
}
