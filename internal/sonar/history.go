package sonar

import (
	"fmt"
	"sync"
)

// DefaultHistoryLength is the trail length used when none is configured.
const DefaultHistoryLength = 50

// History is a fixed-capacity FIFO of past positions. Appending at capacity
// drops the oldest entry. A single tracking loop appends while any number of
// readers take snapshots; readers always see a complete trail.
type History struct {
	mu   sync.RWMutex
	buf  []Position
	head int // index of the oldest entry
	size int
}

// NewHistory allocates a trail holding at most capacity positions.
func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("history length must be positive, got %d", capacity)
	}
	return &History{buf: make([]Position, capacity)}, nil
}

// Append adds p to the back of the trail, evicting the front when full.
func (h *History) Append(p Position) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = p
		h.size++
		return
	}
	h.buf[h.head] = p
	h.head = (h.head + 1) % len(h.buf)
}

// Snapshot returns the trail oldest first. The slice is a copy.
func (h *History) Snapshot() []Position {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Position, h.size)
	n := copy(out, h.buf[h.head:min(h.head+h.size, len(h.buf))])
	copy(out[n:], h.buf[:h.size-n])
	return out
}

// Len returns the number of positions currently held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the fixed capacity.
func (h *History) Cap() int {
	return len(h.buf)
}
