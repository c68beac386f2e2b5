package radio

import "sync"

// Inbox denotes a thread-safe FIFO of notification payloads. Radio callbacks push from
// arbitrary goroutines, the owner drains on its own execution context
type Inbox struct {
	mu      sync.Mutex
	pending [][]byte
	limit   int
	dropped int
}

// NewInbox instantiates a new inbox holding at most limit payloads (0 = unbounded).
// When full, the oldest payload is discarded
func NewInbox(limit int) *Inbox {
	return &Inbox{limit: limit}
}

// Push appends a copy of the payload
func (i *Inbox) Push(b []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.limit > 0 && len(i.pending) >= i.limit {
		i.pending = i.pending[1:]
		i.dropped++
	}
	i.pending = append(i.pending, append([]byte(nil), b...))
}

// Drain removes and returns all pending payloads in arrival order, plus the number of
// payloads discarded due to overflow since the last call
func (i *Inbox) Drain() ([][]byte, int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	pending, dropped := i.pending, i.dropped
	i.pending, i.dropped = nil, 0

	return pending, dropped
}

// Reset discards all pending payloads
func (i *Inbox) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending, i.dropped = nil, 0
}
