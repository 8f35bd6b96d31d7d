package recovery

import (
	"sync"
	"time"
)

// DefaultLogCapacity bounds the error log when no capacity is configured.
const DefaultLogCapacity = 10000

// Record is one handled error as kept in the log.
type Record struct {
	Kind        Kind         `json:"kind"`
	Severity    Severity     `json:"severity"`
	Code        string       `json:"code,omitempty"`
	Message     string       `json:"message"`
	Recoverable bool         `json:"recoverable"`
	RetryCount  int          `json:"retry_count"`
	Context     ErrorContext `json:"context"`
	At          time.Time    `json:"at"`
}

// RingLog is a fixed-capacity FIFO: once full, each append evicts the
// oldest record.
type RingLog struct {
	mu    sync.Mutex
	buf   []Record
	start int
	n     int
	total int64
}

// NewRingLog creates a log holding at most capacity records.
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &RingLog{buf: make([]Record, capacity)}
}

// Append adds r, evicting the oldest record when full.
func (l *RingLog) Append(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if l.n < len(l.buf) {
		l.buf[(l.start+l.n)%len(l.buf)] = r
		l.n++
		return
	}
	l.buf[l.start] = r
	l.start = (l.start + 1) % len(l.buf)
}

// Snapshot returns all retained records, oldest first.
func (l *RingLog) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.start+i)%len(l.buf)]
	}
	return out
}

// Recent returns up to k records, newest first.
func (l *RingLog) Recent(k int) []Record {
	if k <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if k > l.n {
		k = l.n
	}
	out := make([]Record, 0, k)
	for i := 0; i < k; i++ {
		idx := (l.start + l.n - 1 - i) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// Len is the number of retained records.
func (l *RingLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Cap is the configured capacity.
func (l *RingLog) Cap() int { return len(l.buf) }

// Total counts every record ever appended, evicted ones included.
func (l *RingLog) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Clear drops all retained records.
func (l *RingLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.start, l.n = 0, 0
	for i := range l.buf {
		l.buf[i] = Record{}
	}
}
