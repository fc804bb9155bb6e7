package tasmota

import "sync"

// CustomLogSize is how many raw panel messages are kept for diagnostics.
const CustomLogSize = 50

// RingBuffer is a fixed-capacity string log. Push never blocks; when full the
// oldest entry is dropped. Safe for concurrent use.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []string
	start int
	n     int
}

// NewRingBuffer creates a ring buffer holding at most size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{buf: make([]string, size)}
}

// Push appends s, evicting the oldest entry when full.
func (r *RingBuffer) Push(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = s
		r.n++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Snapshot returns the entries oldest first.
func (r *RingBuffer) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of stored entries.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
