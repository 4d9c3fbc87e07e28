package terminal

import "sync"

// ring is a fixed-capacity byte buffer that keeps the most recent
// output. Writes never block; old bytes fall off the front.
type ring struct {
	mu    sync.Mutex
	buf   []byte
	start int
	used  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the tail of an oversized chunk can survive.
	if len(p) > len(r.buf) {
		p = p[len(p)-len(r.buf):]
	}

	for _, b := range p {
		idx := (r.start + r.used) % len(r.buf)
		r.buf[idx] = b
		if r.used < len(r.buf) {
			r.used++
		} else {
			r.start = (r.start + 1) % len(r.buf)
		}
	}
}

func (r *ring) bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]byte, r.used)
	for i := 0; i < r.used; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
