package session

// ring is a fixed-capacity FIFO of frame results; pushing onto a full ring
// evicts the oldest entry. Storage grows lazily up to capacity.
type ring struct {
	buf      []FrameResult
	start    int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) push(fr FrameResult) {
	if len(r.buf) < r.capacity {
		r.buf = append(r.buf, fr)
		return
	}
	r.buf[r.start] = fr
	r.start = (r.start + 1) % r.capacity
}

func (r *ring) len() int {
	return len(r.buf)
}

// items returns the entries oldest first
func (r *ring) items() []FrameResult {
	out := make([]FrameResult, 0, len(r.buf))
	out = append(out, r.buf[r.start:]...)
	return append(out, r.buf[:r.start]...)
}
