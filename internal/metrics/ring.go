package metrics

// ring is a fixed-capacity sample buffer that overwrites its oldest entry
// once full.
type ring struct {
	buf   []Sample
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultHistoryLimit
	}
	return &ring{buf: make([]Sample, capacity)}
}

func (r *ring) push(s Sample) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) len() int {
	return r.size
}

// each visits samples oldest first.
func (r *ring) each(fn func(Sample)) {
	for i := 0; i < r.size; i++ {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

func (r *ring) last() Sample {
	return r.buf[(r.start+r.size-1)%len(r.buf)]
}
