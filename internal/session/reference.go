package session

// Reference streams an immutable noise signal block by block. The read
// position only moves forward, wrapping to zero at the signal end when
// looping.
type Reference struct {
	samples []float64
	loop    bool
	pos     int
	done    bool
}

// NewReference wraps samples without copying them; the caller must not
// modify the slice afterwards.
func NewReference(samples []float64, loop bool) *Reference {
	return &Reference{samples: samples, loop: loop}
}

// Next fills dst with the next block and reports whether one was available.
// The final partial block is zero padded. With looping enabled the following
// block starts again at sample zero; without it the following call returns
// false.
func (r *Reference) Next(dst []float64) bool {
	if r.done || len(r.samples) == 0 {
		return false
	}

	n := copy(dst, r.samples[r.pos:])
	clear(dst[n:])
	r.pos += n

	if r.pos >= len(r.samples) {
		if r.loop {
			r.pos = 0
		} else {
			r.done = true
		}
	}
	return true
}

// Position is the index of the next sample to be read.
func (r *Reference) Position() int { return r.pos }

func (r *Reference) Len() int { return len(r.samples) }
