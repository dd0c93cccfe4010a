// SPDX-License-Identifier: MIT
package fxlms

// History is a sliding sample window used for causal convolution across block
// boundaries. It holds the span-1 most recent committed samples followed by a
// staging area for the block currently being processed, oldest sample first:
//
//	| committed (span-1) | staged (block) |
//
// The backing array is allocated once; Stage and Commit never reallocate.
type History struct {
	buf   []float64
	span  int
	block int
}

// NewHistory allocates a window able to serve span-tap convolutions over
// blocks of the given size (span + block - 1 samples).
func NewHistory(span, block int) *History {
	return &History{
		buf:   make([]float64, span+block-1),
		span:  span,
		block: block,
	}
}

// Stage copies block into the staging area. Short blocks are zero padded.
func (h *History) Stage(block []float64) {
	n := copy(h.Staged(), block)
	clear(h.buf[h.span-1+n:])
}

// Staged returns the staging area so producers can write into it directly.
func (h *History) Staged() []float64 {
	return h.buf[h.span-1:]
}

// Window returns the committed samples followed by the staged block.
func (h *History) Window() []float64 {
	return h.buf
}

// Commit advances the window by exactly one block, discarding the oldest
// samples and keeping the newest span-1 as the committed tail.
func (h *History) Commit() {
	copy(h.buf, h.buf[h.block:])
	clear(h.buf[h.span-1:])
}

// Reset zeroes the whole window.
func (h *History) Reset() {
	clear(h.buf)
}

// Span returns the number of taps the window serves.
func (h *History) Span() int { return h.span }

// BlockSize returns the staging area length.
func (h *History) BlockSize() int { return h.block }
