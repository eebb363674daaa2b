// Package histo provides a fixed-capacity one-to-many association from a
// small integer key (a bin) to item indices, built cooperatively by a
// workdiv team in three phases: Count, Finalize, Fill.
//
// The layout is a single offsets array of NBins()+1 entries and a flat
// content array. After Fill, the items of bin b are
// content[off[b]:off[b+1]] in unspecified order.
package histo

import (
	"math"
	"sync/atomic"

	"github.com/banshee-data/zvertex/internal/workdiv"
)

// Histo is a bucketed index. The zero value is not usable; call New.
type Histo struct {
	off     []uint32
	content []uint16
}

// New allocates a Histo with nbins bins that can hold up to capacity
// items. Item indices are stored as uint16, so capacity is limited to
// math.MaxUint16+1.
func New(nbins, capacity int) *Histo {
	workdiv.Assert(nbins > 0, "histo: nbins %d must be positive", nbins)
	workdiv.Assert(capacity > 0 && capacity <= math.MaxUint16+1,
		"histo: capacity %d out of range", capacity)
	return &Histo{
		off:     make([]uint32, nbins+1),
		content: make([]uint16, capacity),
	}
}

// NBins returns the number of bins.
func (h *Histo) NBins() int { return len(h.off) - 1 }

// TotBins returns the length of the offsets array.
func (h *Histo) TotBins() int { return len(h.off) }

// Capacity returns the maximum number of items.
func (h *Histo) Capacity() int { return len(h.content) }

// Zero clears the offsets. Every worker must call it; a Sync is required
// before the first Count.
func (h *Histo) Zero(acc *workdiv.Acc) {
	for j := range acc.UniformElements(len(h.off)) {
		h.off[j] = 0
	}
}

// Count records one item in bin. Safe for concurrent use.
func (h *Histo) Count(bin int) {
	atomic.AddUint32(&h.off[bin], 1)
}

// Finalize turns the per-bin counts into offsets. It is collective: every
// worker must call it after a Sync that follows the last Count. ws needs one
// element per worker. Finalize ends with a Sync of its own.
func (h *Histo) Finalize(acc *workdiv.Acc, ws []uint32) {
	workdiv.Assert(h.off[len(h.off)-1] == 0, "histo: last offset not zero before finalize")
	// the scan rewrites off in place, so every worker must have read it first
	acc.Sync()
	workdiv.BlockPrefixScan(acc, h.off, ws)
	workdiv.Assert(int(h.Size()) <= h.Capacity(),
		"histo: %d items exceed capacity %d", h.Size(), h.Capacity())
}

// Fill stores item in the next free slot of bin. Safe for concurrent use
// once Finalize has returned.
func (h *Histo) Fill(bin int, item int) {
	w := atomic.AddUint32(&h.off[bin], ^uint32(0))
	h.content[w] = uint16(item)
}

// Size returns the total number of items.
func (h *Histo) Size() uint32 { return h.off[len(h.off)-1] }

// SizeOf returns the number of items in bin.
func (h *Histo) SizeOf(bin int) uint32 { return h.off[bin+1] - h.off[bin] }

// Bin returns the items stored in bin. The slice aliases internal storage.
func (h *Histo) Bin(bin int) []uint16 {
	return h.content[h.off[bin]:h.off[bin+1]]
}

// ForEachInBins calls fn for every item whose bin lies within radius bins
// of bin, clipped to the valid range. Order is unspecified.
func (h *Histo) ForEachInBins(bin, radius int, fn func(j int)) {
	bs := max(0, bin-radius)
	be := min(h.NBins()-1, bin+radius)
	for _, j := range h.content[h.off[bs]:h.off[be+1]] {
		fn(int(j))
	}
}
