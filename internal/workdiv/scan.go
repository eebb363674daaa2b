package workdiv

import "fmt"

// Integer is the set of element types BlockPrefixScan accepts.
type Integer interface {
	~int | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64
}

// BlockPrefixScan replaces data with its inclusive prefix sum. It is a
// collective operation: every worker of the team must call it with the same
// data and ws. ws must hold at least one element per worker.
//
// Each worker scans its own contiguous chunk, the chunk totals are combined
// and the per-chunk offsets are added back, so the result is identical to
// PrefixScan for every team size.
func BlockPrefixScan[T Integer](acc *Acc, data, ws []T) {
	size := acc.Size()
	if len(ws) < size {
		panic(fmt.Sprintf("workdiv: scan workspace %d smaller than team %d", len(ws), size))
	}
	if size == 1 {
		PrefixScan(data)
		acc.Sync()
		return
	}

	lo, hi := ChunkBounds(len(data), size, acc.Index())
	PrefixScan(data[lo:hi])
	var total T
	if hi > lo {
		total = data[hi-1]
	}
	ws[acc.Index()] = total
	acc.Sync()

	var offset T
	for w := 0; w < acc.Index(); w++ {
		offset += ws[w]
	}
	if offset != 0 {
		for i := lo; i < hi; i++ {
			data[i] += offset
		}
	}
	acc.Sync()
}

// PrefixScan is the sequential inclusive scan.
func PrefixScan[T Integer](data []T) {
	for i := 1; i < len(data); i++ {
		data[i] += data[i-1]
	}
}
