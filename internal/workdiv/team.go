// Package workdiv runs data-parallel kernels on a fixed team of cooperating
// goroutines.
//
// A Team plays the role of a single block of threads: every worker executes
// the same kernel body on the same problem instance, distributes items with
// UniformElements or ChunkElements, and separates phases with Sync. The only
// cross-worker ordering guarantee is the happens-before edge of Sync.
package workdiv

import (
	"fmt"
	"iter"
	"sync"
)

// MaxTeamSize bounds the number of workers in one team.
const MaxTeamSize = 1024

// Kernel is the body executed by every worker of a team.
type Kernel func(acc *Acc)

// Team is a reusable group of workers that cooperate on one problem at a
// time. Run may be called repeatedly but not concurrently.
type Team struct {
	size    int
	barrier *barrier
	accs    []Acc
	mu      sync.Mutex
}

// NewTeam creates a team with size workers. It panics if size is outside
// [1, MaxTeamSize].
func NewTeam(size int) *Team {
	if size < 1 || size > MaxTeamSize {
		panic(fmt.Sprintf("workdiv: team size %d out of range [1, %d]", size, MaxTeamSize))
	}
	t := &Team{
		size:    size,
		barrier: newBarrier(size),
		accs:    make([]Acc, size),
	}
	for i := range t.accs {
		t.accs[i] = Acc{team: t, idx: i}
	}
	return t
}

// Size returns the number of workers in the team.
func (t *Team) Size() int {
	return t.size
}

// Run executes k on every worker and returns once all of them have
// finished. If any worker panics, the workers blocked in Sync are released
// and the first panic value is re-raised on the calling goroutine.
func (t *Team) Run(k Kernel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.barrier.reset()

	var (
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		firstErr any
	)
	worker := func(acc *Acc) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				panicMu.Lock()
				// errBarrierBroken is a consequence, not a cause.
				if firstErr == nil || firstErr == errBarrierBroken {
					firstErr = r
				}
				panicMu.Unlock()
				t.barrier.breakAll()
			}
		}()
		k(acc)
	}

	wg.Add(t.size)
	for i := 1; i < t.size; i++ {
		go worker(&t.accs[i])
	}
	// The caller's goroutine doubles as worker 0.
	worker(&t.accs[0])
	wg.Wait()

	if firstErr != nil {
		panic(firstErr)
	}
}

// Acc is the per-worker handle passed to a Kernel.
type Acc struct {
	team *Team
	idx  int
}

// Index returns the worker index in [0, Size()).
func (a *Acc) Index() int { return a.idx }

// Size returns the team size.
func (a *Acc) Size() int { return a.team.size }

// OncePerBlock reports true for exactly one worker of the team.
func (a *Acc) OncePerBlock() bool { return a.idx == 0 }

// Sync blocks until every worker of the team has reached the same call.
// Writes made by any worker before Sync are visible to all workers after it.
func (a *Acc) Sync() {
	a.team.barrier.wait()
}

// UniformElements yields the indices in [0, n) owned by this worker, using
// a stride equal to the team size.
func (a *Acc) UniformElements(n int) iter.Seq[int] {
	start, stride := a.idx, a.team.size
	return func(yield func(int) bool) {
		for i := start; i < n; i += stride {
			if !yield(i) {
				return
			}
		}
	}
}

// ChunkElements yields a contiguous range of [0, n) owned by this worker.
// The ranges of consecutive workers are consecutive, so concatenating them
// in worker order reproduces [0, n).
func (a *Acc) ChunkElements(n int) iter.Seq[int] {
	lo, hi := ChunkBounds(n, a.team.size, a.idx)
	return func(yield func(int) bool) {
		for i := lo; i < hi; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// ChunkBounds returns the half-open range [lo, hi) of n items assigned to
// worker idx out of size workers.
func ChunkBounds(n, size, idx int) (lo, hi int) {
	per := (n + size - 1) / size
	lo = min(idx*per, n)
	hi = min(lo+per, n)
	return lo, hi
}
