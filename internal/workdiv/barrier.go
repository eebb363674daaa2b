package workdiv

import (
	"errors"
	"sync"
)

// errBarrierBroken is raised in workers waiting on a barrier after another
// worker of the team panicked.
var errBarrierBroken = errors.New("workdiv: barrier broken by a panicking worker")

// barrier is a reusable cyclic barrier for a fixed number of parties.
type barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	parties int
	waiting int
	gen     uint64
	broken  bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *barrier) wait() {
	b.mu.Lock()
	if b.broken {
		b.mu.Unlock()
		panic(errBarrierBroken)
	}
	gen := b.gen
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.gen++
		b.cond.Broadcast()
		b.mu.Unlock()
		return
	}
	for gen == b.gen && !b.broken {
		b.cond.Wait()
	}
	broken := gen == b.gen
	b.mu.Unlock()
	if broken {
		panic(errBarrierBroken)
	}
}

func (b *barrier) breakAll() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *barrier) reset() {
	b.mu.Lock()
	b.broken = false
	b.waiting = 0
	b.mu.Unlock()
}
