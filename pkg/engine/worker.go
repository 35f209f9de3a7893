package engine

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// numCPU reports the logical core count, used as the default worker pool
// size W (spec.md §4.5: "1 ≤ W ≤ logical-core-count").
func numCPU() int {
	return runtime.GOMAXPROCS(0)
}

// workerPool fans a per-frame unit of work (processing every module once)
// out across W goroutines synchronized by a start/end barrier, with a
// shared work-stealing cursor (spec.md §4.5).
//
// There is no teacher analogue for this (vst3go processes one plugin
// instance on whatever thread the host calls it from); the barrier is
// adapted from dijkstracula/go-ilock's sync.Cond-wait-loop-over-an-atomic
// idiom, generalized from a 4-state lock word to a 2-phase generation
// counter, and from dsp.ParallelChain's "fan out over a fixed set of
// workers" shape (DESIGN.md).
type workerPool struct {
	n int

	mu   sync.Mutex
	cond *sync.Cond

	startGen atomic.Uint64
	doneGen  atomic.Uint64
	done     atomic.Int64 // workers that have finished the current generation

	nextIndex atomic.Int64
	work      func(i int)
	total     int

	yieldRequested atomic.Bool
	shutdown       atomic.Bool

	wg sync.WaitGroup
}

// newWorkerPool creates a pool of n-1 auxiliary goroutines; the caller of
// runBlock always additionally participates as "worker 0" (spec.md §4.5
// point 1).
func newWorkerPool(n int) *workerPool {
	if n < 1 {
		n = 1
	}
	p := &workerPool{n: n}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n - 1)
	for i := 1; i < n; i++ {
		go p.loop()
	}
	return p
}

// Workers returns the configured worker count W.
func (p *workerPool) Workers() int { return p.n }

// Shutdown stops all auxiliary goroutines cleanly (spec.md §5: "Workers
// exit cleanly on engine destruction via a shutdown flag checked at the
// barrier").
func (p *workerPool) Shutdown() {
	p.shutdown.Store(true)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// runBlock drives one pass of work (StepBlock calls it once per frame) and
// clears any yield hint left from the previous pass: every index in [0,total) is
// handled by exactly one worker via work(i). The calling goroutine
// participates as worker 0 and runBlock does not return until every
// worker (including the caller) has drained the cursor and reached the
// end barrier (spec.md §4.6: "Termination: stepBlock returns only when
// all workers have finished").
func (p *workerPool) runBlock(total int, work func(i int)) {
	p.work = work
	p.total = total
	p.nextIndex.Store(0)
	p.done.Store(0)
	p.yieldRequested.Store(false)

	gen := p.startGen.Add(1)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.drain()
	p.arrive(gen)
	p.waitDone(gen)
}

// drain repeatedly claims the next module index until the cursor is
// exhausted, back to back by default. Once a module has called
// yieldWorkers in this pass, drain yields the processor (runtime.Gosched)
// between claims (spec.md §4.5 point 4).
func (p *workerPool) drain() {
	for {
		i := p.nextIndex.Add(1) - 1
		if i >= int64(p.total) {
			return
		}
		p.work(int(i))
		if p.yieldRequested.Load() {
			runtime.Gosched()
		}
	}
}

func (p *workerPool) arrive(gen uint64) {
	if p.done.Add(1) == int64(p.n) {
		p.doneGen.Store(gen)
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *workerPool) waitDone(gen uint64) {
	if p.yieldRequested.Load() {
		p.mu.Lock()
		for p.doneGen.Load() != gen && !p.shutdown.Load() {
			p.cond.Wait()
		}
		p.mu.Unlock()
		return
	}
	for p.doneGen.Load() != gen {
		if p.shutdown.Load() {
			return
		}
		runtime.Gosched()
	}
}

// yieldWorkers flips the spin-vs-block hint for the remainder of the
// current runBlock pass, i.e. the current frame (spec.md §4.5 point 4).
// Safe to call from inside a module's Process.
func (p *workerPool) yieldWorkers() {
	p.yieldRequested.Store(true)
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// loop is the body of each auxiliary worker goroutine (worker 1..W-1):
// wait for the next generation to start, drain the cursor, arrive at the
// end barrier, repeat until shutdown.
//
// Waiting for the *next pass to start* always blocks on the condvar,
// whether that pass is the next frame of the same block or the first
// frame of a later block. The spin/block choice from spec.md §4.5 point 4
// applies only to waitDone, the *end* barrier of a pass, which the
// caller of runBlock waits on.
func (p *workerPool) loop() {
	defer p.wg.Done()
	var seen uint64
	for {
		p.mu.Lock()
		for p.startGen.Load() == seen && !p.shutdown.Load() {
			p.cond.Wait()
		}
		p.mu.Unlock()
		if p.shutdown.Load() {
			return
		}
		gen := p.startGen.Load()
		seen = gen
		p.drain()
		p.arrive(gen)
	}
}
