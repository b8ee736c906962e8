package dispatcher

import (
	"context"
	"runtime"
	"time"

	"github.com/Menutra/Cache-Cash/util/locks"
	"github.com/Menutra/Cache-Cash/util/panics"
)

// Dispatcher is the concurrency substrate every long-lived task of the node
// runs on: it owns the stop token, tracks spawned tasks for drain at
// shutdown, provides stop-aware timers, and hosts the CPU-bound verification
// worker pool so expensive hashing never runs under a component lock's
// caller.
type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     *locks.WaitGroup

	verifyPool *WorkerPool
}

// New returns a running dispatcher.
func New() *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	workers := runtime.GOMAXPROCS(0) - 1
	if workers < 1 {
		workers = 1
	}
	return &Dispatcher{
		ctx:        ctx,
		cancel:     cancel,
		wg:         locks.NewWaitGroup(),
		verifyPool: newWorkerPool(workers),
	}
}

// Context returns the stop token. Every suspension point of a long-lived
// task must observe it.
func (d *Dispatcher) Context() context.Context {
	return d.ctx
}

// Stopped returns whether shutdown was initiated.
func (d *Dispatcher) Stopped() bool {
	return d.ctx.Err() != nil
}

// Stop posts the stop token. Idempotent.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Spawn runs f as a tracked task: panics are logged and fatal, and WaitDrain
// blocks until f returns.
func (d *Dispatcher) Spawn(f func()) {
	d.wg.Add()
	spawn(func() {
		defer d.wg.Done()
		f()
	})
}

// WaitDrain blocks until every spawned task has returned.
func (d *Dispatcher) WaitDrain() {
	d.wg.Wait()
}

// Sleep blocks for the given duration or until shutdown, whichever comes
// first. It returns false when shutdown interrupted the sleep.
func (d *Dispatcher) Sleep(duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// Every invokes f repeatedly with the given period on a tracked task until
// shutdown. The first invocation happens one period in, not immediately.
func (d *Dispatcher) Every(period time.Duration, f func()) {
	d.Spawn(func() {
		for d.Sleep(period) {
			f()
		}
	})
}

// VerifyPool returns the CPU-bound verification worker pool.
func (d *Dispatcher) VerifyPool() *WorkerPool {
	return d.verifyPool
}

// WorkerPool bounds the parallelism of CPU-heavy work (proof-of-work hashes;
// ring signatures are checked inline by the blockchain store) to a fixed
// number of slots so verification cannot starve the rest of the node.
type WorkerPool struct {
	slots chan struct{}
}

func newWorkerPool(workers int) *WorkerPool {
	return &WorkerPool{slots: make(chan struct{}, workers)}
}

// Do runs task on the pool, blocking the caller until the task completes.
// The calling goroutine waits; the work itself occupies a pool slot.
func (p *WorkerPool) Do(task func()) {
	p.slots <- struct{}{}
	defer func() { <-p.slots }()
	task()
}

// DoErr is Do for tasks that produce an error.
func (p *WorkerPool) DoErr(task func() error) error {
	p.slots <- struct{}{}
	defer func() { <-p.slots }()
	return task()
}

var spawn = panics.GoroutineWrapperFunc(log)
