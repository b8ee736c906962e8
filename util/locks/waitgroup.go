package locks

import (
	"sync"
	"sync/atomic"
)

// WaitGroup is a sync.WaitGroup variant that allows concurrent Add and Wait:
// long-lived tasks register themselves after the shutdown waiter has already
// started waiting.
type WaitGroup struct {
	counter  int64
	waitCond *sync.Cond
}

// NewWaitGroup returns a ready WaitGroup.
func NewWaitGroup() *WaitGroup {
	return &WaitGroup{
		waitCond: sync.NewCond(&sync.Mutex{}),
	}
}

// Add registers one task.
func (wg *WaitGroup) Add() {
	atomic.AddInt64(&wg.counter, 1)
}

// Done unregisters one task.
func (wg *WaitGroup) Done() {
	counter := atomic.AddInt64(&wg.counter, -1)
	if counter < 0 {
		panic("negative values for wg.counter are not allowed. This was likely caused by calling Done() before Add()")
	}
	if atomic.LoadInt64(&wg.counter) == 0 {
		wg.waitCond.L.Lock()
		wg.waitCond.Broadcast()
		wg.waitCond.L.Unlock()
	}
}

// Wait blocks until the task counter reaches zero.
func (wg *WaitGroup) Wait() {
	wg.waitCond.L.Lock()
	defer wg.waitCond.L.Unlock()
	for atomic.LoadInt64(&wg.counter) != 0 {
		wg.waitCond.Wait()
	}
}
