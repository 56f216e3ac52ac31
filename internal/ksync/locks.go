// Package ksync supplies the two lock flavors spec.md §5 distinguishes:
// spinlocks (held only across non-blocking critical sections, modeled as a
// plain sync.Mutex) and sleeplocks (may be held across I/O or other
// suspension points, modeled here so call sites read the way the source's
// acquiresleep/releasesleep pairing does). It also supplies the
// sleep/wakeup primitive spec.md §9 asks for in a thread+mutex world.
package ksync

import "sync"

// Sleeplock is a mutex that may be held across a suspension point. It is
// semantically a sync.Mutex; the distinct type exists so that call sites
// and lock-ordering comments can say "sleeplock" the way spec.md §5 does,
// rather than mixing the two lock flavors under one Go type.
type Sleeplock struct {
	mu sync.Mutex
}

// Acquire locks the sleeplock, suspending the caller if it is held.
func (l *Sleeplock) Acquire() { l.mu.Lock() }

// Release unlocks the sleeplock. REQUIRES the caller holds it.
func (l *Sleeplock) Release() { l.mu.Unlock() }

// WaitQueue implements the sleep(chan, spinlock)/wakeup(chan) primitive of
// spec.md §5: sleep atomically releases the caller's spinlock and suspends
// until a matching wakeup. Distinct WaitQueue values are distinct wait
// channels; spec.md's log uses the log struct's own WaitQueue.
type WaitQueue struct {
	cond *sync.Cond
}

// Bind associates the queue with the spinlock whose critical section
// protects the condition being waited on. Must be called before Sleep.
func (q *WaitQueue) Bind(spinlock sync.Locker) {
	q.cond = sync.NewCond(spinlock)
}

// Sleep releases the bound spinlock (which must be held by the caller) and
// suspends until Wakeup is called, then re-acquires the spinlock before
// returning. Callers must re-check their wait condition in a loop, per
// standard condition-variable discipline.
func (q *WaitQueue) Sleep() {
	q.cond.Wait()
}

// Wakeup wakes every goroutine currently asleep on the queue. The caller
// must hold the bound spinlock.
func (q *WaitQueue) Wakeup() {
	q.cond.Broadcast()
}
