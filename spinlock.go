// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// lockClass tunes a SpinLock's bounded spin budget. Values mirror the
// distilled spec's measured constants before SpinFactor scaling.
type lockClass int

const (
	lockClassSmallGet      lockClass = iota // ~10: contention here is brief
	lockClassSmallFree                      // ~2: empirically hotter, yield sooner
	lockClassMediumOrLarge                  // ~500: infrequent but expensive to contend
)

func (c lockClass) baseSpin() int {
	switch c {
	case lockClassSmallGet:
		return 10
	case lockClassSmallFree:
		return 2
	default:
		return 500
	}
}

// SpinLock is a spin-then-yield lock over one atomic.Bool flag, which
// occupies four bytes rather than one: a bounded spin that re-reads the
// flag atomically with a CPU pause hint (via spin.Wait), falling back to an adaptive OS
// yield (via iox.Backoff) when the spin budget is exhausted. Acquiring
// is never indefinite: a waiter always makes progress either by winning
// the CAS or by being rescheduled after a yield.
type SpinLock struct {
	_      noCopy
	locked atomic.Bool
}

// sleepCounter receives one increment per exhausted spin budget, i.e.
// per fallback to the OS yield. It is satisfied by *Arena (medium/large)
// or a small-block type's per-class counters.
type sleepCounter interface {
	recordSleep(micros uint64, debug bool)
}

// atomicSleepCounter adapts a bare atomic counter (no debug timing) to
// sleepCounter, used by per-size-class get/free sleep counts.
type atomicSleepCounter struct {
	count *atomix.Uint64
}

func (c atomicSleepCounter) recordSleep(uint64, bool) {
	c.count.Add(1)
}

// Lock blocks until the lock is acquired, spinning up to nSpin times
// (class.baseSpin() scaled by spinFactor) before yielding. sleep, if
// non-nil, is notified once per yield fallback.
func (l *SpinLock) Lock(class lockClass, spinFactor int, sleep sleepCounter, debug bool) {
	nSpin := class.baseSpin() * max(1, spinFactor)
	for {
		if l.locked.CompareAndSwap(false, true) {
			return
		}
		sw := spin.Wait{}
		spun := false
		for i := 0; i < nSpin; i++ {
			if !l.locked.Load() {
				spun = true
				break
			}
			sw.Once()
		}
		if spun && l.locked.CompareAndSwap(false, true) {
			return
		}
		if sleep != nil {
			sleep.recordSleep(0, debug)
		}
		var bo iox.Backoff
		bo.Wait()
	}
}

// TryLock attempts to acquire the lock without spinning or yielding.
func (l *SpinLock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Unlock releases the lock. The caller must hold it.
func (l *SpinLock) Unlock() {
	l.locked.Store(false)
}
