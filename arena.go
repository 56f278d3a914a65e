// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "code.hybscloud.com/atomix"

// Arena is a lock-free statistics bucket, one per OS-interacting manager
// (medium, large). Every always-on counter is updated with atomix's
// ordered atomics, with explicit acquire/release pairing since readers (CurrentHeapStatus)
// run concurrently with writers on every hot path.
type Arena struct {
	currentBytes    atomix.Int64  // signed: can transiently go negative during concurrent frees
	cumulativeBytes atomix.Uint64 // monotonic, never decreases
	sleepCount      atomix.Uint64

	// Debug-only fields; updated under the owning manager's lock since
	// peak-byte maintenance is inherently read-modify-write and the
	// manager already serializes its own mutations.
	peakBytes              int64
	cumulativeAcquireCalls uint64
	cumulativeReleaseCalls uint64
	cumulativeSleepMicros  uint64
}

// addBytes adjusts current/cumulative byte counters for an allocation
// (positive delta) or free (negative delta).
func (a *Arena) addBytes(delta int64) {
	a.currentBytes.Add(delta)
	if delta > 0 {
		a.cumulativeBytes.Add(uint64(delta))
	}
}

// recordAcquire updates debug acquire-call accounting. Caller must hold
// the owning manager's lock.
func (a *Arena) recordAcquire(debug bool) {
	if !debug {
		return
	}
	a.cumulativeAcquireCalls++
	if cur := a.currentBytes.Load(); cur > a.peakBytes {
		a.peakBytes = cur
	}
}

// recordRelease updates debug release-call accounting. Caller must hold
// the owning manager's lock.
func (a *Arena) recordRelease(debug bool) {
	if !debug {
		return
	}
	a.cumulativeReleaseCalls++
}

// recordSleep bumps this arena's contention sleep counter and, in debug
// mode, accumulates elapsed sleep time.
func (a *Arena) recordSleep(micros uint64, debug bool) {
	a.sleepCount.Add(1)
	if debug {
		a.cumulativeSleepMicros += micros
	}
}

// Snapshot is a point-in-time copy of an Arena's counters.
type Snapshot struct {
	CurrentBytes    int64
	CumulativeBytes uint64
	SleepCount      uint64

	PeakBytes              int64
	CumulativeAcquireCalls uint64
	CumulativeReleaseCalls uint64
	CumulativeSleepMicros  uint64
}

func (a *Arena) snapshot() Snapshot {
	return Snapshot{
		CurrentBytes:           a.currentBytes.Load(),
		CumulativeBytes:        a.cumulativeBytes.Load(),
		SleepCount:             a.sleepCount.Load(),
		PeakBytes:              a.peakBytes,
		CumulativeAcquireCalls: a.cumulativeAcquireCalls,
		CumulativeReleaseCalls: a.cumulativeReleaseCalls,
		CumulativeSleepMicros:  a.cumulativeSleepMicros,
	}
}

// HeapStatus is a zero-cost snapshot of every counter the allocator
// tracks, as returned by Heap.CurrentHeapStatus.
type HeapStatus struct {
	Medium Snapshot
	Large  Snapshot

	// TotalSleepCount aggregates medium, large, and every small/tiny
	// class's get/free sleep counters.
	TotalSleepCount uint64

	SmallGetSleepCount  uint64
	SmallFreeSleepCount uint64

	// SmallBlockCount and SmallBlockBytes are derived by summing every
	// size class's live counters on demand; they are not maintained
	// incrementally.
	SmallBlockCount int64
	SmallBlockBytes int64
}
