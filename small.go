// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// smallPoolHeader precedes the slot array of every small-block pool.
// It is itself carved out of a medium block's payload (the medium
// header for that carrier block carries flagLargeOrPoolUse to mark it
// as pool-in-use rather than a plain user medium allocation).
type smallPoolHeader struct {
	owner       *smallBlockType
	prev, next  *smallPoolHeader
	firstFree   unsafe.Pointer // head of the in-place free-slot stack, nil if none free
	blocksInUse int32
	capacity    int32
	mediumBlock unsafe.Pointer // payload address of the carrier medium block

	// Pads the header to 56 bytes so that, behind each slot's 8-byte
	// header word, every slot payload stays 16-byte aligned.
	_ [8]byte
}

var smallPoolHeaderSize = unsafe.Sizeof(smallPoolHeader{})

// smallBlockType is one of the 46 fixed size classes. The struct spans
// several cache lines; it is not packed or padded to a single one.
type smallBlockType struct {
	lock SpinLock

	blockSize     uintptr
	minPoolSize   uintptr
	optPoolSize   uintptr
	allowedGroups uint32
	classIndex    int

	partial smallPoolHeader // sentinel: only prev/next are meaningful

	currentSeqFeedPool *smallPoolHeader
	seqFeedNext        unsafe.Pointer
	seqFeedEnd         unsafe.Pointer

	// upgrade holds the next two size classes' representative types,
	// for the get-path's opportunistic upgrade (§4.C); nil entries
	// mean classIndex is within two of the largest class.
	upgrade [2]*smallBlockType

	getCount, freeCount uint64
	getSleep, freeSleep atomix.Uint64
}

func newSmallBlockType(classIndex int) *smallBlockType {
	t := &smallBlockType{
		blockSize:  smallClassBlockSize[classIndex],
		classIndex: classIndex,
	}
	t.partial.prev = &t.partial
	t.partial.next = &t.partial

	// Pool sizing: aim for roughly 16 slots per pool, bounded so a
	// pool never requests more than one medium pool's worth of space,
	// and the smallest classes still get a useful batch.
	opt := t.blockSize * 16
	if opt > poolPayloadSpan/4 {
		opt = poolPayloadSpan / 4
	}
	min := t.blockSize * 4
	if min > opt {
		min = opt
	}
	t.minPoolSize = min + smallPoolHeaderSize
	t.optPoolSize = opt + smallPoolHeaderSize

	// AllowedGroupsMask: small/tiny carving only draws from the lower
	// half of the medium bin groups so large medium requests aren't
	// starved of their own bins.
	t.allowedGroups = 0x0000ffff
	return t
}

func (t *smallBlockType) partialEmpty() bool { return t.partial.next == &t.partial }

func (t *smallBlockType) partialPush(p *smallPoolHeader) {
	p.next = t.partial.next
	p.prev = &t.partial
	t.partial.next.prev = p
	t.partial.next = p
}

func (t *smallBlockType) partialRemove(p *smallPoolHeader) {
	p.prev.next = p.next
	p.next.prev = p.prev
	p.prev, p.next = nil, nil
}

func smallHeader(payload unsafe.Pointer) *uintptr { return header(payload) }

// newPool carves a medium sub-block and formats it as a fresh small
// pool, installing it as the type's sequential-feed pool.
func (t *smallBlockType) newPool(m *medium) *smallPoolHeader {
	mem, avail := m.getForPool(t.minPoolSize, t.optPoolSize, t.allowedGroups)
	if mem == nil {
		return nil
	}
	capacity := int32((avail - smallPoolHeaderSize) / t.blockSize)
	if capacity < 1 {
		capacity = 1
	}

	pool := (*smallPoolHeader)(mem)
	pool.owner = t
	pool.prev, pool.next = nil, nil
	pool.firstFree = nil
	pool.blocksInUse = 0
	pool.capacity = capacity
	pool.mediumBlock = mem

	t.currentSeqFeedPool = pool
	t.seqFeedNext = unsafe.Add(mem, smallPoolHeaderSize)
	t.seqFeedEnd = unsafe.Add(mem, smallPoolHeaderSize+uintptr(capacity)*t.blockSize)
	return pool
}

func (t *smallBlockType) feedSequential() unsafe.Pointer {
	if t.currentSeqFeedPool == nil {
		return nil
	}
	if uintptr(t.seqFeedNext) >= uintptr(t.seqFeedEnd) {
		return nil
	}
	slotHeader := t.seqFeedNext
	t.seqFeedNext = unsafe.Add(t.seqFeedNext, t.blockSize)
	payload := unsafe.Add(slotHeader, headerSize)
	*smallHeader(payload) = packFlags(uintptr(unsafe.Pointer(t.currentSeqFeedPool)), 0)
	t.currentSeqFeedPool.blocksInUse++
	return payload
}

// get implements §4.F allocation: partial list, then sequential feed,
// then carve a new pool. The class lock is acquired via
// acquireOrUpgrade, so the request may end up served by one of the
// next two size classes instead of t itself (§4.C).
func (t *smallBlockType) get(m *medium, spin int, debug bool) unsafe.Pointer {
	owner := t.acquireOrUpgrade(spin, debug)
	defer owner.lock.Unlock()
	return owner.getLocked(m)
}

// acquireOrUpgrade acquires t's lock, spinning up to the class's
// budget first. If the spin budget runs out, it makes one
// non-blocking pass over the next two size classes before paying for
// an OS yield — a contended class can be opportunistically satisfied
// by a slightly larger one, and the caller accepts that the returned
// block may come from that class instead (§4.C). Returns whichever
// smallBlockType ends up locked.
func (t *smallBlockType) acquireOrUpgrade(spinFactor int, debug bool) *smallBlockType {
	nSpin := lockClassSmallGet.baseSpin() * max(1, spinFactor)
	for {
		if t.lock.TryLock() {
			return t
		}

		sw := spin.Wait{}
		for i := 0; i < nSpin; i++ {
			if t.lock.TryLock() {
				return t
			}
			sw.Once()
		}

		for _, u := range t.upgrade {
			if u != nil && u.lock.TryLock() {
				return u
			}
		}

		t.getSleep.Add(1)
		var bo iox.Backoff
		bo.Wait()
	}
}

// getLocked performs the actual allocation; the caller must already
// hold t.lock.
func (t *smallBlockType) getLocked(m *medium) unsafe.Pointer {
	t.getCount++

	if !t.partialEmpty() {
		pool := t.partial.next
		slot := pool.firstFree
		payload := slot
		next := payloadBase(*smallHeader(payload))
		pool.firstFree = unsafe.Pointer(next)
		pool.blocksInUse++
		*smallHeader(payload) = packFlags(uintptr(unsafe.Pointer(pool)), 0)
		if pool.firstFree == nil {
			t.partialRemove(pool)
		}
		return payload
	}

	if p := t.feedSequential(); p != nil {
		return p
	}

	if t.newPool(m) == nil {
		return nil
	}
	return t.feedSequential()
}

// free implements §4.F free: decrement in-use, release the pool back
// to Module E if it drains to zero and isn't the live sequential-feed
// pool, otherwise push the slot onto the pool's free-slot stack.
func (t *smallBlockType) free(m *medium, payload unsafe.Pointer, spin int, debug bool) {
	pool := (*smallPoolHeader)(unsafe.Pointer(payloadBase(*smallHeader(payload))))

	t.lock.Lock(lockClassSmallFree, spin, atomicSleepCounter{&t.freeSleep}, debug)
	defer t.lock.Unlock()
	t.freeCount++

	// A pool is on the partial list exactly when its free-slot stack is
	// non-empty (a sequential-feed pool with an empty stack is not).
	listed := pool.firstFree != nil
	pool.blocksInUse--

	if pool.blocksInUse == 0 && pool != t.currentSeqFeedPool {
		if listed {
			t.partialRemove(pool)
		}
		m.free(pool.mediumBlock)
		return
	}

	*smallHeader(payload) = packFlags(uintptr(pool.firstFree), flagFree)
	pool.firstFree = payload
	if !listed {
		t.partialPush(pool)
	}
}

func (t *smallBlockType) payloadCapacity() uintptr {
	return t.blockSize - headerSize
}
