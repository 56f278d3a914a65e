// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/lfq"
)

const (
	// minMedium is MIN_MED: the smallest medium block size, chosen so
	// the smallest possible small-block pool still fits. 11*256+48.
	minMedium = 11*256 + 48

	binCount      = 1024
	binGroupSize  = 32
	binGroupCount = binCount / binGroupSize
	binGranule    = 256

	// poolSize is the fixed size every medium pool is mapped at: 20
	// 64 KiB OS pages.
	poolSize = 1310720

	// maxMedium is the largest request the medium manager can ever
	// serve; anything above routes to the large block manager. The
	// distilled spec's worked constant (264,048) doesn't reconcile
	// with its own MIN_MED + (BIN_COUNT-1)*256 formula, so this
	// implementation computes it from the formula directly (see
	// DESIGN.md).
	maxMedium = minMedium + (binCount-1)*binGranule

	mediumPoolHeaderSize = unsafe.Sizeof(mediumPoolHeader{})
	poolSentinelSize     = headerSize
	poolPayloadSpan       = poolSize - uintptr(mediumPoolHeaderSize) - poolSentinelSize

	// freedPoolCacheCapacity bounds the lfq-backed cache of recently
	// freed, still-mapped medium pools (see SPEC_FULL.md's Module E
	// expansion).
	freedPoolCacheCapacity = 8
)

// mediumPoolHeader sits at the base of every medium pool mapping.
type mediumPoolHeader struct {
	prev, next *mediumPoolHeader
	base       unsafe.Pointer // the pool's own mapping base, for release
}

// freeNode is the intrusive doubly linked list node a free medium
// block's payload is reinterpreted as while it sits on a bin.
type freeNode struct {
	prev, next *freeNode
}

type medium struct {
	lock SpinLock

	pools poolSentinelList

	bins        [binCount]freeNode
	binBitmap   [binGroupCount]uint32
	groupBitmap uint32

	lastSeqFeedPool  *mediumPoolHeader
	seqFeedNext      unsafe.Pointer
	seqFeedBytesLeft uintptr

	freedPoolCache *lfq.SPSC[unsafe.Pointer]

	arena *Arena
	pages pageProvider
	spin  int
	debug bool
}

type poolSentinelList struct {
	sentinel mediumPoolHeader
}

func newMedium(arena *Arena, pages pageProvider, spin int, debug bool) *medium {
	m := &medium{arena: arena, pages: pages, spin: spin, debug: debug}
	m.pools.sentinel.prev = &m.pools.sentinel
	m.pools.sentinel.next = &m.pools.sentinel
	for i := range m.bins {
		m.bins[i].prev = &m.bins[i]
		m.bins[i].next = &m.bins[i]
	}
	m.freedPoolCache = lfq.NewSPSC[unsafe.Pointer](freedPoolCacheCapacity)
	return m
}

func binIndexForSize(size uintptr) int {
	if size <= minMedium {
		return 0
	}
	i := int((size - minMedium) / binGranule)
	if i >= binCount {
		i = binCount - 1
	}
	return i
}

func binSizeForIndex(i int) uintptr {
	return minMedium + uintptr(i)*binGranule
}

func (m *medium) binEmpty(i int) bool {
	return m.bins[i].next == &m.bins[i]
}

func (m *medium) binInsert(i int, n *freeNode) {
	head := &m.bins[i]
	n.next = head.next
	n.prev = head
	head.next.prev = n
	head.next = n
	m.binBitmap[i/binGroupSize] |= 1 << uint(i%binGroupSize)
	m.groupBitmap |= 1 << uint(i/binGroupSize)
}

func (m *medium) binRemove(i int, n *freeNode) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
	if m.binEmpty(i) {
		m.binBitmap[i/binGroupSize] &^= 1 << uint(i%binGroupSize)
		if m.binBitmap[i/binGroupSize] == 0 {
			m.groupBitmap &^= 1 << uint(i/binGroupSize)
		}
	}
}

// bestFit finds the smallest free block able to satisfy a request
// routed to bin target, restricted to groups whose bit is set in
// allowedGroups (all 1s for ordinary medium requests; a narrower mask
// when Module F is carving a small-block pool so tiny/small traffic
// doesn't exhaust medium-sized bins).
func (m *medium) bestFit(target int, allowedGroups uint32) (int, bool) {
	group := target / binGroupSize
	withinGroup := uint32(target % binGroupSize)

	if allowedGroups&(1<<uint(group)) != 0 {
		mask := m.binBitmap[group] &^ ((uint32(1) << withinGroup) - 1)
		if mask != 0 {
			return group*binGroupSize + bits.TrailingZeros32(mask), true
		}
	}

	higherGroups := m.groupBitmap & allowedGroups &^ ((uint32(1) << uint(group+1)) - 1)
	if higherGroups == 0 {
		return 0, false
	}
	g := bits.TrailingZeros32(higherGroups)
	bin := bits.TrailingZeros32(m.binBitmap[g])
	return g*binGroupSize + bin, true
}

func medHeader(addr unsafe.Pointer) *uintptr {
	return (*uintptr)(addr)
}

func (m *medium) newPool() *mediumPoolHeader {
	var base unsafe.Pointer
	if cached, err := m.freedPoolCache.Dequeue(); err == nil {
		base = cached
		clear(unsafe.Slice((*byte)(base), poolSize))
	} else {
		base = m.pages.acquire(poolSize)
		if base == nil {
			return nil
		}
		m.arena.recordAcquire(m.debug)
	}

	hdr := (*mediumPoolHeader)(base)
	hdr.base = base
	hdr.prev = m.pools.sentinel.prev
	hdr.next = &m.pools.sentinel
	m.pools.sentinel.prev.next = hdr
	m.pools.sentinel.prev = hdr

	m.arena.addBytes(int64(poolSize))

	m.lastSeqFeedPool = hdr
	m.seqFeedNext = unsafe.Add(base, mediumPoolHeaderSize)
	m.seqFeedBytesLeft = poolPayloadSpan
	return hdr
}

// feedFromSequential carves size bytes off the current sequential-feed
// region, returning the new block's header address and true on
// success.
func (m *medium) feedFromSequential(size uintptr) (unsafe.Pointer, bool) {
	if m.lastSeqFeedPool == nil || m.seqFeedBytesLeft < size {
		return nil, false
	}
	blockAddr := m.seqFeedNext
	m.seqFeedNext = unsafe.Add(m.seqFeedNext, size)
	m.seqFeedBytesLeft -= size
	*medHeader(blockAddr) = packFlags(size, flagMedium)
	return blockAddr, true
}

// drainSequentialRemainder bins what is left of the current
// sequential-feed region once it can no longer satisfy a request,
// provided the remainder is at least minMedium bytes; a smaller
// remainder is left unused.
func (m *medium) drainSequentialRemainder() {
	if m.lastSeqFeedPool == nil || m.seqFeedBytesLeft < minMedium {
		return
	}
	addr := m.seqFeedNext
	size := m.seqFeedBytesLeft
	m.seqFeedBytesLeft = 0
	*medHeader(addr) = packFlags(size, flagMedium|flagFree)
	*(*uintptr)(unsafe.Add(addr, size-headerSize)) = size
	idx := binIndexForSize(size)
	m.binInsert(idx, (*freeNode)(unsafe.Add(addr, headerSize)))
}

// carve returns the payload address of a medium block of at least size
// bytes, restricted to allowedGroups, or nil on OOM.
func (m *medium) carve(size uintptr, allowedGroups uint32) unsafe.Pointer {
	target := binIndexForSize(size)

	if idx, ok := m.bestFit(target, allowedGroups); ok {
		node := m.bins[idx].next
		blockAddr := unsafe.Add(unsafe.Pointer(node), -int(headerSize))
		blockSize := payloadBase(*medHeader(blockAddr))
		m.binRemove(idx, node)
		return m.grantOrSplit(blockAddr, blockSize, size)
	}

	if blockAddr, ok := m.feedFromSequential(size); ok {
		return payloadOf(blockAddr)
	}

	m.drainSequentialRemainder()
	if m.newPool() == nil {
		return nil
	}
	blockAddr, ok := m.feedFromSequential(size)
	if !ok {
		return nil
	}
	return payloadOf(blockAddr)
}

// grantOrSplit hands out a free block of blockSize bytes found for a
// size-byte request: split off the excess into its own free block when
// the remainder would still meet minMedium, otherwise hand over the
// whole block.
func (m *medium) grantOrSplit(blockAddr unsafe.Pointer, blockSize, size uintptr) unsafe.Pointer {
	if blockSize-size >= minMedium {
		remAddr := unsafe.Add(blockAddr, size)
		remSize := blockSize - size
		*medHeader(remAddr) = packFlags(remSize, flagMedium|flagFree)
		*(*uintptr)(unsafe.Add(remAddr, remSize-headerSize)) = remSize
		m.binInsert(binIndexForSize(remSize), (*freeNode)(unsafe.Add(remAddr, headerSize)))

		*medHeader(blockAddr) = packFlags(size, flagMedium)
		m.clearUpperPrevFree(remAddr)
		return payloadOf(blockAddr)
	}

	*medHeader(blockAddr) = packFlags(blockSize, flagMedium)
	m.clearUpperPrevFree(unsafe.Add(blockAddr, blockSize))
	return payloadOf(blockAddr)
}

func (m *medium) clearUpperPrevFree(upperAddr unsafe.Pointer) {
	w := medHeader(upperAddr)
	if size := payloadBase(*w); size != 0 {
		*w = *w &^ flagPrevMediumFree
	}
}

func (m *medium) setUpperPrevFree(upperAddr unsafe.Pointer) {
	w := medHeader(upperAddr)
	if size := payloadBase(*w); size != 0 {
		*w |= flagPrevMediumFree
	}
}

// get allocates a medium block able to hold size bytes of payload.
func (m *medium) get(size uintptr) unsafe.Pointer {
	total := size + headerSize
	if total < minMedium {
		total = minMedium
	}
	total = alignUp(total, binGranule)

	m.lock.Lock(lockClassMediumOrLarge, m.spin, m.arena, m.debug)
	p := m.carve(total, ^uint32(0))
	m.lock.Unlock()
	return p
}

// getForPool is used by Module F: allocate a sub-block between min and
// opt bytes, restricted to allowedGroups so tiny/small carving doesn't
// starve ordinary medium-sized requests.
func (m *medium) getForPool(min, opt uintptr, allowedGroups uint32) (unsafe.Pointer, uintptr) {
	total := alignUp(opt+headerSize, binGranule)
	if total < minMedium {
		total = minMedium
	}

	m.lock.Lock(lockClassMediumOrLarge, m.spin, m.arena, m.debug)
	p := m.carve(total, allowedGroups)
	if p == nil {
		// Retry with the minimum acceptable size before giving up.
		minTotal := alignUp(min+headerSize, binGranule)
		if minTotal < minMedium {
			minTotal = minMedium
		}
		if minTotal != total {
			p = m.carve(minTotal, allowedGroups)
			total = minTotal
		}
	}
	if p != nil {
		*header(p) |= flagLargeOrPoolUse
	}
	m.lock.Unlock()
	if p == nil {
		return nil, 0
	}
	return p, payloadBase(*header(p)) - headerSize
}

func (m *medium) blockSize(p unsafe.Pointer) uintptr {
	return payloadBase(*header(p))
}

// free releases a medium block, coalescing with free neighbors and, if
// the merge spans an entire pool that isn't the current sequential
// feed target, returning the whole pool to the page provider (via the
// freed-pool cache first).
func (m *medium) free(p unsafe.Pointer) {
	blockAddr := unsafe.Add(p, -int(headerSize))

	m.lock.Lock(lockClassMediumOrLarge, m.spin, m.arena, m.debug)
	defer m.lock.Unlock()

	word := *medHeader(blockAddr)
	size := payloadBase(word)

	upperAddr := unsafe.Add(blockAddr, size)
	if upperWord := *medHeader(upperAddr); payloadBase(upperWord) != 0 && upperWord&flagFree != 0 {
		upperSize := payloadBase(upperWord)
		m.binRemove(binIndexForSize(upperSize), (*freeNode)(unsafe.Add(upperAddr, headerSize)))
		size += upperSize
	}

	if word&flagPrevMediumFree != 0 {
		lowerSize := *(*uintptr)(unsafe.Add(blockAddr, -int(headerSize)))
		lowerAddr := unsafe.Add(blockAddr, -int(lowerSize))
		m.binRemove(binIndexForSize(lowerSize), (*freeNode)(unsafe.Add(lowerAddr, headerSize)))
		blockAddr = lowerAddr
		size += lowerSize
	}

	pool := m.poolContaining(blockAddr)
	if pool != nil && size == poolPayloadSpan && pool != m.lastSeqFeedPool {
		m.releasePool(pool)
		m.arena.addBytes(-int64(poolSize))
		m.arena.recordRelease(m.debug)
		return
	}

	*medHeader(blockAddr) = packFlags(size, flagMedium|flagFree)
	*(*uintptr)(unsafe.Add(blockAddr, size-headerSize)) = size
	m.setUpperPrevFree(unsafe.Add(blockAddr, size))
	m.binInsert(binIndexForSize(size), (*freeNode)(unsafe.Add(blockAddr, headerSize)))
}

// resize attempts to satisfy a realloc of a medium block in place, per
// §4.E/§4.H: shrinking always succeeds, splitting the freed tail back
// into a bin once it reaches minMedium; growing succeeds only if the
// block's upper neighbor is free and together they cover newSize. ok
// is false when growth needs a copy to a new block.
func (m *medium) resize(p unsafe.Pointer, newSize uintptr) (q unsafe.Pointer, ok bool) {
	blockAddr := unsafe.Add(p, -int(headerSize))
	total := newSize + headerSize
	if total < minMedium {
		total = minMedium
	}
	total = alignUp(total, binGranule)

	m.lock.Lock(lockClassMediumOrLarge, m.spin, m.arena, m.debug)
	defer m.lock.Unlock()

	size := payloadBase(*medHeader(blockAddr))

	if total <= size {
		if size-total >= minMedium {
			remAddr := unsafe.Add(blockAddr, total)
			remSize := size - total
			*medHeader(remAddr) = packFlags(remSize, flagMedium|flagFree)
			*(*uintptr)(unsafe.Add(remAddr, remSize-headerSize)) = remSize
			m.setUpperPrevFree(unsafe.Add(remAddr, remSize))
			m.binInsert(binIndexForSize(remSize), (*freeNode)(unsafe.Add(remAddr, headerSize)))
			*medHeader(blockAddr) = packFlags(total, flagMedium)
		}
		return p, true
	}

	upperAddr := unsafe.Add(blockAddr, size)
	upperWord := *medHeader(upperAddr)
	upperSize := payloadBase(upperWord)
	if upperSize == 0 || upperWord&flagFree == 0 || size+upperSize < total {
		return nil, false
	}

	m.binRemove(binIndexForSize(upperSize), (*freeNode)(unsafe.Add(upperAddr, headerSize)))
	return m.grantOrSplit(blockAddr, size+upperSize, total), true
}

// growthTarget computes the copy-fallback growth target for a medium
// block whose realloc couldn't be satisfied in place: at least 25%
// over the old payload capacity, per §4.H.
func (m *medium) growthTarget(oldAvail, requested uintptr) uintptr {
	grown := oldAvail + oldAvail/4
	if requested > grown {
		return requested
	}
	return grown
}

func (m *medium) poolContaining(blockAddr unsafe.Pointer) *mediumPoolHeader {
	target := uintptr(blockAddr)
	for p := m.pools.sentinel.next; p != &m.pools.sentinel; p = p.next {
		base := uintptr(p.base)
		if target >= base && target < base+poolSize {
			return p
		}
	}
	return nil
}

func (m *medium) releasePool(pool *mediumPoolHeader) {
	pool.prev.next = pool.next
	pool.next.prev = pool.prev

	if err := m.freedPoolCache.Enqueue(&pool.base); err != nil {
		m.pages.release(pool.base, poolSize)
	}
}
