// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// largeBlockCtrl is the out-of-band control structure for a large
// block. It sits immediately before the block's header word; the
// header word's non-flag bits hold a pointer back to this struct so
// FreeMem/MemSize/ReallocMem can dispatch generically from the header
// alone, the same way a small block's header holds a pointer to its
// owning pool.
type largeBlockCtrl struct {
	prev, next *largeBlockCtrl
	userSize   uintptr // what the caller asked for
	allocSize  uintptr // rounded OS mapping size, payload capacity = allocSize - headerSize - unsafe.Sizeof(largeBlockCtrl{})

	// cacheBucket/cacheSlot identify the largeCache slot reserved for
	// this mapping's eventual release, or cacheBucket == -1 if this
	// mapping's size falls outside the cached range.
	cacheBucket int
	cacheSlot   int

	// Pads the struct to 56 bytes so the payload behind the 8-byte
	// header word is 16-byte aligned.
	_ [8]byte
}

// largeBlocks is the process-wide sentinel of the circular doubly
// linked large-block list (§9: "sentinel is a stable field of the
// owning struct whose address is never stored in the heap").
type largeBlocks struct {
	lock     SpinLock
	sentinel largeBlockCtrl
	cache    *largeCache
	arena    *Arena
	pages    pageProvider
	spin     int
	debug    bool
}

func newLargeBlocks(arena *Arena, pages pageProvider, spin int, debug bool) *largeBlocks {
	lb := &largeBlocks{arena: arena, pages: pages, spin: spin, debug: debug, cache: newLargeCache()}
	lb.sentinel.prev = &lb.sentinel
	lb.sentinel.next = &lb.sentinel
	return lb
}

const largeCtrlOverhead = unsafe.Sizeof(largeBlockCtrl{}) + headerSize

func (lb *largeBlocks) isLargeRequest(size uintptr) bool {
	return size > maxMedium
}

func (lb *largeBlocks) get(size uintptr) unsafe.Pointer {
	alloc := pageRoundUp(size + largeCtrlOverhead)

	cacheBucket, cacheSlot := -1, 0
	var mem unsafe.Pointer
	if idx, nominal, ok := bucketFor(alloc); ok {
		if cached, slot, reserved := lb.cache.checkout(idx); reserved {
			cacheBucket, cacheSlot = idx, slot
			alloc = nominal
			if cached != nil {
				mem = cached
			}
		}
	}
	if mem == nil {
		mem = lb.pages.acquire(alloc)
		if mem == nil {
			return nil
		}
	}

	ctrl := (*largeBlockCtrl)(mem)
	ctrl.userSize = size
	ctrl.allocSize = alloc
	ctrl.cacheBucket = cacheBucket
	ctrl.cacheSlot = cacheSlot

	hdr := header(unsafe.Add(mem, unsafe.Sizeof(largeBlockCtrl{})+headerSize))
	*hdr = packFlags(uintptr(mem), flagLargeOrPoolUse)

	lb.lock.Lock(lockClassMediumOrLarge, lb.spin, lb.arena, lb.debug)
	ctrl.next = lb.sentinel.next
	ctrl.prev = &lb.sentinel
	lb.sentinel.next.prev = ctrl
	lb.sentinel.next = ctrl
	lb.arena.addBytes(int64(alloc))
	lb.arena.recordAcquire(lb.debug)
	lb.lock.Unlock()

	return payloadOf(unsafe.Pointer(hdr))
}

func (lb *largeBlocks) ctrlOf(p unsafe.Pointer) *largeBlockCtrl {
	hdr := header(p)
	return (*largeBlockCtrl)(unsafe.Pointer(payloadBase(*hdr)))
}

func (lb *largeBlocks) free(p unsafe.Pointer) {
	ctrl := lb.ctrlOf(p)
	base := unsafe.Pointer(ctrl)
	bucket, slot, allocSize := ctrl.cacheBucket, ctrl.cacheSlot, ctrl.allocSize

	lb.lock.Lock(lockClassMediumOrLarge, lb.spin, lb.arena, lb.debug)
	ctrl.prev.next = ctrl.next
	ctrl.next.prev = ctrl.prev
	lb.arena.addBytes(-int64(allocSize))
	lb.arena.recordRelease(lb.debug)
	lb.lock.Unlock()

	if bucket >= 0 {
		lb.cache.release(bucket, slot, base)
		return
	}
	lb.pages.release(base, allocSize)
}

func (lb *largeBlocks) size(p unsafe.Pointer) uintptr {
	return lb.ctrlOf(p).userSize
}

// growthTarget computes the new allocation target for an in-place or
// copying grow, per §4.D: 1/8 once the current payload exceeds 128
// MiB, 1/4 otherwise, never less than the requested size.
func growthTarget(oldAvail, requested uintptr) uintptr {
	const oneTwentyEightMiB = 128 << 20
	var grown uintptr
	if oldAvail > oneTwentyEightMiB {
		grown = oldAvail + oldAvail/8
	} else {
		grown = oldAvail + oldAvail/4
	}
	if requested > grown {
		return requested
	}
	return grown
}

func (lb *largeBlocks) realloc(p unsafe.Pointer, newSize uintptr) unsafe.Pointer {
	ctrl := lb.ctrlOf(p)
	oldAvail := ctrl.allocSize - largeCtrlOverhead

	switch {
	case newSize <= oldAvail/2:
		ctrl.userSize = newSize
		return p
	case newSize <= oldAvail:
		ctrl.userSize = newSize
		return p
	}

	target := growthTarget(oldAvail, newSize)
	newAlloc := pageRoundUp(target + largeCtrlOverhead)

	if lb.pages.remapSupported() {
		oldBucket, oldSlot := ctrl.cacheBucket, ctrl.cacheSlot
		oldAllocSize := ctrl.allocSize
		newMem, ok := lb.pages.remap(unsafe.Pointer(ctrl), ctrl.allocSize, newAlloc)
		if ok {
			if oldBucket >= 0 {
				lb.cache.invalidate(oldBucket, oldSlot)
			}
			newCtrl := (*largeBlockCtrl)(newMem)
			hdr := header(unsafe.Add(newMem, unsafe.Sizeof(largeBlockCtrl{})+headerSize))

			// newCtrl.prev/next still point at this block's live
			// neighbors (remap preserves content); fixing them up to
			// point at newCtrl's possibly-new address races every
			// other get/free/realloc walking the same list, so it
			// must happen under the same lock as the arena update.
			lb.lock.Lock(lockClassMediumOrLarge, lb.spin, lb.arena, lb.debug)
			newCtrl.userSize = newSize
			newCtrl.allocSize = newAlloc
			newCtrl.cacheBucket = -1
			newCtrl.cacheSlot = 0
			newCtrl.prev.next = newCtrl
			newCtrl.next.prev = newCtrl
			*hdr = packFlags(uintptr(newMem), flagLargeOrPoolUse)
			lb.arena.addBytes(int64(newAlloc) - int64(oldAllocSize))
			lb.lock.Unlock()

			return payloadOf(unsafe.Pointer(hdr))
		}
	}

	newPayload := lb.get(target)
	if newPayload == nil {
		return nil
	}
	lb.ctrlOf(newPayload).userSize = newSize
	n := min(oldAvail, newSize)
	dst := unsafe.Slice((*byte)(newPayload), n)
	src := unsafe.Slice((*byte)(p), n)
	copy(dst, src)
	lb.free(p)
	return newPayload
}
