// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"math/bits"
	"unsafe"
)

// largeCacheMinShift/largeCacheBuckets bound the power-of-two mapping
// sizes the large block manager keeps a reuse cache for: 256 KiB up to
// 64 MiB. Requests outside this range always go straight to the page
// provider, since a region that large is rarely freed and reallocated
// at a matching size.
const (
	largeCacheMinShift = 18 // 256 KiB
	largeCacheBuckets  = 9  // ..64 MiB
	largeCacheCap      = 4  // reusable mappings retained per bucket
)

// largeCache retains a handful of recently freed large-block
// mappings per power-of-two size bucket, so a churny alloc/free cycle
// of similarly sized large blocks doesn't pay for mmap/munmap on every
// round trip. It is built on BoundedPool, adapted from a plain
// object-checkout pool into a give-back cache: Get() checks out a slot
// (which may or may not already hold a reusable mapping), Put() donates
// one back without ever unmapping it.
type largeCache struct {
	buckets [largeCacheBuckets]*BoundedPool[unsafe.Pointer]
}

func newLargeCache() *largeCache {
	lc := &largeCache{}
	for i := range lc.buckets {
		p := NewBoundedPool[unsafe.Pointer](largeCacheCap)
		p.SetNonblock(true)
		p.Fill(func() unsafe.Pointer { return nil })
		lc.buckets[i] = p
	}
	return lc
}

// bucketFor returns the cache bucket index and nominal mapping size for
// allocSize, or ok=false if allocSize falls outside the cached range.
func bucketFor(allocSize uintptr) (idx int, nominal uintptr, ok bool) {
	shift := bits.Len64(uint64(allocSize) - 1)
	if shift < largeCacheMinShift || shift-largeCacheMinShift >= largeCacheBuckets {
		return 0, 0, false
	}
	idx = shift - largeCacheMinShift
	return idx, uintptr(1) << uint(shift), true
}

// checkout reserves a cache slot for a mapping of exactly nominal bytes,
// returning a previously cached mapping's base (reusable immediately)
// or nil if none was cached (the caller must mmap). ok is false if the
// bucket has no free slot to track right now, meaning the caller should
// mmap without going through the cache at all.
func (lc *largeCache) checkout(idx int) (cached unsafe.Pointer, slot int, ok bool) {
	slot, err := lc.buckets[idx].Get()
	if err != nil {
		return nil, 0, false
	}
	return lc.buckets[idx].Value(slot), slot, true
}

// release returns base to bucket idx's cache for the next checkout to
// reuse, in place of unmapping it.
func (lc *largeCache) release(idx, slot int, base unsafe.Pointer) {
	lc.buckets[idx].SetValue(slot, base)
	_ = lc.buckets[idx].Put(slot)
}

// invalidate returns a checked-out slot to bucket idx without donating
// a mapping, used when a remap moves a cached mapping's memory out from
// under its reservation (the new mapping is too large to trust in the
// old bucket's nominal size, so it is tracked uncached from here on).
func (lc *largeCache) invalidate(idx, slot int) {
	lc.buckets[idx].SetValue(slot, nil)
	_ = lc.buckets[idx].Put(slot)
}
