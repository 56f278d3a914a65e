// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import (
	"testing"
	"unsafe"
)

func newTestLargeBlocks() *largeBlocks {
	return newLargeBlocks(&Arena{}, defaultPageProvider, 1, false)
}

func TestLargeBlocks_GetFreeRoundTrip(t *testing.T) {
	lb := newTestLargeBlocks()
	const size = 10_000_000
	p := lb.get(size)
	if p == nil {
		t.Fatal("get() returned nil")
	}
	if got := lb.size(p); got != size {
		t.Errorf("size() = %d, want %d", got, size)
	}
	lb.free(p)
}

// TestLargeBlocks_ShrinkNoRealloc grounds §8 scenario 3: shrinking to
// more than half the current payload keeps the same pointer.
func TestLargeBlocks_ShrinkNoRealloc(t *testing.T) {
	lb := newTestLargeBlocks()
	p := lb.get(10_000_000)
	if p == nil {
		t.Fatal("get() returned nil")
	}

	np := lb.realloc(p, 9_000_000)
	if np != p {
		t.Errorf("realloc to 9,000,000 (>50%% of 10,000,000) returned a new pointer")
	}
	if got := lb.size(np); got != 9_000_000 {
		t.Errorf("size() after shrink = %d, want 9,000,000", got)
	}
	lb.free(np)
}

// TestLargeBlocks_ShrinkBelowThreshold grounds §8 scenario 4: a deep
// shrink may reallocate, but payload must survive the move.
func TestLargeBlocks_ShrinkBelowThreshold(t *testing.T) {
	lb := newTestLargeBlocks()
	p := lb.get(10_000_000)
	if p == nil {
		t.Fatal("get() returned nil")
	}
	b := unsafe.Slice((*byte)(p), 10_000_000)
	for i := range b[:4_000_000] {
		b[i] = byte(i)
	}

	np := lb.realloc(p, 4_000_000)
	if np == nil {
		t.Fatal("realloc to 4,000,000 returned nil")
	}
	got := unsafe.Slice((*byte)(np), 4_000_000)
	for i := range got {
		if got[i] != byte(i) {
			t.Fatalf("payload mismatch at byte %d: got %d, want %d", i, got[i], byte(i))
		}
	}
	lb.free(np)
}

func TestGrowthTarget(t *testing.T) {
	cases := []struct {
		oldAvail, requested, want uintptr
	}{
		{1000, 1100, 1250},              // 1/4 growth, and it covers the request
		{1000, 2000, 2000},              // requested exceeds 1/4 growth
		{200 << 20, 200<<20 + 1, 200<<20 + 200<<20/8},
	}
	for _, c := range cases {
		if got := growthTarget(c.oldAvail, c.requested); got != c.want {
			t.Errorf("growthTarget(%d, %d) = %d, want %d", c.oldAvail, c.requested, got, c.want)
		}
	}
}

func TestBucketFor(t *testing.T) {
	if _, _, ok := bucketFor(1 << 10); ok {
		t.Error("bucketFor(1KiB) should be outside the cached range")
	}
	idx, nominal, ok := bucketFor(1 << 18)
	if !ok || idx != 0 || nominal != 1<<18 {
		t.Errorf("bucketFor(256KiB) = (%d, %d, %v), want (0, %d, true)", idx, nominal, ok, uintptr(1<<18))
	}
	idx, nominal, ok = bucketFor(1<<18 + 1)
	if !ok || idx != 1 || nominal != 1<<19 {
		t.Errorf("bucketFor(256KiB+1) = (%d, %d, %v), want (1, %d, true)", idx, nominal, ok, uintptr(1<<19))
	}
	if _, _, ok := bucketFor(1 << 30); ok {
		t.Error("bucketFor(1GiB) should be outside the cached range")
	}
}

// TestLargeBlocks_CacheReuse warms every slot of one bucket's reuse
// cache (a bounded FIFO of largeCacheCap slots) and checks that the
// (largeCacheCap+1)th allocation of the same bucket's size reuses the
// very first mapping handed out, instead of mapping fresh memory.
func TestLargeBlocks_CacheReuse(t *testing.T) {
	lb := newTestLargeBlocks()

	var first unsafe.Pointer
	for i := 0; i <= largeCacheCap; i++ {
		p := lb.get(1 << 18)
		if p == nil {
			t.Fatalf("get() returned nil on round %d", i)
		}
		base := unsafe.Pointer(lb.ctrlOf(p))
		if i == 0 {
			first = base
		}
		if i == largeCacheCap && base != first {
			t.Errorf("round %d: base = %p, want reuse of round 0's base %p", i, base, first)
		}
		lb.free(p)
	}
}
