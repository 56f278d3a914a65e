// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package heap

import "unsafe"

// Heap is one independent allocator instance. The zero value is not
// usable; construct one with New.
type Heap struct {
	cfg  Config
	spin int

	mediumArena *Arena
	largeArena  *Arena

	medium *medium
	large  *largeBlocks
	tiny   *tinyFrontEnd
	small  [numSmallClasses]*smallBlockType // only classes >= tiny.classes are populated
}

// noRemapPageProvider wraps a pageProvider to always report remap as
// unsupported, for WithNoRemap.
type noRemapPageProvider struct{ pageProvider }

func (noRemapPageProvider) remap(unsafe.Pointer, uintptr, uintptr) (unsafe.Pointer, bool) {
	return nil, false
}

func (noRemapPageProvider) remapSupported() bool { return false }

// New constructs an independent Heap. Most processes only need one;
// construct more only to isolate subsystems with distinct memory
// profiles from each other's contention and pool growth.
func New(opts ...Option) *Heap {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	spin := cfg.effectiveSpinFactor()

	pages := defaultPageProvider
	if cfg.NoRemap {
		pages = noRemapPageProvider{pages}
	}

	mArena := &Arena{}
	lArena := &Arena{}

	h := &Heap{
		cfg:         cfg,
		spin:        spin,
		mediumArena: mArena,
		largeArena:  lArena,
		medium:      newMedium(mArena, pages, spin, cfg.Debug),
		large:       newLargeBlocks(lArena, pages, spin, cfg.Debug),
		tiny:        newTinyFrontEnd(cfg.Boost),
	}
	for c := h.tiny.classes; c < numSmallClasses; c++ {
		h.small[c] = newSmallBlockType(c)
	}
	for _, t := range h.allSmallTypes() {
		t.upgrade[0] = h.representativeClass(t.classIndex + 1)
		t.upgrade[1] = h.representativeClass(t.classIndex + 2)
	}
	return h
}

// representativeClass returns a smallBlockType instance for class idx
// to use as an opportunistic-upgrade target, or nil if idx is out of
// range. Any tiny-arena replica serves equally well since an upgrade
// only needs *a* lock on the class, not a specific replica.
func (h *Heap) representativeClass(idx int) *smallBlockType {
	if idx < 0 || idx >= numSmallClasses {
		return nil
	}
	if h.tiny.handles(idx) {
		return h.tiny.types[idx][0]
	}
	return h.small[idx]
}

// Default is the package-level heap used by GetMem, AllocMem, FreeMem,
// ReallocMem, and MemSize, the way a process typically wants exactly
// one allocator instance.
var Default = New()

func GetMem(size int) (unsafe.Pointer, error)   { return Default.GetMem(size) }
func AllocMem(size int) (unsafe.Pointer, error) { return Default.AllocMem(size) }
func FreeMem(p unsafe.Pointer) error            { return Default.FreeMem(p) }
func ReallocMem(p unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	return Default.ReallocMem(p, newSize)
}
func MemSize(p unsafe.Pointer) int { return Default.MemSize(p) }

// classType returns the smallBlockType that should serve class idx,
// consulting the tiny front-end's round-robin replicas first.
func (h *Heap) classType(idx int) *smallBlockType {
	if h.tiny.handles(idx) {
		return h.tiny.pick(idx)
	}
	return h.small[idx]
}

// GetMem returns size bytes of uninitialized, 16-byte aligned memory.
// For size <= 0 it allocates nothing and returns nil and a nil error.
func (h *Heap) GetMem(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, nil
	}
	usize := uintptr(size)

	if classIdx, ok := classForSize(size); ok {
		p := h.classType(classIdx).get(h.medium, h.spin, h.cfg.Debug)
		if p == nil {
			return nil, ErrOutOfMemory
		}
		return p, nil
	}

	if h.large.isLargeRequest(usize) {
		p := h.large.get(usize)
		if p == nil {
			return nil, ErrOutOfMemory
		}
		return p, nil
	}

	p := h.medium.get(usize)
	if p == nil {
		return nil, ErrOutOfMemory
	}
	return p, nil
}

// AllocMem returns size bytes of zero-initialized memory.
func (h *Heap) AllocMem(size int) (unsafe.Pointer, error) {
	p, err := h.GetMem(size)
	if err != nil || p == nil {
		return nil, err
	}
	n := h.MemSize(p)
	if n > 0 {
		clear(unsafe.Slice((*byte)(p), n))
	}
	return p, nil
}

// blockKind classifies a header word's ownership bits.
type blockKind int

const (
	kindSmall blockKind = iota
	kindMediumPlain
	kindMediumPoolCarrier
	kindLarge
)

func classify(word uintptr) blockKind {
	switch word & (flagMedium | flagLargeOrPoolUse) {
	case flagLargeOrPoolUse:
		return kindLarge
	case flagMedium | flagLargeOrPoolUse:
		return kindMediumPoolCarrier
	case flagMedium:
		return kindMediumPlain
	default:
		return kindSmall
	}
}

// FreeMem releases a block obtained from GetMem, AllocMem, or
// ReallocMem. Freeing nil is a no-op; freeing a stale pointer, a
// pointer already freed, or any pointer not obtained from this heap
// returns ErrInvalidFree and leaves the block untouched.
func (h *Heap) FreeMem(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	hdr := header(p)
	word := *hdr
	if word&flagFree != 0 {
		return ErrInvalidFree
	}

	if h.cfg.ReportLeaks {
		*(*uintptr)(p) = 0
	}

	switch classify(word) {
	case kindLarge:
		h.large.free(p)
	case kindMediumPlain:
		h.medium.free(p)
	case kindMediumPoolCarrier:
		return ErrInvalidFree
	default:
		pool := (*smallPoolHeader)(unsafe.Pointer(payloadBase(word)))
		pool.owner.free(h.medium, p, h.spin, h.cfg.Debug)
	}
	return nil
}

// MemSize returns the payload capacity of a live block, which may be
// larger than what was requested (small-class rounding, medium split
// remainder, or large-block growth headroom).
func (h *Heap) MemSize(p unsafe.Pointer) int {
	word := *header(p)
	switch classify(word) {
	case kindLarge:
		return int(h.large.ctrlOf(p).allocSize - largeCtrlOverhead)
	case kindMediumPlain, kindMediumPoolCarrier:
		return int(payloadBase(word) - headerSize)
	default:
		pool := (*smallPoolHeader)(unsafe.Pointer(payloadBase(word)))
		return int(pool.owner.payloadCapacity())
	}
}

// ReallocMem resizes a live block to newSize bytes, preserving the
// lesser of the old and new sizes' worth of content. It may return a
// different pointer than p; p must not be used again after the call,
// whether or not it equals the result.
func (h *Heap) ReallocMem(p unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	if p == nil {
		return h.GetMem(newSize)
	}
	if newSize <= 0 {
		_ = h.FreeMem(p)
		return nil, nil
	}

	word := *header(p)
	if word&flagFree != 0 {
		return nil, ErrInvalidFree
	}

	switch classify(word) {
	case kindLarge:
		np := h.large.realloc(p, uintptr(newSize))
		if np == nil {
			return nil, ErrOutOfMemory
		}
		return np, nil
	case kindMediumPlain:
		return h.reallocMedium(p, uintptr(newSize))
	case kindMediumPoolCarrier:
		return nil, ErrInvalidFree
	default:
		return h.reallocSmall(p, newSize)
	}
}

// reallocMedium resizes a medium block per §4.E/§4.H: in place when
// the block can shrink or absorb its free upper neighbor, otherwise a
// copy to a block at least 25% larger than the old payload.
func (h *Heap) reallocMedium(p unsafe.Pointer, newSize uintptr) (unsafe.Pointer, error) {
	if newSize <= maxMedium {
		if q, ok := h.medium.resize(p, newSize); ok {
			return q, nil
		}
	}

	oldAvail := h.medium.blockSize(p) - headerSize
	target := h.medium.growthTarget(oldAvail, newSize)
	np, err := h.GetMem(int(target))
	if err != nil {
		return nil, err
	}
	copy(unsafe.Slice((*byte)(np), oldAvail), unsafe.Slice((*byte)(p), oldAvail))
	_ = h.FreeMem(p)
	return np, nil
}

// reallocSmall resizes a small/tiny block. A request that still fits
// the current slot is a no-op; growth always copies to a block at
// least 100%+32B larger than the old payload, per §4.H.
func (h *Heap) reallocSmall(p unsafe.Pointer, newSize int) (unsafe.Pointer, error) {
	oldAvail := h.MemSize(p)
	if newSize <= oldAvail {
		return p, nil
	}

	target := 2*oldAvail + 32
	if newSize > target {
		target = newSize
	}

	np, err := h.GetMem(target)
	if err != nil {
		return nil, err
	}
	copy(unsafe.Slice((*byte)(np), oldAvail), unsafe.Slice((*byte)(p), oldAvail))
	_ = h.FreeMem(p)
	return np, nil
}

// CurrentHeapStatus reports a point-in-time snapshot of every counter
// the allocator tracks.
func (h *Heap) CurrentHeapStatus() HeapStatus {
	st := HeapStatus{
		Medium: h.mediumArena.snapshot(),
		Large:  h.largeArena.snapshot(),
	}
	for _, t := range h.allSmallTypes() {
		st.SmallGetSleepCount += t.getSleep.Load()
		st.SmallFreeSleepCount += t.freeSleep.Load()
		st.SmallBlockCount += int64(t.getCount) - int64(t.freeCount)
		st.SmallBlockBytes += (int64(t.getCount) - int64(t.freeCount)) * int64(t.blockSize)
	}
	st.TotalSleepCount = st.Medium.SleepCount + st.Large.SleepCount +
		st.SmallGetSleepCount + st.SmallFreeSleepCount
	return st
}

// allSmallTypes enumerates every smallBlockType instance backing this
// heap: every tiny-front-end replica, plus one per non-replicated
// class.
func (h *Heap) allSmallTypes() []*smallBlockType {
	out := make([]*smallBlockType, 0, numSmallClasses+h.tiny.classes*(h.tiny.arenas-1))
	for c := 0; c < h.tiny.classes; c++ {
		out = append(out, h.tiny.types[c]...)
	}
	for c := h.tiny.classes; c < numSmallClasses; c++ {
		out = append(out, h.small[c])
	}
	return out
}
