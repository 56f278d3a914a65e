// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package heap implements a multi-threaded, size-classed heap allocator
// for long-running 64-bit services that churn through large numbers of
// small objects — connection buffers, RPC frames, codec scratch space —
// with less lock contention than routing every allocation through the
// garbage collector.
//
// # Size Classes
//
// Requests are routed by size into four tiers:
//
//	Tier    Range            Backing
//	────    ─────            ───────
//	Tiny    <= 128 B         round-robin fan-out over replicated arenas
//	Small   <= 2,608 B       46 fixed size classes, pooled slots
//	Medium  <= ~264 KB       binned free lists inside 1.25 MiB pools
//	Large   > ~264 KB        individual OS-backed mappings, resizable in place
//
// Tiny and small requests share the same size-class machinery; tiny
// requests are additionally spread across independent copies (8, or 32
// with WithBoost) of the smallest classes to cut contention on hot
// allocation sites.
// Medium pools host both medium-sized user blocks and the slot pools
// backing small/tiny classes. Large blocks are requested directly from
// the OS page provider and, where the platform allows, grown or shrunk
// in place via page remapping instead of copying.
//
// # Concurrency
//
// Every shared structure (a size class, the medium pool bookkeeping, the
// large block list) is protected by an independent spin-then-yield lock
// (see SpinLock); a thread never holds more than one lock at a time
// except while a size class carves a new small-block pool out of the
// medium manager or hands a drained one back to it, which is the only
// lock-nesting order (size class, then medium) the allocator ever takes.
//
// # Getting Started
//
//	h := heap.New()
//	p, err := h.GetMem(64)
//	if err != nil {
//	    // out of memory
//	}
//	defer h.FreeMem(p)
//
// A package-level Default heap is also available for callers that don't
// need multiple isolated heaps in one process.
//
// # Dependencies
//
// heap depends on:
//   - spin: bounded CPU-pause spin primitive backing every lock's fast phase
//   - iox: semantic errors and adaptive backoff for the yield-on-contention phase
//   - atomix: ordered atomics for statistics and the tiny round-robin cursor
//   - lfq: bounded lock-free queue of base pointers caching recently freed medium pools
//   - golang.org/x/sys: raw mmap/munmap/mremap bindings for the page provider
package heap
