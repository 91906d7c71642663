// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync/atomic"
	"unsafe"
)

// regionDefaultSize is the size of a region requested from the OS in one
// call. Regions are carved into pages of a queue's configured page size
// and are never returned to the OS for the lifetime of the process.
const regionDefaultSize = 4 << 20

// regionMinSize is the smallest region SystemPageSource will fall back to
// after repeated allocation failures, before giving up entirely.
func regionMinSize(pageSize uintptr) uintptr {
	return min(regionDefaultSize, 8*pageSize)
}

// region is one contiguous, page-aligned span of memory bump-allocated
// into fixed-size pages. Regions form a singly linked list; once linked, a
// region is never unlinked or freed, matching system_page_manager's
// lifetime contract in the original allocator.
type region struct {
	mem   []byte // keeps the backing allocation reachable for the GC
	start unsafe.Pointer
	end   unsafe.Pointer // start + len(mem), fixed
	curr  atomic.Uintptr // bump cursor, an address within [start, end]
	next  atomic.Pointer[region]

	// metas holds one pin counter per page this region can ever produce,
	// indexed by (pageAddr-start)/pageSize. It is sized once, up front,
	// so pinning never allocates and never touches the page's own bytes.
	metas    []pageMeta
	pageSize uintptr
}

func newRegion(size, pageSize uintptr) *region {
	mem := allocateRegionMemory(size, pageSize)
	base := unsafe.Pointer(unsafe.SliceData(mem))
	r := &region{
		mem:      mem,
		start:    base,
		end:      unsafe.Add(base, len(mem)),
		metas:    make([]pageMeta, size/pageSize),
		pageSize: pageSize,
	}
	r.curr.Store(uintptr(base))
	return r
}

// metaFor returns the pin counter for the page at addr, which must lie
// within this region.
func (r *region) metaFor(addr uintptr) *pageMeta {
	index := (addr - uintptr(r.start)) / r.pageSize
	return &r.metas[index]
}

func (r *region) contains(addr uintptr) bool {
	return addr >= uintptr(r.start) && addr < uintptr(r.end)
}

// bumpAllocate tries to carve one page of pageSize out of r. Returns nil,
// false if r has no room left.
func (r *region) bumpAllocate(pageSize uintptr) (unsafe.Pointer, bool) {
	end := uintptr(r.end)
	for {
		curr := r.curr.Load()
		if curr+pageSize > end {
			return nil, false
		}
		if r.curr.CompareAndSwap(curr, curr+pageSize) {
			return unsafe.Pointer(curr), true
		}
	}
}

// SystemPageSource is a lock-free source of fixed-size
// pages, grounded in the original density library's system_page_manager:
// it obtains memory from the OS (or, absent a privileged syscall, the Go
// heap) in multi-megabyte regions and bump-allocates pages out of each
// region until it is exhausted, at which point it grows by linking a new
// region. Regions are never freed while the source is alive.
//
// A SystemPageSource is safe for concurrent use by any number of
// goroutines and is typically shared by every queue with the same page
// size; NewQueue creates one per queue unless WithPageSource overrides it.
type SystemPageSource struct {
	pageSize   uintptr
	first      *region
	last       atomic.Pointer[region]
	nextRegion atomic.Uintptr // size to request for the next grown region
}

// NewSystemPageSource creates a page source that hands out pages of the
// given size. pageSize must be a power of two of at least minPageSize.
func NewSystemPageSource(pageSize uintptr) *SystemPageSource {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 || pageSize < minPageSize {
		panic("hetq: invalid page size")
	}
	first := newRegion(regionDefaultSize, pageSize)
	s := &SystemPageSource{pageSize: pageSize, first: first}
	s.last.Store(first)
	s.nextRegion.Store(regionDefaultSize)
	return s
}

// PageSize returns the fixed size of every page this source hands out.
func (s *SystemPageSource) PageSize() uintptr { return s.pageSize }

// regionFor returns the region that owns the page at addr. Pages are
// always located by walking the same singly linked list allocation uses;
// the list is short in practice (few regions per GiB of queue throughput).
func (s *SystemPageSource) regionFor(addr uintptr) *region {
	for r := s.first; r != nil; r = r.next.Load() {
		if r.contains(addr) {
			return r
		}
	}
	return nil
}

// PagesAreZeroed reports whether pages returned by TryAllocatePage are
// guaranteed to be all-zero. Both the Go heap allocator (make) and
// anonymous mmap zero-fill their memory, so this is always true here; the
// tail's page linking (getOrAllocateNextPage, tail.go) and the consumer
// walk (head.go) rely on it to observe an unwritten control block's next
// field as zero.
func (s *SystemPageSource) PagesAreZeroed() bool { return true }

// TryAllocatePage returns a new page, or (nil, false) if none could be
// obtained. Under LockFree or WaitFree, it never grows a region: it only
// succeeds if an existing region still has room, which keeps the call
// free of OS interaction and of unbounded retry loops.
func (s *SystemPageSource) TryAllocatePage(guarantee ProgressGuarantee) (unsafe.Pointer, bool) {
	for r := s.first; r != nil; r = r.next.Load() {
		if p, ok := r.bumpAllocate(s.pageSize); ok {
			return p, true
		}
	}
	if !guarantee.mayCallOS() {
		return nil, false
	}
	return s.grow()
}

// grow links a new region onto the end of the list and allocates the
// requesting page from it. On allocation failure it halves the requested
// region size down to regionMinSize before giving up.
func (s *SystemPageSource) grow() (unsafe.Pointer, bool) {
	size := s.nextRegion.Load()
	floor := regionMinSize(s.pageSize)
	for size >= floor {
		nr := s.tryAllocRegion(size)
		if nr != nil {
			if p, ok := nr.bumpAllocate(s.pageSize); ok {
				return p, true
			}
		}
		if size == floor {
			break
		}
		size = max(size/2, floor)
	}
	return nil, false
}

// tryAllocRegion allocates a region of the given size and links it onto
// the tail of the region list. If another goroutine links a region first,
// this one follows the list to its new end and links its own region after
// it, so the region allocated here is always kept and returned.
func (s *SystemPageSource) tryAllocRegion(size uintptr) *region {
	nr := newRegion(size, s.pageSize)
	for {
		tail := s.last.Load()
		existing := tail.next.Load()
		if existing != nil {
			s.last.CompareAndSwap(tail, existing)
			continue
		}
		if tail.next.CompareAndSwap(nil, nr) {
			s.last.CompareAndSwap(tail, nr)
			s.nextRegion.Store(size)
			return nr
		}
	}
}
