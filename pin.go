// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "sync/atomic"

// pageMeta is the out-of-band hazard-pointer-style state tracked for one
// page, stored in its owning region's metas slice rather than inside the
// page itself: every byte of the page proper is slot space, and a page's
// address must trivially recover its base by masking, which storing
// bookkeeping inline would break.
//
// _ pads each entry out to a full cache line: metas are indexed
// consecutively by adjacent pages, and a consumer pinning one page while a
// producer helps a stalled peer on the next would otherwise ping-pong the
// same cache line between cores on every pin/unpin.
type pageMeta struct {
	pins atomic.Int32
	_    [CacheLineSize - 4]byte
}

// pinPage increments the pin count for the page containing addr and
// returns the page's pin counter to pass to unpinPage. It always succeeds: pinning is
// a plain atomic increment, which is wait-free by construction, so it
// never needs a progress guarantee argument.
func (s *SystemPageSource) pinPage(addr uintptr) *pageMeta {
	r := s.regionFor(addr)
	if r == nil {
		panic("hetq: pin of address outside any known region")
	}
	base := pageBase(addr, s.pageSize)
	m := r.metaFor(base)
	m.pins.Add(1)
	return m
}

func (s *SystemPageSource) unpinPage(m *pageMeta) {
	if m.pins.Add(-1) < 0 {
		panic("hetq: unpin without matching pin")
	}
}

// pinned reports whether any goroutine currently holds a pin on the page
// containing addr. A page may only be pushed onto the free list, and its
// memory reused for a new page, once this is false and it is known no
// live slots remain in it.
func (s *SystemPageSource) pinned(addr uintptr) bool {
	r := s.regionFor(addr)
	if r == nil {
		return false
	}
	return r.metaFor(pageBase(addr, s.pageSize)).pins.Load() > 0
}

// pageBase rounds addr down to the start of its pageSize-aligned page.
func pageBase(addr, pageSize uintptr) uintptr {
	return addr &^ (pageSize - 1)
}

// pagePin is a scoped guard: Release is safe to call multiple times and
// safe to defer unconditionally, matching the original library's
// PinGuard, which always unpins on every exit path of a function.
type pagePin struct {
	source   *SystemPageSource
	meta     *pageMeta
	released bool
}

func (s *SystemPageSource) pin(addr uintptr) *pagePin {
	return &pagePin{source: s, meta: s.pinPage(addr)}
}

func (p *pagePin) Release() {
	if p.released {
		return
	}
	p.released = true
	p.source.unpinPage(p.meta)
}
