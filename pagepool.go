// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync/atomic"
	"unsafe"
)

// PagePool is a lock-free free list of pages that have been fully
// consumed and unpinned, ready to be handed back out by a queue's tail
// state machine instead of drawing a fresh page from the SystemPageSource.
// It is a plain Treiber stack: the "next" link for a free page is written
// into the page's own first machine word, which is safe because a page
// only ever enters the pool once nothing in it is live and no pin is
// outstanding.
//
// PagePool does not itself validate that precondition; head.go's
// reclamation sweep is responsible for only calling Push once a page's
// trailing run of dead slots reaches its end and SystemPageSource reports
// no outstanding pin.
type PagePool struct {
	_   noCopy
	top atomic.Uintptr
}

// Push returns page to the pool for reuse. page must point to the base of
// a page of the pool owner's configured page size, with no live elements
// and no outstanding pin.
func (p *PagePool) Push(page unsafe.Pointer) {
	next := (*atomic.Uintptr)(page)
	for {
		top := p.top.Load()
		next.Store(top)
		if p.top.CompareAndSwap(top, uintptr(page)) {
			return
		}
	}
}

// Pop removes and returns a page from the pool, or (nil, false) if the
// pool is currently empty.
func (p *PagePool) Pop() (unsafe.Pointer, bool) {
	for {
		top := p.top.Load()
		if top == 0 {
			return nil, false
		}
		next := (*atomic.Uintptr)(unsafe.Pointer(top)).Load()
		if p.top.CompareAndSwap(top, next) {
			return unsafe.Pointer(top), true
		}
	}
}
