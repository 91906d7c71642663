// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/spin"
)

// queueCore holds the page management and tail/head cursors shared by
// Queue[T] and DynQueue. It is deliberately untyped: every element,
// regardless of static Go type, is placed behind the same control block
// and RuntimeType layout (see layout.go), so the lock-free algorithms
// below never need to know what they are carrying.
type queueCore struct {
	_ noCopy

	pageSource *SystemPageSource
	pagePool   PagePool
	pageSize   uintptr

	producerCardinality Cardinality
	consumerCardinality Cardinality
	consistency         Consistency

	// tailCursor is the absolute address of the control block the next
	// reservation will claim. Zero means the queue is virgin and has not
	// allocated its first page yet. While a reservation is mid-flight
	// under Multiple producer cardinality, the low allocGranularity-1
	// bits of the cursor hold that reservation's own unit count instead
	// of zero, letting any other producer reconstruct and finalize it
	// (see reserveTailMulti).
	tailCursor atomic.Uintptr

	// firstPage is the address of the first page ever linked into this
	// queue, set once by whichever producer wins the virgin-queue race.
	// The consumer side (head.go) uses it to bootstrap headCursor.
	firstPage atomic.Uintptr

	// headCursor is the absolute address of the control block the next
	// consume will attempt to claim. Semantics mirror tailCursor; see
	// head.go.
	headCursor atomic.Uintptr

	// values is the GC-visible home for every live slot's actual element;
	// see transaction.go's slotValue doc comment for why this exists
	// alongside, rather than inside, the raw page bytes.
	values valuesTable
}

func newQueueCore(pageSize uintptr, pageSource *SystemPageSource, producer, consumer Cardinality, consistency Consistency) *queueCore {
	return &queueCore{
		pageSource:          pageSource,
		pageSize:            pageSize,
		producerCardinality: producer,
		consumerCardinality: consumer,
		consistency:         consistency,
	}
}

func ceilDivUintptr(n, d uintptr) uintptr {
	return (n + d - 1) / d
}

// cleanTail strips an in-flight reservation's unit count from tail (see
// reserveTailMulti's doc comment), returning the control block address a
// producer is at or advancing from. It is a no-op on an already-clean
// tail, so callers that only want to compare against the current tail
// address, without caring whether a reservation is mid-flight, can use it
// unconditionally.
func cleanTail(tail uintptr) uintptr {
	return tail &^ (allocGranularity - 1)
}

// endControlOffsetAbs returns the absolute address of the end-of-page
// sentinel control block for the page containing addr.
func endControlOffsetAbs(addr, pageSize uintptr) uintptr {
	return pageBase(addr, pageSize) + endControlOffset(pageSize)
}

// requiredUnits computes how many allocGranularity units a reservation of
// size bytes aligned to align, stored after a control block and a
// RuntimeType slot, needs.
func requiredUnits(size, align uintptr) uintptr {
	if align < minAlignment {
		align = minAlignment
	}
	required := elementMinOffset + size + (align - minAlignment)
	return ceilDivUintptr(required, allocGranularity)
}

// allocatePage returns a page to extend the queue with, preferring a
// recycled page from pagePool over drawing a fresh one from pageSource. A
// recycled page is cleared first, so every page it returns is all-zero.
func (q *queueCore) allocatePage(guarantee ProgressGuarantee) (unsafe.Pointer, bool) {
	if p, ok := q.pagePool.Pop(); ok {
		clear(unsafe.Slice((*byte)(p), q.pageSize))
		return p, true
	}
	return q.pageSource.TryAllocatePage(guarantee)
}

// reserveTail claims requiredUnits*allocGranularity bytes at the tail of
// the queue, returning the control block address and an aligned payload
// pointer within it. It dispatches to the single- or multiple-producer
// protocol according to the queue's configured producer cardinality.
func (q *queueCore) reserveTail(guarantee ProgressGuarantee, size, align uintptr) (ctrl, payload unsafe.Pointer, ok bool) {
	if align < minAlignment {
		align = minAlignment
	}
	units := requiredUnits(size, align)
	if q.producerCardinality == Single {
		return q.reserveTailSingle(guarantee, units, align)
	}
	// reserveTailMulti's tail cursor packs an in-flight reservation's unit
	// count into the bits below allocGranularity (see its doc comment);
	// callers must never ask it to reserve more units than that scheme can
	// represent. startPut (transaction.go) routes anything this large
	// through the external block path instead, so this should never fire.
	if !fitsInline(units, q.pageSize) {
		return nil, nil, false
	}
	return q.reserveTailMulti(guarantee, units, align)
}

// reserveTailSingle is the non-atomic bump allocator used when exactly one
// goroutine ever produces into this queue. It still uses atomic.Uintptr
// for tailCursor so the consumer side (which may run concurrently) always
// observes a consistent value, but it never CASes: a single producer has
// no peer to race against.
func (q *queueCore) reserveTailSingle(guarantee ProgressGuarantee, units, align uintptr) (ctrl, payload unsafe.Pointer, ok bool) {
	for {
		tail := q.tailCursor.Load()
		if tail == 0 {
			page, ok := q.allocatePage(guarantee)
			if !ok {
				return nil, nil, false
			}
			q.tailCursor.Store(uintptr(page))
			q.firstPage.Store(uintptr(page))
			continue
		}
		pageEnd := endControlOffsetAbs(tail, q.pageSize)
		future := tail + units*allocGranularity
		if future <= pageEnd {
			ctrlPtr := unsafe.Pointer(tail)
			payloadPtr := unsafe.Pointer(upperAlign(tail+elementMinOffset, align))
			// Mark the slot itself busy: it is reserved but its payload
			// has not been committed yet. PutTransaction.Commit/Cancel
			// clears this (see transaction.go).
			(*controlBlock)(ctrlPtr).next.Store(future | ctrlBusy)
			q.tailCursor.Store(future)
			return ctrlPtr, payloadPtr, true
		}
		if tail < pageEnd {
			(*controlBlock)(unsafe.Pointer(tail)).next.Store(pageEnd | ctrlDead)
			q.tailCursor.Store(pageEnd)
			continue
		}
		page, ok := q.allocatePage(guarantee)
		if !ok {
			return nil, nil, false
		}
		(*controlBlock)(unsafe.Pointer(tail)).next.Store(uintptr(page))
		q.tailCursor.Store(uintptr(page))
		continue
	}
}

// reserveTailMulti is the lock-free, CAS-based multi-producer protocol,
// grounded in LFQueue_Tail::try_inplace_allocate_impl from the original
// density library. A clean tail cursor is always a multiple of
// allocGranularity. A producer in the middle of reserving units slots
// marks the tail in flight by adding units directly to a clean tail,
// rather than OR-ing in a single busy bit: since units is always strictly
// less than allocGranularity (see fitsInline), the low allocGranularity-1
// bits of the resulting value equal units exactly, and the high bits are
// still the reservation's starting address. Any other producer that reads
// this in-flight tail can therefore recompute precisely where the
// reservation will land — (tail-units) + units*allocGranularity — without
// any cooperation from the producer that started it, and race it to
// finalize the tail itself. That is what makes this genuinely lock-free:
// no producer ever waits on another specific goroutine to make progress.
func (q *queueCore) reserveTailMulti(guarantee ProgressGuarantee, units, align uintptr) (ctrl, payload unsafe.Pointer, ok bool) {
	var sw spin.Wait
	for {
		tail := q.tailCursor.Load()
		if tail == 0 {
			page, ok := q.allocatePage(guarantee)
			if !ok {
				return nil, nil, false
			}
			if q.tailCursor.CompareAndSwap(0, uintptr(page)) {
				q.firstPage.Store(uintptr(page))
			} else {
				q.pagePool.Push(page)
			}
			continue
		}

		if rest := tail & (allocGranularity - 1); rest != 0 {
			if !guarantee.mayHelp() {
				return nil, nil, false
			}
			q.helpStalledProducer(tail, rest)
			sw.Once()
			continue
		}

		pageEnd := endControlOffsetAbs(tail, q.pageSize)
		future := tail + units*allocGranularity
		if future <= pageEnd {
			transient := tail + units
			if !q.tailCursor.CompareAndSwap(tail, transient) {
				if guarantee == WaitFree {
					return nil, nil, false
				}
				sw.Once()
				continue
			}
			ctrlPtr := unsafe.Pointer(tail)
			payloadPtr := unsafe.Pointer(upperAlign(tail+elementMinOffset, align))
			// Mark the slot itself busy: it is reserved but its payload
			// has not been committed yet. PutTransaction.Commit/Cancel
			// clears this (see transaction.go). Finalizing the tail from
			// transient to future never needs this store: a helper
			// reconstructs future from transient's low bits alone.
			(*controlBlock)(ctrlPtr).next.Store(future | ctrlBusy)
			// A helper may have already raced this finalizing CAS to
			// completion; its target value is always exactly future, so
			// a failure here means there is nothing left to do.
			q.tailCursor.CompareAndSwap(transient, future)
			return ctrlPtr, payloadPtr, true
		}

		// pageOverflowMulti and getOrAllocateNextPage each advance
		// q.tailCursor themselves; there is nothing left to do here but
		// reload and retry the reservation against the new tail.
		if _, ok := q.pageOverflowMulti(guarantee, tail, pageEnd); !ok {
			return nil, nil, false
		}
	}
}

// pageOverflowMulti handles a reservation that does not fit in the
// current page: it either pads the remainder of the page with a dead
// placeholder slot, or, once the tail has reached the end-of-page
// sentinel, links or adopts the next page. Both branches advance
// q.tailCursor themselves; the caller only needs to reload and retry.
func (q *queueCore) pageOverflowMulti(guarantee ProgressGuarantee, tail, pageEnd uintptr) (uintptr, bool) {
	if tail < pageEnd {
		units := min((pageEnd-tail)/allocGranularity, allocGranularity-1)
		transient := tail + units
		future := tail + units*allocGranularity
		if !q.tailCursor.CompareAndSwap(tail, transient) {
			return tail, true // caller reloads and retries
		}
		(*controlBlock)(unsafe.Pointer(tail)).next.Store(future | ctrlDead)
		q.tailCursor.CompareAndSwap(transient, future)
		return future, true
	}
	return q.getOrAllocateNextPage(guarantee, tail)
}

// getOrAllocateNextPage links a new page onto the end-of-page sentinel at
// endControl, or adopts one a concurrent producer already linked. It pins
// endControl's page before reading or writing its next field, grounded in
// get_or_allocate_next_page's PinGuard in the original: this is the one
// place the tail side genuinely dereferences a page another goroutine
// could, in principle, be racing to reclaim.
func (q *queueCore) getOrAllocateNextPage(guarantee ProgressGuarantee, endControl uintptr) (uintptr, bool) {
	pin := q.pageSource.pin(endControl)
	defer pin.Release()

	if observed := q.tailCursor.Load(); observed != endControl {
		return cleanTail(observed), true
	}

	endCtrl := (*controlBlock)(unsafe.Pointer(endControl))
	if next := endCtrl.next.Load(); next != 0 {
		return next &^ ctrlFlagsMask, true
	}
	page, ok := q.allocatePage(guarantee)
	if !ok {
		return 0, false
	}
	newCtrl := uintptr(page)
	if !endCtrl.next.CompareAndSwap(0, newCtrl) {
		q.pagePool.Push(page)
		return endCtrl.next.Load() &^ ctrlFlagsMask, true
	}
	q.tailCursor.CompareAndSwap(endControl, newCtrl)
	return newCtrl, true
}

// helpStalledProducer reconstructs the reservation in flight at tail and
// finalizes the tail cursor on its owner's behalf. rest is tail's low
// allocGranularity-1 bits, which (see reserveTailMulti's doc comment) are
// already the owning producer's unit count; no read of that producer's
// control block, and no wait on it, is needed to compute where its
// reservation ends.
func (q *queueCore) helpStalledProducer(tail, rest uintptr) {
	clean := tail - rest
	future := clean + rest*allocGranularity
	q.tailCursor.CompareAndSwap(tail, future)
}
