// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/spin"
)

// tryConsume claims the next live, uncommitted-busy slot in FIFO order,
// returning the address of its control block. The caller (transaction.go)
// is responsible for reading the slot's RuntimeType and element pointer
// out of the claimed control block and for eventually calling
// commitConsume or cancelConsume exactly once.
func (q *queueCore) tryConsume(guarantee ProgressGuarantee) (ctrlAddr uintptr, ok bool) {
	if q.consumerCardinality == Single {
		return q.tryConsumeSingle()
	}
	return q.tryConsumeMulti(guarantee)
}

// tryConsumeSingle is the non-CAS walk used when exactly one goroutine
// ever consumes from this queue.
func (q *queueCore) tryConsumeSingle() (uintptr, bool) {
	cur := q.bootstrapHead()
	if cur == 0 {
		return 0, false
	}
	for {
		pin := q.pageSource.pin(cur)
		ctrl := (*controlBlock)(unsafe.Pointer(cur))
		raw := ctrl.next.Load()
		pin.Release()
		flags := raw & ctrlFlagsMask
		next := raw &^ ctrlFlagsMask

		if cur == endControlOffsetAbs(cur, q.pageSize) {
			if next == 0 {
				q.headCursor.Store(cur)
				return 0, false
			}
			cur = next
			continue
		}
		if flags&ctrlDead != 0 {
			q.headCursor.Store(next)
			cur = next
			continue
		}
		if flags&ctrlBusy != 0 {
			// Producer still writing; a single consumer has nothing
			// else to try, so report empty rather than spin.
			q.headCursor.Store(cur)
			return 0, false
		}
		if cur == cleanTail(q.tailCursor.Load()) && next == 0 {
			q.headCursor.Store(cur)
			return 0, false
		}
		pin = q.pageSource.pin(cur)
		ctrl.next.Store(raw | ctrlBusy)
		pin.Release()
		return cur, true
	}
}

// tryConsumeMulti is the lock-free, CAS-based multi-consumer walk.
func (q *queueCore) tryConsumeMulti(guarantee ProgressGuarantee) (uintptr, bool) {
	var sw spin.Wait
	cur := q.bootstrapHead()
	if cur == 0 {
		return 0, false
	}
	for {
		pin := q.pageSource.pin(cur)
		ctrl := (*controlBlock)(unsafe.Pointer(cur))
		raw := ctrl.next.Load()
		flags := raw & ctrlFlagsMask
		next := raw &^ ctrlFlagsMask

		if cur == endControlOffsetAbs(cur, q.pageSize) {
			pin.Release()
			if next == 0 {
				return 0, false
			}
			q.headCursor.CompareAndSwap(cur, next)
			cur = next
			continue
		}

		if flags&ctrlDead != 0 {
			pin.Release()
			q.headCursor.CompareAndSwap(cur, next)
			cur = next
			continue
		}

		if flags&ctrlBusy != 0 {
			pin.Release()
			if !guarantee.mayHelp() {
				return 0, false
			}
			sw.Once()
			cur = q.headCursor.Load()
			continue
		}

		if next == 0 && cur == cleanTail(q.tailCursor.Load()) {
			pin.Release()
			return 0, false
		}

		claimed := ctrl.next.CompareAndSwap(raw, raw|ctrlBusy)
		pin.Release()
		if !claimed {
			sw.Once()
			cur = q.headCursor.Load()
			continue
		}
		return cur, true
	}
}

// bootstrapHead resolves headCursor, initialising it from the queue's
// first page on the first call.
func (q *queueCore) bootstrapHead() uintptr {
	if cur := q.headCursor.Load(); cur != 0 {
		return cur
	}
	first := q.firstPage.Load()
	if first == 0 {
		return 0
	}
	q.headCursor.CompareAndSwap(0, first)
	return q.headCursor.Load()
}

// commitConsume marks the claimed slot at ctrlAddr dead (fully consumed)
// and attempts to reclaim any now-fully-dead, unpinned pages behind the
// head. Any destructor must already have been run by the caller;
// commitConsume itself never touches element bytes, only flags.
func (q *queueCore) commitConsume(ctrlAddr uintptr) {
	ctrl := (*controlBlock)(unsafe.Pointer(ctrlAddr))
	raw := ctrl.next.Load()
	next := raw &^ ctrlFlagsMask
	ctrl.next.Store(next | ctrlDead)
	q.reclaim()
}

// cancelConsume releases the claim on ctrlAddr without destroying or
// marking dead: the slot remains live and consumable by a future attempt.
func (q *queueCore) cancelConsume(ctrlAddr uintptr) {
	ctrl := (*controlBlock)(unsafe.Pointer(ctrlAddr))
	raw := ctrl.next.Load()
	ctrl.next.Store(raw &^ ctrlBusy)
}

// reclaim walks forward from headCursor while the current block is dead,
// and once a page boundary has been fully crossed behind a trailing run
// of dead blocks with no outstanding pin, returns that page to the pool.
// It is always a best-effort, non-blocking pass: a pinned or busy page is
// simply left for a future call to retry.
func (q *queueCore) reclaim() {
	cur := q.headCursor.Load()
	if cur == 0 {
		return
	}
	pageStart := pageBase(cur, q.pageSize)
	for {
		ctrl := (*controlBlock)(unsafe.Pointer(cur))
		raw := ctrl.next.Load()
		flags := raw & ctrlFlagsMask
		next := raw &^ ctrlFlagsMask

		atSentinel := cur == endControlOffsetAbs(cur, q.pageSize)
		if atSentinel {
			if next == 0 {
				return
			}
			if q.pageSource.pinned(pageStart) {
				return
			}
			if !q.headCursor.CompareAndSwap(cur, next) {
				return
			}
			q.pagePool.Push(unsafe.Pointer(pageStart))
			cur = next
			pageStart = pageBase(cur, q.pageSize)
			continue
		}

		if flags&ctrlDead == 0 {
			return
		}
		if !q.headCursor.CompareAndSwap(cur, next) {
			return
		}
		cur = next
	}
}
