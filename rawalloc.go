// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "unsafe"

// rawRuntimeType describes a raw_allocate block: plain memory with no
// constructor or destructor, grounded in heterogeneous_queue's internal
// raw memory type. The caller owns whatever it writes there; Destroy is a
// no-op because there is nothing for it to tear down.
type rawRuntimeType struct {
	size  uintptr
	align uintptr
}

func (r rawRuntimeType) Size() uintptr        { return r.size }
func (r rawRuntimeType) Align() uintptr       { return r.align }
func (rawRuntimeType) Destroy(unsafe.Pointer) {}

// DynPutTransaction is a move-only handle to a reserved, not-yet-committed
// DynQueue slot, the untyped analogue of PutTransaction. Only DynQueue
// exposes RawAllocate: a Queue[T]'s consumer never inspects a claimed
// slot's RuntimeType before casting its value to T (see ConsumeOperation's
// Value), so a raw block interleaved into a Queue[T]'s own FIFO chain
// would be silently misread as a T. DynQueue's consumers always discover
// each slot's RuntimeType dynamically, so a raw block there is simply
// reported back with its own rawRuntimeType for the caller to recognise.
type DynPutTransaction struct {
	_         noCopy
	core      *queueCore
	ctrlAddr  uintptr
	rawAddrs  []uintptr
	committed bool
	cancelled bool
}

// startDynPushCopy is shared by DynStartPushCopy and its reentrant alias.
func (q *DynQueue) startDynPushCopy(guarantee ProgressGuarantee, rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	copier, ok := rt.(TypeCopier)
	if !ok {
		return nil, ErrMissingCopyOp
	}
	addr, dst, ok := startDynPut(q.core, guarantee, rt)
	if !ok {
		return nil, pushFailureError(guarantee)
	}
	copier.CopyConstruct(dst, src)
	return &DynPutTransaction{core: q.core, ctrlAddr: addr}, nil
}

// startDynPushMove is shared by DynStartPushMove and its reentrant alias.
func (q *DynQueue) startDynPushMove(guarantee ProgressGuarantee, rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	mover, hasMover := rt.(TypeMover)
	copier, hasCopier := rt.(TypeCopier)
	if !hasMover && !hasCopier {
		return nil, ErrMissingMoveOp
	}
	addr, dst, ok := startDynPut(q.core, guarantee, rt)
	if !ok {
		return nil, pushFailureError(guarantee)
	}
	if hasMover {
		mover.MoveConstruct(dst, src)
	} else {
		copier.CopyConstruct(dst, src)
		rt.Destroy(src)
	}
	return &DynPutTransaction{core: q.core, ctrlAddr: addr}, nil
}

// DynStartPushCopy reserves a slot for an element of the type described by
// rt, copy constructed from src, growing the page source if needed, and
// returns a transaction the caller must Commit or Cancel. If no slot can be
// reserved it returns an error wrapping ErrAllocationFailure without
// retrying.
func (q *DynQueue) DynStartPushCopy(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushCopy(Blocking, rt, src)
}

// DynTryStartPushCopy is the non-blocking variant of DynStartPushCopy.
func (q *DynQueue) DynTryStartPushCopy(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushCopy(LockFree, rt, src)
}

// DynStartPushMove reserves a slot for an element of the type described by
// rt, move constructed from src, growing the page source if needed, and
// returns a transaction the caller must Commit or Cancel. If no slot can be
// reserved it returns an error wrapping ErrAllocationFailure without
// retrying.
func (q *DynQueue) DynStartPushMove(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushMove(Blocking, rt, src)
}

// DynTryStartPushMove is the non-blocking variant of DynStartPushMove.
func (q *DynQueue) DynTryStartPushMove(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushMove(LockFree, rt, src)
}

// StartReentrantDynPushCopy is identical to DynStartPushCopy. The original
// library needs a distinct reentrant_put_transaction type because its
// ordinary put_transaction occupies a single embedded, non-reentrant fast
// slot that a nested push on the same queue cannot safely reuse while it
// is open; DynPutTransaction never holds that kind of queue-global state,
// so pushing again on the same DynQueue before committing or cancelling an
// open transaction already works without one. This alias exists for
// callers porting code written against the original's reentrant surface.
func (q *DynQueue) StartReentrantDynPushCopy(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushCopy(Blocking, rt, src)
}

// StartReentrantDynPushMove is StartReentrantDynPushCopy's move analogue;
// see its doc comment for why this port needs no separate reentrant type.
func (q *DynQueue) StartReentrantDynPushMove(rt RuntimeType, src unsafe.Pointer) (*DynPutTransaction, error) {
	return q.startDynPushMove(Blocking, rt, src)
}

// RawAllocate reserves size bytes of additional, untyped storage aligned
// to align, chained immediately after this transaction's element in FIFO
// order and committed or cancelled together with it, grounded in
// heterogeneous_queue::put_transaction::raw_allocate. The returned memory
// is never constructed or destroyed by the queue; the caller owns
// whatever it writes there. Oversized allocations are routed through the
// same external block path ordinary elements use.
func (t *DynPutTransaction) RawAllocate(size, align uintptr) unsafe.Pointer {
	t.guardFinish()
	if align < minAlignment {
		align = minAlignment
	}
	external := !fitsInline(requiredUnits(size, align), t.core.pageSize)

	var ctrl, payload unsafe.Pointer
	var ok bool
	if external {
		ctrl, payload, ok = t.core.reserveTail(Blocking, sizeOfExternalBlock, unsafe.Alignof(externalBlock{}))
	} else {
		ctrl, payload, ok = t.core.reserveTail(Blocking, size, align)
	}
	if !ok {
		panic(ErrEmptyTransaction)
	}
	rawAddr := uintptr(ctrl)
	sv := &slotValue{rt: rawRuntimeType{size: size, align: align}}
	dst := payload
	if external {
		sv.external = acquireExternalBlock(size, align)
		dst = sv.external.ptr
	}
	t.core.values.Store(rawAddr, sv)
	t.rawAddrs = append(t.rawAddrs, rawAddr)
	return dst
}

// RawAllocateCopy is RawAllocate followed by copying src's bytes into the
// new block, returning a pointer to the copy.
func (t *DynPutTransaction) RawAllocateCopy(src []byte) unsafe.Pointer {
	dst := t.RawAllocate(uintptr(len(src)), minAlignment)
	if len(src) > 0 {
		copy(unsafe.Slice((*byte)(dst), len(src)), src)
	}
	return dst
}

// Commit publishes the transaction's element and every block RawAllocate
// attached to it, in the same FIFO order they were reserved in.
func (t *DynPutTransaction) Commit() {
	t.guardFinish()
	commitPut(t.core, t.ctrlAddr)
	for _, addr := range t.rawAddrs {
		commitPut(t.core, addr)
	}
	t.committed = true
}

// Cancel discards the transaction's element and every block RawAllocate
// attached to it. The element's destructor runs before its slot is
// released.
func (t *DynPutTransaction) Cancel() {
	t.guardFinish()
	for i := len(t.rawAddrs) - 1; i >= 0; i-- {
		cancelPut(t.core, t.rawAddrs[i])
	}
	if sv, ok := t.core.values.Load(t.ctrlAddr); ok {
		sv.rt.Destroy(elementAddr(t.ctrlAddr, sv.rt, sv))
	}
	cancelPut(t.core, t.ctrlAddr)
	t.cancelled = true
}

func (t *DynPutTransaction) guardFinish() {
	if t.committed || t.cancelled {
		panic(ErrEmptyTransaction)
	}
}

// DynStartReentrantPop is identical to DynPop; see StartReentrantDynPushCopy's
// doc comment for why this port needs no separate reentrant consume type.
func (q *DynQueue) DynStartReentrantPop() *DynConsumeOperation {
	return q.DynPop()
}

// DynTryStartReentrantPop is the non-blocking variant of
// DynStartReentrantPop.
func (q *DynQueue) DynTryStartReentrantPop() (*DynConsumeOperation, error) {
	return q.DynTryPop()
}

// Iterate walks every live element currently in the queue, oldest first,
// calling yield with its RuntimeType and element address until yield
// returns false or the walk reaches the tail. It is a best-effort
// snapshot: concurrent producers and consumers are not suspended for it,
// so an element may be skipped or (if freshly committed past where the
// walk has already read) missed, the same non-linearised guarantee the
// original library's iterators make. Iterate never claims a slot, so it
// never races with a consumer over which of them gets to commit it.
func (q *DynQueue) Iterate(yield func(rt RuntimeType, data unsafe.Pointer) bool) {
	cur := q.core.headCursor.Load()
	if cur == 0 {
		cur = q.core.firstPage.Load()
	}
	if cur == 0 {
		return
	}
	for {
		pin := q.core.pageSource.pin(cur)
		ctrl := (*controlBlock)(unsafe.Pointer(cur))
		raw := ctrl.next.Load()
		pin.Release()
		flags := raw & ctrlFlagsMask
		next := raw &^ ctrlFlagsMask

		if cur == endControlOffsetAbs(cur, q.core.pageSize) {
			if next == 0 {
				return
			}
			cur = next
			continue
		}
		if flags&(ctrlDead|ctrlBusy) != 0 {
			if next == 0 {
				return
			}
			cur = next
			continue
		}
		if next == 0 && cur == cleanTail(q.core.tailCursor.Load()) {
			return
		}
		if sv, ok := q.core.values.Load(cur); ok {
			if !yield(sv.rt, elementAddr(cur, sv.rt, sv)) {
				return
			}
		}
		if next == 0 {
			return
		}
		cur = next
	}
}
