// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync"
	"unsafe"
)

// slotValue is what the shadow table (queueCore.values) holds for a live
// slot: the value itself, boxed, plus enough of its RuntimeType to
// destroy it correctly on commit. Go's garbage collector cannot safely
// trace a pointer-containing Go value's bytes once they have been copied
// into the raw, untyped backing array a page is carved from (make([]byte,
// ...) is opaque to the GC's pointer scanner); the shadow table is the
// actual GC root for every live element, while the in-page control block
// chain remains the source of truth for order, capacity and reclamation.
// See DESIGN.md for the fuller rationale.
type slotValue struct {
	rt       RuntimeType
	value    any
	external *externalBlock
}

// startPut reserves a slot in core's tail for an element described by rt
// and records value as that slot's live content. It returns the control
// block address to pass to commitPut/cancelPut, or ok=false if guarantee
// forbade completing the reservation.
func startPut(core *queueCore, guarantee ProgressGuarantee, rt RuntimeType, value any) (ctrlAddr uintptr, ok bool) {
	size, align := rt.Size(), rt.Align()
	external := !fitsInline(requiredUnits(size, align), core.pageSize)

	var ctrl unsafe.Pointer
	if external {
		ctrl, _, ok = core.reserveTail(guarantee, sizeOfExternalBlock, unsafe.Alignof(externalBlock{}))
	} else {
		ctrl, _, ok = core.reserveTail(guarantee, size, align)
	}
	if !ok {
		return 0, false
	}
	addr := uintptr(ctrl)

	sv := &slotValue{rt: rt, value: value}
	if external {
		sv.external = acquireExternalBlock(size, align)
	}
	core.values.Store(addr, sv)
	return addr, true
}

// startDynPut reserves a slot for a DynQueue element described by rt and
// returns the address the caller should construct the element at: either
// the in-page payload reserveTail carved out, or an external block's own
// backing buffer when rt is too large to fit inline. Unlike startPut,
// startDynPut never boxes the element bytes into the shadow table: DynQueue
// elements are contractually pointer-free (see dynqueue.go), so the bytes
// need no GC-visible home of their own, only rt and, for an external slot,
// its release closure do.
func startDynPut(core *queueCore, guarantee ProgressGuarantee, rt RuntimeType) (ctrlAddr uintptr, dst unsafe.Pointer, ok bool) {
	size, align := rt.Size(), rt.Align()
	external := !fitsInline(requiredUnits(size, align), core.pageSize)

	var ctrl, payload unsafe.Pointer
	if external {
		ctrl, payload, ok = core.reserveTail(guarantee, sizeOfExternalBlock, unsafe.Alignof(externalBlock{}))
	} else {
		ctrl, payload, ok = core.reserveTail(guarantee, size, align)
	}
	if !ok {
		return 0, nil, false
	}
	addr := uintptr(ctrl)

	sv := &slotValue{rt: rt}
	if external {
		sv.external = acquireExternalBlock(size, align)
		dst = sv.external.ptr
	} else {
		dst = payload
	}
	core.values.Store(addr, sv)
	return addr, dst, true
}

// elementAddr recomputes the address a live slot's element bytes live at:
// an external block's own buffer, or the same in-page offset reserveTail
// handed the producer that wrote it. The inline formula is deterministic in
// ctrlAddr and rt.Align() alone, so the consumer side never needs to carry
// the producer's payload pointer forward through the shadow table.
func elementAddr(ctrlAddr uintptr, rt RuntimeType, sv *slotValue) unsafe.Pointer {
	if sv.external != nil {
		return sv.external.ptr
	}
	return unsafe.Pointer(upperAlign(ctrlAddr+elementMinOffset, rt.Align()))
}

// isExternalSlot reports whether the control block at ctrlAddr was
// committed with the EXTERNAL flag: its payload is an external block
// descriptor rather than an inline element. commitPut sets this flag from
// the same condition startPut/startDynPut used to decide where to put the
// element; consumers consult it before deciding whether there is a heap
// block to release at all.
func isExternalSlot(ctrlAddr uintptr) bool {
	ctrl := (*controlBlock)(unsafe.Pointer(ctrlAddr))
	return ctrl.next.Load()&ctrlExternal != 0
}

// abandonReservation marks a reserved-but-never-committed slot dead
// immediately; cancelPut calls it once the slot's value has been dropped.
func abandonReservation(core *queueCore, ctrlAddr uintptr) {
	ctrl := (*controlBlock)(unsafe.Pointer(ctrlAddr))
	raw := ctrl.next.Load()
	next := raw &^ ctrlFlagsMask
	ctrl.next.Store(next | ctrlDead)
}

// commitPut publishes the slot at ctrlAddr, clearing its busy flag so
// consumers may claim it.
func commitPut(core *queueCore, ctrlAddr uintptr) {
	ctrl := (*controlBlock)(unsafe.Pointer(ctrlAddr))
	raw := ctrl.next.Load()
	next := raw &^ ctrlFlagsMask
	flags := uintptr(0)
	if sv, ok := core.values.Load(ctrlAddr); ok {
		if sv.external != nil {
			flags = ctrlExternal
		}
	}
	ctrl.next.Store(next | flags)
}

// cancelPut undoes a reservation: the value is dropped, any external
// block is released back to the recycle cache, and the slot is marked
// dead so reclamation can recover its page.
func cancelPut(core *queueCore, ctrlAddr uintptr) {
	if sv, ok := core.values.LoadAndDelete(ctrlAddr); ok {
		if sv.external != nil {
			sv.external.release()
		}
	}
	abandonReservation(core, ctrlAddr)
}

// commitConsumeDestroy claims ownership of the value at ctrlAddr, runs
// its RuntimeType's Destroy, releases any external block, and marks the
// slot dead so its page can be reclaimed.
func commitConsumeDestroy[T any](core *queueCore, ctrlAddr uintptr) {
	external := isExternalSlot(ctrlAddr)
	sv, ok := core.values.LoadAndDelete(ctrlAddr)
	if ok {
		var local T
		if boxed, isBoxed := sv.value.(*T); isBoxed {
			local = *boxed
		} else {
			local, _ = sv.value.(T)
		}
		sv.rt.Destroy(unsafe.Pointer(&local))
		// EXTERNAL is load-bearing here, not decorative: only a slot
		// committed with it ever has a heap block to give back.
		if external && sv.external != nil {
			sv.external.release()
		}
	}
	core.commitConsume(ctrlAddr)
}

// commitConsumeNoDestroy is the fast variant used by FuncQueue.Pop/TryPop
// (funcqueue.go): a function value needs no destructor run once the caller
// has already taken it out via ConsumeOperation.Value, so only the control
// flags need updating.
func commitConsumeNoDestroy(core *queueCore, ctrlAddr uintptr) {
	core.values.Delete(ctrlAddr)
	core.commitConsume(ctrlAddr)
}

// peekValue returns the live value claimed at ctrlAddr without consuming
// it, for use by ConsumeOperation accessors.
func peekValue(core *queueCore, ctrlAddr uintptr) (any, bool) {
	sv, ok := core.values.Load(ctrlAddr)
	if !ok {
		return nil, false
	}
	return sv.value, true
}

// PutTransaction is a move-only handle to a reserved, not-yet-committed
// slot. It is not cancelled automatically: a transaction dropped without
// Commit or Cancel leaves its slot busy, and consumers cannot get past it.
type PutTransaction[T any] struct {
	_         noCopy
	core      *queueCore
	ctrlAddr  uintptr
	committed bool
	cancelled bool
}

// Commit publishes the element, making it visible to consumers in FIFO
// order. Calling Commit or Cancel a second time panics.
func (t *PutTransaction[T]) Commit() {
	t.guardFinish()
	commitPut(t.core, t.ctrlAddr)
	t.committed = true
}

// Cancel discards the reservation; the slot is marked dead and its space
// is recovered the next time reclamation passes over it.
func (t *PutTransaction[T]) Cancel() {
	t.guardFinish()
	cancelPut(t.core, t.ctrlAddr)
	t.cancelled = true
}

// Element returns a pointer to the transaction's not-yet-committed value,
// letting the caller mutate it in place before Commit.
func (t *PutTransaction[T]) Element() *T {
	t.guardFinish()
	v, _ := loadBoxedValue[T](t.core, t.ctrlAddr)
	return v
}

func (t *PutTransaction[T]) guardFinish() {
	if t.committed || t.cancelled {
		panic(ErrEmptyTransaction)
	}
}

// loadBoxedValue returns a pointer into the shadow table's boxed value so
// callers may mutate an in-flight element in place.
func loadBoxedValue[T any](core *queueCore, ctrlAddr uintptr) (*T, bool) {
	sv, ok := core.values.Load(ctrlAddr)
	if !ok {
		return nil, false
	}
	boxed, ok := sv.value.(*T)
	if ok {
		return boxed, true
	}
	// value stored by-value (not already boxed as *T): box it once so
	// further mutation through Element() is visible at commit time.
	val, _ := sv.value.(T)
	p := &val
	sv.value = p
	return p, true
}

// ConsumeOperation is a move-only handle to a claimed, not-yet-committed
// slot on the consumer side. It is not cancelled automatically: an
// operation dropped without Commit or Cancel leaves its slot claimed, so
// the element stays out of reach of every other consume attempt.
type ConsumeOperation[T any] struct {
	_         noCopy
	core      *queueCore
	ctrlAddr  uintptr
	committed bool
	cancelled bool
}

// Value returns the claimed element.
func (c *ConsumeOperation[T]) Value() T {
	v, _ := peekValue(c.core, c.ctrlAddr)
	if boxed, ok := v.(*T); ok {
		return *boxed
	}
	t, _ := v.(T)
	return t
}

// Commit destroys the element and marks the slot dead, allowing its page
// to be reclaimed once every slot behind it is also dead and unpinned.
func (c *ConsumeOperation[T]) Commit() {
	c.guardFinish()
	commitConsumeDestroy[T](c.core, c.ctrlAddr)
	c.committed = true
}

// CommitNoDestroy is Commit's fast variant for element types that need no
// destructor run once the caller has already taken the value out through
// Value: a function value, for instance, needs nothing beyond dropping the
// shadow table's reference to it. Calling it on a type whose Destroy has
// real side effects (closing a file, releasing a lock) leaks them.
func (c *ConsumeOperation[T]) CommitNoDestroy() {
	c.guardFinish()
	commitConsumeNoDestroy(c.core, c.ctrlAddr)
	c.committed = true
}

// Cancel releases the claim without destroying the element, leaving it
// live for a future consume attempt.
func (c *ConsumeOperation[T]) Cancel() {
	c.guardFinish()
	c.core.cancelConsume(c.ctrlAddr)
	c.cancelled = true
}

func (c *ConsumeOperation[T]) guardFinish() {
	if c.committed || c.cancelled {
		panic(ErrEmptyTransaction)
	}
}

// valuesTable is the concurrent map type backing queueCore.values. It is
// a thin wrapper over sync.Map kept for documentation purposes; no
// corpus example wires a third-party concurrent map and the GC-soundness
// constraint above is specific to this Go port, not something any example
// repo's dependency set addresses, so the standard library is used
// directly here (see DESIGN.md).
type valuesTable struct {
	m sync.Map
}

func (t *valuesTable) Store(key uintptr, value *slotValue) { t.m.Store(key, value) }
func (t *valuesTable) Load(key uintptr) (*slotValue, bool) {
	v, ok := t.m.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*slotValue), true
}
func (t *valuesTable) LoadAndDelete(key uintptr) (*slotValue, bool) {
	v, ok := t.m.LoadAndDelete(key)
	if !ok {
		return nil, false
	}
	return v.(*slotValue), true
}
func (t *valuesTable) Delete(key uintptr) { t.m.Delete(key) }
