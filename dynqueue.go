// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/iox"
)

// DynQueue is the untyped heterogeneous FIFO: each element carries its own
// RuntimeType, discovered by the consumer rather than fixed at compile
// time, the same role the original density library's untyped queues play.
//
// DynQueue elements are constructed through a RuntimeType's CopyConstruct
// or MoveConstruct directly at their final address: the in-page slot
// reserveTail carved out for them, or an external block's own buffer for
// an oversized element, bypassing Go's interface boxing the way the
// original library's placement-new semantics do. That address is raw,
// untyped memory as far as the garbage collector is concerned: an element
// type whose representation embeds a Go pointer, slice, map or interface
// must not be pushed through DynQueue, because the collector cannot trace
// a pointer hidden inside it. Use Queue[T] for such types; its element
// lives in a normal Go interface value instead.
type DynQueue struct {
	core *queueCore
}

// NewDynQueue constructs a DynQueue configured by opts.
func NewDynQueue(opts ...Option) *DynQueue {
	cfg := newConfig(opts)
	return &DynQueue{core: newQueueCore(cfg.pageSize, cfg.pageSource, cfg.producerCardinality, cfg.consumerCardinality, cfg.consistency)}
}

// DynPushCopy pushes a new element of the type described by rt, copy
// constructed from src, growing the page source if needed. Returns
// ErrMissingCopyOp if rt does not implement TypeCopier, and an error
// wrapping ErrAllocationFailure, without retrying, if no slot can be
// reserved.
func (q *DynQueue) DynPushCopy(rt RuntimeType, src unsafe.Pointer) error {
	return q.pushCopy(Blocking, rt, src)
}

// DynTryPushCopy is the non-blocking variant of DynPushCopy.
func (q *DynQueue) DynTryPushCopy(rt RuntimeType, src unsafe.Pointer) error {
	return q.pushCopy(LockFree, rt, src)
}

func (q *DynQueue) pushCopy(guarantee ProgressGuarantee, rt RuntimeType, src unsafe.Pointer) error {
	copier, ok := rt.(TypeCopier)
	if !ok {
		return ErrMissingCopyOp
	}
	addr, dst, ok := startDynPut(q.core, guarantee, rt)
	if !ok {
		return pushFailureError(guarantee)
	}
	copier.CopyConstruct(dst, src)
	commitPut(q.core, addr)
	return nil
}

// DynPushMove pushes a new element of the type described by rt, move
// constructed from src, growing the page source if needed; like
// DynPushCopy it reports a failed reservation without retrying. Falls
// back to CopyConstruct+Destroy(src) when rt implements TypeCopier but not
// TypeMover, exactly as the original library falls back to copy when no
// move constructor was registered for a type.
func (q *DynQueue) DynPushMove(rt RuntimeType, src unsafe.Pointer) error {
	return q.pushMove(Blocking, rt, src)
}

// DynTryPushMove is the non-blocking variant of DynPushMove.
func (q *DynQueue) DynTryPushMove(rt RuntimeType, src unsafe.Pointer) error {
	return q.pushMove(LockFree, rt, src)
}

func (q *DynQueue) pushMove(guarantee ProgressGuarantee, rt RuntimeType, src unsafe.Pointer) error {
	mover, hasMover := rt.(TypeMover)
	copier, hasCopier := rt.(TypeCopier)
	if !hasMover && !hasCopier {
		return ErrMissingMoveOp
	}
	addr, dst, ok := startDynPut(q.core, guarantee, rt)
	if !ok {
		return pushFailureError(guarantee)
	}
	if hasMover {
		mover.MoveConstruct(dst, src)
	} else {
		copier.CopyConstruct(dst, src)
		rt.Destroy(src)
	}
	commitPut(q.core, addr)
	return nil
}

// DynConsumeOperation is the untyped analogue of ConsumeOperation: the
// consumer learns the element's RuntimeType at the point it is claimed
// rather than knowing it up front.
type DynConsumeOperation struct {
	core      *queueCore
	ctrlAddr  uintptr
	rt        RuntimeType
	data      unsafe.Pointer
	external  *externalBlock
	committed bool
	cancelled bool
}

// Type returns the claimed element's RuntimeType.
func (c *DynConsumeOperation) Type() RuntimeType { return c.rt }

// Data returns a pointer to the claimed element's bytes, valid until
// Commit or Cancel: the same in-page address pushCopy/pushMove constructed
// it at, or an external block's backing buffer for an oversized element.
func (c *DynConsumeOperation) Data() unsafe.Pointer {
	return c.data
}

// Commit runs the element's destructor and marks the slot dead. If the
// slot was committed with the EXTERNAL flag, its backing block is also
// released back to the recycle cache.
func (c *DynConsumeOperation) Commit() {
	c.guardFinish()
	c.rt.Destroy(c.data)
	if isExternalSlot(c.ctrlAddr) && c.external != nil {
		c.external.release()
	}
	c.core.values.Delete(c.ctrlAddr)
	c.core.commitConsume(c.ctrlAddr)
	c.committed = true
}

// Cancel releases the claim without destroying the element.
func (c *DynConsumeOperation) Cancel() {
	c.guardFinish()
	c.core.cancelConsume(c.ctrlAddr)
	c.cancelled = true
}

func (c *DynConsumeOperation) guardFinish() {
	if c.committed || c.cancelled {
		panic(ErrEmptyTransaction)
	}
}

// DynPop claims and returns the queue's oldest element as a
// DynConsumeOperation, blocking with adaptive backoff until one is
// available.
func (q *DynQueue) DynPop() *DynConsumeOperation {
	op, _ := q.startConsume(Blocking)
	return op
}

// DynTryPop is the non-blocking variant of DynPop.
func (q *DynQueue) DynTryPop() (*DynConsumeOperation, error) {
	op, ok := q.startConsume(LockFree)
	if !ok {
		return nil, ErrWouldBlock
	}
	return op, nil
}

func (q *DynQueue) startConsume(guarantee ProgressGuarantee) (*DynConsumeOperation, bool) {
	addr, ok := q.core.tryConsume(guarantee)
	if !ok {
		if guarantee != Blocking {
			return nil, false
		}
		var bo iox.Backoff
		for {
			bo.Wait()
			addr, ok = q.core.tryConsume(guarantee)
			if ok {
				break
			}
		}
	}
	sv, _ := q.core.values.Load(addr)
	return &DynConsumeOperation{core: q.core, ctrlAddr: addr, rt: sv.rt, data: elementAddr(addr, sv.rt, sv), external: sv.external}, true
}
