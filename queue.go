// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"code.hybscloud.com/iox"
)

// Queue is a heterogeneous-container-compatible, statically typed FIFO for
// a single Go type T. Unlike DynQueue, Queue[T] keeps its elements in a
// GC-visible side table (see transaction.go) rather than raw page bytes,
// so T may freely contain pointers, slices, maps or interfaces.
type Queue[T any] struct {
	core *queueCore
	rt   RuntimeType
}

// NewQueue constructs a Queue[T] configured by opts. See config.go for the
// available options; callers that want independent control over page size
// or producer/consumer cardinality should supply WithPageSize,
// WithProducerCardinality and WithConsumerCardinality explicitly.
func NewQueue[T any](opts ...Option) *Queue[T] {
	cfg := newConfig(opts)
	return &Queue[T]{
		core: newQueueCore(cfg.pageSize, cfg.pageSource, cfg.producerCardinality, cfg.consumerCardinality, cfg.consistency),
		rt:   makeRuntimeType[T](),
	}
}

// Push appends value to the queue, growing the page source if needed. If no
// page can be obtained it returns an error wrapping ErrAllocationFailure at
// once; it does not retry.
func (q *Queue[T]) Push(value T) error {
	return q.push(Blocking, value)
}

// TryPush appends value to the queue only if doing so requires no blocking,
// returning ErrWouldBlock otherwise.
func (q *Queue[T]) TryPush(value T) error {
	return q.push(LockFree, value)
}

func (q *Queue[T]) push(guarantee ProgressGuarantee, value T) error {
	addr, ok := startPut(q.core, guarantee, q.rt, value)
	if !ok {
		return pushFailureError(guarantee)
	}
	commitPut(q.core, addr)
	return nil
}

// StartPush reserves a slot for an element the caller will construct in
// place via the returned transaction's Element method, then Commit or
// Cancel. It may grow the page source; if no slot can be reserved it
// returns nil.
func (q *Queue[T]) StartPush(value T) *PutTransaction[T] {
	t, _ := q.startPush(Blocking, value)
	return t
}

// TryStartPush is the non-blocking variant of StartPush.
func (q *Queue[T]) TryStartPush(value T) (*PutTransaction[T], error) {
	t, ok := q.startPush(LockFree, value)
	if !ok {
		return nil, pushFailureError(LockFree)
	}
	return t, nil
}

func (q *Queue[T]) startPush(guarantee ProgressGuarantee, value T) (*PutTransaction[T], bool) {
	addr, ok := startPut(q.core, guarantee, q.rt, value)
	if !ok {
		return nil, false
	}
	return &PutTransaction[T]{core: q.core, ctrlAddr: addr}, true
}

// StartReentrantPush is identical to StartPush. The original library
// needs a distinct reentrant_put_transaction type because its ordinary
// put_transaction occupies a single embedded, non-reentrant fast slot
// that a nested push on the same queue cannot safely reuse while it is
// open; PutTransaction never holds that kind of queue-global state, so
// pushing again on the same Queue[T] before committing or cancelling an
// open transaction already works without one. This alias exists for
// callers porting code written against the original's reentrant surface.
func (q *Queue[T]) StartReentrantPush(value T) *PutTransaction[T] {
	return q.StartPush(value)
}

// TryStartReentrantPush is the non-blocking variant of
// StartReentrantPush.
func (q *Queue[T]) TryStartReentrantPush(value T) (*PutTransaction[T], error) {
	return q.TryStartPush(value)
}

// Pop removes and returns the queue's oldest element, blocking with
// adaptive backoff until one is available.
func (q *Queue[T]) Pop() T {
	op, _ := q.startConsume(Blocking)
	v := op.Value()
	op.Commit()
	return v
}

// TryPop removes and returns the queue's oldest element if one is
// immediately available without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	op, ok := q.startConsume(LockFree)
	if !ok {
		var zero T
		return zero, false
	}
	v := op.Value()
	op.Commit()
	return v, true
}

// StartConsume claims the queue's oldest element without destroying it,
// letting the caller inspect it via the returned operation's Value method
// before deciding to Commit (consume) or Cancel (put back).
func (q *Queue[T]) StartConsume() *ConsumeOperation[T] {
	op, _ := q.startConsume(Blocking)
	return op
}

// TryStartConsume is the non-blocking variant of StartConsume.
func (q *Queue[T]) TryStartConsume() (*ConsumeOperation[T], error) {
	op, ok := q.startConsume(LockFree)
	if !ok {
		return nil, ErrWouldBlock
	}
	return op, nil
}

// StartReentrantConsume is identical to StartConsume; see
// StartReentrantPush's doc comment for why this port needs no separate
// reentrant consume type.
func (q *Queue[T]) StartReentrantConsume() *ConsumeOperation[T] {
	return q.StartConsume()
}

// TryStartReentrantConsume is the non-blocking variant of
// StartReentrantConsume.
func (q *Queue[T]) TryStartReentrantConsume() (*ConsumeOperation[T], error) {
	return q.TryStartConsume()
}

func (q *Queue[T]) startConsume(guarantee ProgressGuarantee) (*ConsumeOperation[T], bool) {
	addr, ok := q.core.tryConsume(guarantee)
	if ok {
		return &ConsumeOperation[T]{core: q.core, ctrlAddr: addr}, true
	}
	if guarantee != Blocking {
		return nil, false
	}
	var bo iox.Backoff
	for {
		bo.Wait()
		addr, ok := q.core.tryConsume(guarantee)
		if ok {
			return &ConsumeOperation[T]{core: q.core, ctrlAddr: addr}, true
		}
	}
}
