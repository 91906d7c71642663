// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package funcqueue provides a FIFO queue of callable objects, a thin
// veneer over hetq.Queue specialised to hold function values instead of
// plain data, grounded in the original density library's function_queue
// and sp_function_queue templates: a heterogeneous queue storing closures
// tightly and invoking them in arrival order.
package funcqueue

import "code.hybscloud.com/hetq"

// FuncQueue is a FIFO queue of callables sharing signature F. F must be a
// function type (func(...) ...); this is not enforced by the Go type
// system, matching the original library, which relied on FUNCTION being a
// callable signature rather than any compile-time constraint deeper than
// that.
type FuncQueue[F any] struct {
	q *hetq.Queue[F]
}

// New constructs an empty FuncQueue configured by opts, forwarded to
// hetq.NewQueue.
func New[F any](opts ...hetq.Option) *FuncQueue[F] {
	return &FuncQueue[F]{q: hetq.NewQueue[F](opts...)}
}

// Push appends a callable to the queue, growing the page source if needed.
// A failed reservation is reported as an error at once, without retrying.
func (fq *FuncQueue[F]) Push(fn F) error {
	return fq.q.Push(fn)
}

// TryPush is the non-blocking variant of Push.
func (fq *FuncQueue[F]) TryPush(fn F) error {
	return fq.q.TryPush(fn)
}

// Pop removes and returns the oldest callable in the queue, blocking with
// adaptive backoff until one is available. The caller is responsible for
// invoking it; FuncQueue never calls a stored function itself, since doing
// so is only meaningful once the caller knows F's exact parameter list.
//
// A function value has nothing for hetq's normal destructor path to clean
// up beyond the reference Value already took out, so Pop commits through
// ConsumeOperation.CommitNoDestroy instead of Commit, fusing extraction and
// commit the way the original library's manual_consume does for its
// function queues.
func (fq *FuncQueue[F]) Pop() F {
	op := fq.q.StartConsume()
	fn := op.Value()
	op.CommitNoDestroy()
	return fn
}

// TryPop is the non-blocking variant of Pop.
func (fq *FuncQueue[F]) TryPop() (F, bool) {
	op, err := fq.q.TryStartConsume()
	if err != nil {
		var zero F
		return zero, false
	}
	fn := op.Value()
	op.CommitNoDestroy()
	return fn, true
}
