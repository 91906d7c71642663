// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hetq implements a heterogeneous, lock-free FIFO queue: a single
// queue that stores elements of different runtime types, one after another
// in arrival order. DynQueue constructs each element directly in page
// memory; Queue[T] boxes each element in a GC-visible side table and uses
// the pages for order and capacity.
//
// Slots are bump-allocated inline into fixed-size pages drawn from a
// SystemPageSource. Each queue builds its own source unless WithPageSource
// supplies one to share between queues. A page is never individually freed;
// once every element inside it has been consumed, the whole page is
// recycled back to a pool and handed to a future producer. Oversized
// elements that do not fit in a page are stored out of line as an
// external block, with only a small descriptor kept inline.
//
// # Progress guarantees
//
// Each producer and consumer operation runs under a ProgressGuarantee fixed
// by the method called: Push, Pop and the Start methods use Blocking, the
// Try methods use LockFree. No exported method selects WaitFree or
// Throwing.
//
//	Blocking   may grow page regions and allocate external blocks; a
//	           reservation that still fails is reported as an error
//	           wrapping ErrAllocationFailure, not retried.
//	LockFree   never calls the OS; returns ErrWouldBlock instead of
//	           blocking when progress would require growth.
//	WaitFree   additionally forbids the unbounded helper loops the
//	           lock-free tail otherwise uses to assist stalled producers.
//	Throwing   behaves like Blocking, reporting allocation failure as an
//	           error wrapping ErrAllocationFailure.
//
// # Typed and dynamic façades
//
// Queue[T] is the common case: a queue of a single static Go type T,
// using T's own destructor semantics (none, for value types without
// finalizers). DynQueue stores elements tagged with a RuntimeType
// descriptor and can hold any mix of types that implement it.
//
//	q := hetq.NewQueue[Event](hetq.WithProducerCardinality(hetq.Multiple))
//	q.Push(Event{ID: 1})
//	ev, ok := q.TryPop()
//
// # Transactions
//
// StartPush and StartConsume return move-only transaction values
// (PutTransaction, ConsumeOperation) that must be committed or
// cancelled exactly once. A transaction dropped without either is not
// cancelled automatically: its slot stays busy until Commit or Cancel is
// called on it.
//
// # Page pinning
//
// Consumers walking the queue, and producers linking the next page at a
// page's end-of-page sentinel, pin the page they are touching before
// dereferencing it, using a
// hazard-pointer-style per-page counter, so a page is never recycled out
// from under a reader. See pin.go.
//
// # Architecture requirements
//
// This package requires a 64-bit CPU architecture (amd64, arm64, riscv64,
// loong64, ppc64, ppc64le, s390x, mips64, mips64le); slot-header flag bits
// rely on pointer alignment guarantees that 32-bit atomics cannot provide.
//
// # Dependencies
//
// hetq depends on:
//   - iox: semantic error types (ErrWouldBlock)
//   - spin: spin-wait and adaptive backoff primitives used by the
//     lock-free tail and head state machines
//   - golang.org/x/sys/unix: anonymous mmap for system page regions on
//     platforms that support it, falling back to the Go heap elsewhere
package hetq
