// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock is returned by try-variants when a progress guarantee
// forbids the operation from completing right now. It is the same sentinel
// the teacher's BoundedPool returns on pool exhaustion; callers that already
// handle iox.ErrWouldBlock from other hybscloud packages need no new case.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrAllocationFailure is returned under Blocking/Throwing when the system
// page source cannot grow (out of memory) or an external block's heap
// allocation fails. It is always wrapped with context; callers should use
// errors.Is(err, ErrAllocationFailure).
var ErrAllocationFailure = errors.New("hetq: allocation failure")

// ErrMissingCopyOp is returned when a copy-push is attempted against a
// RuntimeType that does not implement TypeCopier.
var ErrMissingCopyOp = errors.New("hetq: runtime type does not support copy construction")

// ErrMissingMoveOp is returned when a move-push is attempted against a
// RuntimeType that implements neither TypeMover nor TypeCopier.
var ErrMissingMoveOp = errors.New("hetq: runtime type does not support move construction")

// ErrEmptyTransaction is a contract-violation panic value: it is raised (via
// panic, never returned) when a caller operates on a PutTransaction or
// ConsumeOperation that has already been committed or cancelled.
var ErrEmptyTransaction = errors.New("hetq: operation on an already-finished transaction")

func wrapAllocationFailure(reason string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrAllocationFailure, reason, cause)
	}
	return fmt.Errorf("%w: %s", ErrAllocationFailure, reason)
}

// pushFailureError classifies a failed reservation according to the
// progress guarantee the caller asked for: under Blocking/Throwing, the
// only way a reservation fails is genuine allocation exhaustion (the page
// source could not grow); under LockFree/WaitFree it also covers ordinary
// contention that the guarantee forbids waiting out, so ErrWouldBlock
// stays the right signal there.
func pushFailureError(guarantee ProgressGuarantee) error {
	if guarantee.mayCallOS() {
		return wrapAllocationFailure("page source could not supply a new page", nil)
	}
	return ErrWouldBlock
}
