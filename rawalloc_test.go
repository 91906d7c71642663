// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/hetq"
)

func TestDynQueue_RawAllocateCopyRoundTrips(t *testing.T) {
	q := hetq.NewDynQueue()
	var rt int32RuntimeType

	v := int32(42)
	txn, err := q.DynStartPushCopy(rt, unsafe.Pointer(&v))
	if err != nil {
		t.Fatalf("start push: %v", err)
	}
	payload := []byte("trailing bytes attached to this element")
	txn.RawAllocateCopy(payload)
	txn.Commit()

	op, err := q.DynTryPop()
	if err != nil {
		t.Fatalf("pop element: %v", err)
	}
	if got := *(*int32)(op.Data()); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	op.Commit()

	raw, err := q.DynTryPop()
	if err != nil {
		t.Fatalf("pop raw block: %v", err)
	}
	got := unsafe.Slice((*byte)(raw.Data()), len(payload))
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	raw.Commit()
}

func TestDynQueue_RawAllocateCancelDiscardsElementAndBlock(t *testing.T) {
	q := hetq.NewDynQueue()
	var rt int32RuntimeType
	v := int32(1)

	txn, err := q.DynStartPushCopy(rt, unsafe.Pointer(&v))
	if err != nil {
		t.Fatalf("start push: %v", err)
	}
	txn.RawAllocateCopy([]byte("discarded"))
	txn.Cancel()

	if _, err := q.DynTryPop(); err != hetq.ErrWouldBlock {
		t.Fatalf("expected empty queue after cancel, got err=%v", err)
	}
}

func TestDynQueue_IterateVisitsLiveElementsInOrder(t *testing.T) {
	q := hetq.NewDynQueue()
	var rt int32RuntimeType

	for _, v := range []int32{10, 20, 30} {
		v := v
		if err := q.DynPushCopy(rt, unsafe.Pointer(&v)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var got []int32
	q.Iterate(func(_ hetq.RuntimeType, data unsafe.Pointer) bool {
		got = append(got, *(*int32)(data))
		return true
	})
	want := []int32{10, 20, 30}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	// Iterate must not claim or remove anything: every element is still
	// poppable afterwards.
	for _, want := range []int32{10, 20, 30} {
		op, err := q.DynTryPop()
		if err != nil {
			t.Fatalf("pop after iterate: %v", err)
		}
		if got := *(*int32)(op.Data()); got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
		op.Commit()
	}
}

func TestDynQueue_IterateStopsWhenYieldReturnsFalse(t *testing.T) {
	q := hetq.NewDynQueue()
	var rt int32RuntimeType
	for _, v := range []int32{1, 2, 3} {
		v := v
		if err := q.DynPushCopy(rt, unsafe.Pointer(&v)); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	count := 0
	q.Iterate(func(hetq.RuntimeType, unsafe.Pointer) bool {
		count++
		return count < 1
	})
	if count != 1 {
		t.Fatalf("expected Iterate to stop after the first yield, visited %d", count)
	}
}

func TestQueue_ReentrantPushAndConsumeAliasesWork(t *testing.T) {
	q := hetq.NewQueue[int]()

	txn := q.StartReentrantPush(5)
	txn.Commit()

	op := q.StartReentrantConsume()
	if got := op.Value(); got != 5 {
		t.Fatalf("got %d, want 5", got)
	}
	op.Commit()
}
