// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "testing"

func TestEndControlOffset_GranularityAligned(t *testing.T) {
	for _, pageSize := range []uintptr{minPageSize, 4096, 65536} {
		off := endControlOffset(pageSize)
		if off%allocGranularity != 0 {
			t.Fatalf("endControlOffset(%d) = %d, not granularity-aligned", pageSize, off)
		}
		if off+sizeOfControlBlock > pageSize {
			t.Fatalf("endControlOffset(%d) = %d leaves no room for its own control block", pageSize, off)
		}
	}
}

func TestMaxSizeInPage_Monotonic(t *testing.T) {
	small := maxSizeInPage(minPageSize)
	large := maxSizeInPage(65536)
	if large <= small {
		t.Fatalf("maxSizeInPage should grow with page size: got %d <= %d", large, small)
	}
}

func TestUpperAlign(t *testing.T) {
	cases := []struct{ value, align, want uintptr }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{17, 16, 32},
	}
	for _, c := range cases {
		if got := upperAlign(c.value, c.align); got != c.want {
			t.Fatalf("upperAlign(%d, %d) = %d, want %d", c.value, c.align, got, c.want)
		}
	}
}

func TestCtrlFlags_PackIntoLowBits(t *testing.T) {
	if ctrlBusy&ctrlDead != 0 || ctrlDead&ctrlExternal != 0 || ctrlBusy&ctrlExternal != 0 {
		t.Fatalf("control flag bits must be pairwise disjoint")
	}
	if ctrlFlagsMask >= allocGranularity {
		t.Fatalf("flag bits must fit below allocGranularity so they never collide with a real offset")
	}
}
