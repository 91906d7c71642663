// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "testing"

func TestSystemPageSource_InvalidPageSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on non-power-of-two page size")
		}
	}()
	NewSystemPageSource(3000)
}

func TestSystemPageSource_AllocatePagesAreDistinctAndAligned(t *testing.T) {
	pageSize := uintptr(4096)
	src := NewSystemPageSource(pageSize)

	seen := make(map[uintptr]bool)
	for range 100 {
		p, ok := src.TryAllocatePage(Blocking)
		if !ok {
			t.Fatalf("expected allocation to succeed")
		}
		addr := uintptr(p)
		if addr%pageSize != 0 {
			t.Fatalf("page %x not aligned to page size %d", addr, pageSize)
		}
		if seen[addr] {
			t.Fatalf("page %x handed out twice", addr)
		}
		seen[addr] = true
	}
}

func TestSystemPageSource_LockFreeNeverGrowsPastExistingRegion(t *testing.T) {
	src := NewSystemPageSource(4096)
	n := 0
	for {
		if _, ok := src.TryAllocatePage(LockFree); !ok {
			break
		}
		n++
		if n > 10000 {
			t.Fatalf("lock-free allocation should never grow a region")
		}
	}
	if n == 0 {
		t.Fatalf("expected at least one page from the initial region")
	}
	// Blocking is allowed to grow past what LockFree exhausted.
	if _, ok := src.TryAllocatePage(Blocking); !ok {
		t.Fatalf("expected Blocking to grow a new region once the first is exhausted")
	}
}

func TestPageSource_PinUnpinRoundTrip(t *testing.T) {
	src := NewSystemPageSource(4096)
	p, ok := src.TryAllocatePage(Blocking)
	if !ok {
		t.Fatalf("allocate: expected success")
	}
	addr := uintptr(p)
	if src.pinned(addr) {
		t.Fatalf("freshly allocated page should not be pinned")
	}
	pin := src.pin(addr)
	if !src.pinned(addr) {
		t.Fatalf("expected page to be pinned")
	}
	pin.Release()
	if src.pinned(addr) {
		t.Fatalf("expected page to be unpinned after Release")
	}
	// Release must be idempotent.
	pin.Release()
}

func TestPageSource_UnpinWithoutPinPanics(t *testing.T) {
	src := NewSystemPageSource(4096)
	p, _ := src.TryAllocatePage(Blocking)
	m := src.regionFor(uintptr(p)).metaFor(pageBase(uintptr(p), 4096))
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unbalanced unpin")
		}
	}()
	src.unpinPage(m)
}
