// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/hetq"
)

func TestAlignedMem(t *testing.T) {
	const pageSize = 4096
	mem := hetq.AlignedMem(1024, pageSize)
	if len(mem) != 1024 {
		t.Errorf("len = %d, want 1024", len(mem))
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	if addr%pageSize != 0 {
		t.Errorf("address %#x is not page-aligned to %d", addr, pageSize)
	}
}

func TestAlignedMemBlocks(t *testing.T) {
	const pageSize = 4096
	blocks := hetq.AlignedMemBlocks(8, pageSize)
	if len(blocks) != 8 {
		t.Fatalf("len(blocks) = %d, want 8", len(blocks))
	}
	for i, b := range blocks {
		if len(b) != pageSize {
			t.Errorf("block %d len = %d, want %d", i, len(b), pageSize)
		}
		addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
		if addr%pageSize != 0 {
			t.Errorf("block %d address %#x is not page-aligned", i, addr)
		}
	}
}

func TestAlignedMemBlocks_PanicsOnZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	hetq.AlignedMemBlocks(0, 4096)
}

func TestCacheLineAlignedMem(t *testing.T) {
	mem := hetq.CacheLineAlignedMem(16)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))
	if addr%uintptr(hetq.CacheLineSize) != 0 {
		t.Errorf("address %#x is not cache-line-aligned to %d", addr, hetq.CacheLineSize)
	}
}

func TestBufferSizeFor(t *testing.T) {
	if got := hetq.BufferSizeFor(1); got != hetq.BufferSizePico {
		t.Errorf("BufferSizeFor(1) = %d, want %d", got, hetq.BufferSizePico)
	}
	if got := hetq.BufferSizeFor(hetq.BufferSizeMicro); got != hetq.BufferSizeMicro {
		t.Errorf("BufferSizeFor(micro) = %d, want %d", got, hetq.BufferSizeMicro)
	}
}

func TestTierSizes(t *testing.T) {
	cases := []struct {
		tier hetq.BufferTier
		want int
	}{
		{hetq.TierPico, hetq.BufferSizePico},
		{hetq.TierNano, hetq.BufferSizeNano},
		{hetq.TierMicro, hetq.BufferSizeMicro},
		{hetq.TierSmall, hetq.BufferSizeSmall},
		{hetq.TierMedium, hetq.BufferSizeMedium},
		{hetq.TierBig, hetq.BufferSizeBig},
		{hetq.TierLarge, hetq.BufferSizeLarge},
		{hetq.TierGreat, hetq.BufferSizeGreat},
		{hetq.TierHuge, hetq.BufferSizeHuge},
		{hetq.TierVast, hetq.BufferSizeVast},
		{hetq.TierGiant, hetq.BufferSizeGiant},
		{hetq.TierTitan, hetq.BufferSizeTitan},
	}
	for _, c := range cases {
		if got := c.tier.Size(); got != c.want {
			t.Errorf("%v.Size() = %d, want %d", c.tier, got, c.want)
		}
	}
}
