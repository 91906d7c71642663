// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "testing"

func TestAcquireExternalBlock_TierSelection(t *testing.T) {
	blk := acquireExternalBlock(100, 8)
	if blk.size != 100 {
		t.Fatalf("got recorded size %d, want 100", blk.size)
	}
	if blk.align != 8 {
		t.Fatalf("got recorded align %d, want 8", blk.align)
	}
	if blk.ptr == nil {
		t.Fatalf("expected a non-nil backing pointer")
	}
}

func TestAcquireExternalBlock_AboveTitanGoesDirect(t *testing.T) {
	blk := acquireExternalBlock(BufferSizeTitan+1, 8)
	if blk.ptr == nil {
		t.Fatalf("expected a non-nil backing pointer for an oversized block")
	}
	// A direct allocation's release must be a harmless no-op, not a pool Put.
	blk.release()
}

func TestAcquireExternalBlock_ReleaseRecyclesIntoPool(t *testing.T) {
	pool := tierPool(TierMicro)

	countAvailable := func() int {
		var got []int
		for {
			indirect, err := pool.Get()
			if err != nil {
				break
			}
			got = append(got, indirect)
		}
		for _, k := range got {
			if err := pool.Put(k); err != nil {
				t.Fatalf("restore pool: %v", err)
			}
		}
		return len(got)
	}

	before := countAvailable()
	if before == 0 {
		t.Fatalf("expected the micro tier pool to start with capacity")
	}

	blk := acquireExternalBlock(BufferSizeMicro, 8)
	blk.release()

	after := countAvailable()
	if after != before {
		t.Fatalf("got %d available after acquire+release, want %d", after, before)
	}
}

func TestTierPool_IsSingletonPerTier(t *testing.T) {
	a := tierPool(TierSmall)
	b := tierPool(TierSmall)
	if a != b {
		t.Fatalf("expected tierPool to memoize one BoundedPool per tier")
	}
}
