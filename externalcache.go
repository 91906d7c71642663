// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync"
	"unsafe"
)

// externalCachePoolCapacity is how many buffers each size-class tier keeps
// ready for reuse. A queue under steady-state load recycling external
// blocks of similar size never touches the allocator again once its tiers
// have warmed up.
const externalCachePoolCapacity = 64

var (
	externalTierPools [TierEnd]*BoundedPool[[]byte]
	externalTierOnce  [TierEnd]sync.Once
)

// tierPool lazily builds and fills the recycle pool for tier, following
// the same Fill-once-then-Get/Put lifecycle as every other BoundedPool use
// in this package.
func tierPool(tier BufferTier) *BoundedPool[[]byte] {
	externalTierOnce[tier].Do(func() {
		size := tier.Size()
		p := NewBoundedPool[[]byte](externalCachePoolCapacity)
		p.Fill(func() []byte { return make([]byte, size) })
		p.SetNonblock(true)
		externalTierPools[tier] = p
	})
	return externalTierPools[tier]
}

// acquireExternalBlock obtains backing storage for an element too large to
// fit inline in a page, preferring a recycled buffer from the size-classed
// tier pools over a fresh heap allocation. align is recorded for callers
// that need it but is not otherwise enforced here: Go's allocator already
// returns slices whose backing array starts at an address sufficient for
// any built-in type.
func acquireExternalBlock(size, align uintptr) *externalBlock {
	if size > uintptr(BufferSizeTitan) {
		buf := make([]byte, size)
		return &externalBlock{
			ptr:     unsafe.Pointer(unsafe.SliceData(buf)),
			size:    size,
			align:   align,
			release: func() {},
		}
	}

	tier := TierBySize(int(size))
	pool := tierPool(tier)
	indirect, err := pool.Get()
	if err != nil {
		// Tier pool momentarily exhausted (SetNonblock(true) above, so Get
		// never blocks): fall back to a direct allocation rather than
		// failing the put.
		buf := make([]byte, tier.Size())
		return &externalBlock{
			ptr:     unsafe.Pointer(unsafe.SliceData(buf)),
			size:    size,
			align:   align,
			release: func() {},
		}
	}
	buf := pool.Value(indirect)
	return &externalBlock{
		ptr:   unsafe.Pointer(unsafe.SliceData(buf)),
		size:  size,
		align: align,
		release: func() {
			_ = pool.Put(indirect)
		},
	}
}
