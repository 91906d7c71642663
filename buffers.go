// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/hetq/internal"
)

// AlignedMem returns a byte slice with the specified size and starting
// address aligned to pageSize. It is the basis of SystemPageSource's
// region allocation: one call per region, sliced into pages afterwards.
//
// The returned slice shares underlying memory with a larger allocation;
// do not assume len(result) == cap(result).
func AlignedMem(size int, pageSize uintptr) []byte {
	p := make([]byte, uintptr(size)+pageSize-1)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+pageSize-1)/pageSize)*pageSize - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// AlignedMemBlocks returns n page-aligned byte slices, each of length
// pageSize, all sharing a single contiguous underlying allocation.
//
// Panics if n < 1.
func AlignedMemBlocks(n int, pageSize uintptr) (blocks [][]byte) {
	if n < 1 {
		panic("hetq: bad block num")
	}
	blocks = make([][]byte, n)
	p := make([]byte, int(pageSize)*(n+1))
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+pageSize-1)/pageSize)*pageSize - uintptr(base)
	for i := range n {
		blocks[i] = unsafe.Slice((*byte)(unsafe.Add(base, offset+uintptr(i)*pageSize)), pageSize)
	}
	return
}

// CacheLineSize is the CPU L1 cache line size for the current architecture,
// detected at compile time. Used to pad per-page pin counters so adjacent
// pages' hazard state does not share a cache line.
const CacheLineSize = internal.CacheLineSize

// CacheLineAlignedMem returns a byte slice with the specified size and
// starting address aligned to the CPU cache line size.
func CacheLineAlignedMem(size int) []byte {
	align := uintptr(CacheLineSize)
	p := make([]byte, uintptr(size)+align-1)
	base := unsafe.Pointer(unsafe.SliceData(p))
	offset := ((uintptr(base)+align-1)/align)*align - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}

// Buffer size tiers follow a power-of-4 progression starting at 32 bytes.
// hetq repurposes this ladder as the size-class index of the external
// block recycle cache (see externalcache.go): an oversized element is
// rounded up to the nearest tier and served from that tier's BoundedPool
// instead of a fresh heap allocation, the same way jemalloc/tcmalloc bin
// large allocations by size class.
const (
	BufferSizePico   = 1 << 5  // 32 B
	BufferSizeNano   = 1 << 7  // 128 B
	BufferSizeMicro  = 1 << 9  // 512 B
	BufferSizeSmall  = 1 << 11 // 2 KiB
	BufferSizeMedium = 1 << 13 // 8 KiB
	BufferSizeBig    = 1 << 15 // 32 KiB
	BufferSizeLarge  = 1 << 17 // 128 KiB
	BufferSizeGreat  = 1 << 19 // 512 KiB
	BufferSizeHuge   = 1 << 21 // 2 MiB
	BufferSizeVast   = 1 << 23 // 8 MiB
	BufferSizeGiant  = 1 << 25 // 32 MiB
	BufferSizeTitan  = 1 << 27 // 128 MiB
)

// BufferTier represents a size-class index in the 12-tier system.
type BufferTier int

const (
	TierPico BufferTier = iota
	TierNano
	TierMicro
	TierSmall
	TierMedium
	TierBig
	TierLarge
	TierGreat
	TierHuge
	TierVast
	TierGiant
	TierTitan
	TierEnd // sentinel marking end of tiers
)

var bufferSizes = [TierEnd]int{
	TierPico:   BufferSizePico,
	TierNano:   BufferSizeNano,
	TierMicro:  BufferSizeMicro,
	TierSmall:  BufferSizeSmall,
	TierMedium: BufferSizeMedium,
	TierBig:    BufferSizeBig,
	TierLarge:  BufferSizeLarge,
	TierGreat:  BufferSizeGreat,
	TierHuge:   BufferSizeHuge,
	TierVast:   BufferSizeVast,
	TierGiant:  BufferSizeGiant,
	TierTitan:  BufferSizeTitan,
}

// TierBySize returns the smallest size class that can hold size bytes.
// Returns TierTitan for sizes larger than BufferSizeTitan; callers must
// fall back to a direct heap allocation above that, see externalcache.go.
func TierBySize(size int) BufferTier {
	switch {
	case size <= BufferSizePico:
		return TierPico
	case size <= BufferSizeNano:
		return TierNano
	case size <= BufferSizeMicro:
		return TierMicro
	case size <= BufferSizeSmall:
		return TierSmall
	case size <= BufferSizeMedium:
		return TierMedium
	case size <= BufferSizeBig:
		return TierBig
	case size <= BufferSizeLarge:
		return TierLarge
	case size <= BufferSizeGreat:
		return TierGreat
	case size <= BufferSizeHuge:
		return TierHuge
	case size <= BufferSizeVast:
		return TierVast
	case size <= BufferSizeGiant:
		return TierGiant
	default:
		return TierTitan
	}
}

// Size returns the byte size for this tier.
func (t BufferTier) Size() int {
	if t < 0 || t >= TierEnd {
		return BufferSizeTitan
	}
	return bufferSizes[t]
}

// BufferSizeFor returns the smallest size class that can hold size bytes.
func BufferSizeFor(size int) int {
	return TierBySize(size).Size()
}

type (
	PicoBuffer   [BufferSizePico]byte
	NanoBuffer   [BufferSizeNano]byte
	MicroBuffer  [BufferSizeMicro]byte
	SmallBuffer  [BufferSizeSmall]byte
	MediumBuffer [BufferSizeMedium]byte
	BigBuffer    [BufferSizeBig]byte
	LargeBuffer  [BufferSizeLarge]byte
	GreatBuffer  [BufferSizeGreat]byte
	HugeBuffer   [BufferSizeHuge]byte
	VastBuffer   [BufferSizeVast]byte
	GiantBuffer  [BufferSizeGiant]byte
	TitanBuffer  [BufferSizeTitan]byte
)

// BufferType constrains the tiered buffer array types usable as
// BoundedPool items in the external block recycle cache.
type BufferType interface {
	PicoBuffer | NanoBuffer | MicroBuffer | SmallBuffer | MediumBuffer |
		BigBuffer | LargeBuffer | GreatBuffer | HugeBuffer | VastBuffer |
		GiantBuffer | TitanBuffer
}

// Reset methods satisfy the BoundedPool item contract. Buffer contents are
// not zeroed, and the external block recycle cache does not clear them
// either.

func (b PicoBuffer) Reset()   {}
func (b NanoBuffer) Reset()   {}
func (b MicroBuffer) Reset()  {}
func (b SmallBuffer) Reset()  {}
func (b MediumBuffer) Reset() {}
func (b BigBuffer) Reset()    {}
func (b LargeBuffer) Reset()  {}
func (b GreatBuffer) Reset()  {}
func (b HugeBuffer) Reset()   {}
func (b VastBuffer) Reset()   {}
func (b GiantBuffer) Reset()  {}
func (b TitanBuffer) Reset()  {}
