// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync/atomic"
	"unsafe"
)

// Control block flag bits, packed into the low bits of the next pointer
// stored in every slot header. A control block address is always aligned
// to at least allocGranularity, which is at least a cache line, so these
// three low bits are always free.
const (
	ctrlBusy     uintptr = 1 << 0 // a producer reserved this slot but has not committed
	ctrlDead     uintptr = 1 << 1 // the slot holds no live element (consumed, or padding)
	ctrlExternal uintptr = 1 << 2 // the slot's payload is an externalBlock descriptor, not inline storage

	ctrlFlagsMask = ctrlBusy | ctrlDead | ctrlExternal
	ctrlNextMask  = ^uintptr(ctrlFlagsMask)
)

// minAlignment is the alignment every slot offset is at least rounded up
// to, matching min_alignment = alignof(void*) in the original allocator.
const minAlignment = unsafe.Alignof(uintptr(0))

// allocGranularity is the unit every reservation is rounded up to, and the
// width of the window reserveTailMulti uses to publish an in-flight
// reservation's unit count in the tail cursor itself (see tail.go). It must
// be a power of two at least as large as concurrent_alignment (so two
// reservations racing for adjacent cache lines never false-share), the
// alignment of a control block, a runtime type descriptor and an external
// block descriptor, and strictly larger than the largest unit count an
// inline reservation can ever need, so that count can be told apart from a
// clean, granularity-aligned tail by its low bits alone. CacheLineSize
// already dominates every one of those on every architecture this package
// builds for.
const allocGranularity = uintptr(CacheLineSize)

// controlBlock is the fixed header written immediately before every slot's
// payload (inline element, or external block descriptor).
type controlBlock struct {
	// next packs the absolute address of the following control block,
	// OR'd with ctrlFlagsMask bits. It is the
	// single word both the tail and head state machines synchronise on.
	next atomic.Uintptr
}

// sizeOfControlBlock is the constant byte size of a controlBlock, used
// throughout the offset arithmetic below.
const sizeOfControlBlock = unsafe.Sizeof(controlBlock{})

// runtimeTypeStorage is the maximum size, in bytes, reserved in-page for a
// RuntimeType value immediately after a control block. Concrete
// RuntimeType implementations are expected to fit in two machine words
// (a type pointer and a flags/size word); see runtimetype.go.
const runtimeTypeStorage = 2 * unsafe.Sizeof(uintptr(0))

// externalBlock describes an oversized element allocated outside the page,
// stored in-page in place of the element itself. release, when non-nil,
// returns the backing memory to the external block recycle cache
// (externalcache.go) instead of abandoning it to the garbage collector.
type externalBlock struct {
	ptr     unsafe.Pointer
	size    uintptr
	align   uintptr
	release func()
}

const sizeOfExternalBlock = unsafe.Sizeof(externalBlock{})

func upperAlign(value, align uintptr) uintptr {
	return (value + align - 1) &^ (align - 1)
}

func lowerAlign(value, align uintptr) uintptr {
	return value &^ (align - 1)
}

// Layout offsets, computed once and reused by every queue regardless of
// page size: the region between a control block and its payload is fixed,
// only the end-of-page sentinel depends on the page size.
var (
	// typeOffset is where a RuntimeType value begins relative to a slot's
	// control block.
	typeOffset = upperAlign(sizeOfControlBlock, minAlignment)

	// elementMinOffset is where an inline element's bytes may begin,
	// relative to a slot's control block, when the slot carries a runtime
	// type descriptor.
	elementMinOffset = upperAlign(typeOffset+runtimeTypeStorage, minAlignment)

	// rawBlockMinOffset is where an externalBlock descriptor's bytes may
	// begin, relative to a slot's control block, when the slot has no
	// runtime type (a raw, untyped allocation).
	rawBlockMinOffset = upperAlign(sizeOfControlBlock, maxUintptr(minAlignment, unsafe.Alignof(externalBlock{})))
)

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

// endControlOffset returns the offset, within a page of the given size, of
// the end-of-page sentinel control block: the last control-block-sized,
// granularity-aligned slot that fits in the page.
func endControlOffset(pageSize uintptr) uintptr {
	return lowerAlign(pageSize-sizeOfControlBlock, allocGranularity)
}

// maxSizeInPage returns the largest element payload (including its
// control block, and optionally a type descriptor) that can ever fit in a
// single page of the given size.
func maxSizeInPage(pageSize uintptr) uintptr {
	return endControlOffset(pageSize) - elementMinOffset
}

// fitsInline reports whether a reservation of the given unit count can use
// the ordinary inline tail protocol. reserveTailMulti (tail.go) publishes an
// in-flight reservation's unit count in the low bits of the tail cursor, so
// that count must stay strictly below allocGranularity: anything that needs
// as many or more units than that cannot be told apart from a clean,
// aligned tail and must instead go through the external block path.
func fitsInline(units, pageSize uintptr) bool {
	limit := allocGranularity
	if perPage := endControlOffset(pageSize) / allocGranularity; perPage < limit {
		limit = perPage
	}
	return units < limit
}

// minPageSize is the smallest page size SetDefaultPageSize and WithPageSize
// will accept: enough to hold the end-of-page sentinel plus one minimal
// inline element of a single machine word.
const minPageSize = uintptr(8 * allocGranularity)

// invalidControlOffset returns endControlOffset(pageSize), the offset of a
// page's end-of-page sentinel. queueCore does not use it as a cursor value:
// a virgin queue's tail and head cursors are zero, and the first
// reservation allocates the queue's initial page when it reads a zero tail.
func invalidControlOffset(pageSize uintptr) uintptr {
	return endControlOffset(pageSize)
}
