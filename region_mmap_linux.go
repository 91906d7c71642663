// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package hetq

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocateRegionMemory reserves size bytes, page-aligned to pageSize, for
// one region. On Linux it asks the kernel directly for anonymous,
// zero-filled pages via mmap rather than going through the Go heap: region
// memory is never freed for the life of the process (see region's doc
// comment), so keeping it off the Go heap means the garbage collector
// never has to scan or account for it.
func allocateRegionMemory(size, pageSize uintptr) []byte {
	// Over-allocate by one page so the returned slice can be sliced to a
	// pageSize-aligned interior span, mirroring AlignedMem's approach.
	raw, err := unix.Mmap(-1, 0, int(size+pageSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return AlignedMem(int(size), pageSize)
	}
	base := unsafe.Pointer(unsafe.SliceData(raw))
	offset := ((uintptr(base)+pageSize-1)/pageSize)*pageSize - uintptr(base)
	return unsafe.Slice((*byte)(unsafe.Add(base, offset)), size)
}
