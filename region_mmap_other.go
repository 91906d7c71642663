// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package hetq

// allocateRegionMemory is the non-Linux fallback: region memory comes from
// the Go heap instead of a direct mmap call. Go's own allocator zero-fills
// fresh pages the same way anonymous mmap does, so SystemPageSource's
// PagesAreZeroed invariant holds either way.
func allocateRegionMemory(size, pageSize uintptr) []byte {
	return AlignedMem(int(size), pageSize)
}
