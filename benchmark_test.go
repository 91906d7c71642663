// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"testing"

	"code.hybscloud.com/hetq"
)

func BenchmarkBoundedPool_GetPut(b *testing.B) {
	pool := hetq.NewBoundedPool[hetq.SmallBuffer](1024)
	pool.Fill(hetq.NewSmallBuffer)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx, err := pool.Get()
			if err != nil {
				b.Fatal(err)
			}
			if err := pool.Put(idx); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkBoundedPool_HighContention(b *testing.B) {
	pool := hetq.NewBoundedPool[hetq.PicoBuffer](16)
	pool.Fill(hetq.NewPicoBuffer)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			idx, err := pool.Get()
			if err != nil {
				b.Fatal(err)
			}
			if err := pool.Put(idx); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkAlignedMem(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = hetq.AlignedMem(4096, 4096)
	}
}

func BenchmarkAlignedMemBlocks(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = hetq.AlignedMemBlocks(16, 4096)
	}
}
