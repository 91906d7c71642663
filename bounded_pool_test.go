// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/hetq"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

func TestNewBoundedPool_CapacityRounding(t *testing.T) {
	t.Run("already power of two", func(t *testing.T) {
		pool := hetq.NewBoundedPool[hetq.SmallBuffer](64)
		if pool.Cap() != 64 {
			t.Errorf("Cap() = %d, want 64", pool.Cap())
		}
	})

	t.Run("rounds up", func(t *testing.T) {
		pool := hetq.NewBoundedPool[hetq.SmallBuffer](100)
		if pool.Cap() != 128 {
			t.Errorf("Cap() = %d, want 128", pool.Cap())
		}
	})

	t.Run("capacity of one", func(t *testing.T) {
		pool := hetq.NewBoundedPool[hetq.PicoBuffer](1)
		if pool.Cap() != 1 {
			t.Errorf("Cap() = %d, want 1", pool.Cap())
		}
	})

	t.Run("panics on non-positive capacity", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for capacity 0")
			}
		}()
		hetq.NewBoundedPool[hetq.PicoBuffer](0)
	})
}

func TestBoundedPool_GetPutRoundTrip(t *testing.T) {
	pool := hetq.NewBoundedPool[hetq.SmallBuffer](8)
	pool.Fill(hetq.NewSmallBuffer)

	idx, err := pool.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	pool.SetValue(idx, hetq.NewSmallBuffer())
	_ = pool.Value(idx)
	if err := pool.Put(idx); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func TestBoundedPool_Nonblocking(t *testing.T) {
	pool := hetq.NewBoundedPool[hetq.PicoBuffer](1)
	pool.Fill(hetq.NewPicoBuffer)
	pool.SetNonblock(true)

	idx, err := pool.Get()
	if err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	if _, err := pool.Get(); err != iox.ErrWouldBlock {
		t.Errorf("second Get() error = %v, want ErrWouldBlock", err)
	}
	if err := pool.Put(idx); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := pool.Put(idx); err != iox.ErrWouldBlock {
		t.Errorf("Put() on full pool error = %v, want ErrWouldBlock", err)
	}
}

func TestBoundedPool_ValuePanicsBeforeFill(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	pool := hetq.NewBoundedPool[hetq.PicoBuffer](4)
	pool.Value(0)
}

func TestBoundedPool_ValuePanicsOutOfRange(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	pool := hetq.NewBoundedPool[hetq.PicoBuffer](4)
	pool.Fill(hetq.NewPicoBuffer)
	pool.Value(-1)
}

func TestBoundedPool_BlockingGetWaitsForPut(t *testing.T) {
	pool := hetq.NewBoundedPool[hetq.PicoBuffer](1)
	pool.Fill(hetq.NewPicoBuffer)

	idx, err := pool.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	done := make(chan int, 1)
	go func() {
		got, err := pool.Get()
		if err != nil {
			t.Errorf("blocking Get() error = %v", err)
		}
		done <- got
	}()

	var sw spin.Wait
	for range 64 {
		sw.Once()
	}
	if err := pool.Put(idx); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking Get() never returned")
	}
}

func TestBoundedPool_Concurrent(t *testing.T) {
	const capacity = 64
	const goroutines = 16
	const iterations = 2000

	pool := hetq.NewBoundedPool[hetq.PicoBuffer](capacity)
	pool.Fill(hetq.NewPicoBuffer)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				idx, err := pool.Get()
				if err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				if err := pool.Put(idx); err != nil {
					t.Errorf("Put() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTierBySize(t *testing.T) {
	cases := []struct {
		size int
		want hetq.BufferTier
	}{
		{1, hetq.TierPico},
		{hetq.BufferSizePico, hetq.TierPico},
		{hetq.BufferSizePico + 1, hetq.TierNano},
		{hetq.BufferSizeTitan, hetq.TierTitan},
		{hetq.BufferSizeTitan * 2, hetq.TierTitan},
	}
	for _, c := range cases {
		if got := hetq.TierBySize(c.size); got != c.want {
			t.Errorf("TierBySize(%d) = %v, want %v", c.size, got, c.want)
		}
	}
}
