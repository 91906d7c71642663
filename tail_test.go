// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync"
	"testing"
)

func TestProgressGuarantee_MayHelp(t *testing.T) {
	cases := []struct {
		g    ProgressGuarantee
		want bool
	}{
		{Blocking, true},
		{Throwing, true},
		{LockFree, false},
		{WaitFree, false},
	}
	for _, c := range cases {
		if got := c.g.mayHelp(); got != c.want {
			t.Fatalf("%s.mayHelp() = %v, want %v", c.g, got, c.want)
		}
	}
}

func TestFitsInline_BoundedByAllocGranularity(t *testing.T) {
	pageSize := uintptr(65536)
	if !fitsInline(1, pageSize) {
		t.Fatalf("a single-unit reservation must always fit inline")
	}
	if fitsInline(allocGranularity, pageSize) {
		t.Fatalf("a reservation of exactly allocGranularity units must not fit inline: its low bits would read as a clean tail")
	}
	if fitsInline(allocGranularity+1, pageSize) {
		t.Fatalf("a reservation larger than allocGranularity units must not fit inline")
	}
}

// Every successful reservation a set of concurrent producers makes against
// the same queueCore must claim disjoint control block addresses: this is
// the property reserveTailMulti's tail-cursor encoding exists to preserve
// without any producer waiting on another specific goroutine.
func TestReserveTailMulti_ConcurrentReservationsAreDisjoint(t *testing.T) {
	core := newQueueCore(4096, NewSystemPageSource(4096), Multiple, Multiple, SeqCst)

	const producers = 8
	const perProducer = 500

	var (
		mu   sync.Mutex
		seen = make(map[uintptr]bool, producers*perProducer)
	)

	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perProducer {
				ctrl, payload, ok := core.reserveTail(Blocking, 32, 8)
				if !ok {
					t.Errorf("reservation unexpectedly failed under Blocking")
					return
				}
				addr := uintptr(ctrl)
				mu.Lock()
				dup := seen[addr]
				seen[addr] = true
				mu.Unlock()
				if dup {
					t.Errorf("control block %#x reserved twice", addr)
					return
				}
				if uintptr(payload) < addr {
					t.Errorf("payload %#x lies before its control block %#x", uintptr(payload), addr)
				}
			}
		}()
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("got %d distinct reservations, want %d", len(seen), producers*perProducer)
	}
}

// Under the LockFree hint, a producer that observes another producer's
// in-flight reservation must either finalize it as a helper (without
// waiting) or fail immediately; it must never block on that producer's own
// progress, since LockFree explicitly forbids helping indefinitely.
func TestReserveTailMulti_LockFreeNeverWaitsOnAnotherProducer(t *testing.T) {
	core := newQueueCore(4096, NewSystemPageSource(4096), Multiple, Multiple, SeqCst)

	// Seed the queue so the tail is clean and pointed at a real page.
	if _, _, ok := core.reserveTail(Blocking, 8, 8); !ok {
		t.Fatalf("seed reservation failed")
	}

	tail := core.tailCursor.Load()
	units := requiredUnits(8, 8)
	core.tailCursor.Store(tail + units) // simulate another producer mid-reservation

	if _, _, ok := core.reserveTail(LockFree, 8, 8); ok {
		t.Fatalf("expected LockFree to refuse to help a stalled peer, not silently succeed")
	}

	// A Blocking caller, in contrast, is allowed to help: it must
	// reconstruct the stalled reservation and make progress past it.
	if _, _, ok := core.reserveTail(Blocking, 8, 8); !ok {
		t.Fatalf("expected Blocking to help the stalled reservation and proceed")
	}
}
