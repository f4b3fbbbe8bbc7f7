package lock

import (
	"sync"
	"testing"
	"time"

	"blastd/pkg/logx"
)

func TestAcquireMutualExclusion(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())

	if !s.Acquire("sess-1", "holder-a", time.Minute) {
		t.Fatal("first acquire should succeed")
	}
	if s.Acquire("sess-1", "holder-b", time.Minute) {
		t.Fatal("second acquire on held session should fail")
	}
	// A different session is unaffected.
	if !s.Acquire("sess-2", "holder-b", time.Minute) {
		t.Fatal("acquire on free session should succeed")
	}
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())

	const n = 32
	var wg sync.WaitGroup
	var wins sync.Map
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Acquire("sess-1", string(rune('a'+i)), time.Minute) {
				wins.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	wins.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	t.Parallel()

	s := New(logx.Nop())

	if !s.Acquire("sess-1", "holder-a", time.Minute) {
		t.Fatal("acquire should succeed")
	}
	if !s.Release("sess-1", "holder-a") {
		t.Fatal("release by holder should succeed")
	}
	if !s.Acquire("sess-1", "holder-b", time.Minute) {
		t.Fatal("acquire after release should succeed")
	}
}

func TestExpiredLeaseIsFree(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))

	if !s.Acquire("sess-1", "holder-a", time.Minute) {
		t.Fatal("acquire should succeed")
	}

	// Advance past the lease.
	now = now.Add(time.Minute + time.Second)

	if s.Held("sess-1") {
		t.Fatal("expired lease should not count as held")
	}
	if !s.Acquire("sess-1", "holder-b", time.Minute) {
		t.Fatal("acquire after expiry should succeed")
	}
}

func TestReleaseTokenMismatchLeavesLock(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))

	if !s.Acquire("sess-1", "holder-a", time.Minute) {
		t.Fatal("acquire should succeed")
	}
	now = now.Add(2 * time.Minute)
	if !s.Acquire("sess-1", "holder-b", time.Minute) {
		t.Fatal("takeover after expiry should succeed")
	}

	// The stale holder finishing late must not free holder-b's lease.
	if s.Release("sess-1", "holder-a") {
		t.Fatal("stale release should be refused")
	}
	if !s.Held("sess-1") {
		t.Fatal("current lease must survive a stale release")
	}
	if !s.Release("sess-1", "holder-b") {
		t.Fatal("release by current holder should succeed")
	}
}

func TestDefaultLeaseApplied(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := New(logx.Nop(), WithClock(func() time.Time { return now }))

	if !s.Acquire("sess-1", "holder-a", 0) {
		t.Fatal("acquire with zero ttl should use the default lease")
	}
	now = now.Add(DefaultLease - time.Second)
	if !s.Held("sess-1") {
		t.Fatal("lease should still be live just before the default ttl")
	}
	now = now.Add(2 * time.Second)
	if s.Held("sess-1") {
		t.Fatal("lease should be expired past the default ttl")
	}
}
