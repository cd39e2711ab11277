package throttle

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock advances only when told to, making window behavior exact.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestThrottler(rateHz int, policy Policy) (*Throttler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.DefaultRateHz = rateHz
	cfg.DefaultPolicy = policy
	cfg.Clock = clock.Now
	return New(cfg), clock
}

func TestUnlimitedByDefault(t *testing.T) {
	th := New(nil)
	for i := 0; i < 1000; i++ {
		if d := th.Admit("T", "m", false, nil); d != SendNow {
			t.Fatalf("Admit() = %v at message %d, want SendNow", d, i)
		}
	}
}

func TestRateLimitWithinWindow(t *testing.T) {
	th, _ := newTestThrottler(3, LatestWins)

	for i := 0; i < 3; i++ {
		if d := th.Admit("T", "m", false, nil); d != SendNow {
			t.Fatalf("Admit(%d) = %v, want SendNow", i, d)
		}
	}
	if d := th.Admit("T", "m", false, []byte("x")); d != Coalesce {
		t.Fatalf("Admit(over budget) = %v, want Coalesce", d)
	}
}

// TestLatestWinsSinglePending: under sustained overload exactly one
// pending value exists, and it is the most recent.
func TestLatestWinsSinglePending(t *testing.T) {
	th, _ := newTestThrottler(1, LatestWins)

	th.Admit("Player", "pos", false, []byte("0"))
	for i := 1; i <= 50; i++ {
		th.Admit("Player", "pos", false, []byte(fmt.Sprintf("%d", i)))
		if got := th.PendingCount(); got != 1 {
			t.Fatalf("PendingCount() = %d after message %d, want 1", got, i)
		}
	}

	// Draining after the window rolls releases only the newest value.
	th2, c2 := newTestThrottler(1, LatestWins)
	th2.Admit("Player", "pos", false, []byte("first"))
	th2.Admit("Player", "pos", false, []byte("stale"))
	th2.Admit("Player", "pos", false, []byte("newest"))

	c2.Advance(2 * time.Second)
	out := th2.Drain()
	if len(out) != 1 {
		t.Fatalf("Drain() released %d payloads, want 1", len(out))
	}
	if string(out[0].Payload) != "newest" {
		t.Errorf("Drain() payload = %q, want newest", out[0].Payload)
	}
}

func TestQueueAllBounded(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cfg := DefaultConfig()
	cfg.DefaultRateHz = 1
	cfg.DefaultPolicy = QueueAll
	cfg.MaxPending = 3
	cfg.Clock = clock.Now
	th := New(cfg)

	th.Admit("T", "event", false, []byte("sent"))

	for i := 0; i < 3; i++ {
		if d := th.Admit("T", "event", false, []byte{byte(i)}); d != Coalesce {
			t.Fatalf("Admit(%d) = %v, want Coalesce", i, d)
		}
	}
	if d := th.Admit("T", "event", false, []byte("overflow")); d != Drop {
		t.Fatalf("Admit(overflow) = %v, want Drop", d)
	}

	stats := th.Stats()
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if stats.Pending != 3 {
		t.Errorf("Pending = %d, want 3", stats.Pending)
	}
}

func TestQueueAllDrainPreservesOrder(t *testing.T) {
	th, clock := newTestThrottler(2, QueueAll)

	th.Admit("T", "event", false, []byte("a"))
	th.Admit("T", "event", false, []byte("b"))
	th.Admit("T", "event", false, []byte("c"))
	th.Admit("T", "event", false, []byte("d"))

	clock.Advance(2 * time.Second)
	out := th.Drain()
	if len(out) != 2 {
		t.Fatalf("Drain() released %d, want 2 (window admits 2/s)", len(out))
	}
	if string(out[0].Payload) != "c" || string(out[1].Payload) != "d" {
		t.Errorf("Drain() order = %q,%q, want c,d", out[0].Payload, out[1].Payload)
	}
}

// TestObservedRateBounded: across many windows the admitted count never
// exceeds rate*windows plus one window of slack.
func TestObservedRateBounded(t *testing.T) {
	const rate = 5
	const windows = 10
	th, clock := newTestThrottler(rate, LatestWins)

	for w := 0; w < windows; w++ {
		for i := 0; i < 50; i++ {
			th.Admit("T", "m", false, []byte("p"))
		}
		th.Drain()
		clock.Advance(time.Second)
	}

	admitted := th.Stats().Admitted
	if max := int64(rate * (windows + 1)); admitted > max {
		t.Errorf("admitted %d messages over %d windows, want <= %d", admitted, windows, max)
	}
}

func TestPerKeyIsolation(t *testing.T) {
	th, _ := newTestThrottler(1, LatestWins)

	if d := th.Admit("A", "m", false, nil); d != SendNow {
		t.Fatalf("Admit(A) = %v", d)
	}
	// A different key has its own window.
	if d := th.Admit("B", "m", false, nil); d != SendNow {
		t.Fatalf("Admit(B) = %v, want SendNow", d)
	}
	// Same target, different method is also a distinct key.
	if d := th.Admit("A", "other", false, nil); d != SendNow {
		t.Fatalf("Admit(A, other) = %v, want SendNow", d)
	}
}

func TestSetPolicyOverridesDefault(t *testing.T) {
	th, _ := newTestThrottler(0, LatestWins) // unlimited default

	th.SetPolicy("Chat", "message", QueueAll, 1)

	if d := th.Admit("Chat", "message", false, []byte("1")); d != SendNow {
		t.Fatalf("Admit(first) = %v", d)
	}
	if d := th.Admit("Chat", "message", false, []byte("2")); d != Coalesce {
		t.Fatalf("Admit(second) = %v, want Coalesce", d)
	}
	// Other keys remain unlimited.
	for i := 0; i < 100; i++ {
		if d := th.Admit("Player", "pos", false, nil); d != SendNow {
			t.Fatalf("unrelated key throttled at %d", i)
		}
	}
}

func TestTakePending(t *testing.T) {
	th, _ := newTestThrottler(1, QueueAll)

	th.Admit("T", "event", false, []byte("sent"))
	th.Admit("T", "event", false, []byte("a"))
	th.Admit("T", "event", false, []byte("b"))
	th.Admit("Other", "m", false, []byte("sent"))
	th.Admit("Other", "m", false, []byte("held"))

	out := th.TakePending("T", "event")
	if len(out) != 2 || string(out[0].Payload) != "a" || string(out[1].Payload) != "b" {
		t.Fatalf("TakePending() = %v, want [a b]", out)
	}
	if got := th.PendingCount(); got != 1 {
		t.Errorf("PendingCount() after take = %d, want 1", got)
	}
	if out := th.TakePending("T", "event"); out != nil {
		t.Errorf("second TakePending() = %v, want nil", out)
	}
	if out := th.TakePending("never", "seen"); out != nil {
		t.Errorf("TakePending(unknown key) = %v, want nil", out)
	}
}

func TestResetClearsPending(t *testing.T) {
	th, _ := newTestThrottler(1, LatestWins)
	th.Admit("T", "m", false, []byte("a"))
	th.Admit("T", "m", false, []byte("b"))

	th.Reset()
	if got := th.PendingCount(); got != 0 {
		t.Errorf("PendingCount() after Reset = %d, want 0", got)
	}
}

func BenchmarkAdmitSendNow(b *testing.B) {
	th := New(nil)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		th.Admit("GameManager", "tick", false, nil)
	}
}
