// Package throttle rate-limits outbound bridge traffic per
// (target, method) key, protecting frame-rate-sensitive consumers from
// message storms. Admission never blocks: the host call site runs on a
// latency-sensitive path, so an over-budget message is either coalesced
// (latest-wins keys keep exactly one pending value) or queued up to a
// bound and then dropped.
package throttle

import (
	"sync"
	"time"
)

// Policy selects what happens to messages that exceed a key's rate.
type Policy uint8

const (
	// LatestWins keeps only the most recent pending payload for the key.
	// Suited to idempotent state updates (positions, health bars).
	LatestWins Policy = iota

	// QueueAll retains pending payloads in order up to MaxPending, then
	// drops. Suited to discrete events that must not collapse.
	QueueAll
)

// String returns the string representation of the policy.
func (p Policy) String() string {
	switch p {
	case LatestWins:
		return "LatestWins"
	case QueueAll:
		return "QueueAll"
	default:
		return "Unknown"
	}
}

// Decision is the outcome of an admission check.
type Decision uint8

const (
	// SendNow admits the message immediately.
	SendNow Decision = iota

	// Coalesce holds the message as a pending value; a later Drain
	// releases it when the window has room.
	Coalesce

	// Drop discards the message.
	Drop
)

// String returns the string representation of the decision.
func (d Decision) String() string {
	switch d {
	case SendNow:
		return "SendNow"
	case Coalesce:
		return "Coalesce"
	case Drop:
		return "Drop"
	default:
		return "Unknown"
	}
}

// Stats is a snapshot of throttler counters.
type Stats struct {
	Admitted  int64
	Coalesced int64
	Dropped   int64
	Pending   int
}

// Pending is a held-back payload released by Drain.
type Pending struct {
	Target  string
	Method  string
	Binary  bool
	Payload []byte
}

// slidingWindow tracks send timestamps within a rolling window.
type slidingWindow struct {
	events     []time.Time
	windowSize time.Duration
	maxEvents  int
}

// tryAdd attempts to record an event. Returns false when the window is at
// its limit. A zero maxEvents means unlimited.
func (w *slidingWindow) tryAdd(now time.Time) bool {
	if w.maxEvents == 0 {
		return true
	}

	cutoff := now.Add(-w.windowSize)
	valid := 0
	for _, t := range w.events {
		if t.After(cutoff) {
			w.events[valid] = t
			valid++
		}
	}
	w.events = w.events[:valid]

	if len(w.events) >= w.maxEvents {
		return false
	}
	w.events = append(w.events, now)
	return true
}

type bucket struct {
	policy  Policy
	window  slidingWindow
	latest  *Pending  // LatestWins: at most one
	pending []Pending // QueueAll: bounded FIFO
}

// Config holds throttler configuration.
type Config struct {
	// DefaultRateHz applies to keys without an explicit policy. Zero
	// means unlimited (every message admitted immediately).
	DefaultRateHz int

	// DefaultPolicy applies to keys without an explicit policy.
	DefaultPolicy Policy

	// MaxPending bounds the per-key pending queue for QueueAll keys.
	// Default: 64.
	MaxPending int

	// Window is the rate-limiting window. Default: one second, which
	// makes RateHz literal.
	Window time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultRateHz: 0,
		DefaultPolicy: LatestWins,
		MaxPending:    64,
		Window:        time.Second,
	}
}

// Throttler applies per-key admission control. Safe for use from the
// single outbound owner plus a drain ticker.
type Throttler struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	rates   map[string]keyPolicy

	admitted  int64
	coalesced int64
	dropped   int64
}

type keyPolicy struct {
	policy Policy
	rateHz int
}

// New creates a Throttler. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Throttler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxPending <= 0 {
		c.MaxPending = 64
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return &Throttler{
		cfg:     c,
		buckets: make(map[string]*bucket),
		rates:   make(map[string]keyPolicy),
	}
}

func key(target, method string) string {
	return target + "::" + method
}

// SetPolicy configures the rate and policy for one (target, method) key.
// A rate of zero lifts the limit for that key.
func (t *Throttler) SetPolicy(target, method string, policy Policy, rateHz int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key(target, method)
	t.rates[k] = keyPolicy{policy: policy, rateHz: rateHz}
	delete(t.buckets, k) // rebuild with the new rate on next admission
}

func (t *Throttler) bucketFor(k string) *bucket {
	b, ok := t.buckets[k]
	if ok {
		return b
	}
	kp, ok := t.rates[k]
	if !ok {
		kp = keyPolicy{policy: t.cfg.DefaultPolicy, rateHz: t.cfg.DefaultRateHz}
	}
	b = &bucket{
		policy: kp.policy,
		window: slidingWindow{windowSize: t.cfg.Window, maxEvents: kp.rateHz},
	}
	t.buckets[k] = b
	return b
}

// Admit decides the fate of one outbound message. SendNow means the caller
// should forward the message immediately; Coalesce means the throttler has
// taken custody of the payload and will surface it via Drain; Drop means
// the message is gone (counted).
func (t *Throttler) Admit(target, method string, binary bool, payload []byte) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(key(target, method))
	if b.window.tryAdd(t.cfg.Clock()) {
		t.admitted++
		return SendNow
	}

	p := Pending{Target: target, Method: method, Binary: binary, Payload: payload}
	switch b.policy {
	case LatestWins:
		b.latest = &p
		t.coalesced++
		return Coalesce

	default: // QueueAll
		if len(b.pending) < t.cfg.MaxPending {
			b.pending = append(b.pending, p)
			t.coalesced++
			return Coalesce
		}
		t.dropped++
		return Drop
	}
}

// Drain releases pending payloads whose windows have room again. It is
// called periodically (typically on the batch tick) and returns released
// payloads in per-key order.
func (t *Throttler) Drain() []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.cfg.Clock()
	var out []Pending

	for _, b := range t.buckets {
		switch b.policy {
		case LatestWins:
			if b.latest != nil && b.window.tryAdd(now) {
				out = append(out, *b.latest)
				b.latest = nil
				t.admitted++
			}

		default: // QueueAll
			for len(b.pending) > 0 && b.window.tryAdd(now) {
				out = append(out, b.pending[0])
				b.pending = b.pending[1:]
				t.admitted++
			}
		}
	}
	return out
}

// TakePending removes and returns the pending payloads for one key,
// without charging the rate window. Useful when a key is unregistered or
// its policy changes and the held values must either flush or drop.
func (t *Throttler) TakePending(target, method string) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.buckets[key(target, method)]
	if !ok {
		return nil
	}

	var out []Pending
	if b.latest != nil {
		out = append(out, *b.latest)
		b.latest = nil
	}
	out = append(out, b.pending...)
	b.pending = nil
	return out
}

// PendingCount returns the number of payloads currently held back.
func (t *Throttler) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingLocked()
}

func (t *Throttler) pendingLocked() int {
	n := 0
	for _, b := range t.buckets {
		if b.latest != nil {
			n++
		}
		n += len(b.pending)
	}
	return n
}

// Stats returns a snapshot of throttler counters.
func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Admitted:  t.admitted,
		Coalesced: t.coalesced,
		Dropped:   t.dropped,
		Pending:   t.pendingLocked(),
	}
}

// Reset clears all buckets and pending payloads. Counters are kept.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.buckets)
}
