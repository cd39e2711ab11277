// Package batch aggregates outbound bridge messages into one transport
// write per tick window. The raw channel charges per write, so collapsing
// a frame's worth of traffic into a single flush keeps the engine side
// from stalling on transport overhead.
//
// Keys marked latest-wins coalesce in place: a superseded payload is
// replaced by the newest one at its original position, so relative arrival
// order of distinct keys is preserved.
package batch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gamebridge-dev/gamebridge/pkg/protocol"
)

// Stats is a snapshot of batcher counters.
type Stats struct {
	Added     int64
	Coalesced int64
	Flushes   int64
	Pending   int
}

// Config holds batcher configuration.
type Config struct {
	// Window is the automatic flush interval. Zero disables the timer;
	// flushing then happens only on size triggers or explicit Flush.
	Window time.Duration

	// MaxMessages flushes the batch once it holds this many messages.
	// Zero means no count trigger.
	MaxMessages int

	// MaxBytes flushes the batch once its payloads total this many
	// bytes. Zero means no byte trigger.
	MaxBytes int

	// Logger for batcher events. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults: a 16ms window
// (one 60Hz frame), 256 messages, 256KB.
func DefaultConfig() *Config {
	return &Config{
		Window:      16 * time.Millisecond,
		MaxMessages: 256,
		MaxBytes:    256 * 1024,
	}
}

// Batcher accumulates messages and hands each completed batch to the
// flush callback in one call.
type Batcher struct {
	mu        sync.Mutex
	cfg       Config
	entries   []protocol.Message
	slots     map[string]int // latest-wins key -> index in entries
	coalesce  map[string]bool
	bytes     int
	paused    bool
	onFlush   func([]protocol.Message)
	logger    *slog.Logger
	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once

	added     int64
	coalesced int64
	flushes   int64
}

// New creates a Batcher delivering batches to onFlush. The callback runs
// on the batcher's tick goroutine or the caller of Flush; it must not call
// back into the Batcher. A nil cfg uses DefaultConfig.
func New(cfg *Config, onFlush func([]protocol.Message)) *Batcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	b := &Batcher{
		cfg:      c,
		slots:    make(map[string]int),
		coalesce: make(map[string]bool),
		onFlush:  onFlush,
		logger:   c.Logger.With("component", "batch"),
		done:     make(chan struct{}),
	}

	if c.Window > 0 {
		b.ticker = time.NewTicker(c.Window)
		go b.loop()
	}
	return b
}

func (b *Batcher) loop() {
	for {
		select {
		case <-b.ticker.C:
			b.Flush()
		case <-b.done:
			return
		}
	}
}

func key(target, method string) string {
	return target + "::" + method
}

// SetCoalescing marks a (target, method) key latest-wins.
func (b *Batcher) SetCoalescing(target, method string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coalesce[key(target, method)] = true
}

// Add appends a message to the current window. Size triggers may flush
// synchronously on the caller.
func (b *Batcher) Add(msg protocol.Message) {
	b.mu.Lock()
	b.added++

	k := key(msg.Target, msg.Method)
	if b.coalesce[k] {
		if idx, ok := b.slots[k]; ok {
			b.bytes += len(msg.Payload) - len(b.entries[idx].Payload)
			b.entries[idx] = msg
			b.coalesced++
			b.mu.Unlock()
			return
		}
		b.slots[k] = len(b.entries)
	}

	b.entries = append(b.entries, msg)
	b.bytes += len(msg.Payload)

	trigger := (b.cfg.MaxMessages > 0 && len(b.entries) >= b.cfg.MaxMessages) ||
		(b.cfg.MaxBytes > 0 && b.bytes >= b.cfg.MaxBytes)
	if trigger && !b.paused {
		batch := b.takeLocked()
		b.mu.Unlock()
		b.deliver(batch)
		return
	}
	b.mu.Unlock()
}

// takeLocked detaches the current batch. Caller holds mu.
func (b *Batcher) takeLocked() []protocol.Message {
	batch := b.entries
	b.entries = nil
	b.bytes = 0
	clear(b.slots)
	return batch
}

func (b *Batcher) deliver(batch []protocol.Message) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	b.flushes++
	b.mu.Unlock()
	if b.onFlush != nil {
		b.onFlush(batch)
	}
}

// Flush delivers the current batch immediately. No-op while paused or
// when the batch is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	if b.paused {
		b.mu.Unlock()
		return
	}
	batch := b.takeLocked()
	b.mu.Unlock()
	b.deliver(batch)
}

// Pause suspends automatic and size-triggered flushing. Messages continue
// to accumulate (and coalesce) while paused.
func (b *Batcher) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
}

// Resume lifts a pause and flushes whatever accumulated.
func (b *Batcher) Resume() {
	b.mu.Lock()
	b.paused = false
	b.mu.Unlock()
	b.Flush()
}

// Pending returns the number of messages waiting in the current window.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stats returns a snapshot of batcher counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Added:     b.added,
		Coalesced: b.coalesced,
		Flushes:   b.flushes,
		Pending:   len(b.entries),
	}
}

// Close stops the flush timer and discards any pending messages. Call
// Flush first to deliver them.
func (b *Batcher) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		if b.ticker != nil {
			b.ticker.Stop()
		}
		b.mu.Lock()
		b.takeLocked()
		b.mu.Unlock()
	})
}
