// Package bridge composes the routing, batching, throttling, and wire
// codec layers into a single host-side endpoint for an embedded engine.
//
// Outbound calls flow through per-method admission control, coalesce in
// the batcher, and leave as one chunked (optionally compressed) wire
// encoding per flush. Inbound bytes are reassembled, decoded, run through
// any registered delta streams, and dispatched to the message router.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gamebridge-dev/gamebridge/pkg/batch"
	"github.com/gamebridge-dev/gamebridge/pkg/delta"
	"github.com/gamebridge-dev/gamebridge/pkg/protocol"
	"github.com/gamebridge-dev/gamebridge/pkg/router"
	"github.com/gamebridge-dev/gamebridge/pkg/throttle"
)

// Transport moves opaque byte buffers between the two sides of the
// bridge. Send must be safe for concurrent use; the receive callback is
// invoked from the transport's read goroutine.
type Transport interface {
	// Send writes one wire buffer (one or more frames) to the peer.
	Send(data []byte) error

	// OnReceive registers the callback for inbound wire buffers. Must be
	// called before traffic starts; later calls replace the callback.
	OnReceive(fn func(data []byte))

	// Close tears down the transport. Send fails afterwards.
	Close() error
}

// controlTarget is the reserved routing namespace for bridge-internal
// messages: resync requests for delta streams and liveness pings.
const controlTarget = "__bridge"

const (
	controlResync = "resync"
	controlPing   = "ping"
	controlPong   = "pong"
	controlReady  = "ready"
)

// ErrClosed is returned by calls made after Dispose.
var ErrClosed = errors.New("bridge: closed")

// Stats aggregates counters from every layer of the bridge.
type Stats struct {
	Router   router.Statistics
	Throttle throttle.Stats
	Batch    batch.Stats

	FramesSent    int64
	BytesSent     int64
	BytesReceived int64
	DecodeErrors  int64
	Resyncs       int64
}

// Bridge is one endpoint of a host/engine message channel.
type Bridge struct {
	cfg    *Config
	logger *slog.Logger

	router    *router.Router
	throttler *throttle.Throttler
	batcher   *batch.Batcher
	transport Transport

	// wireMu serializes the marshaller and transport writes; flushes come
	// from both the batch ticker and callers of Flush.
	wireMu     sync.Mutex
	marshaller *protocol.Marshaller

	// streamMu guards the delta stream tables.
	streamMu sync.Mutex
	encoders map[string]*delta.StreamEncoder
	decoders map[string]*delta.StreamDecoder

	reasmMu sync.Mutex
	reasm   *protocol.Reassembler

	hooks Hooks

	drainTicker *time.Ticker
	drainDone   chan struct{}
	peerReady   atomic.Bool
	closed      atomic.Bool

	framesSent    atomic.Int64
	bytesSent     atomic.Int64
	bytesReceived atomic.Int64
	decodeErrors  atomic.Int64
	resyncs       atomic.Int64
}

// Hooks are optional lifecycle callbacks. All fields may be nil.
type Hooks struct {
	// OnDispatch fires after every successful inbound dispatch.
	OnDispatch func(target, method string, binary bool)

	// OnSend fires after every successful transport write with the wire
	// size in bytes.
	OnSend func(bytes int)

	// OnError fires on decode and transport failures.
	OnError func(err error)

	// OnPeerReady fires once when the peer announces its handlers are
	// registered.
	OnPeerReady func()
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithHooks installs lifecycle callbacks.
func WithHooks(h Hooks) Option {
	return func(b *Bridge) {
		b.hooks = h
	}
}

// New creates a Bridge over the given transport. A nil cfg uses
// DefaultConfig. Inbound dispatch begins immediately; messages for
// targets that are not registered yet queue until Ready.
func New(transport Transport, cfg *Config, opts ...Option) *Bridge {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		cfg = cfg.Clone()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "bridge")

	b := &Bridge{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		marshaller: protocol.NewMarshaller(protocol.MarshalOptions{
			MaxFrameSize:      cfg.MaxFrameSize,
			Compress:          cfg.CompressionEnabled,
			CompressThreshold: cfg.CompressThreshold,
		}),
		encoders: make(map[string]*delta.StreamEncoder),
		decoders: make(map[string]*delta.StreamDecoder),
		reasm:    protocol.NewReassembler(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.router = router.New(
		router.WithLogger(logger),
		router.WithQueueUnknownTargets(cfg.QueueUnknownTargets),
		router.WithMaxQueueSize(cfg.MaxQueueSize),
		router.WithDispatchHook(func(target, method string, binary bool) {
			if b.hooks.OnDispatch != nil {
				b.hooks.OnDispatch(target, method, binary)
			}
		}),
	)

	tc := cfg.Throttle
	if tc == nil {
		tc = throttle.DefaultConfig()
	}
	b.throttler = throttle.New(tc)

	b.batcher = batch.New(&batch.Config{
		Window:      cfg.BatchWindow,
		MaxMessages: cfg.BatchMaxMessages,
		MaxBytes:    cfg.BatchMaxBytes,
		Logger:      logger,
	}, b.flushBatch)

	// Throttled messages release on the same cadence as batch flushes.
	if cfg.BatchWindow > 0 {
		b.drainTicker = time.NewTicker(cfg.BatchWindow)
		b.drainDone = make(chan struct{})
		go b.drainLoop()
	}

	transport.OnReceive(b.handleReceive)
	return b
}

func (b *Bridge) drainLoop() {
	for {
		select {
		case <-b.drainTicker.C:
			b.releasePending()
		case <-b.drainDone:
			return
		}
	}
}

// Router exposes the message router for target and method registration.
func (b *Bridge) Router() *router.Router {
	return b.router
}

// Call sends a text message to the peer. The message passes admission
// control and joins the current batch; delivery happens on the next
// flush. Returns ErrClosed after Dispose.
func (b *Bridge) Call(target, method, payload string) error {
	return b.send(target, method, false, []byte(payload))
}

// CallBinary sends an opaque byte payload to the peer.
func (b *Bridge) CallBinary(target, method string, payload []byte) error {
	return b.send(target, method, true, payload)
}

func (b *Bridge) send(target, method string, binary bool, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	switch b.throttler.Admit(target, method, binary, payload) {
	case throttle.SendNow:
		b.enqueue(target, method, binary, payload)
	case throttle.Coalesce:
		// Held as the bucket's latest; a later Admit or Drain releases it.
	case throttle.Drop:
		b.logger.Debug("outbound message dropped by throttle",
			"target", target, "method", method)
	}
	return nil
}

func (b *Bridge) enqueue(target, method string, binary bool, payload []byte) {
	msg := protocol.Message{Target: target, Method: method, Payload: payload}
	if binary {
		msg.Flags |= protocol.MsgBinary
	}
	b.batcher.Add(msg)
}

// SetThrottle installs a rate policy for one (target, method) pair.
// rateHz zero removes the limit.
func (b *Bridge) SetThrottle(target, method string, policy throttle.Policy, rateHz int) {
	b.throttler.SetPolicy(target, method, policy, rateHz)
}

// SetCoalescing marks a (target, method) pair latest-wins within a batch
// window: only the newest payload of the pair survives to the flush.
func (b *Bridge) SetCoalescing(target, method string) {
	b.batcher.SetCoalescing(target, method)
}

// EnableDeltaStream turns on delta encoding for outbound payloads of the
// pair and delta decoding for inbound ones. Both sides must enable the
// same pair.
func (b *Bridge) EnableDeltaStream(target, method string) {
	key := streamKey(target, method)
	b.streamMu.Lock()
	if _, ok := b.encoders[key]; !ok {
		b.encoders[key] = delta.NewStreamEncoder()
	}
	if _, ok := b.decoders[key]; !ok {
		b.decoders[key] = delta.NewStreamDecoder()
	}
	b.streamMu.Unlock()
}

// Ready marks this side's handlers as wired up: queued messages are
// delivered and the peer is told it may stop holding traffic back.
func (b *Bridge) Ready() {
	b.router.FlushQueue()
	b.enqueue(controlTarget, controlReady, false, nil)
}

// PeerReady reports whether the peer has announced readiness.
func (b *Bridge) PeerReady() bool {
	return b.peerReady.Load()
}

// Pause stops outbound flushes; calls keep accumulating.
func (b *Bridge) Pause() {
	b.batcher.Pause()
}

// Resume restarts outbound flushes and flushes anything accumulated
// while paused.
func (b *Bridge) Resume() {
	b.batcher.Resume()
}

// Flush forces the current batch out, along with any throttled messages
// whose rate window has room.
func (b *Bridge) Flush() {
	if b.closed.Load() {
		return
	}
	b.releasePending()
	b.batcher.Flush()
}

// Dispose tears the bridge down: the batcher stops, pending outbound
// messages are discarded, the inbound queue is cleared, and the transport
// closes. Safe to call more than once.
func (b *Bridge) Dispose() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	if b.drainTicker != nil {
		b.drainTicker.Stop()
		close(b.drainDone)
	}
	b.batcher.Close()
	b.throttler.Reset()
	b.router.ClearQueue()
	if err := b.transport.Close(); err != nil {
		b.logger.Warn("transport close failed", "error", err)
	}
}

// Stats returns a snapshot of all layer counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Router:        b.router.Statistics(),
		Throttle:      b.throttler.Stats(),
		Batch:         b.batcher.Stats(),
		FramesSent:    b.framesSent.Load(),
		BytesSent:     b.bytesSent.Load(),
		BytesReceived: b.bytesReceived.Load(),
		DecodeErrors:  b.decodeErrors.Load(),
		Resyncs:       b.resyncs.Load(),
	}
}

// releasePending moves throttled messages whose window now has room into
// the batcher.
func (b *Bridge) releasePending() {
	for _, p := range b.throttler.Drain() {
		b.enqueue(p.Target, p.Method, p.Binary, p.Payload)
	}
}

// flushBatch is the batcher's flush callback: run delta streams, encode
// the batch into wire frames, and write them in one transport send.
// Delta encoding happens here rather than at enqueue time so batch
// coalescing operates on full payloads and stream sequence numbers are
// assigned in send order.
func (b *Bridge) flushBatch(msgs []protocol.Message) {
	if b.closed.Load() {
		return
	}

	b.streamMu.Lock()
	if len(b.encoders) > 0 {
		for i := range msgs {
			enc, ok := b.encoders[streamKey(msgs[i].Target, msgs[i].Method)]
			if !ok {
				continue
			}
			msgs[i].Payload = enc.Encode(msgs[i].Payload)
			msgs[i].Flags |= protocol.MsgDelta
		}
	}
	b.streamMu.Unlock()

	b.wireMu.Lock()
	buf, err := b.marshaller.EncodeFrames(msgs)
	b.wireMu.Unlock()
	if err != nil {
		b.logger.Error("batch encode failed", "messages", len(msgs), "error", err)
		b.reportError(err)
		return
	}

	if err := b.transport.Send(buf); err != nil {
		b.logger.Error("transport send failed", "bytes", len(buf), "error", err)
		b.reportError(err)
		return
	}

	b.framesSent.Add(1)
	b.bytesSent.Add(int64(len(buf)))
	if b.hooks.OnSend != nil {
		b.hooks.OnSend(len(buf))
	}
}

// handleReceive is the transport's receive callback: reassemble frames,
// decode batches, and dispatch each message.
func (b *Bridge) handleReceive(data []byte) {
	if b.closed.Load() {
		return
	}
	b.bytesReceived.Add(int64(len(data)))

	b.reasmMu.Lock()
	payloads, err := b.reasm.FeedBytes(data)
	b.reasmMu.Unlock()
	if err != nil {
		b.decodeErrors.Add(1)
		b.logger.Warn("frame reassembly failed", "bytes", len(data), "error", err)
		b.reportError(err)
		// Complete payloads before the error still dispatch.
	}

	for _, payload := range payloads {
		msgs, err := protocol.DecodeBatch(payload)
		if err != nil {
			b.decodeErrors.Add(1)
			b.logger.Warn("batch decode failed", "bytes", len(payload), "error", err)
			b.reportError(err)
			continue
		}
		for i := range msgs {
			b.dispatch(&msgs[i])
		}
	}
}

func (b *Bridge) dispatch(msg *protocol.Message) {
	if msg.Target == controlTarget {
		b.handleControl(msg)
		return
	}

	payload := msg.Payload
	if msg.Flags.Has(protocol.MsgDelta) {
		full, err := b.applyDelta(msg.Target, msg.Method, payload)
		if err != nil {
			if errors.Is(err, delta.ErrResyncRequired) {
				b.requestResync(msg.Target, msg.Method)
				return
			}
			b.decodeErrors.Add(1)
			b.logger.Warn("delta apply failed",
				"target", msg.Target, "method", msg.Method, "error", err)
			b.reportError(err)
			return
		}
		payload = full
	}

	if msg.Flags.Has(protocol.MsgBinary) {
		b.router.RouteBinaryMessage(msg.Target, msg.Method, payload)
	} else {
		b.router.RouteMessage(msg.Target, msg.Method, string(payload))
	}
}

func (b *Bridge) applyDelta(target, method string, payload []byte) ([]byte, error) {
	key := streamKey(target, method)
	b.streamMu.Lock()
	dec, ok := b.decoders[key]
	if !ok {
		dec = delta.NewStreamDecoder()
		b.decoders[key] = dec
	}
	full, err := dec.Apply(payload)
	b.streamMu.Unlock()
	return full, err
}

// handleControl services the reserved namespace. Resync resets the named
// outbound stream so its next payload is a full snapshot; ping gets a
// pong so either side can probe liveness.
func (b *Bridge) handleControl(msg *protocol.Message) {
	switch msg.Method {
	case controlResync:
		key := string(msg.Payload)
		b.streamMu.Lock()
		if enc, ok := b.encoders[key]; ok {
			enc.Reset()
		}
		b.streamMu.Unlock()
		b.resyncs.Add(1)
		b.logger.Debug("delta stream reset by peer", "stream", key)
	case controlPing:
		b.enqueue(controlTarget, controlPong, false, msg.Payload)
	case controlPong:
		// Liveness reply, nothing to do.
	case controlReady:
		if b.peerReady.CompareAndSwap(false, true) && b.hooks.OnPeerReady != nil {
			b.hooks.OnPeerReady()
		}
	default:
		b.logger.Warn("unknown control message", "method", msg.Method)
	}
}

// requestResync asks the peer to reset a delta stream after a missed or
// out-of-order delta, then resets the local decoder so the reset payload
// is accepted.
func (b *Bridge) requestResync(target, method string) {
	key := streamKey(target, method)
	b.streamMu.Lock()
	if dec, ok := b.decoders[key]; ok {
		dec.Reset()
	}
	b.streamMu.Unlock()
	b.resyncs.Add(1)
	b.logger.Info("requesting delta resync", "stream", key)
	b.enqueue(controlTarget, controlResync, false, []byte(key))
}

func (b *Bridge) reportError(err error) {
	if b.hooks.OnError != nil {
		b.hooks.OnError(err)
	}
}

func streamKey(target, method string) string {
	return fmt.Sprintf("%s::%s", target, method)
}
