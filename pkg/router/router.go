// Package router dispatches decoded bridge messages to registered
// handlers. A message names a target (a logical receiver such as a
// game-side controller) and a method on that target; handlers are cached
// under a composite "target::method" key so dispatch is a single map
// lookup, no reflection.
//
// Messages can arrive before their target exists: the engine may emit
// events while the host UI is still attaching, and vice versa. The router
// queues such messages (bounded, oldest dropped on overflow) until a
// lifecycle controller calls FlushQueue.
//
// A Router is an explicitly constructed instance owned by the host
// application's composition root; there is no package-level singleton, so
// tests and multi-engine hosts can run independent routers side by side.
package router

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MethodFunc handles a text message routed to a (target, method) key.
type MethodFunc func(method, payload string)

// BinaryMethodFunc handles a binary message routed to a (target, method) key.
type BinaryMethodFunc func(method string, payload []byte)

// TargetInfo describes one registered target.
type TargetInfo struct {
	Name      string
	Singleton bool
	Handles   int
	Methods   int
}

// Statistics is a point-in-time snapshot of router counters. Snapshots are
// copies; mutating one has no effect on the router.
type Statistics struct {
	MessagesRouted    int64
	MessagesDropped   int64
	TargetsReplaced   int64
	RegisteredTargets int
	CachedDelegates   int
	QueuedMessages    int
}

type targetEntry struct {
	singleton bool
	handles   []any
}

type queuedMessage struct {
	target     string
	method     string
	payload    string
	binary     bool
	binPayload []byte
	enqueuedAt time.Time
}

// Router maps (target, method) keys to handlers.
//
// All mutating calls are serialized behind one mutex. Delegates run
// synchronously on the caller's goroutine, outside the lock, so a handler
// may register or unregister without deadlocking.
type Router struct {
	mu sync.Mutex

	targets    map[string]*targetEntry
	delegates  map[string]MethodFunc
	binDelgs   map[string]BinaryMethodFunc
	queue      []queuedMessage
	queueOpen  bool
	maxQueue   int
	logger     *slog.Logger
	onDispatch func(target, method string, binary bool)

	routed   atomic.Int64
	dropped  atomic.Int64
	replaced atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithQueueUnknownTargets enables or disables pre-ready queuing.
// Enabled by default.
func WithQueueUnknownTargets(enable bool) Option {
	return func(r *Router) {
		r.queueOpen = enable
	}
}

// WithMaxQueueSize bounds the pre-ready queue. Defaults to 1000.
func WithMaxQueueSize(n int) Option {
	return func(r *Router) {
		r.maxQueue = n
	}
}

// WithDispatchHook installs a callback invoked after every successful
// dispatch, before the delegate returns control. Used for tracing and
// metrics.
func WithDispatchHook(hook func(target, method string, binary bool)) Option {
	return func(r *Router) {
		r.onDispatch = hook
	}
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		targets:   make(map[string]*targetEntry),
		delegates: make(map[string]MethodFunc),
		binDelgs:  make(map[string]BinaryMethodFunc),
		queueOpen: true,
		maxQueue:  1000,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxQueue < 1 {
		r.maxQueue = 1
	}
	r.logger = r.logger.With("component", "router")
	return r
}

// cacheKey builds the composite delegate key.
func cacheKey(target, method string) string {
	return target + "::" + method
}

// RegisterTarget registers a receiver under name.
//
// A singleton target admits one registration: registering a second
// singleton under the same name replaces the first (last-writer-wins) and
// invalidates the first's cached delegates. A non-singleton target
// accumulates handles; dispatch fans out to the shared delegate set.
//
// A nil handle is rejected.
func (r *Router) RegisterTarget(name string, handle any, singleton bool) bool {
	if handle == nil {
		r.logger.Warn("cannot register nil target handle", "target", name)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.targets[name]
	switch {
	case exists && singleton:
		// Replace. The previous owner's handlers are stale; drop them so
		// the new owner's registrations take over cleanly.
		r.removeDelegatesLocked(name)
		r.targets[name] = &targetEntry{singleton: true, handles: []any{handle}}
		r.replaced.Add(1)
		r.logger.Info("singleton target replaced", "target", name)

	case exists:
		entry.handles = append(entry.handles, handle)
		r.logger.Debug("target handle added", "target", name, "handles", len(entry.handles))

	default:
		r.targets[name] = &targetEntry{singleton: singleton, handles: []any{handle}}
		r.logger.Info("target registered", "target", name, "singleton", singleton)
	}
	return true
}

// UnregisterTarget removes a target and every cached delegate under it.
// Messages queued for the target are retained; call ClearQueue to discard
// them.
func (r *Router) UnregisterTarget(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.targets[name]; !ok {
		return
	}
	delete(r.targets, name)
	r.removeDelegatesLocked(name)
	r.logger.Info("target unregistered", "target", name)
}

// removeDelegatesLocked drops every cached delegate belonging to target.
func (r *Router) removeDelegatesLocked(target string) {
	prefix := target + "::"
	for key := range r.delegates {
		if strings.HasPrefix(key, prefix) {
			delete(r.delegates, key)
		}
	}
	for key := range r.binDelgs {
		if strings.HasPrefix(key, prefix) {
			delete(r.binDelgs, key)
		}
	}
}

// IsTargetRegistered reports whether name has an active registration.
func (r *Router) IsTargetRegistered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.targets[name]
	return ok
}

// Targets returns info for every registered target.
func (r *Router) Targets() []TargetInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]TargetInfo, 0, len(r.targets))
	for name, entry := range r.targets {
		methods := 0
		prefix := name + "::"
		for key := range r.delegates {
			if strings.HasPrefix(key, prefix) {
				methods++
			}
		}
		for key := range r.binDelgs {
			if strings.HasPrefix(key, prefix) {
				methods++
			}
		}
		infos = append(infos, TargetInfo{
			Name:      name,
			Singleton: entry.singleton,
			Handles:   len(entry.handles),
			Methods:   methods,
		})
	}
	return infos
}

// RegisterMethod installs a text handler for (target, method). A handler
// already cached under the same key is overwritten (last-registered wins).
func (r *Router) RegisterMethod(target, method string, fn MethodFunc) {
	if fn == nil {
		r.logger.Warn("cannot register nil delegate", "target", target, "method", method)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegates[cacheKey(target, method)] = fn
	r.logger.Debug("method registered", "target", target, "method", method)
}

// RegisterBinaryMethod installs a binary handler for (target, method).
func (r *Router) RegisterBinaryMethod(target, method string, fn BinaryMethodFunc) {
	if fn == nil {
		r.logger.Warn("cannot register nil delegate", "target", target, "method", method)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.binDelgs[cacheKey(target, method)] = fn
	r.logger.Debug("binary method registered", "target", target, "method", method)
}

// UnregisterMethod removes the text and binary handlers for (target, method).
func (r *Router) UnregisterMethod(target, method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := cacheKey(target, method)
	delete(r.delegates, key)
	delete(r.binDelgs, key)
}

// RouteMessage dispatches a text message.
//
// Cache hit: the delegate runs synchronously and RouteMessage returns
// true. Target registered but method unknown: the message is dropped and
// RouteMessage returns false; the target exists but cannot handle the
// method, which is a programming error rather than a timing issue, so the
// message is never queued. Target unregistered: the message is queued when
// queuing is enabled (returns true), dropped otherwise (returns false).
func (r *Router) RouteMessage(target, method, payload string) bool {
	r.mu.Lock()
	fn, ok := r.delegates[cacheKey(target, method)]
	if ok {
		r.mu.Unlock()
		r.invoke(target, method, func() { fn(method, payload) }, false)
		return true
	}

	if _, registered := r.targets[target]; registered {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Warn("no handler for method", "target", target, "method", method)
		return false
	}

	if r.queueOpen {
		r.enqueueLocked(queuedMessage{
			target:     target,
			method:     method,
			payload:    payload,
			enqueuedAt: time.Now(),
		})
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	r.dropped.Add(1)
	r.logger.Warn("unknown target", "target", target, "method", method)
	return false
}

// RouteBinaryMessage dispatches a binary message with the same semantics
// as RouteMessage.
func (r *Router) RouteBinaryMessage(target, method string, payload []byte) bool {
	r.mu.Lock()
	fn, ok := r.binDelgs[cacheKey(target, method)]
	if ok {
		r.mu.Unlock()
		r.invoke(target, method, func() { fn(method, payload) }, true)
		return true
	}

	if _, registered := r.targets[target]; registered {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.logger.Warn("no binary handler for method", "target", target, "method", method)
		return false
	}

	if r.queueOpen {
		r.enqueueLocked(queuedMessage{
			target:     target,
			method:     method,
			binary:     true,
			binPayload: payload,
			enqueuedAt: time.Now(),
		})
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	r.dropped.Add(1)
	r.logger.Warn("unknown target", "target", target, "method", method)
	return false
}

// invoke runs a delegate with panic isolation: a failing handler must not
// corrupt router state or block subsequent dispatch.
func (r *Router) invoke(target, method string, call func(), binary bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.dropped.Add(1)
			r.logger.Error("handler panic",
				"target", target,
				"method", method,
				"panic", fmt.Sprint(rec))
			return
		}
		r.routed.Add(1)
		if r.onDispatch != nil {
			r.onDispatch(target, method, binary)
		}
	}()
	call()
}

// enqueueLocked appends to the pre-ready queue, evicting the oldest entry
// for the same target (or the oldest overall) when full. Caller holds mu.
func (r *Router) enqueueLocked(msg queuedMessage) {
	if len(r.queue) >= r.maxQueue {
		evict := 0
		for i := range r.queue {
			if r.queue[i].target == msg.target {
				evict = i
				break
			}
		}
		r.queue = append(r.queue[:evict], r.queue[evict+1:]...)
		r.dropped.Add(1)
		r.logger.Warn("queue full, dropped oldest message", "target", msg.target)
	}
	r.queue = append(r.queue, msg)
	r.logger.Debug("message queued", "target", msg.target, "method", msg.method)
}

// QueueMessage enqueues a text message directly, bypassing dispatch.
func (r *Router) QueueMessage(target, method, payload string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueueLocked(queuedMessage{
		target:     target,
		method:     method,
		payload:    payload,
		enqueuedAt: time.Now(),
	})
}

// FlushQueue attempts delivery of every queued message once, in enqueue
// order. Delivered messages leave the queue; messages whose target is
// registered but lacks a handler are dropped; messages whose target is
// still unregistered remain queued. FlushQueue never loops.
func (r *Router) FlushQueue() {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.mu.Unlock()

	var keep []queuedMessage
	for _, msg := range pending {
		key := cacheKey(msg.target, msg.method)

		r.mu.Lock()
		var call func()
		if msg.binary {
			if fn, ok := r.binDelgs[key]; ok {
				m, p := msg.method, msg.binPayload
				call = func() { fn(m, p) }
			}
		} else {
			if fn, ok := r.delegates[key]; ok {
				m, p := msg.method, msg.payload
				call = func() { fn(m, p) }
			}
		}
		_, registered := r.targets[msg.target]
		r.mu.Unlock()

		switch {
		case call != nil:
			r.invoke(msg.target, msg.method, call, msg.binary)
		case registered:
			// Target exists but no handler: same as live routing, drop.
			r.dropped.Add(1)
			r.logger.Warn("flushed message had no handler", "target", msg.target, "method", msg.method)
		default:
			keep = append(keep, msg)
		}
	}

	if len(keep) > 0 {
		r.mu.Lock()
		// New arrivals during flush stay behind the retained originals.
		r.queue = append(keep, r.queue...)
		r.mu.Unlock()
	}
}

// ClearQueue discards every queued message.
func (r *Router) ClearQueue() {
	r.mu.Lock()
	n := len(r.queue)
	r.queue = nil
	r.mu.Unlock()
	if n > 0 {
		r.logger.Info("cleared queued messages", "count", n)
	}
}

// SetQueueUnknownTargets toggles pre-ready queuing.
func (r *Router) SetQueueUnknownTargets(enable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueOpen = enable
}

// SetMaxQueueSize rebounds the queue, trimming the oldest entries if the
// new bound is smaller than the current backlog. Minimum is 1.
func (r *Router) SetMaxQueueSize(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxQueue = n
	for len(r.queue) > n {
		r.queue = r.queue[1:]
		r.dropped.Add(1)
	}
}

// Statistics returns a snapshot of router counters.
func (r *Router) Statistics() Statistics {
	r.mu.Lock()
	targets := len(r.targets)
	delegates := len(r.delegates) + len(r.binDelgs)
	queued := len(r.queue)
	r.mu.Unlock()

	return Statistics{
		MessagesRouted:    r.routed.Load(),
		MessagesDropped:   r.dropped.Load(),
		TargetsReplaced:   r.replaced.Load(),
		RegisteredTargets: targets,
		CachedDelegates:   delegates,
		QueuedMessages:    queued,
	}
}

// ResetStatistics zeroes the monotonic counters. Registration and queue
// gauges always reflect live state and are unaffected.
func (r *Router) ResetStatistics() {
	r.routed.Store(0)
	r.dropped.Store(0)
	r.replaced.Store(0)
}
