// Package script implements the interception runtime (§4.7): a set of
// Extensions (addons) with request/response hooks, running on a dedicated
// interpreter goroutine per engine instance, fed through a bounded command
// channel so the async proxy core never touches interpreter state directly.
//
// Grounded on original_source/proxy/src/interceptor.rs for the engine
// lifecycle (single interpreter thread, command queue, hot reload) and the
// teacher's addon.Addon/AddonRegistry for the "ordered list of hooks, a
// raising hook is logged and skipped" execution contract.
package script

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roxyproxy/roxy/flow"
)

// Level mirrors Roxy.notify's level argument (0=trace … 4=error).
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is what Roxy.notify(level, msg) produces.
type Notification struct {
	Level Level
	Msg   string
}

// Engine is one interpreter flavor's host contract: load a script's source,
// then run the request/response hooks against a flow. Implementations are
// NOT required to be goroutine-safe on their own — Runtime serializes calls
// onto one interpreter goroutine per instance.
type Engine interface {
	// Load (re)initializes interpreter state from source and registers the
	// host bindings (Extensions, Roxy.notify). Called once at startup and
	// again on every hot reload.
	Load(source []byte) error
	// InterceptRequest runs every Extensions[i].request(flow) in order.
	InterceptRequest(ctx context.Context, f *flow.Flow) error
	// InterceptResponse runs every Extensions[i].response(flow) in order.
	InterceptResponse(ctx context.Context, f *flow.Flow) error
	// Close releases interpreter resources.
	Close()
}

// HookError describes a single addon hook that raised. The Lua and JS
// engines report it through their notify callback at LevelError and go on
// with the next hook rather than aborting the walk (§4.7: "A hook raising an
// error is logged and skipped").
type HookError struct {
	Addon string
	Hook  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("script: addon %q hook %q: %v", e.Addon, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// command is one unit of work queued onto the interpreter goroutine.
type command struct {
	fn   func() error
	done chan error
}

// Runtime owns one Engine instance and the single goroutine that is the
// only caller ever allowed to touch it, queuing work from arbitrary proxy
// goroutines through a bounded channel (§4.7: "queued as commands from the
// async core via a bounded channel; the calling task awaits the reply").
type Runtime struct {
	engine Engine
	cmds   chan command
	notify chan Notification
	done   chan struct{}

	onNotify func(Notification)
}

// NewRuntime starts the interpreter goroutine for engine. queueDepth bounds
// the number of in-flight commands; 0 defaults to 32.
func NewRuntime(engine Engine, queueDepth int, onNotify func(Notification)) *Runtime {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	r := &Runtime{
		engine:   engine,
		cmds:     make(chan command, queueDepth),
		notify:   make(chan Notification, queueDepth),
		done:     make(chan struct{}),
		onNotify: onNotify,
	}
	go r.loop()
	go r.drainNotify()
	return r
}

func (r *Runtime) loop() {
	for {
		select {
		case c := <-r.cmds:
			c.done <- c.fn()
		case <-r.done:
			return
		}
	}
}

func (r *Runtime) drainNotify() {
	for {
		select {
		case n := <-r.notify:
			if r.onNotify != nil {
				r.onNotify(n)
			} else {
				fallbackLog(n)
			}
		case <-r.done:
			return
		}
	}
}

func fallbackLog(n Notification) {
	switch n.Level {
	case LevelTrace, LevelDebug:
		slog.Debug("script notify", "msg", n.Msg)
	case LevelInfo:
		slog.Info("script notify", "msg", n.Msg)
	case LevelWarn:
		slog.Warn("script notify", "msg", n.Msg)
	default:
		slog.Error("script notify", "msg", n.Msg)
	}
}

// run serializes fn onto the interpreter goroutine and waits for its result,
// honoring ctx cancellation while waiting for a free queue slot or a reply.
func (r *Runtime) run(ctx context.Context, fn func() error) error {
	c := command{fn: fn, done: make(chan error, 1)}
	select {
	case r.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return fmt.Errorf("script: runtime closed")
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load queues a (re)load of source onto the interpreter goroutine.
func (r *Runtime) Load(ctx context.Context, source []byte) error {
	return r.run(ctx, func() error { return r.engine.Load(source) })
}

// InterceptRequest queues the request hook walk.
func (r *Runtime) InterceptRequest(ctx context.Context, f *flow.Flow) error {
	return r.run(ctx, func() error { return r.engine.InterceptRequest(ctx, f) })
}

// InterceptResponse queues the response hook walk.
func (r *Runtime) InterceptResponse(ctx context.Context, f *flow.Flow) error {
	return r.run(ctx, func() error { return r.engine.InterceptResponse(ctx, f) })
}

// Emit enqueues a Roxy.notify(level, msg) call for drainNotify. It waits
// while the queue is full, which drainNotify keeps short by draining it
// continuously, and drops the notification once the runtime is closed.
func (r *Runtime) Emit(n Notification) {
	select {
	case r.notify <- n:
	case <-r.done:
	}
}

// Close stops the interpreter goroutine and releases engine resources.
func (r *Runtime) Close() {
	close(r.done)
	r.engine.Close()
}
