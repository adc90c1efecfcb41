// Package relay is the in-process bridge between webhook clients and the
// hooks that perform the actual HTTP calls.
//
// Publish is fire-and-forget: the hook registered under the published name
// runs on its own goroutine and its outcome is queued as an event,
//
//	<device>/hook-response/<name>/0   success payload
//	<device>/hook-error/<name>/0      "error status NNN from <host>[: reason]"
//
// Queued events reach subscribers only through Dispatch, which the owner's
// cooperative loop calls between ticks. Subscribers therefore never run
// concurrently with each other or with the loop.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rodruizronald/smart-calendar/internal/webhook"
)

// Host is reported in error events the relay raises itself.
const Host = "relay"

// Handler receives a dispatched event.
type Handler func(event, data string)

// Hook answers one published request. An error becomes an error event;
// use *HookError to control its status code.
type Hook interface {
	Call(ctx context.Context, data string) (string, error)
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, data string) (string, error)

// Call implements Hook.
func (f HookFunc) Call(ctx context.Context, data string) (string, error) {
	return f(ctx, data)
}

// HookError is an HTTP-style failure reported by a hook.
type HookError struct {
	Code   int
	Host   string
	Reason string
}

func (e *HookError) Error() string {
	return webhook.FormatErrorPayload(e.Code, e.Host, e.Reason)
}

// Options configures a Bus.
type Options struct {
	DeviceID string
	// PublishRate limits publishes per second. Zero means unlimited.
	PublishRate float64
	PublishBurst int
	// HookTimeout bounds each hook call. Zero means no bound.
	HookTimeout time.Duration
}

type subscription struct {
	prefix  string
	handler Handler
}

type delivery struct {
	event string
	data  string
}

// Bus is the relay.
type Bus struct {
	deviceID    string
	hookTimeout time.Duration
	limiter     *rate.Limiter

	mu     sync.RWMutex
	subs   []subscription
	hooks  map[string]Hook
	closed bool

	qmu    sync.Mutex
	queue  []delivery
	notify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates a relay for one device.
func NewBus(opts Options) *Bus {
	limit := rate.Inf
	if opts.PublishRate > 0 {
		limit = rate.Limit(opts.PublishRate)
	}
	burst := opts.PublishBurst
	if burst < 1 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		deviceID:    opts.DeviceID,
		hookTimeout: opts.HookTimeout,
		limiter:     rate.NewLimiter(limit, burst),
		hooks:       make(map[string]Hook),
		notify:      make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register installs the hook answering publishes on name.
func (b *Bus) Register(name string, hook Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[name] = hook
}

// Subscribe registers handler for every event starting with prefix.
// Handlers run in registration order.
func (b *Bus) Subscribe(prefix string, handler func(event, data string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{prefix: prefix, handler: handler})
}

// Publish hands data to the hook registered under name. It never blocks on
// the hook; every outcome, including relay-side rejections, arrives later
// as an event.
func (b *Bus) Publish(name, data string) {
	b.mu.RLock()
	hook, ok := b.hooks[name]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	if !ok {
		log.Printf("[relay][bus] No hook registered for %s", name)
		b.fail(name, http.StatusNotFound, "no hook named "+name)
		return
	}
	if !b.limiter.Allow() {
		log.Printf("[relay][bus] Publish rate exceeded on %s", name)
		b.fail(name, http.StatusTooManyRequests, "publish rate exceeded")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.call(name, hook, data)
	}()
}

func (b *Bus) call(name string, hook Hook, data string) {
	ctx := b.ctx
	if b.hookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.hookTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := hook.Call(ctx, data)
	if err == nil {
		log.Printf("[relay][%s] Answered in %s", name, time.Since(start).Round(time.Millisecond))
		b.enqueue(b.eventName(webhook.HookResponse, name), out)
		return
	}

	var he *HookError
	switch {
	case errors.As(err, &he):
		b.enqueue(b.eventName(webhook.HookError, name), he.Error())
	case errors.Is(err, context.DeadlineExceeded):
		b.fail(name, http.StatusGatewayTimeout, "hook timed out")
	case errors.Is(err, context.Canceled):
		return
	default:
		b.fail(name, http.StatusInternalServerError, err.Error())
	}
	log.Printf("[relay][%s] Hook failed: %v", name, err)
}

func (b *Bus) fail(name string, code int, reason string) {
	b.enqueue(b.eventName(webhook.HookError, name), webhook.FormatErrorPayload(code, Host, reason))
}

func (b *Bus) eventName(hook, name string) string {
	return fmt.Sprintf("%s/%s/%s/0", b.deviceID, hook, name)
}

// Inject queues an arbitrary event, such as an external trigger.
func (b *Bus) Inject(event, data string) {
	b.enqueue(event, data)
}

func (b *Bus) enqueue(event, data string) {
	b.qmu.Lock()
	b.queue = append(b.queue, delivery{event: event, data: data})
	b.qmu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever an event is queued.
func (b *Bus) Ready() <-chan struct{} {
	return b.notify
}

// Dispatch delivers every queued event to the matching subscribers on the
// calling goroutine and returns how many events were delivered.
func (b *Bus) Dispatch() int {
	b.qmu.Lock()
	queue := b.queue
	b.queue = nil
	b.qmu.Unlock()

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return 0
	}

	for _, d := range queue {
		matched := false
		for _, s := range subs {
			if strings.HasPrefix(d.event, s.prefix) {
				s.handler(d.event, d.data)
				matched = true
			}
		}
		if !matched {
			log.Printf("[relay][bus] No subscriber for %s", d.event)
		}
	}
	return len(queue)
}

// Wait blocks until every running hook has queued its outcome.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close cancels running hooks and stops delivery.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}
