// Package router is an in-process publish/subscribe fan-out: sync and async
// delivery, once-only and wildcard subscribers, and a bounded queue drained
// in cooperative batches, the channel/goroutine idiom the teacher uses for
// its own WaitGroup/errChan fan-out in market_parser.go, generalized to a
// long-lived subscriber registry instead of a one-shot fan-out.
package router

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Event is one published message: a topic and an opaque payload.
type Event struct {
	Topic   string
	Payload interface{}
}

// Handler receives delivered events. A handler that panics is recovered,
// logged and skipped; it never aborts delivery to sibling subscribers.
type Handler func(Event)

// WildcardTopic subscribes a handler to every topic.
const WildcardTopic = "all"

const maxQueueDepth = 10_000
const drainBatchSize = 100

type subscription struct {
	id      uint64
	topic   string
	handler Handler
	once    bool
	closed  atomic.Bool
}

// Handle is returned by Subscribe; closing it removes the subscription.
type Handle struct {
	sub *subscription
	r   *Router
}

// Close removes the subscription. Idempotent.
func (h *Handle) Close() {
	if h.sub.closed.CompareAndSwap(false, true) {
		h.r.remove(h.sub)
	}
}

// Router is a topic -> subscriber-set fan-out with an optional bounded
// async queue.
type Router struct {
	log *zap.SugaredLogger

	mu    sync.RWMutex
	subs  map[string][]*subscription
	nextID uint64

	queue     chan Event
	overflows uint64
	done      chan struct{}
	wg        sync.WaitGroup
}

// New builds a Router and starts its background queue drainer.
func New(log *zap.SugaredLogger) *Router {
	r := &Router{
		log:  log,
		subs: make(map[string][]*subscription),
		queue: make(chan Event, maxQueueDepth),
		done:  make(chan struct{}),
	}
	r.wg.Add(1)
	go r.drainLoop()
	return r
}

// Subscribe registers handler for topic. Use WildcardTopic to receive every
// published event.
func (r *Router) Subscribe(topic string, handler Handler) *Handle {
	return r.subscribe(topic, handler, false)
}

// Once registers a handler that is automatically removed after its first delivery.
func (r *Router) Once(topic string, handler Handler) *Handle {
	return r.subscribe(topic, handler, true)
}

func (r *Router) subscribe(topic string, handler Handler, once bool) *Handle {
	r.mu.Lock()
	r.nextID++
	sub := &subscription{id: r.nextID, topic: topic, handler: handler, once: once}
	r.subs[topic] = append(r.subs[topic], sub)
	r.mu.Unlock()
	return &Handle{sub: sub, r: r}
}

func (r *Router) remove(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[sub.topic]
	for i, s := range list {
		if s.id == sub.id {
			r.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// subscribersFor clones the current subscriber list for topic plus wildcard
// subscribers, so delivery never holds the registry lock across handler calls.
func (r *Router) subscribersFor(topic string) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*subscription
	out = append(out, r.subs[topic]...)
	if topic != WildcardTopic {
		out = append(out, r.subs[WildcardTopic]...)
	}
	cloned := make([]*subscription, len(out))
	copy(cloned, out)
	return cloned
}

// EmitSync delivers ev to every subscriber in registration order on the
// caller's goroutine. A subscriber whose handler panics is recovered,
// logged, and skipped.
func (r *Router) EmitSync(ev Event) {
	for _, sub := range r.subscribersFor(ev.Topic) {
		r.deliverOne(sub, ev)
	}
}

// EmitAsync schedules each subscriber concurrently and waits for all of
// them to finish before returning.
func (r *Router) EmitAsync(ev Event) {
	subs := r.subscribersFor(ev.Topic)
	var wg sync.WaitGroup
	wg.Add(len(subs))
	for _, sub := range subs {
		go func(s *subscription) {
			defer wg.Done()
			r.deliverOne(s, ev)
		}(sub)
	}
	wg.Wait()
}

// Enqueue appends ev to the bounded async queue for background batch
// delivery. When full, the oldest undelivered event is dropped and
// event_queue_overflow is incremented.
func (r *Router) Enqueue(ev Event) {
	select {
	case r.queue <- ev:
	default:
		select {
		case <-r.queue:
			atomic.AddUint64(&r.overflows, 1)
		default:
		}
		select {
		case r.queue <- ev:
		default:
			atomic.AddUint64(&r.overflows, 1)
		}
	}
}

// Overflows returns the cumulative event_queue_overflow counter.
func (r *Router) Overflows() uint64 {
	return atomic.LoadUint64(&r.overflows)
}

func (r *Router) drainLoop() {
	defer r.wg.Done()
	for {
		var first Event
		select {
		case first = <-r.queue:
		case <-r.done:
			return
		}

		batch := make([]Event, 0, drainBatchSize)
		batch = append(batch, first)
		for len(batch) < drainBatchSize {
			select {
			case ev := <-r.queue:
				batch = append(batch, ev)
			default:
				goto flush
			}
		}

	flush:
		r.flush(batch)

		// cooperative yield between batches
		select {
		case <-r.done:
			return
		default:
		}
	}
}

func (r *Router) flush(batch []Event) {
	for _, ev := range batch {
		r.EmitSync(ev)
	}
}

func (r *Router) deliverOne(sub *subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("router: subscriber panicked", "topic", ev.Topic, "recover", rec)
		}
	}()

	sub.handler(ev)

	if sub.once {
		go sub.closed.Store(true)
		r.remove(sub)
	}
}

// Close stops the background drainer, delivering any already-queued events first.
func (r *Router) Close() {
	close(r.done)
	r.wg.Wait()
	for {
		select {
		case ev := <-r.queue:
			r.EmitSync(ev)
		default:
			return
		}
	}
}
