package router

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := New(zap.NewNop().Sugar())
	t.Cleanup(r.Close)
	return r
}

func TestEmitSyncDeliversInRegistrationOrder(t *testing.T) {
	r := newTestRouter(t)
	var order []int

	r.Subscribe("topic", func(ev Event) { order = append(order, 1) })
	r.Subscribe("topic", func(ev Event) { order = append(order, 2) })

	r.EmitSync(Event{Topic: "topic"})

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected [1 2], got %v", order)
	}
}

func TestOnceSubscriberFiresOnlyOnce(t *testing.T) {
	r := newTestRouter(t)
	var count int

	r.Once("topic", func(ev Event) { count++ })

	r.EmitSync(Event{Topic: "topic"})
	r.EmitSync(Event{Topic: "topic"})

	if count != 1 {
		t.Fatalf("expected once-subscriber to fire exactly once, got %d", count)
	}
}

func TestWildcardReceivesEveryTopic(t *testing.T) {
	r := newTestRouter(t)
	var received []string

	r.Subscribe(WildcardTopic, func(ev Event) { received = append(received, ev.Topic) })

	r.EmitSync(Event{Topic: "bc:trade"})
	r.EmitSync(Event{Topic: "amm:trade"})

	if len(received) != 2 {
		t.Fatalf("expected wildcard subscriber to see both topics, got %v", received)
	}
}

func TestHandleCloseRemovesSubscription(t *testing.T) {
	r := newTestRouter(t)
	var count int

	h := r.Subscribe("topic", func(ev Event) { count++ })
	r.EmitSync(Event{Topic: "topic"})
	h.Close()
	r.EmitSync(Event{Topic: "topic"})

	if count != 1 {
		t.Fatalf("expected handler to stop receiving after Close, got count=%d", count)
	}
}

func TestEnqueueDrainsAsynchronously(t *testing.T) {
	r := newTestRouter(t)
	var mu sync.Mutex
	var got int

	r.Subscribe("topic", func(ev Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		r.Enqueue(Event{Topic: "topic"})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := got
		mu.Unlock()
		if n == 5 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected 5 deliveries via queue drain, got %d", got)
}

func TestEmitAsyncWaitsForAllSubscribers(t *testing.T) {
	r := newTestRouter(t)
	var mu sync.Mutex
	var count int

	for i := 0; i < 3; i++ {
		r.Subscribe("topic", func(ev Event) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	r.EmitAsync(Event{Topic: "topic"})

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected all 3 subscribers delivered synchronously-awaited, got %d", count)
	}
}
