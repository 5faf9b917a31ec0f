package broadcast

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type update struct {
	seq int
}

func TestBroadcaster_SubscribeUnsubscribe(t *testing.T) {
	b := New[*update]()

	id, ch := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", b.SubscriberCount())
	}

	b.Unsubscribe(id)
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	// Channel should be closed
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to be closed")
		}
	default:
		t.Error("channel should be closed and readable")
	}

	// second unsubscribe is a no-op
	b.Unsubscribe(id)
}

func TestBroadcaster_Broadcast(t *testing.T) {
	b := New[*update]()

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.Broadcast(&update{seq: 7})

	select {
	case received := <-ch:
		if received.seq != 7 {
			t.Errorf("expected seq 7, got %d", received.seq)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for broadcast")
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := New[int]()

	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Broadcast(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full subscriber")
	}

	if len(ch) != bufferSize {
		t.Errorf("expected %d buffered values, got %d", bufferSize, len(ch))
	}
	if first := <-ch; first != 0 {
		t.Errorf("expected oldest value 0, got %d", first)
	}
}

func TestBroadcaster_Close(t *testing.T) {
	b := New[int]()
	_, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()

	b.Close()

	for _, ch := range []chan int{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Error("expected channel to be closed")
		}
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", b.SubscriberCount())
	}
}

func TestBroadcaster_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	b := New[*update]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _ := b.Subscribe()
			time.Sleep(time.Millisecond)
			b.Unsubscribe(id)
		}()
	}

	wg.Wait()

	if b.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after cleanup, got %d", b.SubscriberCount())
	}
}

func TestBroadcaster_ConcurrentBroadcast(t *testing.T) {
	b := New[*update]()
	var wg sync.WaitGroup

	numSubscribers := 10
	ids := make([]uint64, numSubscribers)
	for i := 0; i < numSubscribers; i++ {
		ids[i], _ = b.Subscribe()
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.Broadcast(&update{seq: n})
		}(i)
	}

	wg.Wait()

	for i := 0; i < numSubscribers; i++ {
		b.Unsubscribe(ids[i])
	}
}
