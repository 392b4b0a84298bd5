package status

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
	events []Event
	err    error
	block  chan struct{}
}

func (p *capturePublisher) PublishJSON(topic string, v any) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	if ev, ok := v.(Event); ok {
		p.events = append(p.events, ev)
	}
	return p.err
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func TestBroadcasterDelivers(t *testing.T) {
	pub := &capturePublisher{}
	b := NewBroadcaster(pub)

	b.Publish(Event{JobID: "j1", TenantID: "acme", Stage: StageAccepted, Message: "job accepted"})
	b.Close()

	if pub.count() != 1 {
		t.Fatalf("expected 1 event, got %d", pub.count())
	}
	if pub.topics[0] != "events.job.acme.j1" {
		t.Errorf("unexpected topic %s", pub.topics[0])
	}
	if pub.events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}
}

func TestBroadcasterSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("transport down")}
	b := NewBroadcaster(pub)

	// Must not panic or surface the error anywhere.
	b.Publish(Event{JobID: "j1", TenantID: "acme", Stage: StageExecuting})
	b.Publish(Event{JobID: "j1", TenantID: "acme", Stage: StageComplete})
	b.Close()

	if pub.count() != 2 {
		t.Fatalf("expected both events attempted, got %d", pub.count())
	}
}

func TestBroadcasterNeverBlocksCaller(t *testing.T) {
	pub := &capturePublisher{block: make(chan struct{})}
	b := newBroadcaster(pub, 2)

	done := make(chan struct{})
	go func() {
		// Worker is stuck on the first event; the rest overflow the
		// buffer and must be dropped without blocking.
		for i := 0; i < 50; i++ {
			b.Publish(Event{JobID: "j1", TenantID: "acme", Stage: StageExecuting})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked the caller")
	}
	close(pub.block)
	b.Close()
}

func TestBroadcasterDrainsOnClose(t *testing.T) {
	pub := &capturePublisher{}
	b := newBroadcaster(pub, 64)

	for i := 0; i < 10; i++ {
		b.Publish(Event{JobID: "j1", TenantID: "acme", Stage: StageExecuting})
	}
	b.Close()

	if pub.count() != 10 {
		t.Fatalf("expected all 10 buffered events delivered on close, got %d", pub.count())
	}
}
