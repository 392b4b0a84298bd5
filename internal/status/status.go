// Package status carries job progress events to the transport fabric.
// Publishing is fire-and-forget: a full buffer drops the event and a
// transport failure is logged and swallowed, so a slow or dead transport
// can never stall or fail a job.
package status

import (
	"log/slog"
	"sync"
	"time"

	"github.com/chorale-dev/chorale/internal/natsbus"
)

// Job lifecycle stages and per-agent progress markers.
const (
	StageAccepted        = "accepted"
	StageLoadingPlaybook = "loading_playbook"
	StageExecuting       = "executing"
	StageValidating      = "validating"
	StageSynthesizing    = "synthesizing"
	StageSaving          = "saving"
	StageComplete        = "complete"
	StageError           = "error"
	StageCancelled       = "cancelled"

	StageAgentInvoking    = "agent_invoking"
	StageAgentCallingTool = "agent_calling_tool"
	StageAgentComplete    = "agent_complete"
	StageAgentError       = "agent_error"
)

// Event is one ephemeral progress notification.
type Event struct {
	JobID     string         `json:"job_id"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id,omitempty"`
	Stage     string         `json:"stage"`
	Agent     string         `json:"agent_name,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Publisher is the transport edge. natsbus.Client satisfies it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// Broadcaster forwards events to the transport from a single worker
// goroutine behind a bounded buffer.
type Broadcaster struct {
	pub     Publisher
	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	closing sync.Once
}

func NewBroadcaster(pub Publisher) *Broadcaster {
	return newBroadcaster(pub, 256)
}

func newBroadcaster(pub Publisher, buffer int) *Broadcaster {
	b := &Broadcaster{
		pub:    pub,
		events: make(chan Event, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Publish enqueues ev without blocking. Events beyond the buffer are
// dropped with a warning.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case b.events <- ev:
	default:
		slog.Warn("status event dropped, buffer full", "job_id", ev.JobID, "stage", ev.Stage)
	}
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.events:
			b.send(ev)
		case <-b.quit:
			// Drain whatever is buffered before stopping.
			for {
				select {
				case ev := <-b.events:
					b.send(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) send(ev Event) {
	topic := natsbus.TopicJobEvents(ev.TenantID, ev.JobID)
	if err := b.pub.PublishJSON(topic, ev); err != nil {
		slog.Warn("status publish failed", "job_id", ev.JobID, "stage", ev.Stage, "error", err)
	}
}

// Close drains buffered events and stops the worker. Publishes after Close
// are silently dropped once the buffer fills.
func (b *Broadcaster) Close() {
	b.closing.Do(func() { close(b.quit) })
	<-b.done
}
