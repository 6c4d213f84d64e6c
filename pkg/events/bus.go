package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is used when NewBus is given a non-positive buffer size.
const DefaultBufferSize = 64

// Event is the envelope delivered to subscribers. Payload holds one of the
// typed structs from payloads.go; subscribers type-switch on it or marshal
// it as-is for the wire.
type Event struct {
	// Seq is a bus-wide monotonic sequence number. An event published to
	// both an execution channel and the firehose carries the same Seq on
	// both copies.
	Seq       uint64
	Type      string
	Channel   string
	Payload   any
	Timestamp time.Time
}

// Subscription is one subscriber's view of a channel.
type Subscription struct {
	id      string
	channel string
	ch      chan Event
	dropped atomic.Uint64
	bus     *Bus
}

// Events returns the channel events are delivered on. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Channel returns the channel name this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Dropped returns how many events were discarded because this subscriber's
// buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes its event channel.
// Safe to call more than once, and safe to call after Bus.Close.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.removeLocked(s)
}

// deliver enqueues evt without ever blocking. When the buffer is full the
// oldest buffered event is evicted to make room for the newest.
func (s *Subscription) deliver(evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- evt:
	default:
		// A concurrent publish won the freed slot; this event is the one lost.
		s.dropped.Add(1)
	}
}

// Bus fans events out to per-channel subscribers. Each process has one Bus,
// shared by the workflow executor, the agent pools, and the API's SSE
// handlers.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Subscription // channel → subscription id → subscription
	closed   bool

	buffer int
	seq    atomic.Uint64
}

// NewBus creates a Bus whose subscriptions buffer up to bufferSize events.
// Non-positive values fall back to DefaultBufferSize.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		channels: make(map[string]map[string]*Subscription),
		buffer:   bufferSize,
	}
}

// Subscribe attaches a new subscriber to the named channel. Events published
// before Subscribe returns are not delivered. On a closed bus the returned
// subscription's event channel is already closed, so range loops over it
// exit immediately.
func (b *Bus) Subscribe(channel string) *Subscription {
	s := &Subscription{
		id:      uuid.NewString(),
		channel: channel,
		ch:      make(chan Event, b.buffer),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	subs, ok := b.channels[channel]
	if !ok {
		subs = make(map[string]*Subscription)
		b.channels[channel] = subs
	}
	subs[s.id] = s
	return s
}

// SubscribeExecution attaches a subscriber to one execution's channel.
func (b *Bus) SubscribeExecution(executionID string) *Subscription {
	return b.Subscribe(ExecutionChannel(executionID))
}

// SubscribeFirehose attaches a subscriber to the cross-execution channel.
func (b *Bus) SubscribeFirehose() *Subscription {
	return b.Subscribe(FirehoseChannel)
}

// SubscriberCount returns the number of subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Close closes every subscription's event channel and rejects further
// publishes. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.channels {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.channels = make(map[string]map[string]*Subscription)
}

// removeLocked detaches a subscription and closes its event channel. No-op
// when the subscription was already removed (double Close, or Bus.Close ran
// first). Callers hold b.mu.
func (b *Bus) removeLocked(s *Subscription) {
	subs, ok := b.channels[s.channel]
	if !ok {
		return
	}
	if _, ok := subs[s.id]; !ok {
		return
	}
	delete(subs, s.id)
	if len(subs) == 0 {
		delete(b.channels, s.channel)
	}
	close(s.ch)
}

// publish stamps one sequence number and fans the event out to every
// subscriber of each listed channel. Deliveries never block (see
// Subscription.deliver), so holding the read lock for the whole fan-out is
// safe: a slow consumer costs a dropped event, not a stalled publisher.
func (b *Bus) publish(eventType string, payload any, channels ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	seq := b.seq.Add(1)
	now := time.Now().UTC()
	for _, channel := range channels {
		evt := Event{
			Seq:       seq,
			Type:      eventType,
			Channel:   channel,
			Payload:   payload,
			Timestamp: now,
		}
		for _, sub := range b.channels[channel] {
			sub.deliver(evt)
		}
	}
}

// stamp fills the shared payload fields. The routing parameters are
// authoritative: Type and ExecutionID are always overwritten, Timestamp only
// when the caller left it empty.
func stamp(p *BasePayload, eventType, executionID string) {
	p.Type = eventType
	p.ExecutionID = executionID
	if p.Timestamp == "" {
		p.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
}

// --- Typed publish methods ---

// PublishWorkflowState broadcasts a workflow.state.changed event to the
// execution channel and the firehose.
func (b *Bus) PublishWorkflowState(executionID string, payload WorkflowStatePayload) {
	stamp(&payload.BasePayload, EventTypeWorkflowState, executionID)
	b.publish(EventTypeWorkflowState, payload, ExecutionChannel(executionID), FirehoseChannel)
}

// PublishTaskStarted broadcasts a task.started event to the execution channel.
func (b *Bus) PublishTaskStarted(executionID string, payload TaskStartedPayload) {
	stamp(&payload.BasePayload, EventTypeTaskStarted, executionID)
	b.publish(EventTypeTaskStarted, payload, ExecutionChannel(executionID))
}

// PublishTaskCompleted broadcasts a task.completed event to the execution
// channel.
func (b *Bus) PublishTaskCompleted(executionID string, payload TaskCompletedPayload) {
	stamp(&payload.BasePayload, EventTypeTaskCompleted, executionID)
	b.publish(EventTypeTaskCompleted, payload, ExecutionChannel(executionID))
}

// PublishTaskFailed broadcasts a task.failed event to the execution channel.
func (b *Bus) PublishTaskFailed(executionID string, payload TaskFailedPayload) {
	stamp(&payload.BasePayload, EventTypeTaskFailed, executionID)
	b.publish(EventTypeTaskFailed, payload, ExecutionChannel(executionID))
}

// PublishCheckpointCreated broadcasts a checkpoint.created event to the
// execution channel.
func (b *Bus) PublishCheckpointCreated(executionID string, payload CheckpointCreatedPayload) {
	stamp(&payload.BasePayload, EventTypeCheckpointCreated, executionID)
	b.publish(EventTypeCheckpointCreated, payload, ExecutionChannel(executionID))
}

// PublishCriticalFailure broadcasts a critical.failure event to the execution
// channel and the firehose.
func (b *Bus) PublishCriticalFailure(executionID string, payload CriticalFailurePayload) {
	stamp(&payload.BasePayload, EventTypeCriticalFailure, executionID)
	b.publish(EventTypeCriticalFailure, payload, ExecutionChannel(executionID), FirehoseChannel)
}

// PublishScaling broadcasts a pool.scaling event on the firehose.
func (b *Bus) PublishScaling(payload ScalingPayload) {
	stamp(&payload.BasePayload, EventTypeScaling, "")
	b.publish(EventTypeScaling, payload, FirehoseChannel)
}
