// Package bus implements the broadcast of newly stored event offsets to
// every live session: a bounded, lossy, multi-producer/multi-consumer
// channel with one cursor per subscriber. A subscriber that falls behind
// by more than the channel's capacity is told how many offsets it missed
// (Lagged) instead of blocking the publisher, and is expected to close the
// gap with a store query of its own.
//
// This generalizes the synchronous listener-map fan-out this codebase
// otherwise uses for subscription dispatch into something that can never
// make a slow reader stall a fast writer.
package bus

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"nexrelay.dev/nostr/event"
)

// Offset identifies a stored event by its position in the append-only log.
type Offset uint64

// Msg is a freshly published offset (Lagged == 0, Ephemeral == nil), a lag
// notification (Lagged > 0, Offset meaningless) telling the subscriber how
// many offsets it missed since its last receive, or an ephemeral event
// carried in-band (Ephemeral != nil) because it has no offset in the store
// to look up.
type Msg struct {
	Offset    Offset
	Lagged    uint64
	Ephemeral *event.T
}

// Subscriber is a single session's view of the bus.
type Subscriber struct {
	id      uint64
	ch      chan Msg
	skipped atomic.Uint64
}

// Recv returns the channel to select/receive on. A Msg with Lagged > 0
// must be handled by the caller re-querying the store from the offset
// after its last delivered one (the store's since offset is inclusive)
// before trusting subsequent offsets again.
func (s *Subscriber) Recv() <-chan Msg { return s.ch }

// T is the bus. Safe for concurrent Publish and Subscribe/Unsubscribe.
type T struct {
	capacity int
	nextID   atomic.Uint64
	subs     *xsync.MapOf[uint64, *Subscriber]
}

// New creates a bus with the given per-subscriber channel capacity.
func New(capacity int) *T {
	if capacity <= 0 {
		capacity = 512
	}
	return &T{
		capacity: capacity,
		subs:     xsync.NewMapOf[uint64, *Subscriber](),
	}
}

// Subscribe registers a new subscriber and returns its handle. Callers
// must call Unsubscribe when the session ends.
func (t *T) Subscribe() *Subscriber {
	id := t.nextID.Add(1)
	s := &Subscriber{id: id, ch: make(chan Msg, t.capacity)}
	t.subs.Store(id, s)
	return s
}

// Unsubscribe removes a subscriber from the bus.
func (t *T) Unsubscribe(s *Subscriber) {
	t.subs.Delete(s.id)
}

// Publish broadcasts off to every current subscriber. A subscriber whose
// channel is full is not blocked on: its skipped counter is incremented
// instead, and a Lagged message is delivered to it the next time its
// channel has room.
func (t *T) Publish(off Offset) {
	t.subs.Range(
		func(_ uint64, s *Subscriber) bool {
			t.deliver(s, off)
			return true
		},
	)
}

// PublishEphemeral broadcasts an event that was never written to the
// store. Delivery is best-effort only: a full subscriber channel drops the
// event without a lag signal, since a store catch-up query could never
// recover it anyway.
func (t *T) PublishEphemeral(ev *event.T) {
	t.subs.Range(
		func(_ uint64, s *Subscriber) bool {
			select {
			case s.ch <- Msg{Ephemeral: ev}:
			default:
			}
			return true
		},
	)
}

func (t *T) deliver(s *Subscriber, off Offset) {
	// Flush a pending lag notice first so the subscriber re-syncs before
	// trusting any further offsets.
	if n := s.skipped.Load(); n > 0 {
		select {
		case s.ch <- Msg{Lagged: n}:
			s.skipped.Add(-n)
		default:
			s.skipped.Add(1)
			return
		}
	}
	select {
	case s.ch <- Msg{Offset: off}:
	default:
		s.skipped.Add(1)
	}
}

// Len reports the current number of subscribers, for diagnostics.
func (t *T) Len() int { return t.subs.Size() }
