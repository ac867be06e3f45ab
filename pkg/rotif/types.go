package rotif

import (
	"sync/atomic"
	"time"
)

// Message is the unit of delivery. Fields mirror the wire record written to
// the underlying Redis stream entry.
type Message struct {
	ID          string // broker-assigned stream entry id, monotonic per stream
	Channel     string // literal channel string supplied by the publisher
	Payload     []byte // opaque payload, carried as JSON text on the wire
	Timestamp   int64  // millisecond publish instant
	Attempt     int    // 1-based delivery attempt number
	Pattern     string // the glob that routed this message into its stream
	ExactlyOnce bool
	DedupTTL    time.Duration
}

// DLQMessage is a message that exhausted its retry budget.
type DLQMessage struct {
	ID        string
	Channel   string
	Payload   []byte
	Error     string
	Timestamp int64
	Attempt   int
}

// PublishOptions configures a single Publish call.
type PublishOptions struct {
	DelayMs         int64
	DeliverAt       time.Time
	Attempt         int
	ExactlyOnce     bool
	DeduplicationTTL time.Duration
}

// SubscribeOptions configures a single Subscribe call.
type SubscribeOptions struct {
	Group            string
	MaxRetries       int
	RetryStrategy    RetryStrategy
	RetryDelay       time.Duration
	ExactlyOnce      bool
	DeduplicationTTL time.Duration
	StartFrom        string // "$" (new only) or "0" (from beginning); default "$"
}

// Handler processes a single delivered message. Returning an error triggers
// the retry engine; returning nil acknowledges the message.
type Handler func(msg *Message) error

// Stats holds per-subscription counters.
type Stats struct {
	messages      int64
	retries       int64
	failures      int64
	lastMessageAt int64 // unix ms
}

// Messages returns the number of successfully acknowledged deliveries.
func (s *Stats) Messages() int64 { return atomic.LoadInt64(&s.messages) }

// Retries returns the number of attempts beyond the first.
func (s *Stats) Retries() int64 { return atomic.LoadInt64(&s.retries) }

// Failures returns the number of deliveries moved to the DLQ.
func (s *Stats) Failures() int64 { return atomic.LoadInt64(&s.failures) }

// LastMessageAt returns the unix millisecond timestamp of the last ack, or 0.
func (s *Stats) LastMessageAt() int64 { return atomic.LoadInt64(&s.lastMessageAt) }

func (s *Stats) recordMessage(nowMs int64) {
	atomic.AddInt64(&s.messages, 1)
	atomic.StoreInt64(&s.lastMessageAt, nowMs)
}

func (s *Stats) recordRetry() {
	atomic.AddInt64(&s.retries, 1)
}

func (s *Stats) recordFailure() {
	atomic.AddInt64(&s.failures, 1)
}

// Subscription is a process-local record of one subscribe() call. It is
// owned by the lifecycle manager (for registration) and read concurrently by
// its shared consumer loop for dispatch; the fields below besides `paused`
// and the stats counters are set once at creation and never mutated.
type Subscription struct {
	ID      string
	Pattern string
	Group   string
	Handler Handler
	Options SubscribeOptions

	Stats Stats

	paused   atomic.Bool
	inFlight atomic.Int64
}

// Pause stops new dispatches to this subscription without tearing it down.
func (s *Subscription) Pause() { s.paused.Store(true) }

// Resume re-enables dispatch to this subscription.
func (s *Subscription) Resume() { s.paused.Store(false) }

// Paused reports whether the subscription is currently paused.
func (s *Subscription) Paused() bool { return s.paused.Load() }

// InFlight returns the number of deliveries currently being handled.
func (s *Subscription) InFlight() int64 { return s.inFlight.Load() }
