// Package bus fans call change events out to the subscribers of an agency
// channel. Publishing never waits on a subscriber: each subscriber owns a
// bounded queue drained by its own goroutine, and a subscriber that falls too
// far behind is handed a single resync sentinel instead of further deltas.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

// Config holds the bus sizing
type Config struct {
	// QueueSize bounds the number of undelivered events per subscriber
	QueueSize int
	// HistorySize bounds the per-agency replay buffer used by SubscribeAfter
	HistorySize int
}

// DefaultConfig returns the sizing used when none is configured
func DefaultConfig() Config {
	return Config{
		QueueSize:   256,
		HistorySize: 1024,
	}
}

// Hook observes every published event. Hooks run on the publisher's goroutine
// while the agency channel is locked, so they must not block.
type Hook func(models.Event)

// Bus is an in-process publish/subscribe broadcaster keyed by agency
type Bus struct {
	cfg Config

	mu     sync.RWMutex
	topics map[string]*topic

	hooksMu sync.RWMutex
	hooks   []Hook

	overflows   atomic.Uint64
	subscribers atomic.Int64
}

type topic struct {
	mu      sync.Mutex
	seq     uint64
	history []models.Event
	subs    map[*Subscriber]struct{}
}

// New creates a bus. Zero values in cfg fall back to DefaultConfig.
func New(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Bus{
		cfg:    cfg,
		topics: make(map[string]*topic),
	}
}

// OnPublish registers a hook called for every published event
func (b *Bus) OnPublish(h Hook) {
	b.hooksMu.Lock()
	b.hooks = append(b.hooks, h)
	b.hooksMu.Unlock()
}

func (b *Bus) topic(agencyID string) *topic {
	b.mu.RLock()
	t, ok := b.topics[agencyID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[agencyID]; !ok {
		t = &topic{subs: make(map[*Subscriber]struct{})}
		b.topics[agencyID] = t
	}
	return t
}

// Publish stamps ev with the next sequence number of the agency channel and
// queues it for every subscriber of that channel. It returns the stamped event.
func (b *Bus) Publish(agencyID string, ev models.Event) models.Event {
	t := b.topic(agencyID)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	ev.Seq = t.seq
	ev.AgencyID = agencyID

	t.history = append(t.history, ev)
	if over := len(t.history) - b.cfg.HistorySize; over > 0 {
		t.history = append(t.history[:0:0], t.history[over:]...)
	}
	for s := range t.subs {
		s.enqueue(ev)
	}

	b.hooksMu.RLock()
	for _, h := range b.hooks {
		h(ev)
	}
	b.hooksMu.RUnlock()

	return ev
}

// LastSeq returns the sequence number of the last event published on the
// agency channel, 0 if none was.
func (b *Bus) LastSeq(agencyID string) uint64 {
	t := b.topic(agencyID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}

// Subscribe attaches a subscriber that receives every event published from now on
func (b *Bus) Subscribe(agencyID string) *Subscriber {
	t := b.topic(agencyID)
	t.mu.Lock()
	defer t.mu.Unlock()
	return b.attach(agencyID, t)
}

// SubscribeAfter attaches a subscriber that first receives the events with a
// sequence number greater than seq, then live events. When the replay buffer no
// longer reaches back to seq the subscriber starts with a resync instead.
func (b *Bus) SubscribeAfter(agencyID string, seq uint64) *Subscriber {
	t := b.topic(agencyID)
	t.mu.Lock()
	defer t.mu.Unlock()

	s := b.attach(agencyID, t)
	if seq >= t.seq {
		return s
	}
	if len(t.history) == 0 || t.history[0].Seq > seq+1 {
		resync := models.NewResyncEvent(agencyID)
		resync.Seq = t.seq
		s.forceResync(resync)
		return s
	}
	for _, ev := range t.history {
		if ev.Seq > seq {
			s.enqueue(ev)
		}
	}
	return s
}

func (b *Bus) attach(agencyID string, t *topic) *Subscriber {
	s := newSubscriber(b, agencyID, b.cfg.QueueSize)
	t.subs[s] = struct{}{}
	b.subscribers.Add(1)
	go s.pump()
	return s
}

func (b *Bus) detach(s *Subscriber) {
	t := b.topic(s.agencyID)
	t.mu.Lock()
	if _, ok := t.subs[s]; ok {
		delete(t.subs, s)
		b.subscribers.Add(-1)
	}
	t.mu.Unlock()
}

// SubscriberCount returns the number of attached subscribers across agencies
func (b *Bus) SubscriberCount() int64 {
	return b.subscribers.Load()
}

// Overflows returns how many times a subscriber queue overflowed
func (b *Bus) Overflows() uint64 {
	return b.overflows.Load()
}

// Close detaches every subscriber
func (b *Bus) Close() {
	b.mu.RLock()
	var subs []*Subscriber
	for _, t := range b.topics {
		t.mu.Lock()
		for s := range t.subs {
			subs = append(subs, s)
		}
		t.mu.Unlock()
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Close()
	}
}
