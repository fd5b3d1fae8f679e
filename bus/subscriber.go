package bus

import (
	"sync"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

// Subscriber receives the events of one agency channel in publish order
type Subscriber struct {
	agencyID string
	bus      *Bus
	limit    int

	mu     sync.Mutex
	queue  []models.Event
	stale  bool
	closed bool

	notify    chan struct{}
	out       chan models.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(b *Bus, agencyID string, limit int) *Subscriber {
	return &Subscriber{
		agencyID: agencyID,
		bus:      b,
		limit:    limit,
		notify:   make(chan struct{}, 1),
		out:      make(chan models.Event),
		done:     make(chan struct{}),
	}
}

// AgencyID returns the channel the subscriber listens on
func (s *Subscriber) AgencyID() string {
	return s.agencyID
}

// C returns the delivery channel. It is closed once the subscriber is closed.
func (s *Subscriber) C() <-chan models.Event {
	return s.out
}

// Stale reports whether the subscriber overflowed and has not yet been handed
// its resync event
func (s *Subscriber) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// Close detaches the subscriber from the bus and stops delivery
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.bus.detach(s)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscriber) enqueue(ev models.Event) {
	s.mu.Lock()
	switch {
	case s.closed, s.stale:
	case len(s.queue) >= s.limit:
		resync := models.NewResyncEvent(s.agencyID)
		resync.Seq = ev.Seq
		s.resyncLocked(resync)
		s.bus.overflows.Add(1)
	default:
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscriber) forceResync(resync models.Event) {
	s.mu.Lock()
	s.resyncLocked(resync)
	s.mu.Unlock()
	s.wake()
}

// resyncLocked drops everything queued and leaves the resync sentinel as the
// only pending event
func (s *Subscriber) resyncLocked(resync models.Event) {
	s.queue = append(s.queue[:0:0], resync)
	s.stale = true
}

func (s *Subscriber) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) next() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return models.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	if len(s.queue) == 0 {
		s.queue = nil
	}
	if ev.Kind == models.ChangeResync {
		s.stale = false
	}
	return ev, true
}

func (s *Subscriber) pump() {
	defer close(s.out)
	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
