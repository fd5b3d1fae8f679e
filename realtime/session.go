// Package realtime gives one connected dispatcher a view of an agency's calls
// that is kept in sync with the change bus.
package realtime

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/bus"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

// Source is where a session reads its snapshots from
type Source interface {
	Authorize(ctx context.Context, userID, agencyID string) error
	List(ctx context.Context, userID, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error)
}

// Feed is where a session reads change events from
type Feed interface {
	LastSeq(agencyID string) uint64
	SubscribeAfter(agencyID string, seq uint64) *bus.Subscriber
}

// Option configures a Session
type Option func(*Session)

// WithSessionID overrides the generated session id
func WithSessionID(id string) Option {
	return func(s *Session) {
		s.id = id
	}
}

// Session is one dispatcher's synchronized view of an agency
type Session struct {
	id       string
	userID   string
	agencyID string
	source   Source
	sub      *bus.Subscriber

	mu         sync.RWMutex
	calls      map[string]models.Call
	tombstones map[string]struct{}
	lastSeq    uint64
	err        error

	streaming atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// Open authorizes the user, takes a snapshot of the agency's calls and
// subscribes to every change that happened after the snapshot was started
func Open(ctx context.Context, source Source, feed Feed, userID, agencyID string, opts ...Option) (*Session, error) {
	if err := source.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	s := &Session{
		id:         uuid.NewString(),
		userID:     userID,
		agencyID:   agencyID,
		source:     source,
		tombstones: make(map[string]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	// the sequence is read before listing so that anything written while the
	// snapshot is taken is replayed afterwards
	seq := feed.LastSeq(agencyID)
	calls, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.calls = calls
	s.lastSeq = seq
	s.sub = feed.SubscribeAfter(agencyID, seq)

	zap.S().Debugw("realtime session opened", "session", s.id, "agency", agencyID, "user", userID, "calls", len(calls), "seq", seq)
	return s, nil
}

func (s *Session) fetch(ctx context.Context) (map[string]models.Call, error) {
	seq, err := s.source.List(ctx, s.userID, s.agencyID, models.CallFilter{})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.agencyID, err)
	}
	calls := make(map[string]models.Call)
	for c := range seq {
		calls[c.ID] = c
	}
	return calls, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Apply folds ev into the snapshot and reports whether it changed anything.
// Events older than or equal to what the snapshot already holds are ignored.
// A resync replaces the snapshot with a fresh listing.
func (s *Session) Apply(ctx context.Context, ev models.Event) (bool, error) {
	if ev.Kind == models.ChangeResync {
		calls, err := s.fetch(ctx)
		if err != nil {
			return false, err
		}
		s.mu.Lock()
		s.calls = calls
		clear(s.tombstones)
		s.lastSeq = max(s.lastSeq, ev.Seq)
		s.mu.Unlock()
		return true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq = max(s.lastSeq, ev.Seq)

	switch ev.Kind {
	case models.ChangeCreated, models.ChangeUpdated:
		if ev.Call == nil {
			return false, nil
		}
		if _, deleted := s.tombstones[ev.Call.ID]; deleted {
			return false, nil
		}
		if local, ok := s.calls[ev.Call.ID]; ok && local.Version >= ev.Call.Version {
			return false, nil
		}
		s.calls[ev.Call.ID] = ev.Call.Clone()
		return true, nil
	case models.ChangeDeleted:
		s.tombstones[ev.CallID] = struct{}{}
		if _, ok := s.calls[ev.CallID]; !ok {
			return false, nil
		}
		delete(s.calls, ev.CallID)
		return true, nil
	}
	return false, nil
}

// Snapshot returns the current view in dispatch order
func (s *Session) Snapshot() []models.Call {
	s.mu.RLock()
	calls := make([]models.Call, 0, len(s.calls))
	for c := range maps.Values(s.calls) {
		calls = append(calls, c.Clone())
	}
	s.mu.RUnlock()
	models.SortCalls(calls)
	return calls
}

// Subscription reports where the session stands on its channel
func (s *Session) Subscription() models.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.Subscription{
		AgencyID:         s.agencyID,
		SessionID:        s.id,
		LastSeenEventSeq: s.lastSeq,
	}
}

// Stale reports whether the session fell behind and is waiting on a resync
func (s *Session) Stale() bool {
	return s.sub.Stale()
}

// Err returns the error that ended Stream, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stream applies incoming events and yields each change that altered the
// snapshot. Deleted calls are yielded with only their id set and a resync as
// an empty call. The sequence can be ranged over once; it ends when ctx is
// done, the session is closed, or a resync cannot be fetched (see Err).
func (s *Session) Stream(ctx context.Context) iter.Seq2[models.Call, models.ChangeKind] {
	return func(yield func(models.Call, models.ChangeKind) bool) {
		if !s.streaming.CompareAndSwap(false, true) {
			return
		}
		for {
			var ev models.Event
			var ok bool
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case ev, ok = <-s.sub.C():
				if !ok {
					return
				}
			}

			applied, err := s.Apply(ctx, ev)
			if err != nil {
				zap.S().Errorw("realtime session resync failed", "session", s.id, "agency", s.agencyID, "error", err)
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				return
			}
			if !applied {
				continue
			}

			var call models.Call
			switch ev.Kind {
			case models.ChangeDeleted:
				call = models.Call{ID: ev.CallID, AgencyID: s.agencyID}
			case models.ChangeCreated, models.ChangeUpdated:
				call = ev.Call.Clone()
			}
			if !yield(call, ev.Kind) {
				return
			}
		}
	}
}

// Close unsubscribes the session
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.sub != nil {
			s.sub.Close()
		}
		close(s.done)
		zap.S().Debugw("realtime session closed", "session", s.id, "agency", s.agencyID)
	})
}

var _ Feed = (*bus.Bus)(nil)
