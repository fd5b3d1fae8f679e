package realtime_test

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/police-cad-dispatch/bus"
	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/dispatch"
	"github.com/linesmerrill/police-cad-dispatch/geo"
	"github.com/linesmerrill/police-cad-dispatch/models"
	"github.com/linesmerrill/police-cad-dispatch/realtime"
)

type env struct {
	store databases.CallDatabase
	bus   *bus.Bus
	coord *dispatch.Coordinator
}

func newEnv(t *testing.T, queueSize int) *env {
	t.Helper()
	store := databases.NewMemoryCallDatabase()
	b := bus.New(bus.Config{QueueSize: queueSize})
	idx := geo.NewIndex()
	t.Cleanup(func() {
		b.Close()
		_ = idx.Close()
	})
	auth := dispatch.AuthorizerFunc(func(_ context.Context, userID string) ([]string, error) {
		if userID == "dispatcher" {
			return []string{"sasp", "samc"}, nil
		}
		return nil, nil
	})
	return &env{store: store, bus: b, coord: dispatch.New(store, b, idx, auth)}
}

func (e *env) create(t *testing.T, agencyID, title string, p models.Priority) *models.Call {
	t.Helper()
	call, err := e.coord.Create(context.Background(), "dispatcher", agencyID, models.CallDraft{
		Title:    title,
		CallType: models.CallTypeMedical,
		Priority: p,
	})
	require.NoError(t, err)
	return call
}

func (e *env) storeList(t *testing.T, agencyID string) []models.Call {
	t.Helper()
	seq, err := e.store.List(context.Background(), agencyID, models.CallFilter{})
	require.NoError(t, err)
	return slices.Collect(seq)
}

func (e *env) open(t *testing.T, agencyID string) *realtime.Session {
	t.Helper()
	s, err := realtime.Open(context.Background(), e.coord, e.bus, "dispatcher", agencyID)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

type change struct {
	call models.Call
	kind models.ChangeKind
}

// drain consumes the stream until it has been quiet for a while
func drain(s *realtime.Session, quiet time.Duration) []change {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(quiet, cancel)

	var out []change
	for call, kind := range s.Stream(ctx) {
		out = append(out, change{call, kind})
		timer.Reset(quiet)
	}
	return out
}

func TestSession_OpenSnapshot(t *testing.T) {
	e := newEnv(t, 0)
	e.create(t, "samc", "fall", models.PriorityCode3)
	urgent := e.create(t, "samc", "cardiac arrest", models.PriorityCode1)
	e.create(t, "sasp", "robbery", models.PriorityCode1)

	s := e.open(t, "samc")
	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, urgent.ID, snap[0].ID)

	sub := s.Subscription()
	assert.Equal(t, "samc", sub.AgencyID)
	assert.Equal(t, s.ID(), sub.SessionID)
	assert.Equal(t, uint64(2), sub.LastSeenEventSeq)
}

func TestSession_OpenUnauthorized(t *testing.T) {
	e := newEnv(t, 0)
	_, err := realtime.Open(context.Background(), e.coord, e.bus, "stranger", "samc")
	assert.ErrorIs(t, err, dispatch.ErrUnauthorized)
	assert.Equal(t, int64(0), e.bus.SubscriberCount())
}

func TestSession_AssignmentReachesOtherSession(t *testing.T) {
	e := newEnv(t, 0)
	call := e.create(t, "samc", "overdose", models.PriorityCode1)
	first := e.open(t, "samc")
	second := e.open(t, "samc")

	_, err := e.coord.AssignUnit(context.Background(), "dispatcher", "samc", call.ID, "U-12")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got models.Call
	for c, kind := range second.Stream(ctx) {
		if kind == models.ChangeUpdated && c.ID == call.ID {
			got = c
			break
		}
	}
	assert.Contains(t, got.AssignedUnits, "U-12")
	assert.Equal(t, got, second.Snapshot()[0])
	assert.Empty(t, first.Snapshot()[0].AssignedUnits)
}

func TestSession_RedeliveryIsNoop(t *testing.T) {
	e := newEnv(t, 0)
	call := e.create(t, "samc", "fall", models.PriorityCode3)
	s := e.open(t, "samc")

	ev := models.NewCallEvent(models.ChangeUpdated, *call)
	applied, err := s.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, applied)

	newer := call.WithUnit("U-1")
	newer.Version++
	ev = models.NewCallEvent(models.ChangeUpdated, newer)
	applied, err = s.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = s.Apply(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, applied)

	// an older version never overwrites a newer one
	applied, err = s.Apply(context.Background(), models.NewCallEvent(models.ChangeUpdated, *call))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, []string{"U-1"}, s.Snapshot()[0].AssignedUnits)
}

func TestSession_DeleteEvicts(t *testing.T) {
	e := newEnv(t, 0)
	call := e.create(t, "samc", "fall", models.PriorityCode3)
	s := e.open(t, "samc")

	applied, err := s.Apply(context.Background(), models.NewDeletedEvent("samc", call.ID))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Empty(t, s.Snapshot())

	// a late update for the deleted call does not bring it back
	late := call.Clone()
	late.Version = 5
	applied, err = s.Apply(context.Background(), models.NewCallEvent(models.ChangeUpdated, late))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, s.Snapshot())
}

func TestSession_StreamYieldsChanges(t *testing.T) {
	e := newEnv(t, 0)
	s := e.open(t, "sasp")
	ctx := context.Background()

	call := e.create(t, "sasp", "robbery", models.PriorityCode1)
	_, err := e.coord.ChangeStatus(ctx, "dispatcher", "sasp", call.ID, models.StatusDispatched)
	require.NoError(t, err)
	require.NoError(t, e.coord.Delete(ctx, "dispatcher", "sasp", call.ID))

	changes := drain(s, 200*time.Millisecond)
	require.Len(t, changes, 3)
	assert.Equal(t, models.ChangeCreated, changes[0].kind)
	assert.Equal(t, models.ChangeUpdated, changes[1].kind)
	assert.Equal(t, models.StatusDispatched, changes[1].call.Status)
	assert.Equal(t, models.ChangeDeleted, changes[2].kind)
	assert.Equal(t, call.ID, changes[2].call.ID)
	assert.Empty(t, s.Snapshot())
	assert.Equal(t, uint64(3), s.Subscription().LastSeenEventSeq)

	// the stream is single use
	assert.Empty(t, drain(s, 10*time.Millisecond))
}

// lateWriteSource creates a call right after the snapshot listing, before the
// session subscribes
type lateWriteSource struct {
	*dispatch.Coordinator
	once sync.Once
	late *models.Call
}

func (l *lateWriteSource) List(ctx context.Context, userID, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error) {
	seq, err := l.Coordinator.List(ctx, userID, agencyID, filter)
	if err != nil {
		return nil, err
	}
	snapshot := slices.Collect(seq)
	l.once.Do(func() {
		l.late, err = l.Coordinator.Create(ctx, userID, agencyID, models.CallDraft{Title: "late", CallType: models.CallTypeFire})
	})
	return slices.Values(snapshot), err
}

func TestSession_WriteDuringSnapshotIsNotLost(t *testing.T) {
	e := newEnv(t, 0)
	e.create(t, "sasp", "early", models.PriorityCode2)
	src := &lateWriteSource{Coordinator: e.coord}

	s, err := realtime.Open(context.Background(), src, e.bus, "dispatcher", "sasp")
	require.NoError(t, err)
	defer s.Close()
	require.Len(t, s.Snapshot(), 1)

	changes := drain(s, 200*time.Millisecond)
	require.Len(t, changes, 1)
	assert.Equal(t, src.late.ID, changes[0].call.ID)
	assert.Equal(t, e.storeList(t, "sasp"), s.Snapshot())
}

func TestSession_OverflowResyncsToStore(t *testing.T) {
	e := newEnv(t, 8)
	ctx := context.Background()
	call := e.create(t, "samc", "mass casualty", models.PriorityCode1)
	s := e.open(t, "samc")

	for i := 0; i < 10000; i++ {
		notes := fmt.Sprintf("update %d", i)
		_, err := e.coord.Update(ctx, "dispatcher", "samc", call.ID, models.CallPatch{Notes: &notes})
		require.NoError(t, err)
	}
	assert.True(t, s.Stale())

	var resyncs int
	for _, c := range drain(s, 300*time.Millisecond) {
		if c.kind == models.ChangeResync {
			resyncs++
		}
	}
	assert.Equal(t, 1, resyncs)
	assert.False(t, s.Stale())
	assert.NoError(t, s.Err())
	assert.Equal(t, e.storeList(t, "samc"), s.Snapshot())
	assert.Equal(t, "update 9999", s.Snapshot()[0].Notes)
}

func TestSession_ConvergesAfterConcurrentBurst(t *testing.T) {
	e := newEnv(t, 0)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		e.create(t, "sasp", fmt.Sprintf("seed %d", i), models.PriorityCode2)
	}
	before := e.open(t, "sasp")

	var during *realtime.Session
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				call, err := e.coord.Create(ctx, "dispatcher", "sasp", models.CallDraft{
					Title:    fmt.Sprintf("burst %d-%d", w, i),
					CallType: models.CallTypeTraffic,
					Priority: []models.Priority{models.PriorityCode1, models.PriorityCode2, models.PriorityCode3}[i%3],
				})
				if !assert.NoError(t, err) {
					return
				}
				if i%2 == 0 {
					_, err = e.coord.AssignUnit(ctx, "dispatcher", "sasp", call.ID, fmt.Sprintf("U-%d", w))
					assert.NoError(t, err)
				}
				if i%5 == 0 {
					assert.NoError(t, e.coord.Delete(ctx, "dispatcher", "sasp", call.ID))
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s, err := realtime.Open(ctx, e.coord, e.bus, "dispatcher", "sasp")
		if assert.NoError(t, err) {
			during = s
		}
	}()
	wg.Wait()
	require.NotNil(t, during)
	defer during.Close()

	want := e.storeList(t, "sasp")
	for _, s := range []*realtime.Session{before, during} {
		drain(s, 200*time.Millisecond)
		assert.Equal(t, want, s.Snapshot())
	}
}

func TestSession_CloseEndsStream(t *testing.T) {
	e := newEnv(t, 0)
	s := e.open(t, "sasp")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range s.Stream(context.Background()) {
		}
	}()
	s.Close()
	s.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end on close")
	}
	assert.Equal(t, int64(0), e.bus.SubscriberCount())
}
