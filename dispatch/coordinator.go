// Package dispatch owns every mutation of a call: it validates the request,
// serializes writers per call, writes through the store and then keeps the
// geo index and the change bus in step with what was written.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linesmerrill/police-cad-dispatch/databases"
	"github.com/linesmerrill/police-cad-dispatch/geo"
	"github.com/linesmerrill/police-cad-dispatch/models"
)

// Authorizer resolves the agencies a user may operate on
type Authorizer interface {
	Agencies(ctx context.Context, userID string) ([]string, error)
}

// AuthorizerFunc adapts a plain function to Authorizer
type AuthorizerFunc func(ctx context.Context, userID string) ([]string, error)

// Agencies calls f
func (f AuthorizerFunc) Agencies(ctx context.Context, userID string) ([]string, error) {
	return f(ctx, userID)
}

// Publisher is the part of the change bus the coordinator writes to
type Publisher interface {
	Publish(agencyID string, ev models.Event) models.Event
}

// GeoIndex is the spatial index kept in step with active calls
type GeoIndex interface {
	Upsert(agencyID, id string, lat, lng float64) error
	Remove(agencyID, id string) error
	Query(agencyID string, b geo.Bounds) ([]string, error)
	Reset(agencyID string, points []geo.Point) error
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithIDGenerator replaces the uuid based call id generator
func WithIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		c.newID = gen
	}
}

// Coordinator is the single writer of calls
type Coordinator struct {
	store    databases.CallDatabase
	bus      Publisher
	geo      GeoIndex
	auth     Authorizer
	locks    *keyedMutex
	geoLocks *agencyLocks // keeps index writes out of a running Reconcile
	now      func() time.Time
	newID    func() string
}

// New wires a Coordinator
func New(store databases.CallDatabase, bus Publisher, geoIndex GeoIndex, auth Authorizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		bus:      bus,
		geo:      geoIndex,
		auth:     auth,
		locks:    newKeyedMutex(),
		geoLocks: newAgencyLocks(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize fails with ErrUnauthorized unless userID may operate on agencyID
func (c *Coordinator) Authorize(ctx context.Context, userID, agencyID string) error {
	agencies, err := c.auth.Agencies(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve agencies for %s: %w", userID, err)
	}
	if agencyID == "" || !slices.Contains(agencies, agencyID) {
		return fmt.Errorf("user %s on agency %s: %w", userID, agencyID, ErrUnauthorized)
	}
	return nil
}

// Create validates draft and stores it as a new pending call
func (c *Coordinator) Create(ctx context.Context, userID, agencyID string, draft models.CallDraft) (*models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	call, err := c.newCall(userID, agencyID, draft)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(lockKey(agencyID, call.ID))
	defer unlock()

	stored, err := c.store.Put(ctx, agencyID, call, databases.InsertOnly())
	if err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	c.publish(models.ChangeCreated, *stored)
	zap.S().Infow("call created", "agency", agencyID, "call", stored.ID, "priority", stored.Priority, "user", userID)
	return stored, nil
}

func (c *Coordinator) newCall(userID, agencyID string, d models.CallDraft) (models.Call, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return models.Call{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if d.CallType == "" {
		return models.Call{}, fmt.Errorf("%w: callType is required", ErrValidation)
	}
	if !d.CallType.Valid() {
		return models.Call{}, fmt.Errorf("%w: unknown callType %q", ErrValidation, d.CallType)
	}
	priority := d.Priority
	if priority == "" {
		priority = models.DefaultPriority
	}
	if priority.Rank() == 0 {
		return models.Call{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, d.Priority)
	}
	if err := d.Location.Validate(); err != nil {
		return models.Call{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := c.timestamp(time.Time{})
	return models.Call{
		ID:            c.newID(),
		AgencyID:      agencyID,
		Title:         title,
		Description:   strings.TrimSpace(d.Description),
		CallType:      d.CallType,
		Priority:      priority,
		Status:        models.StatusPending,
		Location:      d.Location,
		AssignedUnits: []string{},
		ImageURL:      d.ImageURL,
		Notes:         d.Notes,
		CreatedBy:     userID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Get returns one call
func (c *Coordinator) Get(ctx context.Context, userID, agencyID, id string) (*models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	call, err := c.store.Get(ctx, agencyID, id)
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return call, nil
}

// List returns the agency's calls matching filter in dispatch order
func (c *Coordinator) List(ctx context.Context, userID, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	seq, err := c.store.List(ctx, agencyID, filter)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return seq, nil
}

// Map returns the active calls located inside b, in dispatch order
func (c *Coordinator) Map(ctx context.Context, userID, agencyID string, b geo.Bounds) ([]models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	ids, err := c.geo.Query(agencyID, b)
	if err != nil {
		return nil, err
	}
	calls := make([]models.Call, 0, len(ids))
	for _, id := range ids {
		call, err := c.store.Get(ctx, agencyID, id)
		if errors.Is(err, databases.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get call: %w", err)
		}
		if !call.Status.Terminal() {
			calls = append(calls, *call)
		}
	}
	models.SortCalls(calls)
	return calls, nil
}

// Update applies a partial update. Resolved and cancelled calls only accept
// notes and image changes.
func (c *Coordinator) Update(ctx context.Context, userID, agencyID, id string, patch models.CallPatch) (*models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	return c.mutate(ctx, agencyID, id, func(call models.Call) (models.Call, bool, error) {
		if patch.Empty() {
			return call, false, nil
		}
		if call.Status.Terminal() && !patch.AuditOnly() {
			return call, false, fmt.Errorf("%s call only accepts notes and image updates: %w", call.Status, ErrInvalidTransition)
		}
		if patch.Title != nil {
			call.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			call.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Priority != nil {
			call.Priority = *patch.Priority
		}
		if patch.Location != nil {
			call.Location = *patch.Location
		}
		if patch.Notes != nil {
			call.Notes = *patch.Notes
		}
		if patch.ImageURL != nil {
			call.ImageURL = *patch.ImageURL
		}
		return call, true, nil
	})
}

func validatePatch(p models.CallPatch) error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if p.Priority != nil && p.Priority.Rank() == 0 {
		return fmt.Errorf("%w: unknown priority %q", ErrValidation, *p.Priority)
	}
	if p.Location != nil {
		if err := p.Location.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// ChangeStatus moves a call along the status state machine
func (c *Coordinator) ChangeStatus(ctx context.Context, userID, agencyID, id string, status models.Status) (*models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	return c.mutate(ctx, agencyID, id, func(call models.Call) (models.Call, bool, error) {
		if !CanTransition(call.Status, status) {
			return call, false, fmt.Errorf("%s to %s: %w", call.Status, status, ErrInvalidTransition)
		}
		call.Status = status
		return call, true, nil
	})
}

// AssignUnit adds unitID to the call. Assigning an assigned unit is a no-op.
func (c *Coordinator) AssignUnit(ctx context.Context, userID, agencyID, id, unitID string) (*models.Call, error) {
	return c.changeUnits(ctx, userID, agencyID, id, unitID, true)
}

// UnassignUnit removes unitID from the call. Removing an absent unit is a no-op.
func (c *Coordinator) UnassignUnit(ctx context.Context, userID, agencyID, id, unitID string) (*models.Call, error) {
	return c.changeUnits(ctx, userID, agencyID, id, unitID, false)
}

func (c *Coordinator) changeUnits(ctx context.Context, userID, agencyID, id, unitID string, assign bool) (*models.Call, error) {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return nil, err
	}
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return nil, fmt.Errorf("%w: unit id is required", ErrValidation)
	}
	return c.mutate(ctx, agencyID, id, func(call models.Call) (models.Call, bool, error) {
		if call.HasUnit(unitID) == assign {
			return call, false, nil
		}
		if call.Status.Terminal() {
			return call, false, fmt.Errorf("units on a %s call: %w", call.Status, ErrInvalidTransition)
		}
		if assign {
			return call.WithUnit(unitID), true, nil
		}
		return call.WithoutUnit(unitID), true, nil
	})
}

// Delete removes a call for good
func (c *Coordinator) Delete(ctx context.Context, userID, agencyID, id string) error {
	if err := c.Authorize(ctx, userID, agencyID); err != nil {
		return err
	}

	unlock := c.locks.Lock(lockKey(agencyID, id))
	defer unlock()

	if err := c.store.Delete(ctx, agencyID, id); err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	if err := c.geoWrite(agencyID, func() error { return c.geo.Remove(agencyID, id) }); err != nil {
		zap.S().Errorw("failed to remove call from geo index", "agency", agencyID, "call", id, "error", err)
	}
	c.bus.Publish(agencyID, models.NewDeletedEvent(agencyID, id))
	zap.S().Infow("call deleted", "agency", agencyID, "call", id, "user", userID)
	return nil
}

// Reconcile rebuilds the agency's geo index from the store. Index writes for
// the agency wait until the rebuilt index is in place, so a call written
// after the store was read lands in the new index.
func (c *Coordinator) Reconcile(ctx context.Context, agencyID string) (int, error) {
	l := c.geoLocks.get(agencyID)
	l.Lock()
	defer l.Unlock()

	seq, err := c.store.List(ctx, agencyID, models.CallFilter{})
	if err != nil {
		return 0, fmt.Errorf("list calls: %w", err)
	}
	var points []geo.Point
	for call := range seq {
		if !call.Status.Terminal() {
			points = append(points, geo.Point{ID: call.ID, Lat: call.Location.Lat, Lng: call.Location.Lng})
		}
	}
	if err := c.geo.Reset(agencyID, points); err != nil {
		return 0, fmt.Errorf("reset geo index: %w", err)
	}
	return len(points), nil
}

// Observe keeps the geo index in step with an event written through another
// instance
func (c *Coordinator) Observe(ev models.Event) {
	var apply func() error
	switch {
	case ev.Kind == models.ChangeDeleted:
		apply = func() error { return c.geo.Remove(ev.AgencyID, ev.CallID) }
	case ev.Call == nil:
		return
	default:
		apply = func() error { return c.indexCall(*ev.Call) }
	}
	if err := c.geoWrite(ev.AgencyID, apply); err != nil {
		zap.S().Errorw("failed to apply remote event to geo index", "agency", ev.AgencyID, "call", ev.CallID, "error", err)
	}
}

// mutate runs fn against the current record under the call's lock and writes
// the result back with a version check. A conflicting write from another
// process is retried once against a fresh read.
func (c *Coordinator) mutate(ctx context.Context, agencyID, id string, fn func(models.Call) (models.Call, bool, error)) (*models.Call, error) {
	unlock := c.locks.Lock(lockKey(agencyID, id))
	defer unlock()

	for attempt := 0; ; attempt++ {
		current, err := c.store.Get(ctx, agencyID, id)
		if err != nil {
			return nil, fmt.Errorf("get call: %w", err)
		}
		next, changed, err := fn(current.Clone())
		if err != nil {
			return nil, err
		}
		if !changed {
			return current, nil
		}
		next.UpdatedAt = c.timestamp(current.UpdatedAt)

		stored, err := c.store.Put(ctx, agencyID, next, databases.IfVersion(current.Version))
		if errors.Is(err, databases.ErrConflict) && attempt == 0 {
			zap.S().Debugw("retrying conflicting call write", "agency", agencyID, "call", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update call: %w", err)
		}
		c.publish(models.ChangeUpdated, *stored)
		return stored, nil
	}
}

// publish keeps the geo index in step with call and emits the change event.
// Geo failures are only logged; Reconcile repairs the index.
func (c *Coordinator) publish(kind models.ChangeKind, call models.Call) {
	if err := c.geoWrite(call.AgencyID, func() error { return c.indexCall(call) }); err != nil {
		zap.S().Errorw("failed to update geo index", "agency", call.AgencyID, "call", call.ID, "error", err)
	}
	c.bus.Publish(call.AgencyID, models.NewCallEvent(kind, call))
}

// indexCall adds an active call to the geo index and drops a terminal one
func (c *Coordinator) indexCall(call models.Call) error {
	if call.Status.Terminal() {
		return c.geo.Remove(call.AgencyID, call.ID)
	}
	return c.geo.Upsert(call.AgencyID, call.ID, call.Location.Lat, call.Location.Lng)
}

// geoWrite runs fn while no Reconcile of agencyID is in progress
func (c *Coordinator) geoWrite(agencyID string, fn func() error) error {
	l := c.geoLocks.get(agencyID)
	l.RLock()
	defer l.RUnlock()
	return fn()
}

// timestamp returns now at millisecond precision, never earlier than prev
func (c *Coordinator) timestamp(prev time.Time) time.Time {
	now := c.now().UTC().Truncate(time.Millisecond)
	if now.Before(prev) {
		return prev
	}
	return now
}

func lockKey(agencyID, id string) string {
	return agencyID + "\x00" + id
}
