package databases

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

// memoryCallDatabase keeps calls in process memory. It backs single-instance
// deployments and tests; its contract is identical to the mongo store.
type memoryCallDatabase struct {
	mu    sync.RWMutex
	calls map[string]map[string]models.Call
}

// NewMemoryCallDatabase returns an empty in-memory CallDatabase
func NewMemoryCallDatabase() CallDatabase {
	return &memoryCallDatabase{
		calls: make(map[string]map[string]models.Call),
	}
}

func (m *memoryCallDatabase) Put(ctx context.Context, agencyID string, call models.Call, opts ...PutOption) (*models.Call, error) {
	if call.ID == "" {
		return nil, errMissingID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := newPutOptions(opts)
	call = call.Clone()
	call.AgencyID = agencyID

	m.mu.Lock()
	defer m.mu.Unlock()

	agencyCalls := m.calls[agencyID]
	current, exists := agencyCalls[call.ID]
	switch {
	case o.insertOnly && m.taken(call.ID):
		return nil, fmt.Errorf("insert call %s: %w", call.ID, ErrConflict)
	case !exists && o.updateOnly:
		return nil, fmt.Errorf("call %s: %w", call.ID, ErrNotFound)
	case exists && o.checkVersion && current.Version != o.version:
		return nil, fmt.Errorf("replace call %s at version %d: %w", call.ID, o.version, ErrConflict)
	}

	call.Version = current.Version + 1
	if agencyCalls == nil {
		agencyCalls = make(map[string]models.Call)
		m.calls[agencyID] = agencyCalls
	}
	agencyCalls[call.ID] = call
	stored := call.Clone()
	return &stored, nil
}

// taken reports whether any agency holds id, matching the mongo _id index
func (m *memoryCallDatabase) taken(id string) bool {
	for _, calls := range m.calls {
		if _, ok := calls[id]; ok {
			return true
		}
	}
	return false
}

func (m *memoryCallDatabase) Get(ctx context.Context, agencyID, id string) (*models.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	call, ok := m.calls[agencyID][id]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	c := call.Clone()
	return &c, nil
}

func (m *memoryCallDatabase) List(ctx context.Context, agencyID string, filter models.CallFilter) (iter.Seq[models.Call], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	calls := make([]models.Call, 0, len(m.calls[agencyID]))
	for _, call := range m.calls[agencyID] {
		if filter.Match(call) {
			calls = append(calls, call.Clone())
		}
	}
	m.mu.RUnlock()

	models.SortCalls(calls)
	return func(yield func(models.Call) bool) {
		for _, call := range calls {
			if !yield(call.Clone()) {
				return
			}
		}
	}, nil
}

func (m *memoryCallDatabase) Delete(ctx context.Context, agencyID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[agencyID][id]; !ok {
		return fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	delete(m.calls[agencyID], id)
	if len(m.calls[agencyID]) == 0 {
		delete(m.calls, agencyID)
	}
	return nil
}

func (m *memoryCallDatabase) Agencies(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	agencies := make([]string, 0, len(m.calls))
	for agencyID := range m.calls {
		agencies = append(agencies, agencyID)
	}
	m.mu.RUnlock()
	slices.Sort(agencies)
	return agencies, nil
}
