// Package geo keeps a per-agency spatial index of active calls so the map view
// can ask which calls fall inside the visible area.
package geo

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

const locationField = "location"

// ErrInvalidBounds is returned for a bounding box outside of the valid
// coordinate ranges or with inverted corners
var ErrInvalidBounds = errors.New("invalid bounds")

// Point is an indexed call position
type Point struct {
	ID  string
	Lat float64
	Lng float64
}

// Bounds is an axis aligned box in degrees
type Bounds struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Validate checks the corners are within range and ordered
func (b Bounds) Validate() error {
	switch {
	case !validLat(b.MinLat) || !validLat(b.MaxLat):
		return fmt.Errorf("latitude must be within [-90, 90]: %w", ErrInvalidBounds)
	case !validLng(b.MinLng) || !validLng(b.MaxLng):
		return fmt.Errorf("longitude must be within [-180, 180]: %w", ErrInvalidBounds)
	case b.MinLat > b.MaxLat || b.MinLng > b.MaxLng:
		return fmt.Errorf("min corner must not exceed max corner: %w", ErrInvalidBounds)
	}
	return nil
}

func validLat(v float64) bool { return v >= -90 && v <= 90 }
func validLng(v float64) bool { return v >= -180 && v <= 180 }

// Index is a set of in-memory bleve indexes, one per agency
type Index struct {
	mapping mapping.IndexMapping

	mu       sync.RWMutex
	agencies map[string]bleve.Index
}

// NewIndex returns an empty Index
func NewIndex() *Index {
	dm := bleve.NewDocumentMapping()
	dm.AddFieldMappingsAt(locationField, bleve.NewGeoPointFieldMapping())
	im := bleve.NewIndexMapping()
	im.DefaultMapping = dm

	return &Index{
		mapping:  im,
		agencies: make(map[string]bleve.Index),
	}
}

func (x *Index) agency(agencyID string, create bool) (bleve.Index, error) {
	x.mu.RLock()
	idx, ok := x.agencies[agencyID]
	x.mu.RUnlock()
	if ok || !create {
		return idx, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if idx, ok = x.agencies[agencyID]; ok {
		return idx, nil
	}
	idx, err := bleve.NewMemOnly(x.mapping)
	if err != nil {
		return nil, fmt.Errorf("create geo index for %s: %w", agencyID, err)
	}
	x.agencies[agencyID] = idx
	return idx, nil
}

func document(lat, lng float64) map[string]interface{} {
	return map[string]interface{}{
		locationField: map[string]interface{}{"lat": lat, "lon": lng},
	}
}

// Upsert sets the position of a call
func (x *Index) Upsert(agencyID, id string, lat, lng float64) error {
	if !validLat(lat) || !validLng(lng) {
		return fmt.Errorf("position %f,%f: %w", lat, lng, ErrInvalidBounds)
	}
	idx, err := x.agency(agencyID, true)
	if err != nil {
		return err
	}
	return idx.Index(id, document(lat, lng))
}

// Remove drops a call from the index. Removing an unknown id is not an error.
func (x *Index) Remove(agencyID, id string) error {
	idx, err := x.agency(agencyID, false)
	if err != nil || idx == nil {
		return err
	}
	return idx.Delete(id)
}

// Query returns the sorted ids of the calls inside b
func (x *Index) Query(agencyID string, b Bounds) ([]string, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	idx, err := x.agency(agencyID, false)
	if err != nil || idx == nil {
		return nil, err
	}
	count, err := idx.DocCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	q := bleve.NewGeoBoundingBoxQuery(b.MinLng, b.MaxLat, b.MaxLng, b.MinLat)
	q.SetField(locationField)
	res, err := idx.Search(bleve.NewSearchRequestOptions(q, int(count), 0, false))
	if err != nil {
		return nil, fmt.Errorf("geo query for %s: %w", agencyID, err)
	}

	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

// Reset replaces the agency's index content with points
func (x *Index) Reset(agencyID string, points []Point) error {
	idx, err := bleve.NewMemOnly(x.mapping)
	if err != nil {
		return fmt.Errorf("create geo index for %s: %w", agencyID, err)
	}
	batch := idx.NewBatch()
	for _, p := range points {
		if !validLat(p.Lat) || !validLng(p.Lng) {
			continue
		}
		if err := batch.Index(p.ID, document(p.Lat, p.Lng)); err != nil {
			_ = idx.Close()
			return err
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return err
	}

	x.mu.Lock()
	old := x.agencies[agencyID]
	x.agencies[agencyID] = idx
	x.mu.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// Len returns the number of indexed calls for an agency
func (x *Index) Len(agencyID string) int {
	idx, err := x.agency(agencyID, false)
	if err != nil || idx == nil {
		return 0
	}
	n, err := idx.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

// Close releases every agency index
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	var errs []error
	for id, idx := range x.agencies {
		errs = append(errs, idx.Close())
		delete(x.agencies, id)
	}
	return errors.Join(errs...)
}
