package geo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/police-cad-dispatch/geo"
)

var losSantos = geo.Bounds{MinLat: 33.9, MinLng: -118.5, MaxLat: 34.2, MaxLng: -118.1}

func TestIndex_UpsertAndQuery(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	require.NoError(t, idx.Upsert("sasp", "downtown", 34.05, -118.25))
	require.NoError(t, idx.Upsert("sasp", "vinewood", 34.10, -118.33))
	require.NoError(t, idx.Upsert("sasp", "paleto", 47.60, -122.30))

	ids, err := idx.Query("sasp", losSantos)
	require.NoError(t, err)
	assert.Equal(t, []string{"downtown", "vinewood"}, ids)
}

func TestIndex_UpsertMovesCall(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	require.NoError(t, idx.Upsert("sasp", "moving", 47.60, -122.30))
	require.NoError(t, idx.Upsert("sasp", "moving", 34.05, -118.25))

	ids, err := idx.Query("sasp", losSantos)
	require.NoError(t, err)
	assert.Equal(t, []string{"moving"}, ids)
	assert.Equal(t, 1, idx.Len("sasp"))
}

func TestIndex_Remove(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	require.NoError(t, idx.Upsert("sasp", "downtown", 34.05, -118.25))
	require.NoError(t, idx.Remove("sasp", "downtown"))
	require.NoError(t, idx.Remove("sasp", "unknown"))
	require.NoError(t, idx.Remove("bcso", "unknown"))

	ids, err := idx.Query("sasp", losSantos)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndex_AgencyIsolation(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	require.NoError(t, idx.Upsert("samc", "pillbox", 34.05, -118.25))

	ids, err := idx.Query("sasp", losSantos)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestIndex_Reset(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	require.NoError(t, idx.Upsert("sasp", "stale", 34.05, -118.25))
	require.NoError(t, idx.Reset("sasp", []geo.Point{
		{ID: "fresh", Lat: 34.10, Lng: -118.33},
		{ID: "bad", Lat: 123, Lng: 0},
	}))

	ids, err := idx.Query("sasp", losSantos)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, ids)
}

func TestIndex_InvalidInput(t *testing.T) {
	idx := geo.NewIndex()
	defer idx.Close()

	assert.ErrorIs(t, idx.Upsert("sasp", "x", 91, 0), geo.ErrInvalidBounds)
	assert.ErrorIs(t, idx.Upsert("sasp", "x", 0, -181), geo.ErrInvalidBounds)

	tests := []struct {
		name string
		b    geo.Bounds
	}{
		{"lat out of range", geo.Bounds{MinLat: -91, MaxLat: 0, MinLng: 0, MaxLng: 1}},
		{"lng out of range", geo.Bounds{MinLat: 0, MaxLat: 1, MinLng: 0, MaxLng: 181}},
		{"inverted lat", geo.Bounds{MinLat: 10, MaxLat: 0, MinLng: 0, MaxLng: 1}},
		{"inverted lng", geo.Bounds{MinLat: 0, MaxLat: 1, MinLng: 5, MaxLng: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := idx.Query("sasp", tt.b)
			assert.ErrorIs(t, err, geo.ErrInvalidBounds)
		})
	}
}
