package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/rescue-bot/internal/models"
)

var (
	saddar  = Point{Lat: 24.8607, Lon: 67.0011}
	clifton = Point{Lat: 24.8123, Lon: 66.9967}
	malir   = Point{Lat: 24.9000, Lon: 67.1000}
)

func facility(id string, cat models.Category, typ string, lat, lon *float64, caps ...string) models.Facility {
	return models.Facility{
		ID:           id,
		Category:     cat,
		Type:         typ,
		Name:         id,
		Latitude:     lat,
		Longitude:    lon,
		Capabilities: caps,
		Emergency:    true,
	}
}

func testIndex() *Index {
	return NewIndex([]models.Facility{
		facility("h1", models.CategoryMedical, "hospital", models.Float(24.8600), models.Float(67.0100), "cardiology"),
		facility("h2", models.CategoryMedical, "hospital", models.Float(24.8130), models.Float(66.9970), "trauma", "burn"),
		facility("h3", models.CategoryMedical, "hospital", nil, nil, "cardiology"),
		facility("h4", models.CategoryMedical, "hospital", models.Float(24.9010), models.Float(67.1010), "general"),
		facility("f1", models.CategoryFire, "fire_station", models.Float(24.8610), models.Float(67.0020), "fire"),
		facility("f2", models.CategoryFire, "civil_defence", models.Float(24.8920), models.Float(67.0290), "rescue"),
	})
}

func TestDistance_Symmetric(t *testing.T) {
	pairs := [][2]Point{
		{saddar, clifton},
		{clifton, malir},
		{{Lat: -33.86, Lon: 151.2}, {Lat: 51.5, Lon: -0.12}},
		{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 180}},
	}
	for _, p := range pairs {
		assert.InDelta(t, Distance(p[0], p[1]), Distance(p[1], p[0]), 1e-9)
	}
}

func TestDistance_SamePointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Distance(saddar, saddar))
	assert.Equal(t, 0.0, Distance(malir, malir))
}

func TestDistance_KnownValue(t *testing.T) {
	// Saddar to Clifton is a little under 5.4km
	d := Distance(saddar, clifton)
	assert.InDelta(t, 5.4, d, 0.2)
}

func TestNearby_WithinRadiusSorted(t *testing.T) {
	idx := testIndex()

	got := idx.Nearby(saddar, 10, models.CategoryMedical)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].ID)
	assert.Equal(t, "h2", got[1].ID)

	for i, f := range got {
		d := Distance(saddar, Point{Lat: *f.Latitude, Lon: *f.Longitude})
		assert.LessOrEqual(t, d, 10.0)
		require.NotNil(t, f.DistanceKm)
		if i > 0 {
			assert.GreaterOrEqual(t, *f.DistanceKm, *got[i-1].DistanceKm)
		}
	}
}

func TestNearby_ShrinkingRadiusNeverGrows(t *testing.T) {
	idx := testIndex()
	prev := len(idx.Nearby(saddar, 100))
	for _, r := range []float64{50, 20, 10, 5, 1, 0.5, 0} {
		n := len(idx.Nearby(saddar, r))
		assert.LessOrEqual(t, n, prev, "radius %v", r)
		prev = n
	}
}

func TestNearby_SkipsUngeocoded(t *testing.T) {
	idx := testIndex()
	for _, f := range idx.Nearby(saddar, 1000) {
		assert.NotEqual(t, "h3", f.ID)
	}
}

func TestNearby_DoesNotMutateCatalog(t *testing.T) {
	idx := testIndex()
	_ = idx.Nearby(saddar, 50)
	f, ok := idx.Get(models.CategoryMedical, "h1")
	require.True(t, ok)
	assert.Nil(t, f.DistanceKm)
}

func TestNearbyOrAll_FallsBackToCategory(t *testing.T) {
	idx := testIndex()
	far := Point{Lat: 31.52, Lon: 74.35} // Lahore

	assert.Empty(t, idx.Nearby(far, 15, models.CategoryFire))

	got := idx.NearbyOrAll(far, 15, UserLimit, models.CategoryFire)
	require.Len(t, got, 2)
	for _, f := range got {
		assert.Equal(t, models.CategoryFire, f.Category)
	}
}

func TestByType_CatalogOrderWithoutPoint(t *testing.T) {
	idx := testIndex()
	got := idx.ByType([]string{"cardiology"}, nil, BroadLimit)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[0].ID)
	assert.Equal(t, "h3", got[1].ID)
	assert.Nil(t, got[0].DistanceKm)
}

func TestByType_SortedWithPointUngeocodedLast(t *testing.T) {
	idx := testIndex()
	got := idx.ByType([]string{"hospital"}, &malir, BroadLimit)
	require.Len(t, got, 4)
	assert.Equal(t, "h4", got[0].ID)
	assert.Equal(t, "h3", got[3].ID)
}

func TestByType_Limit(t *testing.T) {
	idx := testIndex()
	got := idx.ByType([]string{"hospital"}, nil, 2)
	assert.Len(t, got, 2)
}

func TestByType_TiesKeepCatalogOrder(t *testing.T) {
	idx := NewIndex([]models.Facility{
		facility("a", models.CategoryPolice, "police_station", models.Float(24.87), models.Float(67.03)),
		facility("b", models.CategoryPolice, "police_station", models.Float(24.87), models.Float(67.03)),
		facility("c", models.CategoryPolice, "police_station", models.Float(24.87), models.Float(67.03)),
	})
	got := idx.ByType([]string{"police_station"}, &saddar, BroadLimit)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestCount(t *testing.T) {
	idx := testIndex()
	c := idx.Count()
	assert.Equal(t, 4, c[models.CategoryMedical])
	assert.Equal(t, 2, c[models.CategoryFire])
	assert.Equal(t, 6, idx.Len())
}
