package responder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/models"
)

func testUnits() []models.Unit {
	return []models.Unit{
		{ID: "A1", Category: models.CategoryMedical, Speciality: "general", Latitude: 24.86, Longitude: 67.00},
		{ID: "A2", Category: models.CategoryMedical, Speciality: "cardiac", Latitude: 24.95, Longitude: 67.10},
		{ID: "F1", Category: models.CategoryFire, Speciality: "fire", Latitude: 24.86, Longitude: 67.00},
	}
}

func TestETA(t *testing.T) {
	tests := []struct {
		distance float64
		urgency  models.Urgency
		want     int
	}{
		{0, models.UrgencyHigh, 5},
		{0, models.UrgencyCritical, 5},
		{0, models.UrgencyLow, 7},
		{10, models.UrgencyHigh, 25},
		{10, models.UrgencyCritical, 22},
		{10, models.UrgencyMedium, 27},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ETA(tt.distance, tt.urgency), "%v km %s", tt.distance, tt.urgency)
	}
}

func TestAssign_PrefersSpeciality(t *testing.T) {
	f := NewFleet(testUnits())
	p := geo.Point{Lat: 24.86, Lon: 67.00}

	a, err := f.Assign(models.CategoryMedical, p, models.UrgencyHigh, "cardiac")
	require.NoError(t, err)
	assert.Equal(t, "A2", a.Unit.ID)
	assert.Greater(t, a.ETAMinutes, 5)

	// no cardiac unit left, nearest of any speciality
	a, err = f.Assign(models.CategoryMedical, p, models.UrgencyHigh, "cardiac")
	require.NoError(t, err)
	assert.Equal(t, "A1", a.Unit.ID)
	assert.Equal(t, 5, a.ETAMinutes)

	_, err = f.Assign(models.CategoryMedical, p, models.UrgencyHigh, "")
	assert.ErrorIs(t, err, ErrNoUnitAvailable)
	assert.Equal(t, 1, f.Available(models.CategoryFire))
}

func TestAdvanceAndRelease(t *testing.T) {
	f := NewFleet(testUnits())
	_, err := f.Assign(models.CategoryFire, geo.Point{Lat: 24.9, Lon: 67.0}, models.UrgencyCritical, "fire")
	require.NoError(t, err)

	require.NoError(t, f.Advance("F1", models.StatusEnRoute))
	assert.ErrorIs(t, f.Advance("F1", models.StatusDispatched), ErrInvalidTransition)
	assert.ErrorIs(t, f.Advance("F1", models.StatusEnRoute), ErrInvalidTransition)
	require.NoError(t, f.Advance("F1", models.StatusArrived))
	assert.ErrorIs(t, f.Advance("F1", models.StatusAvailable), ErrInvalidTransition)
	assert.ErrorIs(t, f.Advance("nope", models.StatusArrived), ErrUnknownUnit)

	require.NoError(t, f.Release("F1"))
	units := f.Units(models.CategoryFire)
	require.Len(t, units, 1)
	assert.Equal(t, models.StatusAvailable, units[0].Status)
	assert.ErrorIs(t, f.Release("nope"), ErrUnknownUnit)
	assert.Len(t, f.Units(""), 3)
}
