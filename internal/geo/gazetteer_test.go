package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindArea(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"chest pain, I am at Clifton", "Clifton", true},
		{"fire with people trapped, Gulshan-e-Iqbal", "Gulshan-e-Iqbal", true},
		{"House 12, North Nazimabad block L", "North Nazimabad", true},
		{"near DHA phase 6", "Defence", true},
		{"flight from dhaka", "", false},
		{"help now", "", false},
	}
	for _, tt := range tests {
		a, ok := FindArea(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, a.Name, tt.text)
	}
}

func TestGeocode_DefaultsToCityCenter(t *testing.T) {
	p, ok := Geocode("somewhere unknown")
	assert.False(t, ok)
	assert.Equal(t, CityCenter, p)

	p, ok = Geocode("Malir cantt")
	assert.True(t, ok)
	assert.Equal(t, Point{Lat: 24.9000, Lon: 67.1000}, p)
}
