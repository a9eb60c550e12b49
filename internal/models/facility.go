package models

// Facility represents a hospital, fire station or police station from the catalog
type Facility struct {
	ID              string   `json:"id" yaml:"id"`
	Category        Category `json:"category" yaml:"category"`
	Type            string   `json:"type" yaml:"type"`
	Name            string   `json:"name" yaml:"name"`
	Address         string   `json:"address" yaml:"address"`
	Area            string   `json:"area,omitempty" yaml:"area"`
	Latitude        *float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude       *float64 `json:"longitude,omitempty" yaml:"longitude"`
	Contacts        []string `json:"contacts" yaml:"contacts"`
	Capabilities    []string `json:"capabilities" yaml:"capabilities"`
	Emergency       bool     `json:"emergency" yaml:"emergency"`
	ResponseMinutes int      `json:"response_minutes,omitempty" yaml:"response_minutes"`

	// DistanceKm is only set on search results.
	DistanceKm *float64 `json:"distance_km,omitempty" yaml:"-"`
}

// HasCoordinates reports whether the facility is geocoded.
func (f Facility) HasCoordinates() bool {
	return f.Latitude != nil && f.Longitude != nil
}

// PrimaryContact returns the first contact number or "".
func (f Facility) PrimaryContact() string {
	if len(f.Contacts) == 0 {
		return ""
	}
	return f.Contacts[0]
}

// Unit is a dispatchable vehicle (ambulance, fire tender, patrol car).
type Unit struct {
	ID         string   `json:"id" yaml:"id"`
	Category   Category `json:"category" yaml:"category"`
	Speciality string   `json:"speciality,omitempty" yaml:"speciality"`
	Contact    string   `json:"contact,omitempty" yaml:"contact"`
	Area       string   `json:"area,omitempty" yaml:"area"`
	Latitude   float64  `json:"latitude" yaml:"latitude"`
	Longitude  float64  `json:"longitude" yaml:"longitude"`
}
