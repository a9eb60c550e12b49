// Package gate decides whether a session carries enough contact and location
// data for a request to proceed. Every function is a pure read over a session
// snapshot.
package gate

import "github.com/xaenox/rescue-bot/internal/models"

const (
	FieldLocation       = "location"
	FieldLocationAccess = "location_access"
	FieldAddress        = "address"
	FieldCoordinates    = "coordinates"
	FieldPhone          = "phone"
)

// LocationValidation is the outcome of ValidateLocation.
type LocationValidation struct {
	Valid       bool     `json:"valid"`
	Complete    bool     `json:"complete"`
	Missing     []string `json:"missing_fields"`
	Suggestions []string `json:"suggestions"`
	Error       string   `json:"error,omitempty"`
}

// Requirements is the outcome of CheckEmergencyRequirements.
type Requirements struct {
	CanProceed       bool     `json:"can_proceed"`
	LocationProvided bool     `json:"location_provided"`
	PhoneProvided    bool     `json:"phone_provided"`
	Missing          []string `json:"missing"`
}

// ValidateLocation reports whether the session's location is usable and complete.
func ValidateLocation(s *models.Session) LocationValidation {
	if s == nil || s.Location == nil {
		return LocationValidation{
			Missing:     []string{FieldLocation},
			Suggestions: Suggestions([]string{FieldLocation}),
			Error:       "Location is required but not provided",
		}
	}

	loc := s.Location
	if loc.Source == models.SourceDenied {
		missing := []string{FieldLocationAccess}
		return LocationValidation{
			Missing:     missing,
			Suggestions: Suggestions(missing),
			Error:       "Location access was denied. Please provide a manual location.",
		}
	}

	var missing []string
	if loc.Address == "" && loc.Source == models.SourceManual {
		missing = append(missing, FieldAddress)
	}
	if !loc.HasCoordinates() {
		missing = append(missing, FieldCoordinates)
	}

	return LocationValidation{
		Valid:       len(missing) == 0,
		Complete:    loc.Address != "" && loc.HasCoordinates(),
		Missing:     missing,
		Suggestions: Suggestions(missing),
	}
}

// HasUsableLocation reports whether a non-denied location is on the session.
func HasUsableLocation(s *models.Session) bool {
	return s != nil && s.Location != nil && s.Location.Source != models.SourceDenied
}

// CheckEmergencyRequirements requires a usable location and a phone record.
// Missing lists exactly the absent ones, location before phone.
func CheckEmergencyRequirements(s *models.Session) Requirements {
	r := Requirements{
		LocationProvided: HasUsableLocation(s),
		PhoneProvided:    s != nil && s.Phone != nil && s.Phone.Number != "",
	}
	if !r.LocationProvided {
		r.Missing = append(r.Missing, FieldLocation)
	}
	if !r.PhoneProvided {
		r.Missing = append(r.Missing, FieldPhone)
	}
	r.CanProceed = len(r.Missing) == 0
	return r
}

// Suggestions turns missing field names into actions the user can take.
func Suggestions(missing []string) []string {
	var out []string
	for _, f := range missing {
		switch f {
		case FieldLocation:
			out = append(out, "Share your live location or type your area (e.g. 'I am at Clifton')")
		case FieldLocationAccess:
			out = append(out, "Allow location access or provide a manual address")
		case FieldAddress:
			out = append(out, "Enter your complete address including area")
		case FieldCoordinates:
			out = append(out, "Provide an area name in Karachi (e.g. 'Saddar', 'Clifton')")
		case FieldPhone:
			out = append(out, "Send a phone number responders can call back (e.g. 0300-1234567)")
		}
	}
	return out
}
