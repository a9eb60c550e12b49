package models

import "time"

// LocationSource records how a session's location was obtained.
type LocationSource string

const (
	SourceGPS    LocationSource = "gps"
	SourceManual LocationSource = "manual"
	SourceDenied LocationSource = "denied"
)

// RequestType is the coarse intent of the last message on a session.
type RequestType string

const (
	RequestEmergency   RequestType = "emergency"
	RequestInformation RequestType = "information"
	RequestAppointment RequestType = "appointment"
	RequestOther       RequestType = "other"
)

// Location is where the user says (or their device reports) they are.
type Location struct {
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Address   string         `json:"address,omitempty"`
	Source    LocationSource `json:"source"`
	Accuracy  *float64       `json:"accuracy,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Permission is the user's answer to the location permission prompt.
type Permission struct {
	Granted      bool      `json:"granted"`
	DeniedReason string    `json:"denied_reason,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

// Phone holds the contact number a responder can call back.
type Phone struct {
	Number      string `json:"number"`
	CountryCode string `json:"country_code"`
	Verified    bool   `json:"verified"`
	Method      string `json:"method,omitempty"`
}

// HistoryEntry is a single chat turn.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PendingRequest is an emergency held back until the session supplies the
// missing location or phone.
type PendingRequest struct {
	Message        string         `json:"message"`
	Classification Classification `json:"classification"`
	Missing        []string       `json:"missing"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (p *PendingRequest) Clone() *PendingRequest {
	if p == nil {
		return nil
	}
	c := *p
	c.Missing = append([]string(nil), p.Missing...)
	c.Classification.Categories = append([]Category(nil), p.Classification.Categories...)
	c.Classification.Targets = append([]Category(nil), p.Classification.Targets...)
	c.Classification.Keywords = append([]string(nil), p.Classification.Keywords...)
	return &c
}

// Session represents per-conversation state
type Session struct {
	ID                string          `json:"session_id"`
	Permission        Permission      `json:"location_permission"`
	Location          *Location       `json:"location,omitempty"`
	Phone             *Phone          `json:"phone,omitempty"`
	LastCategory      Category        `json:"last_category,omitempty"`
	RequestType       RequestType     `json:"request_type,omitempty"`
	EmergencyDetected bool            `json:"emergency_detected"`
	Pending           *PendingRequest `json:"pending,omitempty"`
	History           []HistoryEntry  `json:"history"`
	CreatedAt         time.Time       `json:"created_at"`
	LastActivity      time.Time       `json:"last_activity"`
}

// Clone returns a deep copy safe to hand out of the store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Location != nil {
		loc := *s.Location
		loc.Latitude = copyFloat(s.Location.Latitude)
		loc.Longitude = copyFloat(s.Location.Longitude)
		loc.Accuracy = copyFloat(s.Location.Accuracy)
		c.Location = &loc
	}
	if s.Phone != nil {
		p := *s.Phone
		c.Phone = &p
	}
	c.Pending = s.Pending.Clone()
	c.History = append([]HistoryEntry(nil), s.History...)
	return &c
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
