package models

import "time"

// DispatchStatus is the lifecycle of an assigned unit.
type DispatchStatus string

const (
	StatusAvailable  DispatchStatus = "available"
	StatusDispatched DispatchStatus = "dispatched"
	StatusEnRoute    DispatchStatus = "en_route"
	StatusArrived    DispatchStatus = "arrived"
)

var statusRank = map[DispatchStatus]int{
	StatusAvailable:  0,
	StatusDispatched: 1,
	StatusEnRoute:    2,
	StatusArrived:    3,
}

// Rank orders statuses; unknown statuses rank -1.
func (s DispatchStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Dispatch represents a unit assigned to a session's incident
type Dispatch struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	Category     Category       `json:"category"`
	UnitID       string         `json:"unit_id"`
	FacilityID   string         `json:"facility_id,omitempty"`
	FacilityName string         `json:"facility_name,omitempty"`
	ETAMinutes   int            `json:"eta_minutes"`
	Status       DispatchStatus `json:"status"`
	Confirmed    bool           `json:"confirmed"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
