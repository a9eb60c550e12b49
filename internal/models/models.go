package models

import "time"

// Category is a responder category a request can be routed to.
type Category string

const (
	CategoryMedical Category = "medical"
	CategoryFire    Category = "fire"
	CategoryPolice  Category = "police"
	CategoryGeneral Category = "general"
)

// Responders lists the categories that have a dispatchable responder, in routing order.
var Responders = []Category{CategoryMedical, CategoryFire, CategoryPolice}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryMedical, CategoryFire, CategoryPolice, CategoryGeneral:
		return true
	}
	return false
}

// Urgency is the classifier's estimate of how time critical a request is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency maps free text to an Urgency, defaulting to medium.
func ParseUrgency(s string) Urgency {
	switch Urgency(s) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return Urgency(s)
	}
	return UrgencyMedium
}

// Classification represents the result of message analysis
type Classification struct {
	Categories   []Category `json:"categories"`
	Urgency      Urgency    `json:"urgency"`
	Targets      []Category `json:"targets"`
	MultiService bool       `json:"multi_service"`
	Confidence   int        `json:"confidence"`
	Keywords     []string   `json:"keywords"`
	Reasoning    string     `json:"reasoning"`
	Source       string     `json:"source"`
}

// IsEmergency reports whether the classification needs a responder at all.
func (c Classification) IsEmergency() bool {
	for _, cat := range c.Categories {
		if cat != CategoryGeneral {
			return true
		}
	}
	return c.Urgency == UrgencyCritical
}

// ResponseType tells the caller how to present a Response.
type ResponseType string

const (
	ResponseMessage      ResponseType = "response"
	ResponseConfirmation ResponseType = "confirmation"
	ResponseSystem       ResponseType = "system"
)

// Response is the envelope returned for every processed message
type Response struct {
	MessageID         string          `json:"message_id"`
	SessionID         string          `json:"session_id"`
	Type              ResponseType    `json:"type"`
	Content           string          `json:"content"`
	NeedsConfirmation bool            `json:"needs_confirmation"`
	Classification    *Classification `json:"classification,omitempty"`
	Actions           []string        `json:"actions_taken,omitempty"`
	Dispatches        []Dispatch      `json:"dispatches,omitempty"`
	Missing           []string        `json:"missing,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}
