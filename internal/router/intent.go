package router

import (
	"regexp"
	"strings"

	"github.com/xaenox/rescue-bot/internal/geo"
)

// Pakistani mobile numbers such as 0300-1234567, 03001234567 or +92 300 1234567.
var phonePattern = regexp.MustCompile(`(?:\+92[- ]?|0)3\d{2}[- ]?\d{7}`)

var fullPhonePattern = regexp.MustCompile(`^` + phonePattern.String() + `$`)

// ValidPhone reports whether s is exactly one mobile number.
func ValidPhone(s string) bool {
	return fullPhonePattern.MatchString(strings.TrimSpace(s))
}

// Phrases that introduce an address. Location is only taken from a marker or
// a known area name, never from the shape of the message.
var markerPattern = regexp.MustCompile(`(?i)(?:^|[^a-z'])(?:(?:i am at|i'm at|im at|located at|location is|address is)\s+|(?:location|address)\s*:)`)

// Intent holds the contact details found in a free-text message.
type Intent struct {
	Phone       string
	CountryCode string
	Address     string
	// Explicit is true when Address followed a marker phrase rather than
	// being a bare area name.
	Explicit bool
}

func (i Intent) Empty() bool {
	return i.Phone == "" && i.Address == ""
}

// ExtractIntent pulls a phone number and an address out of message.
func ExtractIntent(message string) Intent {
	var in Intent

	if m := phonePattern.FindString(message); m != "" {
		in.Phone = m
		if strings.HasPrefix(m, "+92") {
			in.CountryCode = "+92"
		}
	}

	text := phonePattern.ReplaceAllString(message, "")
	if addr := markedAddress(text); addr != "" {
		in.Address = addr
		in.Explicit = true
		return in
	}
	if area, ok := geo.FindArea(text); ok {
		in.Address = area.Name
	}
	return in
}

func markedAddress(text string) string {
	loc := markerPattern.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if end := strings.IndexAny(rest, ".!?\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.Trim(rest, " ,;:-")
}
