package responder

import (
	"strings"

	"github.com/xaenox/rescue-bot/internal/models"
)

// subType narrows a request inside a category, e.g. a cardiac emergency.
type subType struct {
	name          string
	keywords      []string
	facilityTypes []string
	speciality    string
}

type profile struct {
	category models.Category
	label    string
	role     string
	hotline  string
	subTypes []subType

	// A reply needs confirmation when the message has one of messageKeywords
	// and the reply has one of replyKeywords.
	messageKeywords []string
	replyKeywords   []string
}

var profiles = map[models.Category]profile{
	models.CategoryMedical: {
		category: models.CategoryMedical,
		label:    "MEDICAL SERVICES",
		role:     "medical emergency coordinator",
		hotline:  "1122 (Rescue) or 115 (Edhi ambulance)",
		subTypes: []subType{
			{"cardiac", []string{"chest pain", "heart attack", "cardiac", "heart", "chest", "shortness"}, []string{"cardiology", "heart", "cardiac", "coronary"}, "cardiac"},
			{"trauma", []string{"accident", "injury", "fall", "broken", "fracture", "bleeding", "cut", "wound"}, []string{"trauma", "emergency", "orthopedics", "surgery"}, "trauma"},
			{"neurological", []string{"unconscious", "seizure", "stroke", "head injury", "brain"}, []string{"neurology", "neurosurgery", "brain"}, "general"},
			{"respiratory", []string{"breathing", "asthma", "choking", "respiratory", "lung"}, []string{"pulmonology", "respiratory", "lung"}, "general"},
			{"pediatric", []string{"child", "baby", "infant", "pediatric", "kid"}, []string{"pediatric", "children", "child"}, "pediatric"},
			{"maternity", []string{"pregnancy", "labor", "delivery", "maternity", "pregnant"}, []string{"maternity", "obstetrics", "gynecology"}, "general"},
			{"burn", []string{"burn", "scald"}, []string{"burn", "plastic surgery"}, "trauma"},
		},
		messageKeywords: []string{"emergency", "urgent", "help", "accident", "injury", "pain", "chest pain", "unconscious", "bleeding"},
		replyKeywords:   []string{"emergency", "ambulance", "hospital", "location"},
	},
	models.CategoryFire: {
		category: models.CategoryFire,
		label:    "FIRE & EMERGENCY SERVICES",
		role:     "fire and rescue coordinator",
		hotline:  "16 (Fire Brigade) or 1122 (Rescue)",
		subTypes: []subType{
			{"fire", []string{"fire", "burning", "smoke", "flame", "blaze", "arson"}, []string{"fire_station"}, "fire"},
			{"rescue", []string{"accident", "trapped", "collapsed", "collapse", "disaster", "rescue", "stuck"}, []string{"rescue_services", "civil_defence"}, "rescue"},
			{"gas", []string{"gas leak", "gas smell", "gas cylinder", "gas pipe"}, []string{"gas_services"}, "chemical"},
			{"power", []string{"power outage", "electrical", "electric shock", "power line"}, []string{"utility_services"}, ""},
			{"water", []string{"water leak", "flood", "sewer"}, []string{"utility_services"}, ""},
		},
		messageKeywords: []string{"fire", "police", "emergency", "urgent", "help", "accident", "crime", "burning"},
		replyKeywords:   []string{"emergency", "dispatch", "station", "response"},
	},
	models.CategoryPolice: {
		category: models.CategoryPolice,
		label:    "POLICE SERVICES",
		role:     "police emergency coordinator",
		hotline:  "15 (Police Madadgar)",
		subTypes: []subType{
			{"traffic", []string{"traffic accident", "car crash", "hit and run", "traffic"}, []string{"traffic_police"}, "traffic"},
			{"domestic", []string{"domestic violence", "domestic", "harassment"}, []string{"women_police_station"}, "patrol"},
			{"robbery", []string{"robbery", "theft", "stolen", "burglary", "mugging", "snatch"}, []string{"robbery", "theft", "burglary"}, "patrol"},
			{"assault", []string{"assault", "attack", "fight", "violence"}, []string{"assault"}, "patrol"},
			{"cyber", []string{"cyber crime", "fraud", "scam", "hacked"}, []string{"citizens_liaison"}, "patrol"},
			{"missing", []string{"missing", "kidnapping", "kidnapped", "abducted"}, []string{"citizens_liaison"}, "patrol"},
		},
		messageKeywords: []string{"police", "crime", "robbery", "theft", "emergency", "urgent", "help", "accident", "attack"},
		replyKeywords:   []string{"emergency", "dispatch", "station", "response", "police"},
	},
}

// detect returns the first sub-type whose keywords appear in message.
func (p profile) detect(message string) (subType, bool) {
	text := strings.ToLower(message)
	for _, st := range p.subTypes {
		if containsAny(text, st.keywords) {
			return st, true
		}
	}
	return subType{}, false
}

func (p profile) needsConfirmation(message, reply string) bool {
	return containsAny(strings.ToLower(message), p.messageKeywords) &&
		containsAny(strings.ToLower(reply), p.replyKeywords)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// Label is the section heading used for category c in composite replies.
func Label(c models.Category) string {
	if p, ok := profiles[c]; ok {
		return p.label
	}
	return strings.ToUpper(string(c))
}
