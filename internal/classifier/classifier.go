package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/rescue-bot/internal/models"
)

const (
	SourceKeyword = "keyword"
	SourceLLM     = "llm"
)

type Classifier interface {
	Classify(ctx context.Context, message string, history []models.HistoryEntry) models.Classification
}

type categoryKeywords struct {
	category models.Category
	keywords []string
}

// Checked in this order so the result is stable for a given message.
var keywordTable = []categoryKeywords{
	{models.CategoryMedical, []string{
		"hospital", "doctor", "ambulance", "medical", "health", "sick", "injured", "wound",
		"bleeding", "pain", "heart", "chest", "breathing", "unconscious", "emergency medical",
		"medicine", "treatment", "clinic", "nurse", "patient", "illness", "disease", "casualties",
		"people injured", "victims", "hurt", "wounded", "trapped",
	}},
	{models.CategoryFire, []string{
		"fire", "burning", "smoke", "flame", "blaze", "fire brigade", "rescue", "building collapse",
		"gas leak", "chemical", "explosion", "utility", "power outage", "water leak", "emergency services",
		"warehouse fire", "industrial fire", "structural fire",
	}},
	{models.CategoryPolice, []string{
		"police", "crime", "robbery", "theft", "burglary", "mugging", "violence", "fight", "attack",
		"traffic accident", "car crash", "hit and run", "domestic violence", "harassment", "threat",
		"cyber crime", "fraud", "scam", "kidnapping", "missing", "stolen", "criminal", "law enforcement",
		"security", "investigation",
	}},
}

var urgentWords = []string{
	"emergency", "urgent", "help", "immediately", "critical", "serious", "injured", "casualties",
}

// Classify scores message against the keyword table. It never touches the
// network and returns the same result for the same text.
func Classify(message string) models.Classification {
	text := strings.ToLower(message)

	var (
		categories []models.Category
		keywords   []string
		scores     []string
		total      int
	)
	for _, entry := range keywordTable {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				score++
				keywords = append(keywords, kw)
			}
		}
		if score > 0 {
			categories = append(categories, entry.category)
			scores = append(scores, fmt.Sprintf("%s=%d", entry.category, score))
			total += score
		}
	}

	result := models.Classification{
		Urgency:  models.UrgencyMedium,
		Keywords: keywords,
		Source:   SourceKeyword,
	}
	if containsAny(text, urgentWords) {
		result.Urgency = models.UrgencyCritical
	}

	switch {
	case len(categories) > 1:
		result.MultiService = true
		result.Confidence = max(50, min(95, total*10))
	case len(categories) == 1:
		result.Confidence = max(50, min(90, total*15))
	default:
		result.Categories = []models.Category{models.CategoryGeneral}
		result.Targets = []models.Category{models.CategoryMedical}
		result.Confidence = 50
		result.Reasoning = "No category keywords matched"
		return result
	}

	result.Categories = categories
	result.Targets = append([]models.Category(nil), categories...)
	result.Reasoning = fmt.Sprintf("Keyword analysis matched %s", strings.Join(scores, ", "))
	return result
}

// SimpleClassifier adapts Classify to the Classifier interface.
type SimpleClassifier struct{}

func NewSimpleClassifier() *SimpleClassifier {
	return &SimpleClassifier{}
}

func (c *SimpleClassifier) Classify(ctx context.Context, message string, history []models.HistoryEntry) models.Classification {
	return Classify(message)
}

var (
	appointmentWords = []string{"appointment", "book", "schedule", "consultation", "checkup", "check-up"}
	questionPrefixes = []string{"where", "which", "what", "how", "when", "is there", "list"}
	informationWords = []string{"nearest", "information", "timings", "contact number", "list of"}
)

// DetectRequestType gives the coarse intent stored on the session. Anything
// with critical urgency is an emergency; otherwise appointment and
// information phrasing win over a category match.
func DetectRequestType(message string, c models.Classification) models.RequestType {
	text := strings.ToLower(strings.TrimSpace(message))
	if c.Urgency != models.UrgencyCritical {
		if containsAny(text, appointmentWords) {
			return models.RequestAppointment
		}
		if hasAnyPrefix(text, questionPrefixes) || containsAny(text, informationWords) {
			return models.RequestInformation
		}
	}
	if c.IsEmergency() {
		return models.RequestEmergency
	}
	return models.RequestOther
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(text string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}
