package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/rescue-bot/internal/llm"
	"github.com/xaenox/rescue-bot/internal/models"
	"go.uber.org/zap"
)

const historyEntryLimit = 150

// GPTResponse is the JSON contract the routing prompt asks for.
type GPTResponse struct {
	EmergencyTypes []string `json:"emergency_types"`
	UrgencyLevel   string   `json:"urgency_level"`
	TargetAgents   []string `json:"target_agents"`
	IsMultiService bool     `json:"is_multi_service"`
	Confidence     float64  `json:"confidence"`
	Keywords       []string `json:"keywords"`
	Reasoning      string   `json:"reasoning"`
}

type GPTClassifier struct {
	generator llm.Generator
	city      string
	logger    *zap.Logger
}

func NewGPTClassifier(generator llm.Generator, city string, logger *zap.Logger) *GPTClassifier {
	if city == "" {
		city = "Karachi, Pakistan"
	}
	return &GPTClassifier{
		generator: generator,
		city:      city,
		logger:    logger,
	}
}

func (c *GPTClassifier) Classify(ctx context.Context, message string, history []models.HistoryEntry) models.Classification {
	reply, err := c.generator.Generate(ctx, c.buildPrompt(message, history))
	if err != nil {
		c.logger.Warn("Classification call failed, using keyword fallback", zap.Error(err))
		return Classify(message)
	}

	result, err := ParseResponse(reply)
	if err != nil {
		c.logger.Warn("Failed to parse classification response",
			zap.Error(err),
			zap.String("response", reply))
		return Classify(message)
	}
	return result
}

func (c *GPTClassifier) buildPrompt(message string, history []models.HistoryEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are an emergency query analyzer for %s.\n", c.city)
	b.WriteString(`Analyze the user's message and determine:
1. Emergency type(s), more than one for compound incidents
2. Urgency level (critical, high, medium, low)
3. Target agent(s) that must respond
4. Key emergency keywords
5. Confidence level (0-100)

Categories:
- MEDICAL: injuries, illness, ambulance, hospital, casualties
- FIRE: fire, smoke, rescue, building collapse, gas leak, utility emergencies
- POLICE: crime, robbery, violence, traffic accident, harassment, missing persons
- GENERAL: information requests and anything else

Compound incidents need every matching agent, e.g. a fire with injuries needs FIRE and MEDICAL,
a traffic accident with injuries needs POLICE and MEDICAL.
`)

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, entry := range history {
			role := "User"
			if entry.Role == models.RoleAssistant {
				role = "Agent"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, truncate(entry.Content, historyEntryLimit))
		}
	}

	fmt.Fprintf(&b, "\nCurrent message: %q\n", message)
	b.WriteString(`
Respond ONLY with a JSON object in this exact format:
{
    "emergency_types": ["medical", "fire", "police", "general"],
    "urgency_level": "critical|high|medium|low",
    "target_agents": ["medical_agent", "fire_agent", "police_agent"],
    "is_multi_service": true,
    "confidence": 85,
    "keywords": ["keyword1", "keyword2"],
    "reasoning": "brief explanation"
}`)
	return b.String()
}

// ParseResponse decodes a model reply into a Classification. Code fences are
// stripped, unknown categories are dropped and confidence is clamped.
func ParseResponse(reply string) (models.Classification, error) {
	var resp GPTResponse
	if err := json.Unmarshal([]byte(stripFences(reply)), &resp); err != nil {
		return models.Classification{}, fmt.Errorf("malformed classification: %w", err)
	}

	categories := normalizeCategories(resp.EmergencyTypes)
	if len(categories) == 0 {
		return models.Classification{}, fmt.Errorf("classification has no known emergency types: %v", resp.EmergencyTypes)
	}

	targets := normalizeCategories(resp.TargetAgents)
	targets = dropGeneral(targets)
	if len(targets) == 0 {
		targets = dropGeneral(categories)
	}
	if len(targets) == 0 {
		targets = []models.Category{models.CategoryMedical}
	}

	return models.Classification{
		Categories:   categories,
		Urgency:      models.ParseUrgency(strings.ToLower(strings.TrimSpace(resp.UrgencyLevel))),
		Targets:      targets,
		MultiService: len(targets) > 1,
		Confidence:   int(min(100, max(0, resp.Confidence))),
		Keywords:     resp.Keywords,
		Reasoning:    resp.Reasoning,
		Source:       SourceLLM,
	}, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeCategories accepts "medical", "MEDICAL" or "medical_agent" and
// keeps the first occurrence of each.
func normalizeCategories(names []string) []models.Category {
	var out []models.Category
	seen := make(map[models.Category]bool)
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		cat := models.Category(strings.TrimSuffix(name, "_agent"))
		if !cat.Valid() || seen[cat] {
			continue
		}
		seen[cat] = true
		out = append(out, cat)
	}
	return out
}

func dropGeneral(cats []models.Category) []models.Category {
	var out []models.Category
	for _, c := range cats {
		if c != models.CategoryGeneral {
			out = append(out, c)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
