package responder

import (
	"fmt"
	"strings"

	"github.com/xaenox/rescue-bot/internal/models"
)

func (r *Responder) buildPrompt(b contextBundle, st *subType, facilities []models.Facility, req Request) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are a %s for %s. Be calm, brief and practical.\n", r.profile.role, r.cfg.City)
	fmt.Fprintf(&sb, "Urgency: %s\n", req.Classification.Urgency)
	if st != nil {
		fmt.Fprintf(&sb, "Emergency sub-type: %s\n", st.name)
	}

	sb.WriteString("\nCaller context:\n")
	if b.Location != "" {
		fmt.Fprintf(&sb, "- Location: %s\n", b.Location)
	} else {
		sb.WriteString("- Location: unknown, ask the caller for their area\n")
	}
	if b.Point != nil {
		fmt.Fprintf(&sb, "- Coordinates: %.4f, %.4f\n", b.Point.Lat, b.Point.Lon)
	}
	if b.Phone != "" {
		fmt.Fprintf(&sb, "- Phone: %s (verified: %t)\n", b.Phone, b.PhoneVerified)
	} else {
		sb.WriteString("- Phone: not provided\n")
	}

	if len(facilities) > 0 {
		sb.WriteString("\nNearest relevant facilities:\n")
		for i, f := range facilities {
			fmt.Fprintf(&sb, "%d. %s, %s", i+1, f.Name, f.Address)
			if f.DistanceKm != nil {
				fmt.Fprintf(&sb, " (%.1f km)", *f.DistanceKm)
			}
			if c := f.PrimaryContact(); c != "" {
				fmt.Fprintf(&sb, ", tel %s", c)
			}
			if len(f.Capabilities) > 0 {
				fmt.Fprintf(&sb, " [%s]", strings.Join(f.Capabilities, ", "))
			}
			sb.WriteString("\n")
		}
	}

	if len(req.History) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, e := range req.History {
			role := "User"
			if e.Role == models.RoleAssistant {
				role = "Agent"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, e.Content)
		}
	}

	fmt.Fprintf(&sb, "\nCaller message: %q\n", req.Message)
	fmt.Fprintf(&sb, `
Reply with immediate safety instructions, the most suitable facility from the list with its
phone number, and remind the caller they can dial %s. Do not invent facilities.`, r.profile.hotline)
	return sb.String()
}
