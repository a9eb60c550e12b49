package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/responder"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Aggregator fans a compound incident out to several responders and merges
// their replies into one composite response.
type Aggregator struct {
	responders map[models.Category]Responder
	logger     *zap.Logger
	merge      func(targets []models.Category, c models.Classification, outcomes []responder.Outcome) models.Response
}

func NewAggregator(responders map[models.Category]Responder, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		responders: responders,
		logger:     logger,
		merge:      compose,
	}
}

// Coordinate invokes every target concurrently. A failing or panicking
// responder never cancels the others. Outcomes are returned in target order.
func (a *Aggregator) Coordinate(ctx context.Context, targets []models.Category, req responder.Request) (models.Response, []responder.Outcome) {
	outcomes := make([]responder.Outcome, len(targets))

	// errgroup.Group without WithContext: one branch failing must not
	// cancel its siblings.
	var g errgroup.Group
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = a.invoke(ctx, target, req)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out.Err != nil {
			a.logger.Warn("Responder failed during coordination",
				zap.String("category", string(out.Category)),
				zap.Error(out.Err))
		}
	}

	return a.safeMerge(targets, req.Classification, outcomes), outcomes
}

func (a *Aggregator) invoke(ctx context.Context, target models.Category, req responder.Request) (out responder.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = responder.Outcome{Category: target, Err: fmt.Errorf("responder %s panicked: %v", target, r)}
		}
	}()

	rsp, ok := a.responders[target]
	if !ok {
		return responder.Outcome{Category: target, Err: fmt.Errorf("no responder for %s", target)}
	}
	out = rsp.Respond(ctx, req)
	out.Category = target
	return out
}

// safeMerge degrades to the first successful outcome when merging fails.
func (a *Aggregator) safeMerge(targets []models.Category, c models.Classification, outcomes []responder.Outcome) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Failed to merge responder outcomes", zap.Any("panic", r))
			resp = firstSuccess(outcomes, c)
		}
	}()
	return a.merge(targets, c, outcomes)
}

func firstSuccess(outcomes []responder.Outcome, c models.Classification) models.Response {
	for _, out := range outcomes {
		if out.Err == nil {
			resp := out.Response
			resp.NeedsConfirmation = true
			return resp
		}
	}
	return allFailed(outcomes, c)
}

func compose(targets []models.Category, c models.Classification, outcomes []responder.Outcome) models.Response {
	var ok []responder.Outcome
	for _, out := range outcomes {
		if out.Err == nil {
			ok = append(ok, out)
		}
	}
	if len(ok) == 0 {
		return allFailed(outcomes, c)
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = strings.ToUpper(string(t))
	}

	var b strings.Builder
	b.WriteString("MULTI-SERVICE EMERGENCY RESPONSE\n")
	fmt.Fprintf(&b, "Emergency Type: %s\n", strings.Join(names, " + "))
	fmt.Fprintf(&b, "Urgency: %s\n", strings.ToUpper(string(c.Urgency)))

	resp := models.Response{
		MessageID:         uuid.New().String(),
		Type:              models.ResponseMessage,
		NeedsConfirmation: true,
		Timestamp:         time.Now(),
	}
	classification := c
	resp.Classification = &classification

	for _, out := range ok {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", responder.Label(out.Category), strings.TrimSpace(out.Response.Content))
		resp.Actions = append(resp.Actions, out.Response.Actions...)
		resp.Dispatches = append(resp.Dispatches, out.Response.Dispatches...)
	}

	if len(ok) < len(targets) {
		var missing []string
		for _, out := range outcomes {
			if out.Err != nil {
				missing = append(missing, responder.Label(out.Category))
			}
		}
		fmt.Fprintf(&b, "\nNote: only %d of %d requested services responded. Not reached: %s. Please call them directly.\n",
			len(ok), len(targets), strings.Join(missing, ", "))
	}

	b.WriteString("\nAll responding services have been alerted. Stay on the line and wait for responders to contact you. Reply /confirm to confirm the dispatch.")
	resp.Content = b.String()
	return resp
}

func allFailed(outcomes []responder.Outcome, c models.Classification) models.Response {
	var b strings.Builder
	b.WriteString("None of the requested services could respond right now.")
	for _, out := range outcomes {
		if out.Response.Content != "" {
			fmt.Fprintf(&b, "\n%s", out.Response.Content)
		}
	}
	b.WriteString("\nIf you are in danger call 1122 (Rescue), 15 (Police) or 16 (Fire) immediately.")

	classification := c
	return models.Response{
		MessageID:      uuid.New().String(),
		Type:           models.ResponseSystem,
		Content:        b.String(),
		Classification: &classification,
		Timestamp:      time.Now(),
	}
}
