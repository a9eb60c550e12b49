// Package router is the request state machine: it classifies each inbound
// message, checks the session against the emergency requirements and hands
// the request to one responder or to the Aggregator.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/rescue-bot/internal/classifier"
	"github.com/xaenox/rescue-bot/internal/gate"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/responder"
	"github.com/xaenox/rescue-bot/internal/storage"
	"go.uber.org/zap"
)

// Responder is the part of responder.Responder the router relies on.
type Responder interface {
	Respond(ctx context.Context, req responder.Request) responder.Outcome
	Handle(ctx context.Context, req responder.Request) responder.Outcome
}

// Observer receives routing events, normally the metrics collector.
type Observer interface {
	ObserveClassification(c models.Classification)
	ObserveResponse(resp models.Response)
	ObserveResponderFailure(category models.Category)
}

type nopObserver struct{}

func (nopObserver) ObserveClassification(models.Classification) {}
func (nopObserver) ObserveResponse(models.Response)             {}
func (nopObserver) ObserveResponderFailure(models.Category)     {}

// Inbound is one user message as received by a transport.
type Inbound struct {
	SessionID string
	Message   string
	IP        string
}

type Deps struct {
	Sessions   storage.SessionStore
	Ledger     storage.DispatchLedger
	Classifier classifier.Classifier
	Responders map[models.Category]Responder
	Fleet      *responder.Fleet
	Index      *geo.Index
	Observer   Observer
	Logger     *zap.Logger
}

type Router struct {
	sessions   storage.SessionStore
	ledger     storage.DispatchLedger
	classifier classifier.Classifier
	responders map[models.Category]Responder
	aggregator *Aggregator
	fleet      *responder.Fleet
	index      *geo.Index
	observer   Observer
	locks      *keyedMutex
	logger     *zap.Logger
}

func New(deps Deps) *Router {
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Router{
		sessions:   deps.Sessions,
		ledger:     deps.Ledger,
		classifier: deps.Classifier,
		responders: deps.Responders,
		aggregator: NewAggregator(deps.Responders, deps.Logger),
		fleet:      deps.Fleet,
		index:      deps.Index,
		observer:   observer,
		locks:      newKeyedMutex(),
		logger:     deps.Logger,
	}
}

// EnsureSession returns the session with id, creating a fresh one when id is
// empty or unknown.
func (r *Router) EnsureSession(ctx context.Context, id string) (*models.Session, error) {
	if id != "" {
		if s, ok := r.sessions.Get(ctx, id); ok {
			return s, nil
		}
	}
	s, err := r.sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if id != "" {
		r.logger.Info("Unknown session, started a new one", zap.String("requested_id", id), zap.String("session_id", s.ID))
	}
	return s, nil
}

// Process runs one message through classification, the requirement gate and
// dispatch. It always returns a response; failures become system messages.
func (r *Router) Process(ctx context.Context, in Inbound) models.Response {
	session, err := r.EnsureSession(ctx, in.SessionID)
	if err != nil {
		r.logger.Error("Failed to start session", zap.Error(err))
		return r.finish(systemResponse("", "Sorry, I could not start a conversation. Please try again."))
	}
	id := session.ID

	unlock := r.locks.Lock(id)
	defer unlock()

	actions := r.applyIntent(ctx, id, in.Message)

	history, err := r.sessions.RecentHistory(ctx, id, storage.RecentWindow)
	if err != nil {
		return r.finish(r.sessionLost(id, err))
	}

	cl := r.classifier.Classify(ctx, in.Message, history)
	r.observer.ObserveClassification(cl)
	reqType := classifier.DetectRequestType(in.Message, cl)

	snapshot, ok := r.sessions.Get(ctx, id)
	if !ok {
		return r.finish(r.sessionLost(id, storage.ErrSessionNotFound))
	}

	// A message that only supplies the missing details resumes the emergency
	// that was waiting for them.
	message := in.Message
	if reqType != models.RequestEmergency && snapshot.Pending != nil && len(actions) > 0 {
		cl = snapshot.Pending.Classification
		reqType = models.RequestEmergency
		message = snapshot.Pending.Message + "\n" + in.Message
	}

	if err := r.sessions.SetClassification(ctx, id, primaryCategory(cl), reqType, reqType == models.RequestEmergency); err != nil {
		r.logger.Warn("Failed to store classification", zap.String("session_id", id), zap.Error(err))
	}

	req := responder.Request{
		Session:        snapshot,
		Message:        message,
		Raw:            in.Message,
		IP:             in.IP,
		History:        history,
		Classification: cl,
	}

	if reqType == models.RequestEmergency {
		reqs := gate.CheckEmergencyRequirements(snapshot)
		if !reqs.CanProceed {
			pending := &models.PendingRequest{Message: pendingMessage(snapshot, message, in.Message), Classification: cl, Missing: reqs.Missing}
			if err := r.sessions.SetPending(ctx, id, pending); err != nil {
				r.logger.Warn("Failed to store pending request", zap.String("session_id", id), zap.Error(err))
			}
			resp := requirementsResponse(id, cl, reqs)
			resp.Actions = append(actions, resp.Actions...)
			r.record(ctx, id, in.Message, resp.Content)
			return r.finish(resp)
		}
		req.Cleared = true
		if snapshot.Pending != nil {
			if err := r.sessions.SetPending(ctx, id, nil); err != nil {
				r.logger.Warn("Failed to clear pending request", zap.String("session_id", id), zap.Error(err))
			}
		}
	}

	resp := r.dispatch(ctx, id, in.Message, req)
	resp.SessionID = id
	resp.Actions = append(actions, resp.Actions...)
	return r.finish(resp)
}

func pendingMessage(s *models.Session, message, raw string) string {
	if s.Pending != nil && message != raw {
		return s.Pending.Message
	}
	return message
}

// dispatch routes a request that passed the gate to one or more responders.
func (r *Router) dispatch(ctx context.Context, id, raw string, req responder.Request) models.Response {
	targets := r.targets(req.Classification)
	log := r.logger.With(zap.String("session_id", id))

	if len(targets) == 1 {
		rsp, ok := r.responders[targets[0]]
		if !ok {
			log.Error("No responder configured", zap.String("category", string(targets[0])))
			return systemResponse(id, "No emergency service is configured to handle this request. Please call 1122 directly.")
		}
		log.Info("Routing to single responder", zap.String("category", string(targets[0])))
		out := rsp.Handle(ctx, req)
		if out.Err != nil {
			r.observer.ObserveResponderFailure(targets[0])
		}
		return out.Response
	}

	log.Info("Coordinating multi-service response", zap.Any("targets", targets))
	resp, outcomes := r.aggregator.Coordinate(ctx, targets, req)
	for _, out := range outcomes {
		if out.Err != nil {
			r.observer.ObserveResponderFailure(out.Category)
		}
	}
	if resp.Type != models.ResponseSystem {
		r.record(ctx, id, raw, resp.Content)
	}
	return resp
}

// targets keeps the classifier's targets that have a responder, in order.
func (r *Router) targets(c models.Classification) []models.Category {
	var out []models.Category
	seen := make(map[models.Category]bool)
	for _, t := range c.Targets {
		if _, ok := r.responders[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		out = []models.Category{models.CategoryMedical}
	}
	return out
}

func primaryCategory(c models.Classification) models.Category {
	if len(c.Categories) == 0 {
		return models.CategoryGeneral
	}
	return c.Categories[0]
}

// applyIntent stores a phone number or location found in message. A bare area
// name only fills in a location the session does not have yet.
func (r *Router) applyIntent(ctx context.Context, id, message string) []string {
	in := ExtractIntent(message)
	if in.Empty() {
		return nil
	}

	var actions []string
	if in.Phone != "" {
		if err := r.sessions.SetPhone(ctx, id, in.Phone, in.CountryCode); err != nil {
			r.logger.Warn("Failed to store phone", zap.String("session_id", id), zap.Error(err))
		} else {
			actions = append(actions, "Saved phone number")
		}
	}

	if in.Address != "" {
		s, ok := r.sessions.Get(ctx, id)
		if in.Explicit || (ok && !gate.HasUsableLocation(s)) {
			if err := r.sessions.SetManualLocation(ctx, id, in.Address, nil, nil); err != nil {
				r.logger.Warn("Failed to store location", zap.String("session_id", id), zap.Error(err))
			} else {
				actions = append(actions, "Saved location: "+in.Address)
			}
		}
	}
	return actions
}

func requirementsResponse(id string, c models.Classification, reqs gate.Requirements) models.Response {
	var b strings.Builder
	category := "an emergency"
	if cat := primaryCategory(c); cat != models.CategoryGeneral {
		category = fmt.Sprintf("a %s emergency", cat)
	}
	fmt.Fprintf(&b, "This looks like %s. Before I can dispatch help I need:\n", category)
	for i, s := range gate.Suggestions(reqs.Missing) {
		fmt.Fprintf(&b, "- %s: %s\n", reqs.Missing[i], s)
	}
	b.WriteString("If you are in immediate danger call 1122 (Rescue), 15 (Police) or 16 (Fire) now.")

	classification := c
	return models.Response{
		MessageID:      uuid.New().String(),
		SessionID:      id,
		Type:           models.ResponseConfirmation,
		Content:        b.String(),
		Classification: &classification,
		Missing:        reqs.Missing,
		Timestamp:      time.Now(),
	}
}

func (r *Router) record(ctx context.Context, id, message, reply string) {
	if err := r.sessions.AppendHistory(ctx, id, models.RoleUser, message); err != nil {
		r.logger.Warn("Failed to record message", zap.String("session_id", id), zap.Error(err))
		return
	}
	if err := r.sessions.AppendHistory(ctx, id, models.RoleAssistant, reply); err != nil {
		r.logger.Warn("Failed to record reply", zap.String("session_id", id), zap.Error(err))
	}
}

func (r *Router) sessionLost(id string, err error) models.Response {
	r.logger.Warn("Session disappeared mid-request", zap.String("session_id", id), zap.Error(err))
	return systemResponse(id, "Your session has expired. Please send your message again.")
}

func (r *Router) finish(resp models.Response) models.Response {
	r.observer.ObserveResponse(resp)
	return resp
}

func systemResponse(id, content string) models.Response {
	return models.Response{
		MessageID: uuid.New().String(),
		SessionID: id,
		Type:      models.ResponseSystem,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Confirm finalises or stands down every unconfirmed dispatch on a session.
func (r *Router) Confirm(ctx context.Context, sessionID string, confirmed bool) (models.Response, error) {
	if _, ok := r.sessions.Get(ctx, sessionID); !ok {
		return models.Response{}, storage.ErrSessionNotFound
	}
	unlock := r.locks.Lock(sessionID)
	defer unlock()

	all, err := r.ledger.ListBySession(ctx, sessionID)
	if err != nil {
		return models.Response{}, fmt.Errorf("failed to list dispatches: %w", err)
	}

	target := models.StatusAvailable
	if confirmed {
		target = models.StatusEnRoute
	}
	var updated []models.Dispatch
	for _, d := range all {
		if d.Confirmed || d.Status != models.StatusDispatched {
			continue
		}
		d, err := r.transition(ctx, d, target)
		if err != nil {
			return models.Response{}, err
		}
		updated = append(updated, d)
	}

	resp := systemResponse(sessionID, confirmationText(updated, confirmed))
	resp.Dispatches = updated
	for _, d := range updated {
		resp.Actions = append(resp.Actions, fmt.Sprintf("%s %s", d.UnitID, d.Status))
	}
	if len(updated) > 0 {
		if err := r.sessions.AppendHistory(ctx, sessionID, models.RoleAssistant, resp.Content); err != nil {
			r.logger.Warn("Failed to record confirmation", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return r.finish(resp), nil
}

func confirmationText(updated []models.Dispatch, confirmed bool) string {
	if len(updated) == 0 {
		return "There is no dispatch waiting for confirmation."
	}
	var parts []string
	for _, d := range updated {
		if confirmed {
			parts = append(parts, fmt.Sprintf("%s is en route (ETA %d min)", d.UnitID, d.ETAMinutes))
		} else {
			parts = append(parts, fmt.Sprintf("%s has been stood down", d.UnitID))
		}
	}
	if confirmed {
		return "Dispatch confirmed: " + strings.Join(parts, "; ") + ". Keep your phone nearby."
	}
	return "Dispatch cancelled: " + strings.Join(parts, "; ") + "."
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrSessionNotFound)
}
