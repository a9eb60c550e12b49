// Package responder turns a classified message into a reply from one
// responder category (medical, fire or police), selecting facilities and
// assigning a unit when the request is cleared for dispatch.
package responder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/geoip"
	"github.com/xaenox/rescue-bot/internal/llm"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/storage"
	"go.uber.org/zap"
)

const DefaultRadiusKm = 15.0

// Request is everything a responder needs for one message. Session is a
// snapshot and History is the recent window taken before the message.
type Request struct {
	Session *models.Session
	// Message is the text the reply is built from. When a held emergency
	// resumes it carries the earlier message too.
	Message string
	// Raw is the text exactly as the user sent it, which is what history
	// records. Empty means Message.
	Raw            string
	IP             string
	History        []models.HistoryEntry
	Classification models.Classification
	// Cleared is set once the session passed the emergency requirements,
	// which allows a unit to be assigned.
	Cleared bool
}

// Outcome is the result of one responder. Err is set when no reply could be
// generated; Response then carries a system message.
type Outcome struct {
	Category   models.Category
	Response   models.Response
	Facilities []models.Facility
	Dispatch   *models.Dispatch
	Err        error
}

// Deps are the collaborators shared by all responders.
type Deps struct {
	Index     *geo.Index
	Generator llm.Generator
	Locator   geoip.Locator
	Sessions  storage.SessionStore
	Ledger    storage.DispatchLedger
	Fleet     *Fleet
	Logger    *zap.Logger
}

type Config struct {
	RadiusKm    float64
	City        string
	HomeCity    string
	HomeCountry string
}

type Responder struct {
	profile   profile
	index     *geo.Index
	generator llm.Generator
	locator   geoip.Locator
	sessions  storage.SessionStore
	ledger    storage.DispatchLedger
	fleet     *Fleet
	cfg       Config
	logger    *zap.Logger
}

func New(category models.Category, deps Deps, cfg Config) (*Responder, error) {
	p, ok := profiles[category]
	if !ok {
		return nil, fmt.Errorf("no responder for category %q", category)
	}
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = DefaultRadiusKm
	}
	if cfg.City == "" {
		cfg.City = "Karachi, Pakistan"
	}
	return &Responder{
		profile:   p,
		index:     deps.Index,
		generator: deps.Generator,
		locator:   deps.Locator,
		sessions:  deps.Sessions,
		ledger:    deps.Ledger,
		fleet:     deps.Fleet,
		cfg:       cfg,
		logger:    deps.Logger.With(zap.String("responder", string(category))),
	}, nil
}

// NewSet builds one responder per dispatchable category.
func NewSet(deps Deps, cfg Config) (map[models.Category]*Responder, error) {
	set := make(map[models.Category]*Responder, len(models.Responders))
	for _, c := range models.Responders {
		r, err := New(c, deps, cfg)
		if err != nil {
			return nil, err
		}
		set[c] = r
	}
	return set, nil
}

func (r *Responder) Category() models.Category {
	return r.profile.category
}

func (r *Responder) Label() string {
	return r.profile.label
}

// contextBundle is what the responder knows about the caller.
type contextBundle struct {
	Location       string
	Point          *geo.Point
	LocationSource string
	PhoneVerified  bool
	Phone          string
}

func (r *Responder) prepareContext(ctx context.Context, req Request) contextBundle {
	var b contextBundle
	s := req.Session
	if s != nil && s.Location != nil && s.Location.Source != models.SourceDenied {
		b.Location = s.Location.Address
		b.LocationSource = string(s.Location.Source)
		if s.Location.HasCoordinates() {
			b.Point = &geo.Point{Lat: *s.Location.Latitude, Lon: *s.Location.Longitude}
		}
	}
	if s != nil && s.Phone != nil {
		b.PhoneVerified = s.Phone.Verified
		b.Phone = s.Phone.Number
	}

	if b.Location == "" && b.Point == nil && req.IP != "" && r.locator != nil {
		res := r.locator.Locate(ctx, req.IP)
		if geoip.IsHome(res, r.cfg.HomeCity, r.cfg.HomeCountry) {
			b.Location = res.Address
			b.LocationSource = "ip_" + res.Source
			b.Point = &geo.Point{Lat: res.Latitude, Lon: res.Longitude}
		}
	}
	return b
}

// selectFacilities picks at most geo.UserLimit facilities, specialised by
// sub-type when one was detected.
func (r *Responder) selectFacilities(st *subType, p *geo.Point) []models.Facility {
	cat := r.profile.category
	var out []models.Facility
	if st != nil {
		out = r.index.ByType(st.facilityTypes, p, geo.BroadLimit, cat)
	}
	if len(out) == 0 {
		if p != nil {
			out = r.index.NearbyOrAll(*p, r.cfg.RadiusKm, geo.BroadLimit, cat)
		} else {
			out = r.index.ByType(nil, nil, geo.BroadLimit, cat)
		}
	}
	if len(out) > geo.UserLimit {
		out = out[:geo.UserLimit]
	}
	return out
}

// Respond produces this responder's reply without touching session history.
func (r *Responder) Respond(ctx context.Context, req Request) Outcome {
	bundle := r.prepareContext(ctx, req)

	var st *subType
	if found, ok := r.profile.detect(req.Message); ok {
		st = &found
	}
	facilities := r.selectFacilities(st, bundle.Point)

	out := Outcome{Category: r.profile.category, Facilities: facilities}
	sessionID := ""
	if req.Session != nil {
		sessionID = req.Session.ID
	}

	reply, err := r.generator.Generate(ctx, r.buildPrompt(bundle, st, facilities, req))
	if err != nil {
		r.logger.Error("Failed to generate reply", zap.String("session_id", sessionID), zap.Error(err))
		out.Err = err
		out.Response = r.failureResponse(sessionID, err)
		return out
	}

	classification := req.Classification
	resp := models.Response{
		MessageID:         uuid.New().String(),
		SessionID:         sessionID,
		Type:              models.ResponseMessage,
		Content:           reply,
		NeedsConfirmation: r.profile.needsConfirmation(req.Message, reply),
		Classification:    &classification,
		Timestamp:         time.Now(),
	}
	if len(facilities) > 0 {
		resp.Actions = append(resp.Actions, fmt.Sprintf("Located %d %s facilities", len(facilities), r.profile.category))
	}

	if req.Cleared && bundle.Point != nil && r.fleet != nil {
		if d := r.dispatch(ctx, sessionID, *bundle.Point, st, facilities, req.Classification.Urgency); d != nil {
			out.Dispatch = d
			resp.Dispatches = []models.Dispatch{*d}
			resp.NeedsConfirmation = true
			resp.Content += "\n\n" + dispatchNote(*d)
			resp.Actions = append(resp.Actions, fmt.Sprintf("Dispatched %s (ETA %d min)", d.UnitID, d.ETAMinutes))
		}
	}

	out.Response = resp
	return out
}

func (req Request) userText() string {
	if req.Raw != "" {
		return req.Raw
	}
	return req.Message
}

// Handle is Respond followed by recording the exchange in session history.
func (r *Responder) Handle(ctx context.Context, req Request) Outcome {
	out := r.Respond(ctx, req)
	if out.Err != nil || req.Session == nil || r.sessions == nil {
		return out
	}
	if err := r.sessions.AppendHistory(ctx, req.Session.ID, models.RoleUser, req.userText()); err != nil {
		r.logger.Warn("Failed to record message", zap.String("session_id", req.Session.ID), zap.Error(err))
		return out
	}
	if err := r.sessions.AppendHistory(ctx, req.Session.ID, models.RoleAssistant, out.Response.Content); err != nil {
		r.logger.Warn("Failed to record reply", zap.String("session_id", req.Session.ID), zap.Error(err))
	}
	return out
}

func (r *Responder) dispatch(ctx context.Context, sessionID string, p geo.Point, st *subType, facilities []models.Facility, urgency models.Urgency) *models.Dispatch {
	speciality := ""
	if st != nil {
		speciality = st.speciality
	}
	a, err := r.fleet.Assign(r.profile.category, p, urgency, speciality)
	if err != nil {
		r.logger.Warn("No unit assigned", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}

	now := time.Now()
	d := models.Dispatch{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Category:   r.profile.category,
		UnitID:     a.Unit.ID,
		ETAMinutes: a.ETAMinutes,
		Status:     models.StatusDispatched,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(facilities) > 0 {
		d.FacilityID = facilities[0].ID
		d.FacilityName = facilities[0].Name
	}

	if r.ledger != nil {
		if err := r.ledger.Record(ctx, d); err != nil {
			r.logger.Error("Failed to record dispatch", zap.String("dispatch_id", d.ID), zap.Error(err))
		}
	}
	r.logger.Info("Unit dispatched",
		zap.String("session_id", sessionID),
		zap.String("unit_id", d.UnitID),
		zap.String("facility_id", d.FacilityID),
		zap.Int("eta_minutes", d.ETAMinutes))
	return &d
}

func dispatchNote(d models.Dispatch) string {
	note := fmt.Sprintf("Unit %s has been assigned, estimated arrival in %d minutes.", d.UnitID, d.ETAMinutes)
	if d.FacilityName != "" {
		note += fmt.Sprintf(" %s has been notified.", d.FacilityName)
	}
	return note + " Reply /confirm to confirm the dispatch or /cancel to stand it down."
}

func (r *Responder) failureResponse(sessionID string, err error) models.Response {
	reason := err.Error()
	if errors.Is(err, llm.ErrNotConfigured) {
		reason = "the assistant is not configured (OPENAI_API_KEY is missing)"
	}
	return models.Response{
		MessageID: uuid.New().String(),
		SessionID: sessionID,
		Type:      models.ResponseSystem,
		Content: fmt.Sprintf("%s are temporarily unavailable: %s. If this is an emergency call %s directly.",
			r.profile.label, reason, r.profile.hotline),
		Timestamp: time.Now(),
	}
}
