package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/storage"
	"go.uber.org/zap"
)

// ErrInvalidStatus is returned for a status a dispatch cannot move to.
var ErrInvalidStatus = errors.New("invalid dispatch status")

// open reports whether d still holds its unit.
func open(d models.Dispatch) bool {
	return d.Status == models.StatusDispatched || d.Status == models.StatusEnRoute
}

// transition moves d to status, keeps the fleet in step and stores the result.
// The caller holds the session lock.
func (r *Router) transition(ctx context.Context, d models.Dispatch, status models.DispatchStatus) (models.Dispatch, error) {
	if !open(d) {
		return d, fmt.Errorf("%w: dispatch %s is already %s", ErrInvalidStatus, d.ID, d.Status)
	}

	switch status {
	case models.StatusEnRoute, models.StatusArrived:
		if status.Rank() <= d.Status.Rank() {
			return d, fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, d.Status, status)
		}
		if err := r.fleet.Advance(d.UnitID, status); err != nil {
			r.logger.Warn("Failed to advance unit", zap.String("unit_id", d.UnitID), zap.Error(err))
		}
		if status == models.StatusArrived {
			r.releaseUnit(d.UnitID)
		}
		d.Confirmed = true
	case models.StatusAvailable:
		r.releaseUnit(d.UnitID)
	default:
		return d, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	d.Status = status
	d.UpdatedAt = time.Now()
	if err := r.ledger.Update(ctx, d); err != nil {
		return d, fmt.Errorf("failed to update dispatch %s: %w", d.ID, err)
	}
	r.logger.Info("Dispatch updated",
		zap.String("dispatch_id", d.ID),
		zap.String("unit_id", d.UnitID),
		zap.String("status", string(d.Status)))
	return d, nil
}

func (r *Router) releaseUnit(unitID string) {
	if err := r.fleet.Release(unitID); err != nil {
		r.logger.Warn("Failed to release unit", zap.String("unit_id", unitID), zap.Error(err))
	}
}

// UpdateDispatch moves one dispatch to status. Arrived and stood-down
// (available) dispatches return their unit to the pool.
func (r *Router) UpdateDispatch(ctx context.Context, dispatchID string, status models.DispatchStatus) (models.Dispatch, error) {
	d, err := r.ledger.Get(ctx, dispatchID)
	if err != nil {
		return models.Dispatch{}, err
	}
	defer r.locks.Lock(d.SessionID)()

	// read again under the lock so a concurrent Confirm is not overwritten
	if d, err = r.ledger.Get(ctx, dispatchID); err != nil {
		return models.Dispatch{}, err
	}
	return r.transition(ctx, d, status)
}

// Arrived closes every active dispatch on a session.
func (r *Router) Arrived(ctx context.Context, sessionID string) (models.Response, error) {
	if _, ok := r.sessions.Get(ctx, sessionID); !ok {
		return models.Response{}, storage.ErrSessionNotFound
	}
	defer r.locks.Lock(sessionID)()

	all, err := r.ledger.ListBySession(ctx, sessionID)
	if err != nil {
		return models.Response{}, fmt.Errorf("failed to list dispatches: %w", err)
	}

	var updated []models.Dispatch
	for _, d := range all {
		if !open(d) {
			continue
		}
		d, err := r.transition(ctx, d, models.StatusArrived)
		if err != nil {
			return models.Response{}, err
		}
		updated = append(updated, d)
	}

	content := "There is no active dispatch on this session."
	if len(updated) > 0 {
		ids := make([]string, len(updated))
		for i, d := range updated {
			ids[i] = d.UnitID
		}
		content = "Marked as arrived: " + strings.Join(ids, ", ") + ". Stay with the crew and follow their instructions."
	}

	resp := systemResponse(sessionID, content)
	resp.Dispatches = updated
	for _, d := range updated {
		resp.Actions = append(resp.Actions, fmt.Sprintf("%s %s", d.UnitID, d.Status))
	}
	if len(updated) > 0 {
		if err := r.sessions.AppendHistory(ctx, sessionID, models.RoleAssistant, resp.Content); err != nil {
			r.logger.Warn("Failed to record arrival", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return r.finish(resp), nil
}

// ReleaseSession stands down the active dispatches of a session that is
// gone. It is the expiry hook of the session store.
func (r *Router) ReleaseSession(ctx context.Context, sessionID string) {
	defer r.locks.Lock(sessionID)()

	all, err := r.ledger.ListBySession(ctx, sessionID)
	if err != nil {
		r.logger.Error("Failed to list dispatches of expired session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	released := 0
	for _, d := range all {
		if !open(d) {
			continue
		}
		if _, err := r.transition(ctx, d, models.StatusAvailable); err != nil {
			r.logger.Warn("Failed to stand down dispatch", zap.String("dispatch_id", d.ID), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		r.logger.Info("Released units of expired session",
			zap.String("session_id", sessionID),
			zap.Int("count", released))
	}
}
