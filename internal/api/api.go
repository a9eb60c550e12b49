// Package api is the HTTP transport over the router.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xaenox/rescue-bot/internal/gate"
	"github.com/xaenox/rescue-bot/internal/geo"
	"github.com/xaenox/rescue-bot/internal/metrics"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/router"
	"github.com/xaenox/rescue-bot/internal/storage"
	"go.uber.org/zap"
)

// Engine is the subset of *router.Router served over HTTP.
type Engine interface {
	Process(ctx context.Context, in router.Inbound) models.Response
	EnsureSession(ctx context.Context, id string) (*models.Session, error)
	Session(ctx context.Context, id string) (*models.Session, bool)
	Summary(ctx context.Context, id string) (router.SessionSummary, error)
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
	ClearHistory(ctx context.Context, id string) error
	SetPermission(ctx context.Context, id string, granted bool, reason string) error
	SetGPSLocation(ctx context.Context, id string, lat, lon float64, accuracy *float64, address string) error
	SetManualLocation(ctx context.Context, id, address string, lat, lon *float64) error
	DenyLocation(ctx context.Context, id, reason string) error
	SetPhone(ctx context.Context, id, number, countryCode string) error
	Confirm(ctx context.Context, sessionID string, confirmed bool) (models.Response, error)
	Arrived(ctx context.Context, sessionID string) (models.Response, error)
	UpdateDispatch(ctx context.Context, dispatchID string, status models.DispatchStatus) (models.Dispatch, error)
	Dispatches(ctx context.Context, sessionID string) ([]models.Dispatch, error)
	Dispatch(ctx context.Context, id string) (models.Dispatch, error)
	Services() map[models.Category]router.ServiceCount
	Nearby(p geo.Point, radiusKm float64, category models.Category, limit int) ([]models.Facility, error)
}

type Handlers struct {
	engine Engine
	logger *zap.Logger
}

func NewHandlers(engine Engine, logger *zap.Logger) *Handlers {
	return &Handlers{engine: engine, logger: logger}
}

// NewEngine builds the gin engine with recovery, request metrics and every
// route registered. collector may be nil.
func NewEngine(engine Engine, collector *metrics.Collector, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if collector != nil {
		r.Use(collector.GinMiddleware())
		r.GET("/metrics", gin.WrapH(collector.Handler()))
	}
	RegisterRoutes(r, NewHandlers(engine, logger))
	return r
}

func RegisterRoutes(r gin.IRouter, h *Handlers) {
	r.GET("/healthz", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/chat", h.Chat)
		v1.GET("/services", h.Services)
		v1.GET("/facilities/nearby", h.Nearby)
		v1.GET("/dispatches/:id", h.GetDispatch)
		v1.POST("/dispatches/:id/status", h.UpdateDispatch)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("/:id", h.GetSession)
			sessions.GET("/:id/history", h.GetHistory)
			sessions.DELETE("/:id/history", h.ClearHistory)
			sessions.POST("/:id/permission", h.SetPermission)
			sessions.POST("/:id/location", h.SetLocation)
			sessions.POST("/:id/location/deny", h.DenyLocation)
			sessions.POST("/:id/phone", h.SetPhone)
			sessions.POST("/:id/confirm", h.Confirm)
			sessions.POST("/:id/arrived", h.Arrived)
			sessions.GET("/:id/dispatches", h.ListDispatches)
		}
	}
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message" binding:"required"`
}

func (h *Handlers) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	resp := h.engine.Process(c.Request.Context(), router.Inbound{
		SessionID: req.SessionID,
		Message:   req.Message,
		IP:        c.ClientIP(),
	})
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.engine.EnsureSession(c.Request.Context(), "")
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": s.ID})
}

func (h *Handlers) GetSession(c *gin.Context) {
	id := c.Param("id")
	s, ok := h.engine.Session(c.Request.Context(), id)
	if !ok {
		notFound(c)
		return
	}
	sum, err := h.engine.Summary(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"summary":      sum,
		"location":     gate.ValidateLocation(s),
		"requirements": gate.CheckEmergencyRequirements(s),
	})
}

func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *Handlers) ClearHistory(c *gin.Context) {
	if err := h.engine.ClearHistory(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type permissionRequest struct {
	Granted *bool  `json:"granted" binding:"required"`
	Reason  string `json:"reason"`
}

func (h *Handlers) SetPermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "granted is required"})
		return
	}
	if err := h.engine.SetPermission(c.Request.Context(), c.Param("id"), *req.Granted, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Address   string   `json:"address"`
	// Manual marks coordinates typed by the user rather than read from a device.
	Manual bool `json:"manual"`
}

func (h *Handlers) SetLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location"})
		return
	}
	hasPoint := req.Latitude != nil && req.Longitude != nil
	if !hasPoint && req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address or latitude and longitude are required"})
		return
	}
	if hasPoint && (*req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	var err error
	if hasPoint && !req.Manual {
		err = h.engine.SetGPSLocation(ctx, id, *req.Latitude, *req.Longitude, req.Accuracy, req.Address)
	} else {
		err = h.engine.SetManualLocation(ctx, id, req.Address, req.Latitude, req.Longitude)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	s, ok := h.engine.Session(ctx, id)
	if !ok {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, gate.ValidateLocation(s))
}

type denyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) DenyLocation(c *gin.Context) {
	var req denyRequest
	// An empty body is a denial without a reason.
	_ = c.ShouldBindJSON(&req)
	if err := h.engine.DenyLocation(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type phoneRequest struct {
	Number      string `json:"number" binding:"required"`
	CountryCode string `json:"country_code"`
}

func (h *Handlers) SetPhone(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number is required"})
		return
	}
	if !router.ValidPhone(req.Number) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "number is not a valid mobile number"})
		return
	}
	if err := h.engine.SetPhone(c.Request.Context(), c.Param("id"), req.Number, req.CountryCode); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type confirmRequest struct {
	Confirmed *bool `json:"confirmed" binding:"required"`
}

func (h *Handlers) Confirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirmed is required"})
		return
	}
	resp, err := h.engine.Confirm(c.Request.Context(), c.Param("id"), *req.Confirmed)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) Arrived(c *gin.Context) {
	resp, err := h.engine.Arrived(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) ListDispatches(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.engine.Session(c.Request.Context(), id); !ok {
		notFound(c)
		return
	}
	dispatches, err := h.engine.Dispatches(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispatches": dispatches})
}

func (h *Handlers) GetDispatch(c *gin.Context) {
	d, err := h.engine.Dispatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

type statusRequest struct {
	Status models.DispatchStatus `json:"status" binding:"required"`
}

// UpdateDispatch moves a dispatch to en_route, arrived or available (stood down).
func (h *Handlers) UpdateDispatch(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	d, err := h.engine.UpdateDispatch(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handlers) Services(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": h.engine.Services()})
}

func (h *Handlers) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lon are required"})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", "15"), 64)
	if err != nil || radius <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "radius must be a positive number"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(geo.UserLimit)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
		return
	}

	facilities, err := h.engine.Nearby(geo.Point{Lat: lat, Lon: lon}, radius, models.Category(c.Query("category")), limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"facilities": facilities})
}

func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case router.IsNotFound(err):
		notFound(c)
	case errors.Is(err, storage.ErrDispatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatch not found"})
	case errors.Is(err, router.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
}
