// Package geoip resolves a caller's IP address to an approximate location.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xaenox/rescue-bot/internal/geo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "http://ip-api.com/json/"
	DefaultTimeout = 5 * time.Second
	// ip-api.com allows 45 requests per minute on the free endpoint.
	DefaultRequestsPerMinute = 45

	SourceIP       = "ip"
	SourceFallback = "fallback"
)

type Result struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
	Address   string  `json:"address"`
	Source    string  `json:"source"`
}

// Locator never fails: lookups that cannot be served return Fallback.
type Locator interface {
	Locate(ctx context.Context, ip string) Result
}

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	HomeCity          string
	HomeCountry       string
}

// Client queries ip-api.com.
type Client struct {
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	homeCity    string
	homeCountry string
	logger      *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.HomeCity == "" {
		cfg.HomeCity = "Karachi"
	}
	if cfg.HomeCountry == "" {
		cfg.HomeCountry = "Pakistan"
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), cfg.RequestsPerMinute),
		homeCity:    cfg.HomeCity,
		homeCountry: cfg.HomeCountry,
		logger:      logger,
	}
}

// Fallback is the city-center result used whenever a lookup is impossible.
func Fallback() Result {
	return Result{
		Latitude:  geo.CityCenter.Lat,
		Longitude: geo.CityCenter.Lon,
		City:      "Karachi",
		Region:    "Sindh",
		Country:   "Pakistan",
		Address:   "Karachi, Pakistan",
		Source:    SourceFallback,
	}
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (c *Client) Locate(ctx context.Context, ip string) Result {
	if !routable(ip) {
		return Fallback()
	}
	if !c.limiter.Allow() {
		c.logger.Warn("IP lookup rate limited", zap.String("ip", ip))
		return Fallback()
	}

	result, err := c.lookup(ctx, ip)
	if err != nil {
		c.logger.Warn("IP lookup failed", zap.String("ip", ip), zap.Error(err))
		return Fallback()
	}
	return result
}

func (c *Client) lookup(ctx context.Context, ip string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ip, nil)
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if body.Status != "success" {
		return Result{}, fmt.Errorf("lookup unsuccessful: %s", body.Message)
	}

	return Result{
		Latitude:  body.Lat,
		Longitude: body.Lon,
		City:      body.City,
		Region:    body.RegionName,
		Country:   body.Country,
		Address:   fmt.Sprintf("%s, %s", body.City, body.Country),
		Source:    SourceIP,
	}, nil
}

// IsHomeCity reports whether r may stand in for the caller's location.
func (c *Client) IsHomeCity(r Result) bool {
	return IsHome(r, c.homeCity, c.homeCountry)
}

func IsHome(r Result, city, country string) bool {
	if r.Source == SourceFallback {
		return true
	}
	if city != "" && strings.Contains(strings.ToLower(r.City), strings.ToLower(city)) {
		return true
	}
	return country != "" && strings.EqualFold(r.Country, country)
}

func routable(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return !parsed.IsLoopback() && !parsed.IsPrivate() && !parsed.IsUnspecified()
}
