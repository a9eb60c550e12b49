// Package metrics exposes Prometheus collectors for the routing engine and
// its HTTP surface.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xaenox/rescue-bot/internal/llm"
	"github.com/xaenox/rescue-bot/internal/models"
)

const namespace = "rescuebot"

// Collector holds every metric on its own registry.
type Collector struct {
	registry *prometheus.Registry

	classifications   *prometheus.CounterVec
	requests          *prometheus.CounterVec
	dispatches        *prometheus.CounterVec
	responderFailures *prometheus.CounterVec
	generation        *prometheus.HistogramVec
	httpDuration      *prometheus.HistogramVec
	httpTotal         *prometheus.CounterVec
	purged            prometheus.Counter
}

func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Messages classified, by classifier source and primary category.",
		}, []string{"source", "category"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses returned, by response type.",
		}, []string{"type"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Units dispatched, by category.",
		}, []string{"category"}),
		responderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_failures_total",
			Help:      "Responder invocations that produced no reply, by category.",
		}, []string{"category"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generation_duration_seconds",
			Help:      "Latency of text generation calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for inbound HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests.",
		}, []string{"method", "path", "status"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_purged_total",
			Help:      "Sessions removed by the expiry sweep.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.classifications, c.requests, c.dispatches, c.responderFailures,
		c.generation, c.httpDuration, c.httpTotal, c.purged,
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) ObserveClassification(cl models.Classification) {
	category := string(models.CategoryGeneral)
	if len(cl.Categories) > 0 {
		category = string(cl.Categories[0])
	}
	c.classifications.WithLabelValues(cl.Source, category).Inc()
}

func (c *Collector) ObserveResponse(resp models.Response) {
	c.requests.WithLabelValues(string(resp.Type)).Inc()
	for _, d := range resp.Dispatches {
		c.dispatches.WithLabelValues(string(d.Category)).Inc()
	}
}

func (c *Collector) ObserveResponderFailure(category models.Category) {
	c.responderFailures.WithLabelValues(string(category)).Inc()
}

func (c *Collector) ObservePurged(n int) {
	c.purged.Add(float64(n))
}

// GinMiddleware records request counts and latency by route template.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Writer.Status())
		c.httpTotal.WithLabelValues(ctx.Request.Method, path, status).Inc()
		c.httpDuration.WithLabelValues(ctx.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

type instrumentedGenerator struct {
	next      llm.Generator
	histogram *prometheus.HistogramVec
}

// InstrumentGenerator times every call made through g.
func (c *Collector) InstrumentGenerator(g llm.Generator) llm.Generator {
	return &instrumentedGenerator{next: g, histogram: c.generation}
}

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.histogram.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return out, err
}
