package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/rescue-bot/internal/models"
)

type stubGenerator struct{ err error }

func (s stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "ok", s.err
}

func TestCollector_Observe(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	c.ObserveClassification(models.Classification{Source: "keyword", Categories: []models.Category{models.CategoryFire, models.CategoryMedical}})
	c.ObserveClassification(models.Classification{Source: "llm"})
	c.ObserveResponse(models.Response{
		Type: models.ResponseMessage,
		Dispatches: []models.Dispatch{
			{Category: models.CategoryFire},
			{Category: models.CategoryMedical},
		},
	})
	c.ObserveResponderFailure(models.CategoryPolice)
	c.ObservePurged(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.classifications.WithLabelValues("keyword", "fire")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.classifications.WithLabelValues("llm", "general")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("response")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dispatches.WithLabelValues("medical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responderFailures.WithLabelValues("police")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.purged))
}

func TestInstrumentGenerator(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)

	ok := c.InstrumentGenerator(stubGenerator{})
	failing := c.InstrumentGenerator(stubGenerator{err: errors.New("down")})

	_, err = ok.Generate(context.Background(), "p")
	require.NoError(t, err)
	_, err = failing.Generate(context.Background(), "p")
	require.Error(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(c.generation))
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, err := NewCollector()
	require.NoError(t, err)

	router := gin.New()
	router.Use(c.GinMiddleware())
	router.GET("/sessions/:id", func(ctx *gin.Context) { ctx.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(c.Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpTotal.WithLabelValues("GET", "/sessions/:id", "404")))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rescuebot_http_requests_total"))
}
