package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func completionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate_NotConfigured(t *testing.T) {
	g := NewOpenAI(Config{}, zap.NewNop())
	assert.False(t, g.Configured())

	_, err := g.Generate(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	var genErr *GenerationError
	assert.True(t, errors.As(err, &genErr))
}

func TestGenerate_Success(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  Help is on the way.  "}, "finish_reason": "stop"}]
		}`))
	})

	g := NewOpenAI(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"}, zap.NewNop())
	got, err := g.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Help is on the way.", got)
}

func TestGenerate_ServiceError(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
	})

	g := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL}, zap.NewNop())
	_, err := g.Generate(context.Background(), "prompt")
	require.Error(t, err)

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
	assert.Equal(t, "chat completion", genErr.Op)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestGenerate_Timeout(t *testing.T) {
	srv := completionServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	g := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop())
	start := time.Now()
	_, err := g.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
