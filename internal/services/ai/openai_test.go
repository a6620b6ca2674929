package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIConfig(baseURL string) *config.OpenAIConfig {
	return &config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}
}

func TestOpenAISend(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionsRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": "gpt-4o-mini-2024",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello!"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	messages := []models.Message{{Role: models.RoleUser, Content: "hi"}}
	reply, err := p.Send(context.Background(), messages, Options{Temperature: 0.7, MaxTokens: 512})

	require.NoError(t, err)
	assert.Equal(t, "hello!", reply.Reply)
	assert.Equal(t, "gpt-4o-mini-2024", reply.Model)
	assert.Equal(t, "openai", reply.Provider)
	require.NotNil(t, reply.Usage)
	assert.Equal(t, 15, reply.Usage.TotalTokens)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody.Model)
	assert.Equal(t, messages, gotBody.Messages)
	assert.False(t, gotBody.Stream)
}

func TestOpenAISend_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAISend_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "model overloaded"},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestOpenAISend_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
}

func TestOpenAISend_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	cfg := openAIConfig(server.URL)
	cfg.Timeout = 20 * time.Millisecond
	p := NewOpenAIProvider(cfg, testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatCompletionsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.True(t, body.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Hel", "lo", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	events, err := p.Stream(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, Options{})
	require.NoError(t, err)

	var got string
	for event := range events {
		require.NoError(t, event.Err)
		got += event.Delta
	}
	assert.Equal(t, "Hello!", got)
}

func TestOpenAIStream_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewOpenAIProvider(openAIConfig(server.URL), testLogger())

	_, err := p.Stream(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
