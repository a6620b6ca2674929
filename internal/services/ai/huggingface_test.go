package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hfConfig(baseURL string) *config.HuggingFaceConfig {
	return &config.HuggingFaceConfig{
		APIToken: "hf-token",
		BaseURL:  baseURL,
		Model:    "mistralai/Mistral-7B-Instruct",
		Timeout:  5 * time.Second,
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt([]models.Message{
		{Role: models.RoleSystem, Content: "Be terse."},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "bye"},
	})

	assert.Equal(t, "Be terse.\nUser: hi\nAssistant: hello\nUser: bye\nAssistant:", prompt)
}

func TestHuggingFaceSend(t *testing.T) {
	var gotAuth string
	var gotPayload struct {
		Inputs     string `json:"inputs"`
		Parameters struct {
			MaxNewTokens   int     `json:"max_new_tokens"`
			Temperature    float64 `json:"temperature"`
			ReturnFullText bool    `json:"return_full_text"`
		} `json:"parameters"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/mistralai/Mistral-7B-Instruct", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		json.NewEncoder(w).Encode([]map[string]string{{"generated_text": " the answer"}})
	}))
	defer server.Close()

	p := NewHuggingFaceProvider(hfConfig(server.URL), testLogger())

	reply, err := p.Send(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}, Options{Temperature: 0.5, MaxTokens: 256})

	require.NoError(t, err)
	assert.Equal(t, " the answer", reply.Reply)
	assert.Equal(t, "mistralai/Mistral-7B-Instruct", reply.Model)
	assert.Equal(t, "huggingface", reply.Provider)
	assert.Nil(t, reply.Usage)

	assert.Equal(t, "Bearer hf-token", gotAuth)
	assert.Equal(t, "User: hi\nAssistant:", gotPayload.Inputs)
	assert.Equal(t, 256, gotPayload.Parameters.MaxNewTokens)
	assert.False(t, gotPayload.Parameters.ReturnFullText)
}

func TestHuggingFaceSend_ObjectShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"generated_text": "object shape"})
	}))
	defer server.Close()

	p := NewHuggingFaceProvider(hfConfig(server.URL), testLogger())

	reply, err := p.Send(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "object shape", reply.Reply)
}

func TestHuggingFaceSend_UnexpectedShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"something_else": "?"})
	}))
	defer server.Close()

	p := NewHuggingFaceProvider(hfConfig(server.URL), testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected huggingface response shape")
}

func TestHuggingFaceSend_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewHuggingFaceProvider(hfConfig(server.URL), testLogger())

	_, err := p.Send(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
