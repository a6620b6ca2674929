package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fabell4/marion/internal/config"
	"github.com/fabell4/marion/internal/models"
	"github.com/sirupsen/logrus"
)

// HuggingFaceProvider talks to the Hugging Face Inference API, which
// expects a flat text-generation prompt rather than a message list.
type HuggingFaceProvider struct {
	apiToken   string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewHuggingFaceProvider creates the fallback provider from config
func NewHuggingFaceProvider(cfg *config.HuggingFaceConfig, logger *logrus.Logger) *HuggingFaceProvider {
	return &HuggingFaceProvider{
		apiToken:   cfg.APIToken,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Name returns the provider identifier recorded in replies
func (p *HuggingFaceProvider) Name() string {
	return "huggingface"
}

// Send reformats the conversation into a text-generation prompt and
// normalizes the generated text into a ChatReply.
func (p *HuggingFaceProvider) Send(ctx context.Context, messages []models.Message, opts Options) (*models.ChatReply, error) {
	payload := map[string]interface{}{
		"inputs": buildPrompt(messages),
		"parameters": map[string]interface{}{
			"max_new_tokens":   opts.MaxTokens,
			"temperature":      opts.Temperature,
			"return_full_text": false,
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/models/%s", p.baseURL, p.model)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiToken))

	p.logger.WithFields(logrus.Fields{
		"model": p.model,
		"url":   url,
	}).Debug("Sending Hugging Face request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		p.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("Hugging Face request failed")
		return nil, fmt.Errorf("huggingface request failed with status %d: %s", resp.StatusCode, string(body))
	}

	text, err := parseGeneratedText(body)
	if err != nil {
		return nil, err
	}

	return &models.ChatReply{
		Reply:    text,
		Model:    p.model,
		Provider: p.Name(),
	}, nil
}

// buildPrompt flattens the message list into the User:/Assistant: shape
// instruct models expect, with a trailing cue for the reply.
func buildPrompt(messages []models.Message) string {
	parts := make([]string, 0, len(messages)+1)
	for _, m := range messages {
		switch m.Role {
		case models.RoleUser:
			parts = append(parts, fmt.Sprintf("User: %s", m.Content))
		case models.RoleAssistant:
			parts = append(parts, fmt.Sprintf("Assistant: %s", m.Content))
		default:
			parts = append(parts, m.Content)
		}
	}
	parts = append(parts, "Assistant:")
	return strings.Join(parts, "\n")
}

// parseGeneratedText accepts both response shapes the inference API
// returns: a list of objects or a single object with generated_text.
func parseGeneratedText(body []byte) (string, error) {
	var list []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list[0].GeneratedText, nil
	}

	var single struct {
		GeneratedText *string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.GeneratedText != nil {
		return *single.GeneratedText, nil
	}

	return "", fmt.Errorf("unexpected huggingface response shape: %s", string(body))
}
