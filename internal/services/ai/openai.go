package ai

import (
	"bufio"
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

// OpenAIProvider talks to any OpenAI-compatible Chat Completions endpoint
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewOpenAIProvider creates the primary provider from config
func NewOpenAIProvider(cfg *config.OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		// No client-level timeout: streamed responses outlive any sane
		// value, so deadlines come from the request context instead.
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Name returns the provider identifier recorded in replies
func (p *OpenAIProvider) Name() string {
	return "openai"
}

type chatCompletionsRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens"`
	Stream      bool             `json:"stream"`
}

// Send performs a non-streaming chat completion
func (p *OpenAIProvider) Send(ctx context.Context, messages []models.Message, opts Options) (*models.ChatReply, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.post(reqCtx, messages, opts, false)
	if err != nil {
		return nil, err
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
		}).Error("OpenAI request failed")
		return nil, fmt.Errorf("openai request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *models.Usage `json:"usage"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return nil, fmt.Errorf("openai error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}

	model := result.Model
	if model == "" {
		model = p.model
	}

	return &models.ChatReply{
		Reply:    result.Choices[0].Message.Content,
		Model:    model,
		Provider: p.Name(),
		Usage:    result.Usage,
	}, nil
}

// Stream performs a streaming chat completion, re-emitting upstream SSE
// content deltas on the returned channel. The channel is closed when the
// upstream stream completes or fails.
func (p *OpenAIProvider) Stream(ctx context.Context, messages []models.Message, opts Options) (<-chan StreamEvent, error) {
	resp, err := p.post(ctx, messages, opts, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("openai stream failed with status %d: %s", resp.StatusCode, string(body))
	}

	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var chunk struct {
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.logger.WithError(err).Debug("Skipping unparseable stream chunk")
				continue
			}
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}

			select {
			case events <- StreamEvent{Delta: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			events <- StreamEvent{Err: fmt.Errorf("stream read failed: %w", err)}
		}
	}()

	return events, nil
}

func (p *OpenAIProvider) post(ctx context.Context, messages []models.Message, opts Options, stream bool) (*http.Response, error) {
	payload := chatCompletionsRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	p.logger.WithFields(logrus.Fields{
		"model":  p.model,
		"url":    url,
		"stream": stream,
	}).Debug("Sending OpenAI request")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}
