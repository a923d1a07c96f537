// Package codegen turns a user prompt plus input schema into candidate
// Starlark source via an OpenAI-compatible chat completions backend.
package codegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable reports that the completion backend was unreachable or kept
// returning malformed output after the client's own retry allowance. It is a
// distinct failure from validation rejection.
var ErrUnavailable = errors.New("completion backend unavailable")

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client performs requests against a Chat Completions endpoint. Everything
// non-deterministic in the pipeline sits behind this one type.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxRetries  int
}

// ClientConfig holds the completion backend settings.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// NewClient creates a client for an OpenAI-compatible backend.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxRetries:  cfg.MaxRetries,
	}
}

// Complete sends the messages and returns the assistant content and the model
// identifier reported by the backend. Transient transport and 5xx failures
// are retried before the call gives up with ErrUnavailable.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", "", fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		content, model, retryable, err := c.complete(ctx, messages)
		if err == nil {
			return content, model, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *Client) complete(ctx context.Context, messages []Message) (content, model string, retryable bool, err error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		err := fmt.Errorf("backend returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		// Client errors (bad key, bad model) will not heal on retry.
		return "", "", resp.StatusCode >= 500, err
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", "", true, fmt.Errorf("failed to parse backend response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", "", true, errors.New("backend response has no choices")
	}
	model = chat.Model
	if model == "" {
		model = c.model
	}
	return chat.Choices[0].Message.Content, model, false, nil
}
