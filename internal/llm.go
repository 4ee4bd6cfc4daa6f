package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// LLMClient talks to an Ollama-compatible chat endpoint hosting the local
// model. It implements Recommender and returns the model's raw text without
// inspecting it.
type LLMClient struct {
	endpoint   string
	apiToken   string
	httpClient *http.Client
}

// NewLLMClient builds a client for the given endpoint, e.g.
// "http://localhost:11434". The token is optional and only sent when set;
// a bare local Ollama daemon has no auth, a gateway in front of one usually
// does.
func NewLLMClient(endpoint, apiToken string) *LLMClient {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(
			http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Host
			}),
		),
	}

	return &LLMClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiToken:   apiToken,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

// Complete sends one chat turn and returns the raw completion text. The
// timeout bounds the whole call including body read; a timeout is
// indistinguishable from any other transport failure to the caller.
func (c *LLMClient) Complete(ctx context.Context, prompt, system, model string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("could not encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("could not build chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not call model endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read model response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, truncateForLog(string(body)))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return "", fmt.Errorf("could not decode model response envelope: %w", err)
	}

	if chat.Error != "" {
		return "", fmt.Errorf("model endpoint reported an error: %s", chat.Error)
	}

	return chat.Message.Content, nil
}
