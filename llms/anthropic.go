// Copyright 2026 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/errs"
)

// AnthropicProvider adapts the common Message representation to the
// Anthropic messages API: system prompt as a top-level field, tool
// definitions as {name, description, input_schema}, tool results as user
// turns with tool_result content blocks.
type AnthropicProvider struct {
	cfg    config.ModelConfig
	client *http.Client
}

// AnthropicTool is a tool definition in Anthropic format.
type AnthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicContent
}

// anthropicContent is one content block: text, tool_use or tool_result.
type anthropicContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	Model      string             `json:"model"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider creates an Anthropic provider from a model config.
// The API key comes from the configured environment variable, never from the
// config file itself.
func NewAnthropicProvider(cfg config.ModelConfig) (*AnthropicProvider, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("API key environment variable %q is not set", cfg.APIKeyEnv)
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.anthropic.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultLLMTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// ModelName returns the configured model identifier.
func (p *AnthropicProvider) ModelName() string {
	return p.cfg.Model
}

// Close closes the provider.
func (p *AnthropicProvider) Close() error {
	return nil
}

// Generate sends one request and adapts the response back to the common
// representation. Stop reasons pass through: "end_turn" is terminal,
// "tool_use" requests tool execution.
func (p *AnthropicProvider) Generate(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error) {
	request := buildAnthropicRequest(p.cfg, system, messages, tools)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, classifyAnthropicError(response.Error)
	}

	out := &Response{
		StopReason: response.StopReason,
		Model:      response.Model,
		Usage: Usage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
		},
	}
	for _, content := range response.Content {
		switch content.Type {
		case "text":
			out.Text += content.Text
		case "tool_use":
			rawArgs, _ := json.Marshal(content.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: content.Input,
				RawArgs:   string(rawArgs),
			})
		}
	}
	return out, nil
}

// buildAnthropicRequest converts the common representation into the
// Anthropic wire format. Kept as a function so the round-trip is testable
// without a provider instance.
func buildAnthropicRequest(cfg config.ModelConfig, system string, messages []Message, tools []ToolDefinition) anthropicRequest {
	anthropicMessages := make([]anthropicMessage, 0, len(messages))

	for _, msg := range messages {
		switch {
		case msg.Role == RoleTool:
			// Tool results ride in user turns with tool_result blocks.
			anthropicMessages = append(anthropicMessages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			contents := []anthropicContent{}
			if msg.Content != "" {
				contents = append(contents, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				contents = append(contents, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			anthropicMessages = append(anthropicMessages, anthropicMessage{Role: "assistant", Content: contents})

		default:
			anthropicMessages = append(anthropicMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	request := anthropicRequest{
		Model:       cfg.Model,
		Messages:    anthropicMessages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		System:      system,
	}

	if len(tools) > 0 {
		anthropicTools := make([]AnthropicTool, len(tools))
		for i, tool := range tools {
			anthropicTools[i] = AnthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Parameters,
			}
		}
		request.Tools = anthropicTools
	}

	return request
}

const maxLLMRetries = 3

// makeRequest posts the payload with retry: header-driven for rate limits,
// conservative for transient server errors.
func (p *AnthropicProvider) makeRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, error) {
	baseDelay := time.Second

	var lastErr error
	for attempt := 0; attempt <= maxLLMRetries; attempt++ {
		response, strategy, info, err := p.attemptRequest(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if strategy == NoRetry || attempt >= maxLLMRetries {
			return nil, err
		}
		if strategy == ConservativeRetry && attempt >= 2 {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindLLMTimeout, "llm", "request cancelled while waiting to retry", ctx.Err())
		case <-time.After(retryDelay(strategy, attempt, baseDelay, info)):
		}
	}
	return nil, lastErr
}

func (p *AnthropicProvider) attemptRequest(ctx context.Context, request anthropicRequest) (*anthropicResponse, RetryStrategy, RateLimitInfo, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey())
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, NoRetry, RateLimitInfo{}, errs.New(errs.KindLLMTimeout, "llm", "anthropic request timed out", err)
		}
		return nil, NoRetry, RateLimitInfo{}, errs.New(errs.KindLLMTimeout, "llm", "anthropic request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	info := parseAnthropicRateLimitHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, retryStrategyFor(resp.StatusCode), info, classifyHTTPError("anthropic", resp.StatusCode, body)
	}

	var response anthropicResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to decode anthropic response: %w", err)
	}
	return &response, NoRetry, info, nil
}

func classifyAnthropicError(e *anthropicError) error {
	switch e.Type {
	case "authentication_error", "permission_error":
		return errs.New(errs.KindLLMAuth, "llm", e.Message, nil)
	case "rate_limit_error", "overloaded_error":
		return errs.New(errs.KindLLMQuota, "llm", e.Message, nil)
	default:
		return errs.New(errs.KindLLMBlocked, "llm", e.Message, nil)
	}
}

// classifyHTTPError maps provider HTTP failures onto the error taxonomy.
// Shared by both adapters; the taxonomy is provider-independent.
func classifyHTTPError(provider string, statusCode int, body []byte) error {
	msg := fmt.Sprintf("%s API request failed with status %d: %s", provider, statusCode, string(body))
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errs.New(errs.KindLLMAuth, "llm", msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return errs.New(errs.KindLLMQuota, "llm", msg, nil)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return errs.New(errs.KindLLMTimeout, "llm", msg, nil)
	default:
		return errs.New(errs.KindLLMBlocked, "llm", msg, nil)
	}
}
