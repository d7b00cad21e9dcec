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
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/errs"
)

// OpenAIProvider adapts the common Message representation to the OpenAI
// chat-completions API: system prompt as the first message, tool definitions
// wrapped in {type:"function", function:{...}}, tool results as role "tool"
// turns. Stop reasons "stop"/"tool_calls" normalize to the shared
// end_turn/tool_use values so the loop never sees provider vocabulary.
type OpenAIProvider struct {
	cfg    config.ModelConfig
	client *http.Client
}

// OpenAITool is a tool definition in OpenAI format.
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction carries the same JSON Schema as Anthropic's input_schema;
// only the wrapper shape differs.
type OpenAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponse struct {
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider creates an OpenAI-style provider from a model config.
func NewOpenAIProvider(cfg config.ModelConfig) (*OpenAIProvider, error) {
	if cfg.APIKey() == "" {
		return nil, fmt.Errorf("API key environment variable %q is not set", cfg.APIKeyEnv)
	}
	if cfg.Host == "" {
		cfg.Host = "https://api.openai.com/v1"
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = config.DefaultLLMTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}, nil
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.cfg.Model
}

// Close closes the provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

// Generate sends one request and adapts the response back to the common
// representation.
func (p *OpenAIProvider) Generate(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error) {
	request := buildOpenAIRequest(p.cfg, system, messages, tools)

	response, err := p.makeRequest(ctx, request)
	if err != nil {
		return nil, err
	}

	if response.Error != nil {
		return nil, classifyOpenAIError(response.Error)
	}
	if len(response.Choices) == 0 {
		return nil, errs.New(errs.KindLLMBlocked, "llm", "openai returned no choices", nil)
	}

	return adaptOpenAIChoice(response.Model, response.Choices[0], response.Usage)
}

// buildOpenAIRequest converts the common representation into the OpenAI wire
// format.
func buildOpenAIRequest(cfg config.ModelConfig, system string, messages []Message, tools []ToolDefinition) openAIRequest {
	openAIMessages := make([]openAIMessage, 0, len(messages)+1)

	// The system prompt is the first message with role "system".
	if system != "" {
		openAIMessages = append(openAIMessages, openAIMessage{Role: "system", Content: system})
	}

	for _, msg := range messages {
		switch {
		case msg.Role == RoleTool:
			openAIMessages = append(openAIMessages, openAIMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
			})

		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			calls := make([]openAIToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				args := tc.RawArgs
				if args == "" {
					encoded, _ := json.Marshal(tc.Arguments)
					args = string(encoded)
				}
				calls[i] = openAIToolCall{
					ID:       tc.ID,
					Type:     "function",
					Function: openAIFunctionCall{Name: tc.Name, Arguments: args},
				}
			}
			openAIMessages = append(openAIMessages, openAIMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: calls,
			})

		default:
			openAIMessages = append(openAIMessages, openAIMessage{Role: msg.Role, Content: msg.Content})
		}
	}

	request := openAIRequest{
		Model:       cfg.Model,
		Messages:    openAIMessages,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}

	if len(tools) > 0 {
		openAITools := make([]OpenAITool, len(tools))
		for i, tool := range tools {
			openAITools[i] = OpenAITool{
				Type: "function",
				Function: OpenAIFunction{
					Name:        tool.Name,
					Description: tool.Description,
					Parameters:  tool.Parameters,
				},
			}
		}
		request.Tools = openAITools
	}

	return request
}

// adaptOpenAIChoice converts one choice back to the common form, repairing
// near-JSON argument text when necessary.
func adaptOpenAIChoice(model string, choice openAIChoice, usage openAIUsage) (*Response, error) {
	out := &Response{
		Text:       choice.Message.Content,
		StopReason: normalizeOpenAIFinishReason(choice.FinishReason),
		Model:      model,
		Usage: Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}

	for _, call := range choice.Message.ToolCalls {
		args, err := parseToolArguments(call.Function.Arguments)
		if err != nil {
			return nil, errs.New(errs.KindLLMBlocked, "llm",
				fmt.Sprintf("unparsable tool arguments for %s", call.Function.Name), err)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
			RawArgs:   call.Function.Arguments,
		})
	}
	return out, nil
}

func normalizeOpenAIFinishReason(reason string) string {
	switch reason {
	case "tool_calls":
		return StopToolUse
	case "stop", "length", "":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

// parseToolArguments decodes tool-call argument text. Models occasionally
// emit slightly broken JSON (trailing commas, unquoted keys); those are run
// through jsonrepair before giving up.
func parseToolArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args, nil
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *OpenAIProvider) makeRequest(ctx context.Context, request openAIRequest) (*openAIResponse, error) {
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

func (p *OpenAIProvider) attemptRequest(ctx context.Context, request openAIRequest) (*openAIResponse, RetryStrategy, RateLimitInfo, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey())

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return nil, NoRetry, RateLimitInfo{}, errs.New(errs.KindLLMTimeout, "llm", "openai request timed out", err)
		}
		return nil, NoRetry, RateLimitInfo{}, errs.New(errs.KindLLMTimeout, "llm", "openai request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	info := parseOpenAIRateLimitHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		return nil, retryStrategyFor(resp.StatusCode), info, classifyHTTPError("openai", resp.StatusCode, body)
	}

	var response openAIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NoRetry, RateLimitInfo{}, fmt.Errorf("failed to decode openai response: %w", err)
	}
	return &response, NoRetry, info, nil
}

func classifyOpenAIError(e *openAIError) error {
	switch e.Type {
	case "invalid_request_error":
		if strings.Contains(e.Code, "content") {
			return errs.New(errs.KindLLMBlocked, "llm", e.Message, nil)
		}
		return errs.New(errs.KindLLMBlocked, "llm", e.Message, nil)
	case "authentication_error":
		return errs.New(errs.KindLLMAuth, "llm", e.Message, nil)
	case "insufficient_quota", "rate_limit_error":
		return errs.New(errs.KindLLMQuota, "llm", e.Message, nil)
	default:
		return errs.New(errs.KindLLMBlocked, "llm", e.Message, nil)
	}
}
