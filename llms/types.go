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

// Package llms implements LLM provider adapters. The rest of the runtime is
// format-independent: it speaks the Message/ToolCall types below, and each
// adapter converts to and from its provider's wire format at the edges.
package llms

import "context"

// Message roles in the common representation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversational turn. Strictly append-only within a run.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool-result turns
}

// ToolCall is the model's request to invoke a tool. RawArgs preserves the
// provider's argument text for repair when it is not quite valid JSON.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	RawArgs   string         `json:"-"`
}

// ToolDefinition is one entry of the tool catalog offered to the model.
// Parameters carries JSON Schema; adapters only change the wrapper shape.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Normalized stop reasons. Adapters map provider-specific values onto these.
const (
	StopEndTurn = "end_turn"
	StopToolUse = "tool_use"
)

// Usage is provider token accounting for one generation.
type Usage struct {
	InputTokens  int `json:"input"`
	OutputTokens int `json:"output"`
}

// Response is one adapted model generation.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
	Model      string
}

// Provider generates model responses for a conversation plus tool catalog.
type Provider interface {
	// Generate sends the system prompt, transcript and tools to the model and
	// returns the adapted response.
	Generate(ctx context.Context, system string, messages []Message, tools []ToolDefinition) (*Response, error)

	// ModelName returns the provider's configured model identifier.
	ModelName() string

	Close() error
}
