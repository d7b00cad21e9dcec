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

// Package session owns streaming execution sessions: the event model sent to
// clients, the per-run execution context, and the broker that relays events
// over one bidirectional connection.
package session

// Event is one streaming message to the client, discriminated by Type.
// Fields are optional per type; consumers must ignore unknown fields.
type Event struct {
	Type string `json:"type"`

	// execution_started
	ExecutionID string `json:"execution_id,omitempty"`

	// status, error
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`

	// node_state
	NodeID string `json:"node_id,omitempty"`
	Status string `json:"status,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// agent_iteration
	Iteration     int         `json:"iteration,omitempty"`
	MaxIterations int         `json:"max_iterations,omitempty"`
	StopReason    string      `json:"stop_reason,omitempty"`
	TokenUsage    *TokenUsage `json:"token_usage,omitempty"`
	Model         string      `json:"model,omitempty"`
	ToolsUsed     []ToolUse   `json:"tools_used,omitempty"`

	// tool_execution
	Worker  string `json:"worker,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Summary string `json:"summary,omitempty"`

	// agent_complete
	FinalText string `json:"final_text,omitempty"`
	Flag      string `json:"flag,omitempty"`

	// Team annotation: the emitting agent and a stable color index so
	// downstream consumers can color-code without coordination. Color has no
	// omitempty: index 0 is a valid slot and must survive serialization.
	Agent string `json:"agent,omitempty"`
	Color int    `json:"color"`
}

// TokenUsage reports provider token consumption for one iteration.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ToolUse names one tool call requested in an agent iteration.
type ToolUse struct {
	Name    string `json:"name"`
	Summary string `json:"summary,omitempty"`
}

// Event type discriminators.
const (
	EventExecutionStarted = "execution_started"
	EventStatus           = "status"
	EventNodeState        = "node_state"
	EventAgentIteration   = "agent_iteration"
	EventToolExecution    = "tool_execution"
	EventAgentComplete    = "agent_complete"
	EventComplete         = "complete"
	EventCancelled        = "cancelled"
	EventError            = "error"
)

// IsTerminal reports whether the event ends the session stream.
func (e Event) IsTerminal() bool {
	switch e.Type {
	case EventComplete, EventCancelled, EventError:
		return true
	}
	return false
}

// NewExecutionStarted announces a fresh run.
func NewExecutionStarted(executionID string) Event {
	return Event{Type: EventExecutionStarted, ExecutionID: executionID}
}

// NewStatus carries a human-readable progress message.
func NewStatus(message string) Event {
	return Event{Type: EventStatus, Message: message}
}

// NewNodeState reports a workflow node transition.
func NewNodeState(nodeID, status string, result any, errMsg string) Event {
	return Event{Type: EventNodeState, NodeID: nodeID, Status: status, Result: result, Error: errMsg}
}

// NewAgentIteration reports one turn of the agent loop.
func NewAgentIteration(iteration, maxIterations int, stopReason string, usage TokenUsage, model string, toolsUsed []ToolUse) Event {
	return Event{
		Type:          EventAgentIteration,
		Iteration:     iteration,
		MaxIterations: maxIterations,
		StopReason:    stopReason,
		TokenUsage:    &usage,
		Model:         model,
		ToolsUsed:     toolsUsed,
	}
}

// NewToolExecution reports one worker tool call made on the agent's behalf.
func NewToolExecution(workerName, tool, summary string) Event {
	return Event{Type: EventToolExecution, Worker: workerName, Tool: tool, Summary: summary}
}

// NewAgentComplete reports the agent's final text. flag is empty for a clean
// finish, or an error kind such as max_iterations_exceeded.
func NewAgentComplete(finalText, flag string) Event {
	return Event{Type: EventAgentComplete, FinalText: finalText, Flag: flag}
}

// NewComplete is the terminal event of a successful run.
func NewComplete(result any) Event {
	return Event{Type: EventComplete, Result: result}
}

// NewCancelled is the terminal event of a cancelled run.
func NewCancelled() Event {
	return Event{Type: EventCancelled}
}

// NewError is the terminal event of a failed run. The message must already
// be sanitized for client consumption.
func NewError(message, kind string) Event {
	return Event{Type: EventError, Message: message, Kind: kind}
}
