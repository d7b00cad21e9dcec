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

// Package workflow implements the DAG workflow model and its executor.
package workflow

import (
	"encoding/json"
	"time"
)

// NodeType discriminates workflow node behavior. The executor requires only
// mcp_call; the field is kept open for control-flow node types.
type NodeType string

const (
	// NodeTypeMCPCall invokes one tool on one registered worker.
	NodeTypeMCPCall NodeType = "mcp_call"
)

// Node is one step in a workflow. Params values may be literals or reference
// strings resolved against prior node results at execution time.
type Node struct {
	ID     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Worker string         `json:"worker_name"`
	Tool   string         `json:"tool_name"`
	Params map[string]any `json:"params,omitempty"`
}

// Edge is a dependency: Target runs after Source.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Workflow is a named DAG of tool invocations.
type Workflow struct {
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeStatus is the lifecycle state of one node execution.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeExecution records the outcome of one node.
type NodeExecution struct {
	NodeID    string          `json:"node_id"`
	Status    NodeStatus      `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	EndedAt   time.Time       `json:"ended_at,omitempty"`
}

// Status of a whole workflow run.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result is the final outcome of a workflow run.
type Result struct {
	WorkflowName string                     `json:"workflow_name"`
	Status       string                     `json:"status"`
	Results      map[string]json.RawMessage `json:"results"`
	Errors       []string                   `json:"errors,omitempty"`
	Logs         []string                   `json:"logs,omitempty"`
}
