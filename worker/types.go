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

// Package worker provides the client and registry for MCP workers: HTTP
// services that advertise tools via list_tools and execute them via call_tool.
package worker

import (
	"encoding/json"
	"time"
)

// ToolSchema describes one tool a worker offers. InputSchema is the
// JSON-Schema-shaped argument contract, passed through verbatim.
type ToolSchema struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description" yaml:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty" yaml:"-"`
}

// Worker is a registered MCP worker and its cached tool schemas.
type Worker struct {
	Name          string       `json:"name" yaml:"name"`
	Endpoint      string       `json:"endpoint" yaml:"endpoint"`
	Description   string       `json:"description,omitempty" yaml:"description,omitempty"`
	Tools         []ToolSchema `json:"tools,omitempty" yaml:"-"`
	LastHealthyAt time.Time    `json:"last_healthy_at,omitempty" yaml:"-"`
}
