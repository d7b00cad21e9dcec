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

// Package team orchestrates several agent runtimes under a routing policy
// and aggregates their replies into one combined transcript.
package team

import "fmt"

// Routing policies.
const (
	RoutingSingle     = "single"
	RoutingSequential = "sequential"
	RoutingBroadcast  = "broadcast"
)

// AgentRef names one member agent and its role within the team.
type AgentRef struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role,omitempty"`

	// SystemPromptPrefix is prepended to the member's own system prompt for
	// runs under this team.
	SystemPromptPrefix string `json:"system_prompt_prefix,omitempty"`
}

// Definition is one installed team configuration.
type Definition struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	Description   string     `json:"description,omitempty"`
	Agents        []AgentRef `json:"agents"`
	Routing       string     `json:"routing"`
	MaxIterations int        `json:"max_iterations,omitempty"`
}

// Validate checks the definition's internal consistency.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("team definition missing id")
	}
	if len(d.Agents) == 0 {
		return fmt.Errorf("team '%s' has no agents", d.ID)
	}
	switch d.Routing {
	case RoutingSingle, RoutingSequential, RoutingBroadcast:
	default:
		return fmt.Errorf("team '%s' has unknown routing policy '%s'", d.ID, d.Routing)
	}
	seen := make(map[string]bool, len(d.Agents))
	for _, ref := range d.Agents {
		if ref.AgentID == "" {
			return fmt.Errorf("team '%s' has an agent reference without agent_id", d.ID)
		}
		if seen[ref.AgentID] {
			return fmt.Errorf("team '%s' references agent '%s' twice", d.ID, ref.AgentID)
		}
		seen[ref.AgentID] = true
	}
	return nil
}
