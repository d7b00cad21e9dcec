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

// Package agent implements the autonomous agent runtime: a configured LLM
// driven in a tool-use loop against the workers in its scope.
package agent

import (
	"fmt"

	"github.com/mcphive/hive/config"
)

// Definition is one installed agent configuration.
type Definition struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt"`
	ModelID      string `json:"model_id,omitempty"`
	// ModelDriver, when set, overrides the wire driver of the resolved model.
	ModelDriver   string   `json:"model_driver,omitempty"`
	Temperature   float64  `json:"temperature,omitempty"`
	MaxTokens     int      `json:"max_tokens,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
	ToolScope     []string `json:"tool_scope,omitempty"`
}

// Validate checks the definition's internal consistency.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("agent definition missing id")
	}
	if d.MaxIterations < 0 {
		return fmt.Errorf("agent '%s': max_iterations must be at least 1", d.ID)
	}
	return nil
}

// EffectiveMaxIterations returns the iteration budget, applying the default.
func (d *Definition) EffectiveMaxIterations() int {
	if d.MaxIterations >= 1 {
		return d.MaxIterations
	}
	return config.DefaultMaxIterations
}
