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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Supported model wire drivers.
const (
	DriverAnthropic = "anthropic"
	DriverOpenAI    = "openai"
)

// ModelConfig describes one configured LLM model. The API key is referenced
// by environment variable name only and never persisted.
type ModelConfig struct {
	ID          string  `yaml:"id" json:"id"`
	Driver      string  `yaml:"driver" json:"driver"` // "anthropic" or "openai"
	Model       string  `yaml:"model" json:"model"`
	Host        string  `yaml:"host,omitempty" json:"host,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env" json:"api_key_env"`
	Temperature float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Timeout     int     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	IsDefault   bool    `yaml:"is_default,omitempty" json:"is_default"`
}

// APIKey resolves the model's API key from the environment.
func (m *ModelConfig) APIKey() string {
	if m.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(m.APIKeyEnv)
}

// ModelRegistry manages the model configuration file with read-copy-update
// semantics: readers snapshot the current list, writers swap the whole list
// under the lock and persist before returning.
type ModelRegistry struct {
	mu     sync.RWMutex
	path   string
	models []ModelConfig
}

type modelsFile struct {
	Models []ModelConfig `yaml:"models"`
}

// NewModelRegistry loads the registry from the given YAML file. A missing
// file yields an empty registry; the file is created on first write.
func NewModelRegistry(path string) (*ModelRegistry, error) {
	r := &ModelRegistry{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read models config: %w", err)
	}

	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse models config: %w", err)
	}
	r.models = f.Models
	return r, nil
}

// List returns a snapshot of all models.
func (r *ModelRegistry) List() []ModelConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelConfig, len(r.models))
	copy(out, r.models)
	return out
}

// Get returns the model with the given id.
func (r *ModelRegistry) Get(id string) (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Default returns the default model, if one is set.
func (r *ModelRegistry) Default() (ModelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.models {
		if m.IsDefault {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Create adds a new model and persists.
func (r *ModelRegistry) Create(m ModelConfig) error {
	if m.ID == "" {
		return fmt.Errorf("model id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.models {
		if existing.ID == m.ID {
			return fmt.Errorf("model '%s' already exists", m.ID)
		}
	}

	// First model becomes the default so agents are runnable out of the box.
	if len(r.models) == 0 {
		m.IsDefault = true
	} else if m.IsDefault {
		return fmt.Errorf("use set-default to change the default model")
	}

	next := append(append([]ModelConfig{}, r.models...), m)
	return r.swap(next)
}

// Update replaces the model with the given id and persists. The is_default
// flag cannot be changed through Update; use SetDefault.
func (r *ModelRegistry) Update(id string, m ModelConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]ModelConfig, len(r.models))
	copy(next, r.models)

	for i, existing := range next {
		if existing.ID == id {
			m.ID = id
			m.IsDefault = existing.IsDefault
			next[i] = m
			return r.swap(next)
		}
	}
	return fmt.Errorf("model '%s' not found", id)
}

// Delete removes a model. Deleting the default model is refused so that the
// default-model invariant (zero or one default) stays decidable for callers.
func (r *ModelRegistry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.models {
		if m.ID != id {
			continue
		}
		if m.IsDefault {
			return fmt.Errorf("cannot delete default model '%s'", id)
		}
		next := make([]ModelConfig, 0, len(r.models)-1)
		next = append(next, r.models[:i]...)
		next = append(next, r.models[i+1:]...)
		return r.swap(next)
	}
	return fmt.Errorf("model '%s' not found", id)
}

// SetDefault marks the given model as default. The whole list is rewritten
// under the lock so no observer ever sees two defaults.
func (r *ModelRegistry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	next := make([]ModelConfig, len(r.models))
	for i, m := range r.models {
		m.IsDefault = m.ID == id
		if m.IsDefault {
			found = true
		}
		next[i] = m
	}
	if !found {
		return fmt.Errorf("model '%s' not found", id)
	}
	return r.swap(next)
}

// swap persists the new list and installs it. Callers hold the write lock.
func (r *ModelRegistry) swap(next []ModelConfig) error {
	data, err := yaml.Marshal(modelsFile{Models: next})
	if err != nil {
		return fmt.Errorf("failed to marshal models config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write models config: %w", err)
	}
	r.models = next
	return nil
}
