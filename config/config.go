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

	"gopkg.in/yaml.v3"
)

// Default timeouts, in seconds. Worker calls get a long budget because real
// tools include vulnerability scans that legitimately run for minutes.
const (
	DefaultWorkerTimeout = 600
	DefaultLLMTimeout    = 120
	DefaultMaxIterations = 10
)

// Config is the top-level orchestrator configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DataDir is the install root: all durable state (registry payloads,
	// definitions, indexes) lives under it as plain files.
	DataDir string `yaml:"data_dir"`

	// CatalogURL is the base URL of the remote signed-package catalog.
	CatalogURL string `yaml:"catalog_url"`

	// OrchestratorURL and OrchestratorWS are the HTTP and streaming base URLs
	// injected into every managed container, as reachable from the shared
	// container network.
	OrchestratorURL string `yaml:"orchestrator_url"`
	OrchestratorWS  string `yaml:"orchestrator_ws"`

	// DockerBinary overrides the container runtime binary (default "docker").
	DockerBinary string `yaml:"docker_binary"`

	// Network overrides shared-network autodiscovery.
	Network string `yaml:"network"`

	WorkerTimeout int `yaml:"worker_timeout"`
	LLMTimeout    int `yaml:"llm_timeout"`
}

// SetDefaults fills in zero values.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.DockerBinary == "" {
		c.DockerBinary = "docker"
	}
	if c.WorkerTimeout == 0 {
		c.WorkerTimeout = DefaultWorkerTimeout
	}
	if c.LLMTimeout == 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
	if c.OrchestratorURL == "" {
		c.OrchestratorURL = fmt.Sprintf("http://orchestrator:%d", c.Port)
	}
	if c.OrchestratorWS == "" {
		c.OrchestratorWS = fmt.Sprintf("ws://orchestrator:%d", c.Port)
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.WorkerTimeout <= 0 {
		return fmt.Errorf("worker_timeout must be positive, got %d", c.WorkerTimeout)
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("llm_timeout must be positive, got %d", c.LLMTimeout)
	}
	return nil
}

// Load reads a YAML config file, expands environment references in its
// values, and applies defaults. A missing path yields the default config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				cfg.SetDefaults()
				return cfg, nil
			}
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		expanded := ExpandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Filesystem layout under DataDir. No database: everything durable is a file.

// WorkersCatalogPath is the on-disk worker catalog loaded at startup.
func (c *Config) WorkersCatalogPath() string {
	return filepath.Join(c.DataDir, "workers.yaml")
}

// AgentDefinitionsDir holds installed agent definitions.
func (c *Config) AgentDefinitionsDir() string {
	return filepath.Join(c.DataDir, "agent-definitions")
}

// TeamDefinitionsDir holds installed team definitions.
func (c *Config) TeamDefinitionsDir() string {
	return filepath.Join(c.DataDir, "agent-teams")
}

// UserWorkflowsDir holds workflows saved from the UI.
func (c *Config) UserWorkflowsDir() string {
	return filepath.Join(c.DataDir, "workflows", "user")
}

// ModelsConfigPath is the model configuration file. API keys never live in
// it; they are resolved from environment variables at call time.
func (c *Config) ModelsConfigPath() string {
	return filepath.Join(c.DataDir, "configs", "models.yaml")
}

// RegistryDir holds installed package payloads ({kind}/{name}/{version}/...).
func (c *Config) RegistryDir() string {
	return filepath.Join(c.DataDir, "registry")
}

// PublishersDir holds trusted publisher keys (publishers/{id}/pubkey.asc).
func (c *Config) PublishersDir() string {
	return filepath.Join(c.RegistryDir(), "publishers")
}

// InstalledMCPsPath is the container index for installed workers.
func (c *Config) InstalledMCPsPath() string {
	return filepath.Join(c.DataDir, "installed-mcps.json")
}

// InstalledTriggersPath is the container index for installed triggers.
func (c *Config) InstalledTriggersPath() string {
	return filepath.Join(c.DataDir, "installed-triggers.json")
}
