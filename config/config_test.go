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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HIVE_TEST_HOST", "example.com")

	assert.Equal(t, "example.com", ExpandEnvVars("${HIVE_TEST_HOST}"))
	assert.Equal(t, "example.com", ExpandEnvVars("${HIVE_TEST_UNSET:-example.com}"))
	assert.Equal(t, "", ExpandEnvVars("${HIVE_TEST_UNSET}"))
	assert.Equal(t, "host: example.com port: 9000",
		ExpandEnvVars("host: ${HIVE_TEST_HOST} port: ${HIVE_TEST_PORT:-9000}"))
	assert.Equal(t, "plain text", ExpandEnvVars("plain text"))
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "docker", cfg.DockerBinary)
	assert.Equal(t, DefaultWorkerTimeout, cfg.WorkerTimeout)
	assert.Equal(t, DefaultLLMTimeout, cfg.LLMTimeout)
	assert.NotEmpty(t, cfg.OrchestratorURL)
	assert.NotEmpty(t, cfg.OrchestratorWS)
}

func TestLoadExpandsEnvInFile(t *testing.T) {
	t.Setenv("HIVE_TEST_CATALOG", "https://catalog.example.com")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"port: 9090\ncatalog_url: ${HIVE_TEST_CATALOG}\ndata_dir: ${HIVE_TEST_DATA:-/tmp/hive}\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://catalog.example.com", cfg.CatalogURL)
	assert.Equal(t, "/tmp/hive", cfg.DataDir)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())

	bad := &Config{Port: -1, WorkerTimeout: 1, LLMTimeout: 1}
	assert.Error(t, bad.Validate())
}

func TestPathsLayout(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	assert.Equal(t, "/data/workers.yaml", cfg.WorkersCatalogPath())
	assert.Equal(t, "/data/agent-definitions", cfg.AgentDefinitionsDir())
	assert.Equal(t, "/data/agent-teams", cfg.TeamDefinitionsDir())
	assert.Equal(t, filepath.Join("/data", "workflows", "user"), cfg.UserWorkflowsDir())
	assert.Equal(t, filepath.Join("/data", "configs", "models.yaml"), cfg.ModelsConfigPath())
	assert.Equal(t, filepath.Join("/data", "registry", "publishers"), cfg.PublishersDir())
	assert.Equal(t, "/data/installed-mcps.json", cfg.InstalledMCPsPath())
	assert.Equal(t, "/data/installed-triggers.json", cfg.InstalledTriggersPath())
}
