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

func testRegistry(t *testing.T) (*ModelRegistry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	r, err := NewModelRegistry(path)
	require.NoError(t, err)
	return r, path
}

func TestCreateFirstModelBecomesDefault(t *testing.T) {
	r, path := testRegistry(t)

	require.NoError(t, r.Create(ModelConfig{ID: "claude", Driver: DriverAnthropic, Model: "claude-x", APIKeyEnv: "K"}))
	def, ok := r.Default()
	require.True(t, ok)
	assert.Equal(t, "claude", def.ID)

	require.NoError(t, r.Create(ModelConfig{ID: "gpt", Driver: DriverOpenAI, Model: "gpt-x", APIKeyEnv: "K"}))
	def, _ = r.Default()
	assert.Equal(t, "claude", def.ID, "second model does not steal the default")

	// The file persisted; a fresh registry sees the same state.
	reloaded, err := NewModelRegistry(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.List(), 2)
	def, ok = reloaded.Default()
	require.True(t, ok)
	assert.Equal(t, "claude", def.ID)
}

func TestCreateRejectsDuplicatesAndDirectDefault(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Create(ModelConfig{ID: "a"}))

	assert.Error(t, r.Create(ModelConfig{ID: "a"}))
	assert.Error(t, r.Create(ModelConfig{ID: ""}))
	assert.Error(t, r.Create(ModelConfig{ID: "b", IsDefault: true}),
		"is_default is managed through SetDefault only")
}

func TestSetDefaultIsExclusive(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Create(ModelConfig{ID: "a"}))
	require.NoError(t, r.Create(ModelConfig{ID: "b"}))
	require.NoError(t, r.Create(ModelConfig{ID: "c"}))

	require.NoError(t, r.SetDefault("b"))

	defaults := 0
	for _, m := range r.List() {
		if m.IsDefault {
			defaults++
			assert.Equal(t, "b", m.ID)
		}
	}
	assert.Equal(t, 1, defaults, "exactly one default at any observable moment")

	assert.Error(t, r.SetDefault("ghost"))
}

func TestUpdateCannotChangeDefaultFlag(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Create(ModelConfig{ID: "a", Model: "v1"}))

	require.NoError(t, r.Update("a", ModelConfig{Model: "v2", IsDefault: false}))
	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Model)
	assert.True(t, got.IsDefault, "default flag survives updates")

	assert.Error(t, r.Update("ghost", ModelConfig{}))
}

func TestDeleteDefaultRefused(t *testing.T) {
	r, _ := testRegistry(t)
	require.NoError(t, r.Create(ModelConfig{ID: "a"}))
	require.NoError(t, r.Create(ModelConfig{ID: "b"}))

	assert.Error(t, r.Delete("a"), "a is the default")
	require.NoError(t, r.Delete("b"))
	assert.Error(t, r.Delete("ghost"))

	assert.Len(t, r.List(), 1)
}

func TestAPIKeyComesFromEnvironmentOnly(t *testing.T) {
	t.Setenv("HIVE_TEST_API_KEY", "sk-secret")

	m := ModelConfig{ID: "a", APIKeyEnv: "HIVE_TEST_API_KEY"}
	assert.Equal(t, "sk-secret", m.APIKey())

	none := ModelConfig{ID: "b"}
	assert.Empty(t, none.APIKey())
}

func TestModelsFileNeverContainsKeys(t *testing.T) {
	r, path := testRegistry(t)
	t.Setenv("HIVE_TEST_API_KEY", "sk-secret")
	require.NoError(t, r.Create(ModelConfig{ID: "a", APIKeyEnv: "HIVE_TEST_API_KEY"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), "HIVE_TEST_API_KEY")
}
