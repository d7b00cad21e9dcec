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

package container

import "time"

// Container-backed resource kinds.
const (
	KindMCP     = "mcp"
	KindTrigger = "trigger"
)

// InstallSpec describes one container to bring up.
type InstallSpec struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Version string `json:"version"`

	// Image is pulled unless BuildContext points at a local build directory.
	Image        string `json:"image"`
	BuildContext string `json:"build_context,omitempty"`

	Port int `json:"port"`

	// HostNetwork attaches the container to the host network for workers
	// needing raw sockets. Its endpoint is then localhost:<port>.
	HostNetwork bool `json:"host_network,omitempty"`

	// Env carries the package-declared user variables.
	Env map[string]string `json:"env,omitempty"`

	// Exactly one of WorkflowID or TeamID must be set for triggers.
	WorkflowID string `json:"workflow_id,omitempty"`
	TeamID     string `json:"team_id,omitempty"`
}

// InstalledResource is one index entry for a running container.
type InstalledResource struct {
	Kind         string            `json:"kind"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	ContainerID  string            `json:"container_id"`
	Endpoint     string            `json:"endpoint,omitempty"`
	EnvOverrides map[string]string `json:"env_overrides,omitempty"`
	InstalledAt  time.Time         `json:"installed_at"`
}

// Status is one container's observed state.
type Status struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	ContainerID string `json:"container_id"`
	State       string `json:"state"`
}
