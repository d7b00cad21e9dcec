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

// Package installer fetches signed packages from the remote catalog,
// verifies them against the trusted publisher keyring, and installs them to
// disk or hands them to the container manager. It is the only path by which
// resources become available.
package installer

import "time"

// Package kinds.
const (
	KindAgent   = "agent"
	KindMCP     = "mcp"
	KindTeam    = "team"
	KindTrigger = "trigger"
)

// Metadata is the catalog's signed description of one package version.
type Metadata struct {
	PublisherID string    `json:"publisher_id"`
	SHA256      string    `json:"sha256"`
	MD5         string    `json:"md5,omitempty"`
	PublishedAt time.Time `json:"published_at"`

	// Dependencies lists the exact-version agent and mcp packages a team
	// requires. Only teams declare dependencies.
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// Dependency pins one required package at an exact version.
type Dependency struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Publisher is one keypair-owning identity in the local keyring.
type Publisher struct {
	ID      string `json:"id"`
	Trusted bool   `json:"trusted"`
}

// MCPPayload is the configuration payload of an mcp or trigger package.
type MCPPayload struct {
	Name         string            `json:"name" mapstructure:"name"`
	Description  string            `json:"description,omitempty" mapstructure:"description"`
	Image        string            `json:"image" mapstructure:"image"`
	BuildContext string            `json:"build_context,omitempty" mapstructure:"build_context"`
	Port         int               `json:"port" mapstructure:"port"`
	HostNetwork  bool              `json:"host_network,omitempty" mapstructure:"host_network"`
	Env          map[string]string `json:"env,omitempty" mapstructure:"env"`
}

// InstallOptions carries per-install user input. Triggers require exactly
// one of WorkflowID or TeamID.
type InstallOptions struct {
	WorkflowID string            `json:"workflow_id,omitempty"`
	TeamID     string            `json:"team_id,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
}

// Installed reports one successful installation.
type Installed struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	ContainerID string `json:"container_id,omitempty"`
}
