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

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mcphive/hive/config"
)

// DefaultNetwork is the shared orchestrator to worker network created when
// autodiscovery finds nothing to join.
const DefaultNetwork = "hive-net"

// stopTimeoutSeconds is the grace period before a stop escalates to kill.
const stopTimeoutSeconds = 10

// Manager owns container lifecycle for workers and triggers. Install and
// uninstall are serialized by a single lock; the index files are its durable
// record. Operations never fail for "already in desired state".
type Manager struct {
	cfg    *config.Config
	runner CommandRunner
	logger *slog.Logger

	mu       sync.Mutex
	network  string
	mcps     *resourceIndex
	triggers *resourceIndex
}

// NewManager creates a manager over the given command runner.
func NewManager(cfg *config.Config, runner CommandRunner) *Manager {
	return &Manager{
		cfg:      cfg,
		runner:   runner,
		logger:   slog.Default().With("component", "container"),
		network:  cfg.Network,
		mcps:     newResourceIndex(cfg.InstalledMCPsPath()),
		triggers: newResourceIndex(cfg.InstalledTriggersPath()),
	}
}

func (m *Manager) docker(args ...string) (string, error) {
	out, err := m.runner.RunCommand(append([]string{m.cfg.DockerBinary}, args...)...)
	return strings.TrimSpace(out), err
}

// DiscoverNetwork resolves the shared network at startup. When the
// orchestrator itself runs in a container, new containers join whatever
// network it is attached to so DNS endpoints resolve both ways. Otherwise a
// named network is created if missing.
func (m *Manager) DiscoverNetwork() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discoverNetworkLocked()
}

func (m *Manager) discoverNetworkLocked() (string, error) {
	if m.network != "" {
		return m.network, nil
	}

	if hostname, err := os.Hostname(); err == nil {
		out, err := m.docker("inspect", "-f",
			"{{range $name, $_ := .NetworkSettings.Networks}}{{$name}} {{end}}", hostname)
		if err == nil {
			for _, name := range strings.Fields(out) {
				if name != "bridge" && name != "host" {
					m.logger.Info("Joined orchestrator's own network", "network", name)
					m.network = name
					return name, nil
				}
			}
		}
	}

	if _, err := m.docker("network", "inspect", DefaultNetwork); err != nil {
		if _, err := m.docker("network", "create", DefaultNetwork); err != nil {
			return "", fmt.Errorf("failed to create network %s: %w", DefaultNetwork, err)
		}
		m.logger.Info("Created shared network", "network", DefaultNetwork)
	}
	m.network = DefaultNetwork
	return m.network, nil
}

// ContainerName is the managed name for a resource's container.
func ContainerName(kind, name string) string {
	return fmt.Sprintf("hive-%s-%s", kind, name)
}

// Install builds or pulls the image, starts the container on the shared
// network with the platform environment injected, and records it in the
// index. An existing container with the same name is replaced.
func (m *Manager) Install(spec InstallSpec) (InstalledResource, error) {
	if spec.Kind != KindMCP && spec.Kind != KindTrigger {
		return InstalledResource{}, fmt.Errorf("kind '%s' is not container-backed", spec.Kind)
	}
	if spec.Kind == KindTrigger && (spec.WorkflowID == "") == (spec.TeamID == "") {
		return InstalledResource{}, fmt.Errorf("trigger '%s' requires exactly one of workflow_id or team_id", spec.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	network, err := m.discoverNetworkLocked()
	if err != nil {
		return InstalledResource{}, err
	}

	if spec.BuildContext != "" {
		if out, err := m.docker("build", "-t", spec.Image, spec.BuildContext); err != nil {
			return InstalledResource{}, fmt.Errorf("failed to build image %s: %w: %s", spec.Image, err, out)
		}
	} else {
		if out, err := m.docker("pull", spec.Image); err != nil {
			return InstalledResource{}, fmt.Errorf("failed to pull image %s: %w: %s", spec.Image, err, out)
		}
	}

	cname := ContainerName(spec.Kind, spec.Name)
	// Replace any leftover container from a previous install.
	_, _ = m.docker("rm", "-f", cname)

	args := []string{"run", "-d", "--name", cname, "--restart", "unless-stopped"}
	if spec.HostNetwork {
		args = append(args, "--network", "host")
	} else {
		args = append(args, "--network", network)
	}
	for _, kv := range m.containerEnv(spec) {
		args = append(args, "-e", kv)
	}
	args = append(args, spec.Image)

	containerID, err := m.docker(args...)
	if err != nil {
		return InstalledResource{}, fmt.Errorf("failed to start container %s: %w: %s", cname, err, containerID)
	}

	resource := InstalledResource{
		Kind:         spec.Kind,
		Name:         spec.Name,
		Version:      spec.Version,
		ContainerID:  containerID,
		Endpoint:     m.endpointFor(spec, cname),
		EnvOverrides: spec.Env,
		InstalledAt:  time.Now(),
	}
	if err := m.indexFor(spec.Kind).put(resource); err != nil {
		return InstalledResource{}, err
	}
	m.logger.Info("Installed container", "kind", spec.Kind, "name", spec.Name, "container", containerID)
	return resource, nil
}

// Uninstall stops (10 s grace, then kill) and removes the container and its
// index entry. A container already gone is not an error.
func (m *Manager) Uninstall(kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uninstallLocked(kind, name)
}

func (m *Manager) uninstallLocked(kind, name string) error {
	cname := ContainerName(kind, name)

	if out, err := m.docker("stop", "-t", fmt.Sprintf("%d", stopTimeoutSeconds), cname); err != nil && !isNoSuchContainer(out) {
		m.logger.Warn("Stop failed, forcing removal", "container", cname, "error", err)
	}
	if out, err := m.docker("rm", "-f", cname); err != nil && !isNoSuchContainer(out) {
		return fmt.Errorf("failed to remove container %s: %w: %s", cname, err, out)
	}
	return m.indexFor(kind).remove(name)
}

// Update replaces a resource's container with a new spec. There is no
// rollback: once the old container is removed, a failing install leaves the
// resource gone and the error tells the caller so.
func (m *Manager) Update(kind, name string, spec InstallSpec) (InstalledResource, error) {
	if err := m.Uninstall(kind, name); err != nil {
		return InstalledResource{}, err
	}
	resource, err := m.Install(spec)
	if err != nil {
		return InstalledResource{}, fmt.Errorf("update removed '%s' but the new install failed: %w", name, err)
	}
	return resource, nil
}

// Start starts a stopped container.
func (m *Manager) Start(name string) error {
	resource, err := m.find(name)
	if err != nil {
		return err
	}
	out, err := m.docker("start", ContainerName(resource.Kind, resource.Name))
	if err != nil {
		return fmt.Errorf("failed to start %s: %w: %s", name, err, out)
	}
	return nil
}

// Stop stops a running container with the standard grace period.
func (m *Manager) Stop(name string) error {
	resource, err := m.find(name)
	if err != nil {
		return err
	}
	out, err := m.docker("stop", "-t", fmt.Sprintf("%d", stopTimeoutSeconds), ContainerName(resource.Kind, resource.Name))
	if err != nil && !isNoSuchContainer(out) {
		return fmt.Errorf("failed to stop %s: %w: %s", name, err, out)
	}
	return nil
}

// Restart restarts a container.
func (m *Manager) Restart(name string) error {
	resource, err := m.find(name)
	if err != nil {
		return err
	}
	out, err := m.docker("restart", ContainerName(resource.Kind, resource.Name))
	if err != nil {
		return fmt.Errorf("failed to restart %s: %w: %s", name, err, out)
	}
	return nil
}

// Status reports a managed container's observed state.
func (m *Manager) Status(name string) (Status, error) {
	resource, err := m.find(name)
	if err != nil {
		return Status{}, err
	}

	state, inspectErr := m.docker("inspect", "-f", "{{.State.Status}}", ContainerName(resource.Kind, resource.Name))
	if inspectErr != nil {
		state = "missing"
	}
	return Status{
		Name:        resource.Name,
		Kind:        resource.Kind,
		ContainerID: resource.ContainerID,
		State:       state,
	}, nil
}

// List returns all installed resources from both indexes, sorted by name.
func (m *Manager) List() ([]InstalledResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mcps, err := m.mcps.load()
	if err != nil {
		return nil, err
	}
	triggers, err := m.triggers.load()
	if err != nil {
		return nil, err
	}

	out := append(mcps, triggers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// containerEnv assembles the platform-injected environment: orchestrator
// base URLs, the trigger's target id, and the package-declared variables.
// Sorted for deterministic command lines.
func (m *Manager) containerEnv(spec InstallSpec) []string {
	env := map[string]string{
		"ORCHESTRATOR_URL": m.cfg.OrchestratorURL,
		"ORCHESTRATOR_WS":  m.cfg.OrchestratorWS,
	}
	if spec.WorkflowID != "" {
		env["WORKFLOW_ID"] = spec.WorkflowID
	}
	if spec.TeamID != "" {
		env["TEAM_ID"] = spec.TeamID
	}
	for k, v := range spec.Env {
		env[k] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func (m *Manager) endpointFor(spec InstallSpec, cname string) string {
	if spec.Port == 0 {
		return ""
	}
	if spec.HostNetwork {
		return fmt.Sprintf("http://localhost:%d", spec.Port)
	}
	return fmt.Sprintf("http://%s:%d", cname, spec.Port)
}

func (m *Manager) indexFor(kind string) *resourceIndex {
	if kind == KindTrigger {
		return m.triggers
	}
	return m.mcps
}

// find locates a resource by name across both indexes.
func (m *Manager) find(name string) (InstalledResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, idx := range []*resourceIndex{m.mcps, m.triggers} {
		resource, ok, err := idx.get(name)
		if err != nil {
			return InstalledResource{}, err
		}
		if ok {
			return resource, nil
		}
	}
	return InstalledResource{}, fmt.Errorf("resource '%s' is not installed", name)
}

func isNoSuchContainer(out string) bool {
	return strings.Contains(strings.ToLower(out), "no such container")
}
