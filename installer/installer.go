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

package installer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/crypto/openpgp"

	"github.com/mcphive/hive/config"
	"github.com/mcphive/hive/container"
	"github.com/mcphive/hive/errs"
	"github.com/mcphive/hive/worker"
)

// fetchTimeout bounds one catalog file download.
const fetchTimeout = 60 * time.Second

// Installer verifies and installs packages. Installs are serialized by a
// single lock; the filesystem layout under the registry dir mirrors the
// catalog's {kind}/{name}/{version}/ structure.
type Installer struct {
	cfg        *config.Config
	keyring    *Keyring
	containers *container.Manager
	workers    *worker.Registry
	client     *http.Client
	logger     *slog.Logger

	mu sync.Mutex
}

// New creates an installer wired to the container manager and worker
// registry it updates on successful mcp installs.
func New(cfg *config.Config, containers *container.Manager, workers *worker.Registry) *Installer {
	return &Installer{
		cfg:        cfg,
		keyring:    NewKeyring(cfg.PublishersDir()),
		containers: containers,
		workers:    workers,
		client:     &http.Client{Timeout: fetchTimeout},
		logger:     slog.Default().With("component", "installer"),
	}
}

// Keyring exposes the trusted publisher keyring.
func (ins *Installer) Keyring() *Keyring {
	return ins.keyring
}

// Install fetches, verifies and installs one package. For teams, every
// declared dependency is installed first; the first failure in the tree
// halts the whole install.
func (ins *Installer) Install(ctx context.Context, kind, name, version string, opts InstallOptions) (*Installed, error) {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.installLocked(ctx, kind, name, version, opts)
}

func (ins *Installer) installLocked(ctx context.Context, kind, name, version string, opts InstallOptions) (*Installed, error) {
	switch kind {
	case KindAgent, KindMCP, KindTeam, KindTrigger:
	default:
		return nil, errs.New(errs.KindInternal, "installer", fmt.Sprintf("unknown package kind '%s'", kind), nil)
	}
	if kind == KindTrigger && (opts.WorkflowID == "") == (opts.TeamID == "") {
		return nil, errs.New(errs.KindInternal, "installer",
			"trigger install requires exactly one of workflow_id or team_id", nil)
	}

	payload, signature, metadata, err := ins.fetchPackage(ctx, kind, name, version)
	if err != nil {
		return nil, err
	}

	if err := ins.verify(payload, signature, metadata); err != nil {
		return nil, err
	}

	// Teams pull in their whole dependency tree before the team file lands.
	if kind == KindTeam {
		for _, dep := range metadata.Dependencies {
			if _, err := ins.installLocked(ctx, dep.Kind, dep.Name, dep.Version, InstallOptions{}); err != nil {
				return nil, fmt.Errorf("team '%s' dependency %s/%s@%s failed: %w",
					name, dep.Kind, dep.Name, dep.Version, err)
			}
		}
	}

	// Verification passed; only now does anything touch the filesystem.
	if err := ins.persist(kind, name, version, payload, signature, metadata); err != nil {
		return nil, err
	}

	installed := &Installed{Kind: kind, Name: name, Version: version}
	switch kind {
	case KindAgent:
		if err := ins.installDefinition(ins.cfg.AgentDefinitionsDir(), name, payload); err != nil {
			return nil, err
		}
	case KindTeam:
		if err := ins.installDefinition(ins.cfg.TeamDefinitionsDir(), name, payload); err != nil {
			return nil, err
		}
	case KindMCP, KindTrigger:
		resource, err := ins.installContainer(ctx, kind, name, version, payload, opts)
		if err != nil {
			return nil, err
		}
		installed.ContainerID = resource.ContainerID
	}

	ins.logger.Info("Installed package", "kind", kind, "name", name, "version", version)
	return installed, nil
}

// Uninstall removes an installed package: its registry payload, its
// definition file or container, and for mcps its worker registration.
func (ins *Installer) Uninstall(kind, name string) error {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	switch kind {
	case KindAgent:
		if err := removeIfPresent(filepath.Join(ins.cfg.AgentDefinitionsDir(), name+".json")); err != nil {
			return err
		}
	case KindTeam:
		if err := removeIfPresent(filepath.Join(ins.cfg.TeamDefinitionsDir(), name+".json")); err != nil {
			return err
		}
	case KindMCP:
		if err := ins.containers.Uninstall(container.KindMCP, name); err != nil {
			return err
		}
		if err := ins.workers.Unregister(name); err != nil {
			ins.logger.Warn("Worker was not registered at uninstall", "worker", name, "error", err)
		}
	case KindTrigger:
		if err := ins.containers.Uninstall(container.KindTrigger, name); err != nil {
			return err
		}
	default:
		return errs.New(errs.KindInternal, "installer", fmt.Sprintf("unknown package kind '%s'", kind), nil)
	}

	return os.RemoveAll(filepath.Join(ins.cfg.RegistryDir(), kind, name))
}

// FetchCatalog returns the remote catalog's combined view verbatim.
func (ins *Installer) FetchCatalog(ctx context.Context) (json.RawMessage, error) {
	data, err := ins.fetch(ctx, "catalog.json")
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, errs.New(errs.KindInternal, "installer", "catalog response is not valid JSON", nil)
	}
	return json.RawMessage(data), nil
}

// fetchPackage downloads the package's three files: payload, detached
// signature, metadata.
func (ins *Installer) fetchPackage(ctx context.Context, kind, name, version string) ([]byte, []byte, *Metadata, error) {
	base := strings.Join([]string{kind, name, version}, "/")
	payloadName := kind + ".json"

	payload, err := ins.fetch(ctx, base+"/"+payloadName)
	if err != nil {
		return nil, nil, nil, err
	}
	signature, err := ins.fetch(ctx, base+"/"+payloadName+".asc")
	if err != nil {
		return nil, nil, nil, err
	}
	rawMetadata, err := ins.fetch(ctx, base+"/metadata.json")
	if err != nil {
		return nil, nil, nil, err
	}

	var metadata Metadata
	if err := json.Unmarshal(rawMetadata, &metadata); err != nil {
		return nil, nil, nil, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("invalid metadata for %s/%s@%s", kind, name, version), err)
	}
	return payload, signature, &metadata, nil
}

func (ins *Installer) fetch(ctx context.Context, path string) ([]byte, error) {
	url := strings.TrimSuffix(ins.cfg.CatalogURL, "/") + "/" + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "installer", "failed to create catalog request", err)
	}

	resp, err := ins.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("catalog fetch of %s failed", path), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("catalog returned status %d for %s", resp.StatusCode, path), nil)
	}
	return io.ReadAll(resp.Body)
}

// verify enforces the trust model: trusted publisher, valid detached
// signature, matching sha256. Each failure carries its own error kind.
func (ins *Installer) verify(payload, signature []byte, metadata *Metadata) error {
	if metadata.PublisherID == "" {
		return errs.New(errs.KindUntrustedPublisher, "installer", "package metadata names no publisher", nil)
	}

	keyring, err := ins.keyring.PublisherKey(metadata.PublisherID)
	if err != nil {
		return errs.New(errs.KindUntrustedPublisher, "installer",
			fmt.Sprintf("publisher '%s' is not trusted; add its key under registry/publishers/%s/pubkey.asc",
				metadata.PublisherID, metadata.PublisherID), err)
	}

	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(payload), bytes.NewReader(signature)); err != nil {
		return errs.New(errs.KindInvalidSignature, "installer",
			fmt.Sprintf("signature does not verify against publisher '%s'", metadata.PublisherID), err)
	}

	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != strings.ToLower(metadata.SHA256) {
		return errs.New(errs.KindChecksumMismatch, "installer",
			"payload sha256 does not match package metadata", nil)
	}
	return nil
}

// persist writes the verified package files into the local registry layout.
func (ins *Installer) persist(kind, name, version string, payload, signature []byte, metadata *Metadata) error {
	dir := filepath.Join(ins.cfg.RegistryDir(), kind, name, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry dir: %w", err)
	}

	payloadName := kind + ".json"
	rawMetadata, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	files := map[string][]byte{
		payloadName:          payload,
		payloadName + ".asc": signature,
		"metadata.json":      rawMetadata,
	}
	for filename, data := range files {
		if err := os.WriteFile(filepath.Join(dir, filename), data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", filename, err)
		}
	}
	return nil
}

// installDefinition copies an agent or team payload into its definitions dir
// keyed by package name.
func (ins *Installer) installDefinition(dir, name string, payload []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create definitions dir: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, name+".json"), payload, 0644)
}

// installContainer decodes the payload into a container spec, starts it, and
// for mcps registers the worker.
func (ins *Installer) installContainer(ctx context.Context, kind, name, version string, payload []byte, opts InstallOptions) (container.InstalledResource, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return container.InstalledResource{}, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("invalid %s payload for '%s'", kind, name), err)
	}

	var decoded MCPPayload
	if err := mapstructure.Decode(raw, &decoded); err != nil {
		return container.InstalledResource{}, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("unexpected %s payload shape for '%s'", kind, name), err)
	}
	if decoded.Image == "" && decoded.BuildContext == "" {
		return container.InstalledResource{}, errs.New(errs.KindInternal, "installer",
			fmt.Sprintf("%s payload for '%s' declares neither image nor build context", kind, name), nil)
	}

	env := make(map[string]string, len(decoded.Env)+len(opts.Env))
	for k, v := range decoded.Env {
		env[k] = v
	}
	for k, v := range opts.Env {
		env[k] = v
	}

	resource, err := ins.containers.Install(container.InstallSpec{
		Kind:         kind,
		Name:         name,
		Version:      version,
		Image:        decoded.Image,
		BuildContext: decoded.BuildContext,
		Port:         decoded.Port,
		HostNetwork:  decoded.HostNetwork,
		Env:          env,
		WorkflowID:   opts.WorkflowID,
		TeamID:       opts.TeamID,
	})
	if err != nil {
		return container.InstalledResource{}, err
	}

	if kind == KindMCP {
		w := worker.Worker{Name: name, Endpoint: resource.Endpoint, Description: decoded.Description}
		if err := ins.workers.Register(w); err != nil {
			ins.logger.Warn("Worker already registered, keeping existing entry", "worker", name, "error", err)
		} else {
			refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := ins.workers.RefreshTools(refreshCtx, name); err != nil {
				ins.logger.Warn("Fresh worker did not answer list_tools yet", "worker", name, "error", err)
			}
		}
	}
	return resource, nil
}

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
