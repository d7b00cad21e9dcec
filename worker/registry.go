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

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Registry is the in-memory set of registered workers. It is a single-writer
// structure: only Register, Unregister and RefreshTools mutate it; engines
// read concurrently.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker

	// newClient is swappable for tests.
	newClient func(endpoint string) *Client
}

// NewRegistry creates an empty worker registry.
func NewRegistry() *Registry {
	return &Registry{
		workers:   make(map[string]*Worker),
		newClient: NewClient,
	}
}

// SetCallTimeout overrides the tool-call timeout for every client the
// registry hands out. Call before serving traffic.
func (r *Registry) SetCallTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.newClient = func(endpoint string) *Client {
		return NewClientWithTimeout(endpoint, timeout)
	}
}

// Register adds a worker. Names are unique.
func (r *Registry) Register(w Worker) error {
	if w.Name == "" {
		return fmt.Errorf("worker name cannot be empty")
	}
	if w.Endpoint == "" {
		return fmt.Errorf("worker '%s' has no endpoint", w.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name]; exists {
		return fmt.Errorf("worker '%s' already registered", w.Name)
	}
	r.workers[w.Name] = &w
	return nil
}

// Unregister removes a worker by name.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[name]; !exists {
		return fmt.Errorf("worker '%s' not found", name)
	}
	delete(r.workers, name)
	return nil
}

// Get returns a copy of the named worker.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.workers[name]
	if !exists {
		return Worker{}, false
	}
	return *w, true
}

// List returns all workers sorted by name.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Client returns a tool-call client for the named worker.
func (r *Registry) Client(name string) (*Client, error) {
	w, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("worker '%s' not found", name)
	}
	return r.newClient(w.Endpoint), nil
}

// RefreshTools replaces the cached tool list for one worker with a fresh
// list_tools response.
func (r *Registry) RefreshTools(ctx context.Context, name string) error {
	w, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("worker '%s' not found", name)
	}

	tools, err := r.newClient(w.Endpoint).ListTools(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, exists := r.workers[name]; exists {
		stored.Tools = tools
		stored.LastHealthyAt = time.Now()
	}
	return nil
}

type catalogFile struct {
	Workers []Worker `yaml:"workers"`
}

// LoadCatalog registers workers from the on-disk catalog and refreshes their
// tool caches concurrently with a short timeout. Workers that do not respond
// are still registered (so they appear in the UI) with an empty tool list.
func (r *Registry) LoadCatalog(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read worker catalog: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return fmt.Errorf("failed to parse worker catalog: %w", err)
	}

	for _, w := range catalog.Workers {
		if err := r.Register(w); err != nil {
			slog.Warn("Skipping catalog worker", "worker", w.Name, "error", err)
		}
	}

	refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, refreshCtx := errgroup.WithContext(refreshCtx)
	for _, w := range catalog.Workers {
		name := w.Name
		g.Go(func() error {
			if err := r.RefreshTools(refreshCtx, name); err != nil {
				slog.Warn("Worker did not answer list_tools at startup", "worker", name, "error", err)
			}
			// Registration stands even when the refresh fails.
			return nil
		})
	}
	return g.Wait()
}
