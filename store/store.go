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

// Package store persists definitions as one JSON file per resource and keeps
// an in-memory view refreshed by filesystem notifications, so installs done
// by the installer (or by hand) become visible without a restart.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileStore maps {dir}/{id}.json files to values of T.
type FileStore[T any] struct {
	dir      string
	validate func(*T) error
	logger   *slog.Logger

	mu    sync.RWMutex
	items map[string]T

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore opens (creating if needed) the directory and loads every
// entry. Files that fail to parse or validate are skipped with a warning so
// one bad definition cannot take the orchestrator down.
func NewFileStore[T any](dir string, validate func(*T) error) (*FileStore[T], error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir %s: %w", dir, err)
	}

	s := &FileStore[T]{
		dir:      dir,
		validate: validate,
		logger:   slog.Default().With("store", filepath.Base(dir)),
		items:    make(map[string]T),
		done:     make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the entry with the given id.
func (s *FileStore[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// IDs returns all entry ids, sorted.
func (s *FileStore[T]) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// List returns all entries in id order.
func (s *FileStore[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out
}

// Save validates, persists and installs one entry.
func (s *FileStore[T]) Save(id string, item T) error {
	if s.validate != nil {
		if err := s.validate(&item); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal '%s': %w", id, err)
	}
	if err := os.WriteFile(s.path(id), data, 0644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", id, err)
	}

	s.mu.Lock()
	s.items[id] = item
	s.mu.Unlock()
	return nil
}

// Delete removes one entry and its file.
func (s *FileStore[T]) Delete(id string) error {
	s.mu.Lock()
	_, exists := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("'%s' not found", id)
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove '%s': %w", id, err)
	}
	return nil
}

// Watch reloads the store on filesystem changes until Close is called.
func (s *FileStore[T]) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("Reload after filesystem change failed", "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Watcher error", "error", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (s *FileStore[T]) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileStore[T]) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore[T]) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read store dir %s: %w", s.dir, err)
	}

	items := make(map[string]T, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable entry", "id", id, "error", err)
			continue
		}

		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			s.logger.Warn("Skipping unparsable entry", "id", id, "error", err)
			continue
		}
		if s.validate != nil {
			if err := s.validate(&item); err != nil {
				s.logger.Warn("Skipping invalid entry", "id", id, "error", err)
				continue
			}
		}
		items[id] = item
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}
