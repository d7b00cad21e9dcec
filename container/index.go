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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// resourceIndex is the on-disk record of installed containers, one file per
// kind (installed-mcps.json, installed-triggers.json). Callers serialize
// access through the manager's lock.
type resourceIndex struct {
	path string
}

func newResourceIndex(path string) *resourceIndex {
	return &resourceIndex{path: path}
}

func (idx *resourceIndex) load() ([]InstalledResource, error) {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", idx.path, err)
	}

	var resources []InstalledResource
	if err := json.Unmarshal(data, &resources); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", idx.path, err)
	}
	return resources, nil
}

func (idx *resourceIndex) save(resources []InstalledResource) error {
	data, err := json.MarshalIndent(resources, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}
	if err := os.WriteFile(idx.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", idx.path, err)
	}
	return nil
}

func (idx *resourceIndex) get(name string) (InstalledResource, bool, error) {
	resources, err := idx.load()
	if err != nil {
		return InstalledResource{}, false, err
	}
	for _, r := range resources {
		if r.Name == name {
			return r, true, nil
		}
	}
	return InstalledResource{}, false, nil
}

func (idx *resourceIndex) put(resource InstalledResource) error {
	resources, err := idx.load()
	if err != nil {
		return err
	}
	for i, r := range resources {
		if r.Name == resource.Name {
			resources[i] = resource
			return idx.save(resources)
		}
	}
	return idx.save(append(resources, resource))
}

func (idx *resourceIndex) remove(name string) error {
	resources, err := idx.load()
	if err != nil {
		return err
	}
	out := resources[:0]
	for _, r := range resources {
		if r.Name != name {
			out = append(out, r)
		}
	}
	return idx.save(out)
}
