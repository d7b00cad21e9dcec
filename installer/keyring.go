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
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/openpgp"
)

// Keyring holds the trusted publisher keys, one armored public key per
// publisher directory (publishers/{id}/pubkey.asc).
type Keyring struct {
	dir string
}

// NewKeyring opens the keyring rooted at the publishers directory.
func NewKeyring(dir string) *Keyring {
	return &Keyring{dir: dir}
}

// PublisherKey loads one publisher's public key. A missing key means the
// publisher is not trusted.
func (k *Keyring) PublisherKey(publisherID string) (openpgp.EntityList, error) {
	path := filepath.Join(k.dir, publisherID, "pubkey.asc")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("publisher '%s' is not in the trusted keyring", publisherID)
		}
		return nil, fmt.Errorf("failed to read key for publisher '%s': %w", publisherID, err)
	}

	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid key for publisher '%s': %w", publisherID, err)
	}
	return entities, nil
}

// Trust stores a publisher's armored public key in the keyring.
func (k *Keyring) Trust(publisherID string, armoredKey []byte) error {
	if _, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(armoredKey)); err != nil {
		return fmt.Errorf("rejecting malformed key for publisher '%s': %w", publisherID, err)
	}

	dir := filepath.Join(k.dir, publisherID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create publisher dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pubkey.asc"), armoredKey, 0644); err != nil {
		return fmt.Errorf("failed to write publisher key: %w", err)
	}
	return nil
}

// Publishers lists the publishers present in the keyring.
func (k *Keyring) Publishers() ([]Publisher, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring dir: %w", err)
	}

	var out []Publisher
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(k.dir, entry.Name(), "pubkey.asc")); err == nil {
			out = append(out, Publisher{ID: entry.Name(), Trusted: true})
		}
	}
	return out, nil
}
