// Copyright 2025 AxonFlow
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

package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sqlgate/connectors/base"
)

// ErrProfileNotFound is returned when a profile does not exist or is not
// visible to the requesting owner.
var ErrProfileNotFound = errors.New("connection profile not found")

// Store persists connection profiles. Implementations hand out copies.
type Store interface {
	// Save inserts or replaces the profile with the same ID.
	Save(ctx context.Context, profile *base.Profile) error
	Get(ctx context.Context, id string) (*base.Profile, error)
	Delete(ctx context.Context, id string) error
	// ListByOwner returns the owner's profiles, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*base.Profile, error)
}

// MemoryStorage is an in-process Store for tests and single-node use
type MemoryStorage struct {
	mu       sync.RWMutex
	profiles map[string]*base.Profile
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{profiles: make(map[string]*base.Profile)}
}

func (m *MemoryStorage) Save(ctx context.Context, profile *base.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[profile.ID] = profile.Clone()
	return nil
}

func (m *MemoryStorage) Get(ctx context.Context, id string) (*base.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStorage) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return ErrProfileNotFound
	}
	delete(m.profiles, id)
	return nil
}

func (m *MemoryStorage) ListByOwner(ctx context.Context, ownerID string) ([]*base.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*base.Profile
	for _, p := range m.profiles {
		if p.OwnerID == ownerID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
