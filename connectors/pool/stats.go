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

package pool

import (
	"sync"
	"time"

	"sqlgate/connectors/base"
)

// Stats is a point-in-time view of the manager
type Stats struct {
	Pools            int          `json:"pools"`
	Hits             int64        `json:"hits"`
	Misses           int64        `json:"misses"`
	Creations        int64        `json:"creations"`
	CreationFailures int64        `json:"creation_failures"`
	Rotations        int64        `json:"rotations"`
	Evictions        int64        `json:"evictions"`
	LastCreation     time.Time    `json:"last_creation,omitempty"`
	LastEviction     time.Time    `json:"last_eviction,omitempty"`
	Handles          []HandleInfo `json:"handles"`
}

// HandleInfo describes one cached pool
type HandleInfo struct {
	ConnectionID    string           `json:"connection_id"`
	Backend         base.BackendType `json:"backend"`
	Target          string           `json:"target"`
	Health          base.HealthState `json:"health"`
	Refs            int              `json:"refs"`
	LastUsed        time.Time        `json:"last_used"`
	CreatedAt       time.Time        `json:"created_at"`
	OpenConnections int              `json:"open_connections"`
	InUse           int              `json:"in_use"`
}

type stats struct {
	mu               sync.Mutex
	hits             int64
	misses           int64
	creations        int64
	creationFailures int64
	rotations        int64
	evictions        int64
	lastCreation     time.Time
	lastEviction     time.Time
}

func (s *stats) hit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *stats) miss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

func (s *stats) created() {
	s.mu.Lock()
	s.creations++
	s.lastCreation = time.Now()
	s.mu.Unlock()
}

func (s *stats) failure() {
	s.mu.Lock()
	s.creationFailures++
	s.mu.Unlock()
}

func (s *stats) rotation() {
	s.mu.Lock()
	s.rotations++
	s.mu.Unlock()
}

func (s *stats) evicted() {
	s.mu.Lock()
	s.evictions++
	s.lastEviction = time.Now()
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:             s.hits,
		Misses:           s.misses,
		Creations:        s.creations,
		CreationFailures: s.creationFailures,
		Rotations:        s.rotations,
		Evictions:        s.evictions,
		LastCreation:     s.lastCreation,
		LastEviction:     s.lastEviction,
	}
}
