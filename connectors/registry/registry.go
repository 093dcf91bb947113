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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlgate/connectors/base"
	"sqlgate/shared/logger"
)

// ErrNoEncrypter is returned when a password must be sealed and the
// registry was built without an Encrypter.
var ErrNoEncrypter = errors.New("registry has no credential encrypter")

// Encrypter seals plaintext passwords. Satisfied by *credentials.Cipher.
type Encrypter interface {
	Encrypt(plaintext []byte) (string, error)
}

// ChangeKind describes what happened to a profile
type ChangeKind int

const (
	ProfileUpdated ChangeKind = iota + 1
	ProfileDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ProfileUpdated:
		return "updated"
	case ProfileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ChangeListener is notified after a profile is updated or deleted. The
// pool manager uses it to tear down pools built from stale credentials.
type ChangeListener func(ctx context.Context, kind ChangeKind, profile *base.Profile)

// ProfileInput is the caller-supplied shape of a new profile. Password is
// plaintext and is sealed before anything is stored.
type ProfileInput struct {
	OwnerID  string
	Name     string
	Backend  base.BackendType
	Host     string
	Port     int
	Username string
	Password string
	Database string
	Options  base.ProfileOptions
}

// ProfileUpdate carries the fields to change. Nil fields are left alone.
type ProfileUpdate struct {
	Name     *string
	Host     *string
	Port     *int
	Username *string
	Password *string
	Database *string
	Options  *base.ProfileOptions
}

// Registry is the owner-scoped front of a profile Store. It seals
// passwords on the way in and never decrypts them.
type Registry struct {
	store     Store
	cipher    Encrypter
	logger    *logger.Logger
	now       func() time.Time
	mu        sync.RWMutex
	listeners []ChangeListener
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry over store using cipher to seal passwords
func New(store Store, cipher Encrypter, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		cipher: cipher,
		logger: logger.New("registry"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnChange registers a listener for profile updates and deletions
func (r *Registry) OnChange(l ChangeListener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

func (r *Registry) notify(ctx context.Context, kind ChangeKind, p *base.Profile) {
	r.mu.RLock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, kind, p.Clone())
	}
}

// Create validates and stores a new profile owned by in.OwnerID
func (r *Registry) Create(ctx context.Context, in ProfileInput) (*base.Profile, error) {
	backend := in.Backend
	if parsed, err := base.ParseBackendType(string(in.Backend)); err == nil {
		backend = parsed
	}

	now := r.now()
	p := &base.Profile{
		ID:        uuid.NewString(),
		OwnerID:   strings.TrimSpace(in.OwnerID),
		Name:      strings.TrimSpace(in.Name),
		Backend:   backend,
		Host:      strings.TrimSpace(in.Host),
		Port:      in.Port,
		Username:  in.Username,
		Database:  strings.TrimSpace(in.Database),
		Options:   in.Options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Name == "" {
		p.Name = p.Database
	}

	if err := r.seal(p, in.Password); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store connection profile: %w", err)
	}

	r.logger.Info(p.OwnerID, "", "Connection profile created", map[string]interface{}{
		"connection_id": p.ID,
		"backend":       string(p.Backend),
	})
	return p.Clone(), nil
}

func (r *Registry) seal(p *base.Profile, password string) error {
	if password == "" {
		p.PasswordCiphertext = ""
		return nil
	}
	if r.cipher == nil {
		return fmt.Errorf("failed to encrypt credentials: %w", ErrNoEncrypter)
	}
	sealed, err := r.cipher.Encrypt([]byte(password))
	if err != nil {
		return fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	p.PasswordCiphertext = sealed
	return nil
}

// Get returns the profile if it exists and belongs to ownerID. Profiles of
// other owners are reported as ErrProfileNotFound.
func (r *Registry) Get(ctx context.Context, ownerID, id string) (*base.Profile, error) {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
	}
	return p, nil
}

// List returns every profile owned by ownerID
func (r *Registry) List(ctx context.Context, ownerID string) ([]*base.Profile, error) {
	return r.store.ListByOwner(ctx, ownerID)
}

// Update applies upd to the owner's profile. A new password is sealed
// before storage; listeners are told so pools on the old credentials go.
func (r *Registry) Update(ctx context.Context, ownerID, id string, upd ProfileUpdate) (*base.Profile, error) {
	p, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		p.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Host != nil {
		p.Host = strings.TrimSpace(*upd.Host)
	}
	if upd.Port != nil {
		p.Port = *upd.Port
	}
	if upd.Username != nil {
		p.Username = *upd.Username
	}
	if upd.Database != nil {
		p.Database = strings.TrimSpace(*upd.Database)
	}
	if upd.Options != nil {
		p.Options = *upd.Options
	}
	if upd.Password != nil {
		if err := r.seal(p, *upd.Password); err != nil {
			return nil, err
		}
	}
	p.UpdatedAt = r.now()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to store connection profile: %w", err)
	}

	r.logger.Info(ownerID, "", "Connection profile updated", map[string]interface{}{
		"connection_id":       p.ID,
		"credentials_rotated": upd.Password != nil,
	})
	r.notify(ctx, ProfileUpdated, p)
	return p.Clone(), nil
}

// Delete removes the owner's profile and notifies listeners
func (r *Registry) Delete(ctx context.Context, ownerID, id string) error {
	p, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.logger.Info(ownerID, "", "Connection profile deleted", map[string]interface{}{
		"connection_id": id,
	})
	r.notify(ctx, ProfileDeleted, p)
	return nil
}
