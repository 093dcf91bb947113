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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"sqlgate/connectors/base"
)

// PostgreSQLStorage persists connection profiles in PostgreSQL
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *log.Logger
}

// NewPostgreSQLStorage connects to dbURL, retrying with a linear backoff
// while the database comes up, and creates the schema.
func NewPostgreSQLStorage(dbURL string) (*PostgreSQLStorage, error) {
	maxRetries := 5
	var db *sql.DB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("postgres", dbURL)
		if err == nil {
			err = db.Ping()
			if err == nil {
				log.Printf("[ProfileStorage] Connected to database (attempt %d/%d)", attempt, maxRetries)
				break
			}
			_ = db.Close()
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt*2) * time.Second
			log.Printf("[ProfileStorage] Database connection failed (attempt %d/%d), retrying in %v", attempt, maxRetries, backoff)
			time.Sleep(backoff)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	return NewPostgreSQLStorageWithDB(db)
}

// NewPostgreSQLStorageWithDB wraps an open database handle and creates the
// schema.
func NewPostgreSQLStorageWithDB(db *sql.DB) (*PostgreSQLStorage, error) {
	storage := &PostgreSQLStorage{
		db:     db,
		logger: log.New(log.Writer(), "[ProfileStorage] ", log.LstdFlags),
	}

	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return storage, nil
}

const profileSchema = `
	CREATE TABLE IF NOT EXISTS connection_profiles (
		id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		backend VARCHAR(20) NOT NULL,
		host VARCHAR(255) NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		username VARCHAR(255) NOT NULL DEFAULT '',
		password_ciphertext TEXT NOT NULL DEFAULT '',
		database_name VARCHAR(1024) NOT NULL,
		options JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_connection_profiles_owner ON connection_profiles(owner_id);
	`

// initSchema creates the connection_profiles table if it doesn't exist
func (s *PostgreSQLStorage) initSchema() error {
	if _, err := s.db.Exec(profileSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.logger.Println("Connection profile schema initialized")
	return nil
}

const profileColumns = `id, owner_id, name, backend, host, port, username, password_ciphertext, database_name, options, created_at, updated_at`

// Save upserts a profile. The owner of an existing row never changes.
func (s *PostgreSQLStorage) Save(ctx context.Context, p *base.Profile) error {
	optionsJSON, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	query := `
		INSERT INTO connection_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			backend = EXCLUDED.backend,
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			username = EXCLUDED.username,
			password_ciphertext = EXCLUDED.password_ciphertext,
			database_name = EXCLUDED.database_name,
			options = EXCLUDED.options,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.OwnerID,
		p.Name,
		string(p.Backend),
		p.Host,
		p.Port,
		p.Username,
		p.PasswordCiphertext,
		p.Database,
		optionsJSON,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connection profile: %w", err)
	}

	s.logger.Printf("Saved connection profile: %s (owner: %s)", p.ID, p.OwnerID)
	return nil
}

// Get loads a profile by id
func (s *PostgreSQLStorage) Get(ctx context.Context, id string) (*base.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM connection_profiles WHERE id = $1`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection profile: %w", err)
	}
	return p, nil
}

// Delete removes a profile by id
func (s *PostgreSQLStorage) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM connection_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrProfileNotFound
	}

	s.logger.Printf("Deleted connection profile: %s", id)
	return nil
}

// ListByOwner returns the owner's profiles, newest first
func (s *PostgreSQLStorage) ListByOwner(ctx context.Context, ownerID string) ([]*base.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM connection_profiles WHERE owner_id = $1 ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var profiles []*base.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return profiles, nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*base.Profile, error) {
	var (
		p           base.Profile
		backend     string
		optionsJSON []byte
	)
	err := row.Scan(
		&p.ID,
		&p.OwnerID,
		&p.Name,
		&backend,
		&p.Host,
		&p.Port,
		&p.Username,
		&p.PasswordCiphertext,
		&p.Database,
		&optionsJSON,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Backend = base.BackendType(backend)
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &p.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	return &p, nil
}
