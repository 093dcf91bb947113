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

package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// recordTimeout bounds one asynchronous insert.
const recordTimeout = 5 * time.Second

const usageSchema = `
	CREATE TABLE IF NOT EXISTS usage_events (
		id BIGSERIAL PRIMARY KEY,
		request_id VARCHAR(255) NOT NULL,
		owner_id VARCHAR(255),
		event_type VARCHAR(32) NOT NULL,
		llm_model VARCHAR(255) NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		estimated_cost_usd NUMERIC(18, 6) NOT NULL DEFAULT 0,
		estimated BOOLEAN NOT NULL DEFAULT FALSE,
		usage_error TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_request ON usage_events(request_id);
	`

// Recorder persists usage records to the usage_events table. Recording
// failures are logged and never block the caller's response.
type Recorder struct {
	db     *sql.DB
	logger *log.Logger
	wg     sync.WaitGroup
}

// NewRecorder wraps an open database handle.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db:     db,
		logger: log.New(os.Stdout, "[USAGE] ", log.LstdFlags),
	}
}

// OpenRecorder connects to PostgreSQL and creates the usage_events table
// if needed.
func OpenRecorder(ctx context.Context, databaseURL string) (*Recorder, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect usage database: %w", err)
	}
	r := NewRecorder(db)
	if err := r.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// InitSchema creates the usage_events table if it doesn't exist
func (r *Recorder) InitSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("failed to create usage schema: %w", err)
	}
	return nil
}

// Record inserts one usage record.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	eventType := "llm_request"
	if rec.Failed() {
		eventType = "llm_request_unpriced"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			request_id, owner_id, event_type, llm_model, prompt_tokens,
			completion_tokens, total_tokens, estimated_cost_usd, estimated,
			usage_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.RequestID, nullString(rec.OwnerID), eventType, rec.Model, rec.PromptTokens,
		rec.CompletionTokens, rec.TotalTokens, rec.CostUSD, rec.Estimated,
		nullString(rec.Error), rec.CreatedAt)

	if err != nil {
		r.logger.Printf("Failed to record usage for request %s: %v", rec.RequestID, err)
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// RecordAsync inserts rec in the background. Errors are logged only.
func (r *Recorder) RecordAsync(rec Record) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		_ = r.Record(ctx, rec)
	}()
}

// Wait blocks until pending asynchronous inserts finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// Close waits for pending inserts and closes the database.
func (r *Recorder) Close() error {
	r.wg.Wait()
	return r.db.Close()
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
