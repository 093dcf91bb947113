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
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		RequestID:        "req-1",
		OwnerID:          "owner-1",
		Model:            "gpt-4o",
		PromptTokens:     120,
		CompletionTokens: 30,
		TotalTokens:      150,
		CostUSD:          0.0006,
		Estimated:        true,
		CreatedAt:        time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

var insertUsage = regexp.QuoteMeta("INSERT INTO usage_events")

func TestRecorderRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := sampleRecord()
	mock.ExpectExec(insertUsage).
		WithArgs("req-1", "owner-1", "llm_request", "gpt-4o", 120, 30, 150, 0.0006, true, nil, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	r := NewRecorder(db)
	require.NoError(t, r.Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorderRecordFailedEstimate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rec := Record{RequestID: "req-2", Model: "gpt-4o", Error: "usage accounting failed: boom", CreatedAt: time.Unix(0, 0).UTC()}
	mock.ExpectExec(insertUsage).
		WithArgs("req-2", nil, "llm_request_unpriced", "gpt-4o", 0, 0, 0, 0.0, false, rec.Error, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, NewRecorder(db).Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorderRecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(insertUsage).WillReturnError(errors.New("relation does not exist"))

	err = NewRecorder(db).Record(context.Background(), sampleRecord())
	assert.ErrorContains(t, err, "relation does not exist")
}

func TestRecorderAsyncAndClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec(insertUsage).WillReturnError(errors.New("connection reset"))
	mock.ExpectExec(insertUsage).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	r := NewRecorder(db)
	r.RecordAsync(sampleRecord())
	r.Wait()
	r.RecordAsync(sampleRecord())

	require.NoError(t, r.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorderInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS usage_events").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewRecorder(db).InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNullString(t *testing.T) {
	assert.Nil(t, nullString(""))
	require.NotNil(t, nullString("x"))
	assert.Equal(t, "x", *nullString("x"))
}
