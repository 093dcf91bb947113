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
	"errors"
	"fmt"
	"math"
	"time"

	"sqlgate/shared/logger"
)

// ErrAccounting marks a failure inside token or cost estimation. It is
// never returned to callers; it only annotates the zero-cost Record.
var ErrAccounting = errors.New("usage accounting failed")

// KindAccounting is the error kind logged for estimation failures.
const KindAccounting = "internal_accounting_error"

// Record is the token and cost estimate for one agent turn
type Record struct {
	RequestID        string    `json:"request_id"`
	OwnerID          string    `json:"owner_id,omitempty"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	PriceMatch       MatchKind `json:"price_match,omitempty"`
	Tokenizer        string    `json:"tokenizer,omitempty"`
	Estimated        bool      `json:"estimated"`
	Error            string    `json:"error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Failed reports whether the record is a zero-cost placeholder.
func (r Record) Failed() bool { return r.Error != "" }

// EstimateInput is the text of one agent turn. Intermediate artifacts
// (tool output, generated SQL, retrieved rows) are sent back to the model
// and count as prompt tokens.
type EstimateInput struct {
	RequestID    string
	OwnerID      string
	Model        string
	Prompt       string
	Response     string
	Intermediate []string
}

// Accountant turns agent turns into usage records
type Accountant struct {
	tokenizer Tokenizer
	prices    *PriceTable
	logger    *logger.Logger
}

// NewAccountant builds an accountant. A nil tokenizer uses the heuristic
// and nil prices use DefaultPriceTable.
func NewAccountant(tokenizer Tokenizer, prices *PriceTable) *Accountant {
	if tokenizer == nil {
		tokenizer = HeuristicTokenizer{}
	}
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Accountant{
		tokenizer: tokenizer,
		prices:    prices,
		logger:    logger.New("usage"),
	}
}

// Prices returns the price table in use.
func (a *Accountant) Prices() *PriceTable { return a.prices }

// Estimate counts tokens for the turn and prices them. It never fails:
// any internal error or panic yields a zero-cost record with Error set.
func (a *Accountant) Estimate(in EstimateInput) (rec Record) {
	rec = a.newRecord(in.RequestID, in.OwnerID, in.Model)
	rec.Estimated = true
	rec.Tokenizer = a.tokenizer.Name()
	defer a.recoverInto(&rec)

	prompt, err := a.count(in.Prompt)
	if err != nil {
		return a.failed(rec, err)
	}
	for _, artifact := range in.Intermediate {
		n, err := a.count(artifact)
		if err != nil {
			return a.failed(rec, err)
		}
		prompt += n
	}
	completion, err := a.count(in.Response)
	if err != nil {
		return a.failed(rec, err)
	}
	return a.price(rec, prompt, completion)
}

// EstimateFromCounts prices provider-reported token counts.
func (a *Accountant) EstimateFromCounts(requestID, ownerID, model string, promptTokens, completionTokens int) (rec Record) {
	rec = a.newRecord(requestID, ownerID, model)
	defer a.recoverInto(&rec)

	if promptTokens < 0 || completionTokens < 0 {
		return a.failed(rec, fmt.Errorf("negative token count (prompt=%d, completion=%d)", promptTokens, completionTokens))
	}
	return a.price(rec, promptTokens, completionTokens)
}

func (a *Accountant) newRecord(requestID, ownerID, model string) Record {
	return Record{
		RequestID: requestID,
		OwnerID:   ownerID,
		Model:     model,
		CreatedAt: time.Now().UTC(),
	}
}

func (a *Accountant) count(text string) (int, error) {
	n, err := a.tokenizer.CountTokens(text)
	if err != nil {
		return 0, fmt.Errorf("tokenizer %s: %w", a.tokenizer.Name(), err)
	}
	if n < 0 {
		return 0, fmt.Errorf("tokenizer %s returned %d tokens", a.tokenizer.Name(), n)
	}
	return n, nil
}

func (a *Accountant) price(rec Record, prompt, completion int) Record {
	p, match := a.prices.Lookup(rec.Model)
	cost := Cost(prompt, completion, p)
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return a.failed(rec, fmt.Errorf("cost for %s is not finite", rec.Model))
	}
	rec.PromptTokens = prompt
	rec.CompletionTokens = completion
	rec.TotalTokens = prompt + completion
	rec.CostUSD = cost
	rec.PriceMatch = match
	return rec
}

func (a *Accountant) recoverInto(rec *Record) {
	if r := recover(); r != nil {
		*rec = a.failed(*rec, fmt.Errorf("panic: %v", r))
	}
}

// failed zeroes the counts and annotates the record.
func (a *Accountant) failed(rec Record, cause error) Record {
	err := fmt.Errorf("%w: %w", ErrAccounting, cause)
	rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens = 0, 0, 0
	rec.CostUSD = 0
	rec.PriceMatch = ""
	rec.Error = err.Error()
	a.logger.ErrorWithKind(rec.OwnerID, rec.RequestID, "Usage estimation failed", KindAccounting, err, map[string]interface{}{
		"model": rec.Model,
	})
	return rec
}

// Cost prices token counts in USD, rounded to six decimal places.
func Cost(promptTokens, completionTokens int, p ModelPrice) float64 {
	cost := float64(promptTokens)/1000*p.InputPer1K + float64(completionTokens)/1000*p.OutputPer1K
	return math.Round(cost*1e6) / 1e6
}
