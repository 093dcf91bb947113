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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlgate/shared/logger"
)

// wordTokenizer counts whitespace-separated words.
type wordTokenizer struct{}

func (wordTokenizer) Name() string { return "words" }

func (wordTokenizer) CountTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type failingTokenizer struct{ panics bool }

func (failingTokenizer) Name() string { return "broken" }

func (f failingTokenizer) CountTokens(string) (int, error) {
	if f.panics {
		panic("encoder table corrupted")
	}
	return 0, errors.New("encoder unavailable")
}

func newTestAccountant(tok Tokenizer, prices *PriceTable) (*Accountant, *bytes.Buffer) {
	var buf bytes.Buffer
	a := NewAccountant(tok, prices)
	a.logger = logger.NewWithWriter("usage", &buf)
	a.prices.logger = logger.NewWithWriter("usage", &buf)
	return a, &buf
}

func TestKnownModelCostForThousandTokens(t *testing.T) {
	a, _ := newTestAccountant(nil, nil)

	for model, price := range defaultModelPrices {
		rec := a.EstimateFromCounts("req-1", "owner-1", model, 1000, 1000)
		require.False(t, rec.Failed(), rec.Error)
		assert.Equal(t, MatchExact, rec.PriceMatch, model)
		assert.InDelta(t, price.InputPer1K+price.OutputPer1K, rec.CostUSD, 1e-9, model)
		assert.Equal(t, 2000, rec.TotalTokens)
	}
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	a, buf := newTestAccountant(nil, nil)

	rec := a.EstimateFromCounts("req-2", "", "totally-new-model", 1000, 1000)

	assert.False(t, rec.Failed())
	assert.Equal(t, MatchDefault, rec.PriceMatch)
	assert.InDelta(t, DefaultInputPer1K+DefaultOutputPer1K, rec.CostUSD, 1e-9)
	assert.Contains(t, buf.String(), "No price for model")
	assert.Contains(t, buf.String(), "totally-new-model")
}

func TestPriceLookup(t *testing.T) {
	table := DefaultPriceTable()
	table.logger = logger.Nop()

	tests := []struct {
		model string
		key   string
		match MatchKind
	}{
		{"gpt-4o", "gpt-4o", MatchExact},
		{"GPT-4", "gpt-4", MatchSubstring},
		{"gpt-4o-2024-08-06", "gpt-4o", MatchSubstring},
		{"GPT-4o-mini-2024-07-18", "gpt-4o-mini", MatchSubstring},
		{"Claude-3-5-Sonnet-20241022", "claude-3-5-sonnet", MatchSubstring},
		{"anthropic.claude-3-haiku-20240307-v1:0", "claude-3-haiku", MatchSubstring},
		{"llama-3-70b", "", MatchDefault},
		{"", "", MatchDefault},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, match := table.Lookup(tt.model)
			assert.Equal(t, tt.match, match)
			if tt.key != "" {
				assert.Equal(t, defaultModelPrices[tt.key], p)
			} else {
				assert.Equal(t, table.Default(), p)
			}
		})
	}
}

func TestCostRoundsToSixDecimals(t *testing.T) {
	table := NewPriceTable(map[string]ModelPrice{
		"odd": {InputPer1K: 0.0012345678, OutputPer1K: 0},
	}, ModelPrice{})
	a, _ := newTestAccountant(nil, table)

	rec := a.EstimateFromCounts("req-3", "", "odd", 1000, 0)
	assert.InDelta(t, 0.001235, rec.CostUSD, 1e-12)
}

func TestEstimateCountsIntermediateAsPrompt(t *testing.T) {
	a, _ := newTestAccountant(wordTokenizer{}, nil)

	rec := a.Estimate(EstimateInput{
		RequestID:    "req-4",
		OwnerID:      "owner-1",
		Model:        "gpt-4o",
		Prompt:       "how many customers signed up",
		Response:     "there were 42",
		Intermediate: []string{"SELECT COUNT(*) FROM customers", "42"},
	})

	require.False(t, rec.Failed(), rec.Error)
	assert.Equal(t, 5+4+1, rec.PromptTokens)
	assert.Equal(t, 3, rec.CompletionTokens)
	assert.Equal(t, 13, rec.TotalTokens)
	assert.True(t, rec.Estimated)
	assert.Equal(t, "words", rec.Tokenizer)
	assert.Equal(t, "req-4", rec.RequestID)
	assert.Equal(t, "owner-1", rec.OwnerID)
	assert.InDelta(t, Cost(10, 3, defaultModelPrices["gpt-4o"]), rec.CostUSD, 1e-12)
}

func TestEstimateFailuresYieldZeroCostRecord(t *testing.T) {
	tests := []struct {
		name string
		tok  Tokenizer
		want string
	}{
		{"tokenizer error", failingTokenizer{}, "encoder unavailable"},
		{"tokenizer panic", failingTokenizer{panics: true}, "encoder table corrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, buf := newTestAccountant(tt.tok, nil)

			var rec Record
			require.NotPanics(t, func() {
				rec = a.Estimate(EstimateInput{RequestID: "req-5", Model: "gpt-4o", Prompt: "hi", Response: "hello"})
			})

			assert.True(t, rec.Failed())
			assert.Contains(t, rec.Error, ErrAccounting.Error())
			assert.Contains(t, rec.Error, tt.want)
			assert.Zero(t, rec.CostUSD)
			assert.Zero(t, rec.TotalTokens)
			assert.Equal(t, "req-5", rec.RequestID)
			assert.Contains(t, buf.String(), KindAccounting)
		})
	}
}

func TestEstimateFromCountsRejectsNegative(t *testing.T) {
	a, _ := newTestAccountant(nil, nil)

	rec := a.EstimateFromCounts("req-6", "", "gpt-4o", -1, 10)
	assert.True(t, rec.Failed())
	assert.Zero(t, rec.CostUSD)
}

func TestEstimateEmptyTurn(t *testing.T) {
	a, _ := newTestAccountant(HeuristicTokenizer{}, nil)

	rec := a.Estimate(EstimateInput{RequestID: "req-7", Model: "gpt-4o"})
	assert.False(t, rec.Failed())
	assert.Zero(t, rec.TotalTokens)
	assert.Zero(t, rec.CostUSD)
}
