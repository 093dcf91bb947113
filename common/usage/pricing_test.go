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
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPriceTable(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"yaml", "prices.yaml", `
default:
  input_per_1k: 0.002
  output_per_1k: 0.004
models:
  acme-large:
    input_per_1k: 0.01
    output_per_1k: 0.02
  gpt-4o:
    input_per_1k: 0.005
    output_per_1k: 0.015
`},
		{"json", "prices.json", `{
  "default": {"input_per_1k": 0.002, "output_per_1k": 0.004},
  "models": {
    "acme-large": {"input_per_1k": 0.01, "output_per_1k": 0.02},
    "gpt-4o": {"input_per_1k": 0.005, "output_per_1k": 0.015}
  }
}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := LoadPriceTable(writeFile(t, tt.file, tt.body))
			require.NoError(t, err)

			assert.Equal(t, ModelPrice{InputPer1K: 0.002, OutputPer1K: 0.004}, table.Default())
			p, match := table.Lookup("acme-large")
			assert.Equal(t, MatchExact, match)
			assert.Equal(t, 0.01, p.InputPer1K)

			p, _ = table.Lookup("gpt-4o")
			assert.Equal(t, 0.005, p.InputPer1K, "file overrides built-in price")

			p, _ = table.Lookup("claude-3-haiku")
			assert.Equal(t, defaultModelPrices["claude-3-haiku"], p, "built-ins kept")
			assert.Equal(t, len(defaultModelPrices)+1, table.Len())
		})
	}
}

func TestLoadPriceTableErrors(t *testing.T) {
	_, err := LoadPriceTable(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadPriceTable(writeFile(t, "bad.yaml", "models: [unclosed"))
	assert.Error(t, err)

	_, err = LoadPriceTable(writeFile(t, "neg.yaml", "models:\n  m:\n    input_per_1k: -1\n"))
	assert.True(t, errors.Is(err, ErrInvalidPrice))
}

func TestPriceTableSet(t *testing.T) {
	table := NewPriceTable(nil, ModelPrice{})

	assert.ErrorIs(t, table.Set(" ", ModelPrice{}), ErrInvalidPrice)
	assert.ErrorIs(t, table.Set("m", ModelPrice{InputPer1K: math.NaN()}), ErrInvalidPrice)
	assert.ErrorIs(t, table.SetDefault(ModelPrice{OutputPer1K: math.Inf(1)}), ErrInvalidPrice)

	require.NoError(t, table.Set("acme", ModelPrice{InputPer1K: 1, OutputPer1K: 2}))
	require.NoError(t, table.Set("acme-mini", ModelPrice{InputPer1K: 0.1, OutputPer1K: 0.2}))

	p, match := table.Lookup("ACME-MINI-v2")
	assert.Equal(t, MatchSubstring, match)
	assert.Equal(t, 0.1, p.InputPer1K, "longest contained key wins")
}

func TestCost(t *testing.T) {
	p := ModelPrice{InputPer1K: 0.003, OutputPer1K: 0.015}
	assert.InDelta(t, 0.018, Cost(1000, 1000, p), 1e-12)
	assert.InDelta(t, 0.0006, Cost(200, 0, p), 1e-12)
	assert.Zero(t, Cost(0, 0, p))
}
