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
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"sqlgate/shared/logger"
)

// Default price per 1K tokens in USD applied to models the table does not
// know.
const (
	DefaultInputPer1K  = 0.0015
	DefaultOutputPer1K = 0.002
)

// ErrInvalidPrice is returned for negative or non-finite prices
var ErrInvalidPrice = errors.New("invalid model price")

// ModelPrice is the price per 1K tokens in USD
type ModelPrice struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

func (p ModelPrice) validate() error {
	for _, v := range []float64{p.InputPer1K, p.OutputPer1K} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidPrice, v)
		}
	}
	return nil
}

// MatchKind records how a model name was resolved to a price
type MatchKind string

const (
	MatchExact     MatchKind = "exact"
	MatchSubstring MatchKind = "substring"
	MatchDefault   MatchKind = "default"
)

// defaultModelPrices as of January 2025
var defaultModelPrices = map[string]ModelPrice{
	"gpt-4o":            {InputPer1K: 0.0025, OutputPer1K: 0.01},
	"gpt-4o-mini":       {InputPer1K: 0.00015, OutputPer1K: 0.0006},
	"gpt-4-turbo":       {InputPer1K: 0.01, OutputPer1K: 0.03},
	"gpt-4":             {InputPer1K: 0.03, OutputPer1K: 0.06},
	"gpt-3.5-turbo":     {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"o1-preview":        {InputPer1K: 0.015, OutputPer1K: 0.06},
	"o1-mini":           {InputPer1K: 0.003, OutputPer1K: 0.012},
	"claude-opus-4":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-sonnet-4":   {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
	"claude-3-5-haiku":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	"claude-3-opus":     {InputPer1K: 0.015, OutputPer1K: 0.075},
	"claude-3-haiku":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	"gemini-2.0-flash":  {InputPer1K: 0.0001, OutputPer1K: 0.0004},
	"gemini-1.5-pro":    {InputPer1K: 0.00125, OutputPer1K: 0.005},
	"gemini-1.5-flash":  {InputPer1K: 0.000075, OutputPer1K: 0.0003},
	"command-r-plus":    {InputPer1K: 0.003, OutputPer1K: 0.015},
	"command-r":         {InputPer1K: 0.0005, OutputPer1K: 0.0015},
	"mistral-large":     {InputPer1K: 0.002, OutputPer1K: 0.006},
	"mistral-small":     {InputPer1K: 0.001, OutputPer1K: 0.003},
}

// PriceTable maps model names to prices. Lookups never fail: an unknown
// model resolves to the default price.
type PriceTable struct {
	mu       sync.RWMutex
	models   map[string]ModelPrice
	lower    map[string]string
	byLength []string
	def      ModelPrice
	logger   *logger.Logger
}

// NewPriceTable builds a table from models and a default price. A nil map
// yields an empty table.
func NewPriceTable(models map[string]ModelPrice, def ModelPrice) *PriceTable {
	t := &PriceTable{
		models: make(map[string]ModelPrice, len(models)),
		def:    def,
		logger: logger.New("usage"),
	}
	for name, p := range models {
		t.models[name] = p
	}
	t.reindex()
	return t
}

// DefaultPriceTable returns a table seeded with the built-in prices.
func DefaultPriceTable() *PriceTable {
	return NewPriceTable(defaultModelPrices, ModelPrice{InputPer1K: DefaultInputPer1K, OutputPer1K: DefaultOutputPer1K})
}

// reindex rebuilds the lowercase index and the longest-first key order.
// Caller holds the write lock or owns t exclusively.
func (t *PriceTable) reindex() {
	t.lower = make(map[string]string, len(t.models))
	t.byLength = t.byLength[:0]
	for name := range t.models {
		t.lower[strings.ToLower(name)] = name
		t.byLength = append(t.byLength, name)
	}
	sort.Slice(t.byLength, func(i, j int) bool {
		a, b := t.byLength[i], t.byLength[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
}

// Set adds or replaces the price for a model.
func (t *PriceTable) Set(model string, p ModelPrice) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: empty model name", ErrInvalidPrice)
	}
	if err := p.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models[model] = p
	t.reindex()
	return nil
}

// SetDefault replaces the fallback price.
func (t *PriceTable) SetDefault(p ModelPrice) error {
	if err := p.validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.def = p
	t.mu.Unlock()
	return nil
}

// Default returns the fallback price.
func (t *PriceTable) Default() ModelPrice {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.def
}

// Len returns the number of priced models.
func (t *PriceTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.models)
}

// Lookup resolves model to a price: exact key first, then the longest key
// contained in the model name ignoring case, then the default price with a
// logged warning.
func (t *PriceTable) Lookup(model string) (ModelPrice, MatchKind) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.models[model]; ok {
		return p, MatchExact
	}
	name := strings.ToLower(strings.TrimSpace(model))
	if name != "" {
		if key, ok := t.lower[name]; ok {
			return t.models[key], MatchSubstring
		}
		for _, key := range t.byLength {
			if strings.Contains(name, strings.ToLower(key)) {
				return t.models[key], MatchSubstring
			}
		}
	}

	t.logger.Warn("", "", "No price for model, using default", map[string]interface{}{
		"model":         model,
		"input_per_1k":  t.def.InputPer1K,
		"output_per_1k": t.def.OutputPer1K,
	})
	return t.def, MatchDefault
}

// priceFile is the on-disk override format. JSON files parse too since
// YAML is a superset.
type priceFile struct {
	Default *ModelPrice           `yaml:"default"`
	Models  map[string]ModelPrice `yaml:"models"`
}

// LoadPriceTable reads price overrides from a YAML or JSON file and
// applies them on top of the built-in table.
func LoadPriceTable(path string) (*PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var pf priceFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pricing file %s: %w", path, err)
	}

	t := DefaultPriceTable()
	if pf.Default != nil {
		if err := t.SetDefault(*pf.Default); err != nil {
			return nil, fmt.Errorf("pricing file default: %w", err)
		}
	}
	for model, p := range pf.Models {
		if err := t.Set(model, p); err != nil {
			return nil, fmt.Errorf("pricing file model %q: %w", model, err)
		}
	}
	return t, nil
}
