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
	"fmt"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE encoding loaded by NewTiktokenTokenizer when
// none is configured.
const DefaultEncoding = "cl100k_base"

// Tokenizer counts the tokens a model would see for a piece of text.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	Name() string
}

// HeuristicTokenizer approximates token counts from character classes:
// dense scripts run at about two characters per token, everything else at
// about four. Non-empty text always counts as at least one token.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) Name() string { return "heuristic" }

func (HeuristicTokenizer) CountTokens(text string) (int, error) {
	return heuristicCount(text), nil
}

func heuristicCount(text string) int {
	if text == "" {
		return 0
	}
	var dense, other int
	for _, r := range text {
		if isDenseScript(r) {
			dense++
		} else {
			other++
		}
	}
	n := (dense+1)/2 + (other+3)/4
	if n < 1 {
		n = 1
	}
	return n
}

func isDenseScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Thai)
}

// encoder is the subset of *tiktoken.Tiktoken used for counting.
type encoder interface {
	EncodeOrdinary(text string) []int
}

// TiktokenTokenizer counts with a BPE encoding. The encoding is loaded from
// embedded data on first use; when it cannot be loaded (unknown name)
// every count falls back to the heuristic.
type TiktokenTokenizer struct {
	encoding string
	loadFn   func(string) (encoder, error)

	once sync.Once
	enc  encoder
	err  error
}

// NewTiktokenTokenizer returns a tokenizer for the named encoding.
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenTokenizer{encoding: encoding, loadFn: loadTiktoken}
}

var offlineOnce sync.Once

// loadTiktoken reads BPE ranks from the files embedded by the offline
// loader. The default loader downloads them over HTTP with no timeout.
func loadTiktoken(name string) (encoder, error) {
	offlineOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (t *TiktokenTokenizer) load() error {
	t.once.Do(func() {
		t.enc, t.err = t.loadFn(t.encoding)
		if t.err != nil {
			t.err = fmt.Errorf("load encoding %s: %w", t.encoding, t.err)
		}
	})
	return t.err
}

// Available reports whether the exact encoding is usable.
func (t *TiktokenTokenizer) Available() bool {
	return t.load() == nil
}

func (t *TiktokenTokenizer) Name() string {
	if t.Available() {
		return "tiktoken:" + t.encoding
	}
	return "heuristic"
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if t.load() != nil {
		return heuristicCount(text), nil
	}
	n := len(t.enc.EncodeOrdinary(text))
	if n < 1 {
		n = 1
	}
	return n, nil
}
