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

/*
Package usage estimates token usage and cost for an agent turn and
records it for billing.

# Estimation

	acct := usage.NewAccountant(usage.NewTiktokenTokenizer(""), nil)
	rec := acct.Estimate(usage.EstimateInput{
	    RequestID:    "req-456",
	    Model:        "gpt-4o",
	    Prompt:       prompt,
	    Response:     answer,
	    Intermediate: []string{generatedSQL, resultPreview},
	})

Intermediate artifacts are fed back to the model and count as prompt
tokens. When the provider reports exact counts use EstimateFromCounts.

Estimation never fails. A tokenizer error or panic produces a zero-cost
Record with Error set, and the failure is logged with kind
internal_accounting_error.

# Tokenizers

TiktokenTokenizer loads a BPE encoding on first use. The encoding files
are fetched over HTTP (cached under TIKTOKEN_CACHE_DIR), so offline
deployments fall back to HeuristicTokenizer, which counts dense-script
characters (Han, Kana, Hangul, Thai) at two per token and everything else
at four.

# Pricing

PriceTable.Lookup tries an exact match, then the longest known key
contained in the model name ignoring case, then the default price with a
warning. Cost is prompt/1000*input + completion/1000*output in USD,
rounded to six decimal places. Overrides are loaded from YAML or JSON:

	default:
	  input_per_1k: 0.0015
	  output_per_1k: 0.002
	models:
	  gpt-4o:
	    input_per_1k: 0.0025
	    output_per_1k: 0.01

# Recording

Recorder writes records to the usage_events table in PostgreSQL.
RecordAsync never blocks the caller; failures are logged.
*/
package usage
