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

package safety

import (
	"fmt"
	"strings"
	"time"
)

// RiskLevel orders verdicts from LOW to CRITICAL.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "LOW"
	case RiskMedium:
		return "MEDIUM"
	case RiskHigh:
		return "HIGH"
	case RiskCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
}

// MarshalText renders the level by name.
func (r RiskLevel) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a level name, case-insensitively.
func (r *RiskLevel) UnmarshalText(text []byte) error {
	lvl, err := ParseRiskLevel(string(text))
	if err != nil {
		return err
	}
	*r = lvl
	return nil
}

// ParseRiskLevel parses LOW, MEDIUM, HIGH or CRITICAL.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return RiskLow, nil
	case "MEDIUM":
		return RiskMedium, nil
	case "HIGH":
		return RiskHigh, nil
	case "CRITICAL":
		return RiskCritical, nil
	}
	return RiskLow, fmt.Errorf("invalid risk level: %q", s)
}

// Result is the verdict for one statement. It is never persisted.
type Result struct {
	// IsSafe is true only when every tier passed.
	IsSafe bool `json:"is_safe"`

	// RiskLevel is LOW for safe statements, otherwise the level of the
	// first tier that failed.
	RiskLevel RiskLevel `json:"risk_level"`

	// Reason explains the rejection in one sentence.
	Reason string `json:"reason,omitempty"`

	// SuggestedAction tells the caller how to rewrite the statement.
	SuggestedAction string `json:"suggested_action,omitempty"`

	// Rule names the check that rejected the statement.
	Rule string `json:"rule,omitempty"`

	// Duration is how long validation took.
	Duration time.Duration `json:"duration_ns"`
}

func safeResult() Result {
	return Result{IsSafe: true, RiskLevel: RiskLow}
}

func reject(p *Pattern) Result {
	return Result{
		IsSafe:          false,
		RiskLevel:       p.Risk,
		Reason:          p.Description,
		SuggestedAction: p.Action,
		Rule:            p.Name,
	}
}
