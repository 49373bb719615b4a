// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
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

// Package vuln defines the vulnerability record served to scanners.
//
// A Vulnerability is an immutable value: an identifier, the platform it
// affects, a reference link, a severity, and the list of package versions that
// fix it. Two records are the same vulnerability when they share an identifier
// and a platform.
package vuln

import (
	"encoding/json"
	"fmt"
)

// Severity ranks how bad a vulnerability is. The zero value is Unknown.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityNegligible
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityUrgent
	SeverityCritical
)

var severityNames = [...]string{
	SeverityUnknown:    "unknown",
	SeverityNegligible: "negligible",
	SeverityLow:        "low",
	SeverityMedium:     "medium",
	SeverityHigh:       "high",
	SeverityUrgent:     "urgent",
	SeverityCritical:   "critical",
}

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	if s < SeverityUnknown || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// ParseSeverity maps a lowercase severity name to a Severity.
// Unrecognized names map to SeverityUnknown.
func ParseSeverity(name string) Severity {
	for sev, n := range severityNames {
		if n == name {
			return Severity(sev)
		}
	}
	return SeverityUnknown
}

// MarshalJSON encodes the severity as its lowercase name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a lowercase severity name. Unrecognized names decode
// to SeverityUnknown rather than failing, so a record from a newer feed still
// loads.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("severity: %w", err)
	}
	*s = ParseSeverity(name)
	return nil
}

// Package identifies a package version that fixes a vulnerability.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Vulnerability is one record in a platform's feed.
type Vulnerability struct {
	Name     string    `json:"name"`
	Platform string    `json:"platform"`
	Link     string    `json:"link"`
	Severity Severity  `json:"severity"`
	FixedIn  []Package `json:"fixedIn"`
}

// Equal reports whether two records describe the same vulnerability.
// Identity is the identifier plus the platform; the remaining fields are
// descriptive.
func (v Vulnerability) Equal(other Vulnerability) bool {
	return v.Name == other.Name && v.Platform == other.Platform
}
