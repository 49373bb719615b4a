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

package source

import "patches/pkg/vuln"

// stubSource emits the same record a fixed number of times. It exists so
// integration tests can drain a deterministic feed without an upstream.
type stubSource struct {
	remaining int
	record    vuln.Vulnerability
}

func newStubSource(total int) *stubSource {
	return &stubSource{
		remaining: total,
		record: vuln.Vulnerability{
			Name:     "testvuln",
			Platform: TestingPlatform,
			Severity: vuln.SeverityLow,
			FixedIn:  []vuln.Package{{Name: "testpackage", Version: "1.2.3"}},
		},
	}
}

// Next emits the fixed record until the configured count is reached, then
// stays exhausted.
func (s *stubSource) Next() (vuln.Vulnerability, bool) {
	if s.remaining <= 0 {
		return vuln.Vulnerability{}, false
	}
	s.remaining--
	return s.record, true
}
