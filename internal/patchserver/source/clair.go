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

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"patches/internal/patchserver/clair"
	"patches/pkg/vuln"
)

var fetchErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "patches_source_fetch_errors_total",
	Help: "Upstream fetch or decode failures observed while producing vulnerability records",
})

func init() {
	prometheus.MustRegister(fetchErrorsTotal)
}

// clairSource adapts the paged Clair client to the Source pull contract.
// It buffers one fetched page of fully described records at a time.
//
// A failed page or detail fetch is counted and logged; a failed detail skips
// that record, a failed page ends the sequence. The end state is sticky.
type clairSource struct {
	client   *clair.Client
	platform string
	pending  []vuln.Vulnerability
	page     string
	done     bool
}

func newClairSource(platform string, cfg ClairConfig) *clairSource {
	return &clairSource{
		client:   clair.NewClient(cfg.BaseAddress, platform, cfg.FetchLimit),
		platform: platform,
	}
}

// Next returns the next record, fetching further pages lazily.
func (s *clairSource) Next() (vuln.Vulnerability, bool) {
	for len(s.pending) == 0 {
		if s.done {
			return vuln.Vulnerability{}, false
		}
		s.fetchPage()
	}
	v := s.pending[0]
	s.pending = s.pending[1:]
	return v, true
}

func (s *clairSource) fetchPage() {
	names, nextPage, err := s.client.Summaries(s.page)
	if err != nil {
		fetchErrorsTotal.Inc()
		slog.Warn("clair summary fetch failed; treating source as exhausted",
			"platform", s.platform, "error", err)
		s.done = true
		return
	}

	for _, name := range names {
		v, ok, err := s.client.Describe(name)
		if err != nil {
			fetchErrorsTotal.Inc()
			slog.Warn("clair description fetch failed; skipping record",
				"platform", s.platform, "vulnerability", name, "error", err)
			continue
		}
		if !ok {
			// Document was missing required fields; not worth serving.
			continue
		}
		s.pending = append(s.pending, v)
	}

	s.page = nextPage
	if nextPage == "" {
		s.done = true
	}
}
