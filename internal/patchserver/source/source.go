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

// Package source turns a platform tag into a finite, lazy producer of
// vulnerability records.
//
// Each supported platform maps to a source kind; constructing a Source for a
// platform picks the kind's factory and hands it that kind's configuration.
// The orchestrator holds at most one live Source per platform and pulls from
// it in batches.
package source

import "patches/pkg/vuln"

// Source is a pull iterator over a finite sequence of vulnerability records.
//
// Next returns the next record, or ok=false once the sequence is exhausted.
// After the first ok=false, every later call returns ok=false as well.
type Source interface {
	Next() (vuln.Vulnerability, bool)
}

// ClairConfig configures the Clair-backed source kind.
type ClairConfig struct {
	// BaseAddress is the base URL of a Clair v1 instance,
	// e.g. http://127.0.0.1:6060.
	BaseAddress string
	// FetchLimit is the page size used when listing vulnerability summaries.
	FetchLimit int
}

// StubConfig configures the testing source kind, which emits a fixed record a
// fixed number of times.
type StubConfig struct {
	Vulns int
}

// Configs holds one optional configuration per source kind. A kind with a nil
// config is not available, so platforms backed by it cannot be served.
type Configs struct {
	Clair   *ClairConfig
	Testing *StubConfig
}

// Empty reports whether no source kind is configured at all.
func (c Configs) Empty() bool {
	return c.Clair == nil && c.Testing == nil
}

// TestingPlatform is the internal platform tag served by the testing stub.
const TestingPlatform = "__testing_stub__"

type kind int

const (
	kindClair kind = iota
	kindTesting
)

// supportedPlatforms maps each platform tag we can serve to the source kind
// that produces its records.
var supportedPlatforms = map[string]kind{
	"ubuntu:18.04":    kindClair,
	"alpine:3.4":      kindClair,
	"debian:unstable": kindClair,
	TestingPlatform:   kindTesting,
}

// IsSupported reports whether some source kind can serve the platform.
func IsSupported(platform string) bool {
	_, ok := supportedPlatforms[platform]
	return ok
}

// New constructs a fresh Source for the platform, or nil when the platform is
// unsupported or its source kind has no configuration. A nil Source is the
// caller's signal to treat the platform as immediately exhausted.
func New(platform string, cfgs Configs) Source {
	k, ok := supportedPlatforms[platform]
	if !ok {
		return nil
	}
	switch k {
	case kindClair:
		if cfgs.Clair == nil {
			return nil
		}
		return newClairSource(platform, *cfgs.Clair)
	case kindTesting:
		if cfgs.Testing == nil {
			return nil
		}
		return newStubSource(cfgs.Testing.Vulns)
	}
	return nil
}
