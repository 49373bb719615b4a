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
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"patches/pkg/vuln"
)

func TestIsSupported(t *testing.T) {
	for _, platform := range []string{"ubuntu:18.04", "alpine:3.4", "debian:unstable", TestingPlatform} {
		if !IsSupported(platform) {
			t.Errorf("IsSupported(%q) = false, want true", platform)
		}
	}
	for _, platform := range []string{"", "windows:xp", "ubuntu:24.04"} {
		if IsSupported(platform) {
			t.Errorf("IsSupported(%q) = true, want false", platform)
		}
	}
}

func TestNewNilCases(t *testing.T) {
	full := Configs{
		Clair:   &ClairConfig{BaseAddress: "http://127.0.0.1:6060"},
		Testing: &StubConfig{Vulns: 1},
	}

	if New("windows:xp", full) != nil {
		t.Errorf("New(unsupported) != nil")
	}
	if New("ubuntu:18.04", Configs{Testing: &StubConfig{Vulns: 1}}) != nil {
		t.Errorf("New(clair platform, no clair config) != nil")
	}
	if New(TestingPlatform, Configs{Clair: full.Clair}) != nil {
		t.Errorf("New(testing platform, no testing config) != nil")
	}
	if New("ubuntu:18.04", full) == nil {
		t.Errorf("New(clair platform, full config) = nil")
	}
	if New(TestingPlatform, full) == nil {
		t.Errorf("New(testing platform, full config) = nil")
	}
}

func TestStubSourceEmitsAndStaysExhausted(t *testing.T) {
	src := New(TestingPlatform, Configs{Testing: &StubConfig{Vulns: 3}})

	for i := 0; i < 3; i++ {
		v, ok := src.Next()
		if !ok {
			t.Fatalf("Next() %d ok = false, want true", i)
		}
		if v.Name != "testvuln" || v.Platform != TestingPlatform {
			t.Errorf("Next() %d = %s/%s, want testvuln/%s", i, v.Name, v.Platform, TestingPlatform)
		}
	}

	for i := 0; i < 2; i++ {
		if _, ok := src.Next(); ok {
			t.Fatalf("Next() after exhaustion ok = true, want sticky false")
		}
	}
}

func TestStubSourceZeroVulns(t *testing.T) {
	src := New(TestingPlatform, Configs{Testing: &StubConfig{Vulns: 0}})
	if _, ok := src.Next(); ok {
		t.Fatalf("Next() on empty stub ok = true, want false")
	}
}

// fakeClair serves a two-page summary listing and per-name descriptions, with
// one description deliberately missing its Link so the source must skip it.
func fakeClair(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/namespaces/ubuntu:18.04/vulnerabilities", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			fmt.Fprint(w, `{"Vulnerabilities":[{"Name":"CVE-1"},{"Name":"CVE-2"}],"NextPage":"p2"}`)
			return
		}
		fmt.Fprint(w, `{"Vulnerabilities":[{"Name":"CVE-3"}],"NextPage":""}`)
	})
	describe := func(name, body string) {
		mux.HandleFunc("/v1/namespaces/ubuntu:18.04/vulnerabilities/"+name,
			func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, body) })
	}
	describe("CVE-1", `{"Name":"CVE-1","Link":"https://example.com/1","Severity":"High",
		"FixedIn":[{"Name":"libfoo","Version":"1.2"}]}`)
	describe("CVE-2", `{"Name":"CVE-2","Severity":"Low","FixedIn":[]}`)
	describe("CVE-3", `{"Name":"CVE-3","Link":"https://example.com/3","Severity":"Defcon","FixedIn":[]}`)
	return httptest.NewServer(mux)
}

func TestClairSourcePagesAndSkips(t *testing.T) {
	upstream := fakeClair(t)
	defer upstream.Close()

	src := New("ubuntu:18.04", Configs{Clair: &ClairConfig{BaseAddress: upstream.URL, FetchLimit: 2}})

	var got []vuln.Vulnerability
	for {
		v, ok := src.Next()
		if !ok {
			break
		}
		got = append(got, v)
	}

	// CVE-2 has no Link and is dropped.
	if len(got) != 2 || got[0].Name != "CVE-1" || got[1].Name != "CVE-3" {
		t.Fatalf("drained %d records %v, want [CVE-1 CVE-3]", len(got), got)
	}
	if got[0].Severity != vuln.SeverityHigh {
		t.Errorf("CVE-1 severity = %v, want high", got[0].Severity)
	}
	if got[1].Severity != vuln.SeverityCritical {
		t.Errorf("CVE-3 (Defcon) severity = %v, want critical", got[1].Severity)
	}

	if _, ok := src.Next(); ok {
		t.Errorf("Next() after drain ok = true, want sticky false")
	}
}

func TestClairSourceUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	upstream.Close()

	src := New("ubuntu:18.04", Configs{Clair: &ClairConfig{BaseAddress: upstream.URL}})
	if _, ok := src.Next(); ok {
		t.Fatalf("Next() against a dead upstream ok = true, want false")
	}
}
