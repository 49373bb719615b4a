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

// Package api implements the public-facing HTTP server for the patches
// service. It exposes a single feed endpoint whose two query parameters
// select between creating a session and fetching the session's next batch,
// plus operational /healthz and /metrics routes.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"patches/internal/patchserver/core"
	"patches/pkg/vuln"
)

// Error bodies returned by the feed endpoint.
const (
	errNoVulns = "There are no vulnerabilities available for you at this" +
		" time. Check that your session ID is correct and try again later."
	errNoSession = "Could not create session. Check that your" +
		" platform is supported and try again later"
	errMissingParams = "Requests must contain one of either a `session` or" +
		" `platform` parameter"
)

// Server handles the HTTP requests for the patches service. Every request
// runs one housekeeping tick on the server state before being answered, so
// traffic itself keeps sessions expiring and caches advancing.
type Server struct {
	state *core.ServerState
}

// NewServer creates an API server on a configured server state.
func NewServer(state *core.ServerState) *Server {
	return &Server{state: state}
}

// RegisterRoutes sets up the HTTP routes for the server on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleFeed)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
}

// handleFeed is the single feed endpoint.
//
// ?platform=<tag> creates a session; ?session=<id> fetches the session's next
// batch. With neither parameter the request is rejected. The session
// parameter wins when both are present.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Only GET requests are supported"})
		return
	}

	platform := r.URL.Query().Get("platform")
	session := r.URL.Query().Get("session")

	s.state.Update()

	switch {
	case session != "":
		s.serveVulns(w, session)
	case platform != "":
		s.serveNewSession(w, platform)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errMissingParams})
	}
}

// serveVulns returns the next batch for an active session. The batch may be
// empty, which tells the scanner it has drained the feed.
func (s *Server) serveVulns(w http.ResponseWriter, sessionID string) {
	vulns, ok := s.state.RetrieveVulns(sessionID)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errNoVulns})
		return
	}
	if vulns == nil {
		vulns = []vuln.Vulnerability{}
	}
	writeJSON(w, http.StatusOK, vulnsBody{Vulnerabilities: vulns})
}

// serveNewSession queues a session for a scanner on the given platform.
func (s *Server) serveNewSession(w http.ResponseWriter, platform string) {
	id, ok := s.state.QueueSession(platform)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: errNoSession})
		return
	}
	writeJSON(w, http.StatusOK, sessionBody{Session: id})
}

// handleHealthz answers liveness probes.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Error *string `json:"error"`
	}{})
}

type errorBody struct {
	Error string `json:"error"`
}

// sessionBody and vulnsBody carry an always-present null error on success so
// clients can branch on a single field.
type sessionBody struct {
	Error   *string `json:"error"`
	Session string  `json:"session"`
}

type vulnsBody struct {
	Error           *string              `json:"error"`
	Vulnerabilities []vuln.Vulnerability `json:"vulnerabilities"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
