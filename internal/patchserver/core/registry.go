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

// Package core provides the coordination layer of the patches server: the
// session registry, the bucketed vulnerability cache, and the server state
// orchestrator that advances both on every request.
//
// None of the types in this package synchronize themselves. ServerState owns
// the registry, the cache, and the live sources, and serializes every
// mutation behind its single lock.
package core

import (
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
)

// ActivityState is the lifecycle phase of a session. A session is queued from
// admission until the orchestrator promotes it, then active until it is
// terminated.
type ActivityState int

const (
	StateQueued ActivityState = iota
	StateActive
)

// String returns the lowercase name of the state, which is also the form the
// persistence layer stores.
func (s ActivityState) String() string {
	if s == StateActive {
		return "active"
	}
	return "queued"
}

// ParseActivityState maps a stored state name back to an ActivityState.
func ParseActivityState(name string) (ActivityState, bool) {
	switch name {
	case "active":
		return StateActive, true
	case "queued":
		return StateQueued, true
	}
	return StateQueued, false
}

// SessionState is the record kept for one scanner's session.
//
// VulnsRead is the scanner's absolute offset into the platform's full set; it
// never decreases. LastHeardFrom drives expiry and CreatedAt drives the
// activation FIFO.
type SessionState struct {
	Platform      string
	State         ActivityState
	CreatedAt     time.Time
	LastHeardFrom time.Time
	VulnsRead     int
}

// Expired reports whether the session has gone quiet for at least timeout as
// of now.
func (s SessionState) Expired(timeout time.Duration, now time.Time) bool {
	return !s.LastHeardFrom.Add(timeout).After(now)
}

// SessionRegistry tracks every known session and enforces the admission
// bounds: at most maxQueued sessions waiting and at most maxActive sessions
// being served.
//
// The registry remembers insertion order so that activation and listing are
// deterministic. All failures are reported through return values; no method
// panics on unknown ids.
type SessionRegistry struct {
	maxActive int
	maxQueued int
	clock     clockwork.Clock
	sessions  map[string]*SessionState
	order     []string
}

// NewSessionRegistry creates a registry with the given bounds, using the wall
// clock.
func NewSessionRegistry(maxActive, maxQueued int) *SessionRegistry {
	return NewSessionRegistryWithClock(maxActive, maxQueued, clockwork.NewRealClock())
}

// NewSessionRegistryWithClock creates a registry that reads time from the
// provided clock. Tests use a fake clock so expiry does not need sleeps.
func NewSessionRegistryWithClock(maxActive, maxQueued int, clock clockwork.Clock) *SessionRegistry {
	return &SessionRegistry{
		maxActive: maxActive,
		maxQueued: maxQueued,
		clock:     clock,
		sessions:  make(map[string]*SessionState),
	}
}

// Bounds returns the configured admission bounds.
func (r *SessionRegistry) Bounds() (maxActive, maxQueued int) {
	return r.maxActive, r.maxQueued
}

// Queue admits a new queued session for a scanner on the given platform.
// It returns false, without modifying the registry, when the id is already
// registered or the queued count has reached the bound.
func (r *SessionRegistry) Queue(id, platform string) bool {
	if _, exists := r.sessions[id]; exists {
		return false
	}
	if r.countState(StateQueued) >= r.maxQueued {
		return false
	}

	now := r.clock.Now().UTC()
	r.sessions[id] = &SessionState{
		Platform:      platform,
		State:         StateQueued,
		CreatedAt:     now,
		LastHeardFrom: now,
	}
	r.order = append(r.order, id)
	return true
}

// Lookup returns a copy of the session's state. Mutating the copy does not
// affect the registry.
func (r *SessionRegistry) Lookup(id string) (SessionState, bool) {
	s, ok := r.sessions[id]
	if !ok {
		return SessionState{}, false
	}
	return *s, true
}

// NotifyActivity marks the session as heard from now and advances its read
// offset by readVulns (which must be >= 0). It returns false when the session
// does not exist.
func (r *SessionRegistry) NotifyActivity(id string, readVulns int) bool {
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.LastHeardFrom = r.clock.Now().UTC()
	if readVulns > 0 {
		s.VulnsRead += readVulns
	}
	return true
}

// ActivateSessions promotes queued sessions to active in ascending CreatedAt
// order, breaking ties by insertion order. max < 0 means no explicit cap
// beyond the registry's active bound. The ids promoted are returned in
// promotion order.
func (r *SessionRegistry) ActivateSessions(max int) []string {
	type candidate struct {
		id string
		at time.Time
	}

	var queued []candidate
	for _, id := range r.order {
		if s := r.sessions[id]; s.State == StateQueued {
			queued = append(queued, candidate{id: id, at: s.CreatedAt})
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].at.Before(queued[j].at)
	})

	if max < 0 {
		max = r.maxActive
	}
	n := r.maxActive - r.countState(StateActive)
	if max < n {
		n = max
	}
	if len(queued) < n {
		n = len(queued)
	}
	if n <= 0 {
		return nil
	}

	activated := make([]string, 0, n)
	for _, c := range queued[:n] {
		r.sessions[c.id].State = StateActive
		activated = append(activated, c.id)
	}
	return activated
}

// Active returns the ids of active sessions in insertion order.
// readAtLeast >= 0 keeps only sessions whose read offset has reached that
// value; a non-empty platform keeps only sessions scanning it.
func (r *SessionRegistry) Active(readAtLeast int, platform string) []string {
	var ids []string
	for _, id := range r.order {
		s := r.sessions[id]
		if s.State != StateActive {
			continue
		}
		if readAtLeast >= 0 && s.VulnsRead < readAtLeast {
			continue
		}
		if platform != "" && s.Platform != platform {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// TimedOut returns the ids of sessions, queued or active, that have not been
// heard from for at least timeout.
func (r *SessionRegistry) TimedOut(timeout time.Duration) []string {
	now := r.clock.Now().UTC()
	var ids []string
	for _, id := range r.order {
		if r.sessions[id].Expired(timeout, now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Terminate removes the session from the registry. It returns false when the
// session does not exist.
func (r *SessionRegistry) Terminate(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Counts returns how many sessions are currently active and queued.
func (r *SessionRegistry) Counts() (active, queued int) {
	return r.countState(StateActive), r.countState(StateQueued)
}

// Sessions returns a copy of every session keyed by id, for snapshotting.
func (r *SessionRegistry) Sessions() map[string]SessionState {
	out := make(map[string]SessionState, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = *s
	}
	return out
}

// Restore inserts a session rebuilt from a snapshot, keeping its persisted
// fields. It bypasses the queued bound: the bound applied when the session
// was first admitted.
func (r *SessionRegistry) Restore(id string, s SessionState) {
	if _, exists := r.sessions[id]; exists {
		return
	}
	copied := s
	r.sessions[id] = &copied
	r.order = append(r.order, id)
}

func (r *SessionRegistry) countState(state ActivityState) int {
	n := 0
	for _, s := range r.sessions {
		if s.State == state {
			n++
		}
	}
	return n
}
