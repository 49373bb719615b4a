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

package core

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"patches/internal/patchserver/source"
	"patches/pkg/vuln"
)

// Defaults applied by Configure when the corresponding Config field is zero.
const (
	DefaultMaxActiveSessions = 128
	DefaultMaxQueuedSessions = 1024
	DefaultSessionTimeout    = 30 * time.Second
	DefaultMaxVulnsToServe   = 128
)

// ErrNoSources is returned by Configure when no source kind is configured.
// A server that can produce nothing is a misconfiguration, not a default.
var ErrNoSources = errors.New("server config must contain at least one source")

// Config carries everything Configure needs to (re)initialize a ServerState.
type Config struct {
	// Sources selects and configures the vulnerability producers. At least
	// one kind must be configured.
	Sources source.Configs

	// Zero means the default for each of the following.
	MaxActiveSessions int
	MaxQueuedSessions int
	SessionTimeout    time.Duration
	MaxVulnsToServe   int
}

// ServerState composes the session registry, the cache, and the live sources
// under one coordination lock. It is the only component allowed to mutate any
// of them; HTTP handlers treat it as a shared, internally synchronized
// facade.
type ServerState struct {
	mu sync.Mutex

	clock           clockwork.Clock
	sessions        *SessionRegistry
	cache           *Cache
	sourceConfigs   source.Configs
	activeSources   map[string]source.Source
	maxVulnsToServe int
	sessionTimeout  time.Duration
}

// NewServerState creates an unconfigured orchestrator on the wall clock.
// Call Configure before serving.
func NewServerState() *ServerState {
	return NewServerStateWithClock(clockwork.NewRealClock())
}

// NewServerStateWithClock creates an orchestrator that reads time from the
// given clock; tests pass a fake clock to drive expiry deterministically.
func NewServerStateWithClock(clock clockwork.Clock) *ServerState {
	return &ServerState{
		clock:           clock,
		sessions:        NewSessionRegistryWithClock(DefaultMaxActiveSessions, DefaultMaxQueuedSessions, clock),
		cache:           NewCache(),
		activeSources:   make(map[string]source.Source),
		maxVulnsToServe: DefaultMaxVulnsToServe,
		sessionTimeout:  DefaultSessionTimeout,
	}
}

// Configure re-initializes the orchestrator from cfg and returns it for
// chaining. A config with no sources is a hard error. The session registry is
// created fresh with the configured bounds.
func (s *ServerState) Configure(cfg Config) (*ServerState, error) {
	if cfg.Sources.Empty() {
		return nil, ErrNoSources
	}

	maxActive := cfg.MaxActiveSessions
	if maxActive == 0 {
		maxActive = DefaultMaxActiveSessions
	}
	maxQueued := cfg.MaxQueuedSessions
	if maxQueued == 0 {
		maxQueued = DefaultMaxQueuedSessions
	}
	timeout := cfg.SessionTimeout
	if timeout == 0 {
		timeout = DefaultSessionTimeout
	}
	maxVulns := cfg.MaxVulnsToServe
	if maxVulns == 0 {
		maxVulns = DefaultMaxVulnsToServe
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sourceConfigs = cfg.Sources
	s.sessions = NewSessionRegistryWithClock(maxActive, maxQueued, s.clock)
	s.sessionTimeout = timeout
	s.maxVulnsToServe = maxVulns
	s.updateGauges()
	return s, nil
}

// QueueSession creates and queues a session for a scanner on the given
// platform. ok=false means the platform is unsupported or there was no room
// in the queue.
func (s *ServerState) QueueSession(platform string) (id string, ok bool) {
	if !source.IsSupported(platform) {
		return "", false
	}

	id = newSessionID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sessions.Queue(id, platform) {
		return "", false
	}
	sessionsQueuedTotal.Inc()
	s.updateGauges()
	return id, true
}

// RetrieveVulns returns the next batch for the session, at most
// maxVulnsToServe records starting at the session's read offset.
//
// ok=false means the session is unknown, still queued, or has no bucket yet;
// in the no-bucket case the session is still touched so polling keeps it
// alive. A successful call may return an empty batch, which tells the scanner
// the feed is exhausted from its vantage point.
func (s *ServerState) RetrieveVulns(sessionID string) (vulns []vuln.Vulnerability, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions.Lookup(sessionID)
	if !ok || state.State != StateActive {
		return nil, false
	}

	vulns, ok = s.cache.Retrieve(state.Platform, state.VulnsRead, s.maxVulnsToServe)
	if !ok {
		s.sessions.NotifyActivity(sessionID, 0)
		return nil, false
	}

	s.sessions.NotifyActivity(sessionID, len(vulns))
	vulnsServedTotal.Add(float64(len(vulns)))
	return vulns, true
}

// Update is the housekeeping tick, run before every request is handled.
//
// It expires quiet sessions, bootstraps a fresh cohort when nothing is
// active (promote queued sessions, build a source per platform, fill each
// bucket), and advances each platform whose active sessions have all caught
// up with the cached full set: either refilling the bucket from the source or,
// once the source is exhausted, evicting the bucket and terminating the
// drained sessions.
func (s *ServerState) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.sessions.TimedOut(s.sessionTimeout) {
		s.sessions.Terminate(id)
		sessionsExpiredTotal.Inc()
	}

	if len(s.sessions.Active(-1, "")) == 0 {
		activated := s.sessions.ActivateSessions(-1)
		sessionsActivatedTotal.Add(float64(len(activated)))
		s.initializeCaches()
	}

	for _, platform := range s.activePlatforms() {
		if s.cache.Size(platform) == 0 {
			// No bucket. If there is no live source either, the platform can
			// never make progress; cut its sessions loose now instead of
			// waiting for them to time out.
			if s.activeSources[platform] == nil {
				for _, id := range s.sessions.Active(-1, platform) {
					s.sessions.Terminate(id)
					sessionsDrainedTotal.Inc()
				}
			}
			continue
		}

		cacheSize := s.cache.Size(platform)
		complete := s.sessions.Active(cacheSize, platform)
		actives := s.sessions.Active(-1, platform)

		if len(complete) == 0 || len(complete) != len(actives) {
			continue
		}

		// Every reader of this bucket has consumed the full set; safe to
		// advance the window without serving anyone duplicate data.
		vulns := s.loadVulns(platform)
		if len(vulns) > 0 {
			s.cache.Put(platform, vulns)
			cacheRefillsTotal.Inc()
		} else {
			s.cache.RemoveBucket(platform)
			delete(s.activeSources, platform)
			for _, id := range complete {
				s.sessions.Terminate(id)
				sessionsDrainedTotal.Inc()
			}
		}
	}

	s.updateGauges()
}

// initializeCaches rebuilds the bucket for every platform with newly active
// sessions: any stale bucket is dropped, a fresh source is constructed, and
// the first batch is cached. A platform whose source yields nothing at all is
// left without bucket or source, which the advance step treats as exhausted.
func (s *ServerState) initializeCaches() {
	for _, platform := range s.activePlatforms() {
		s.cache.RemoveBucket(platform)
		delete(s.activeSources, platform)

		src := source.New(platform, s.sourceConfigs)
		if src == nil {
			continue
		}
		s.activeSources[platform] = src

		vulns := s.loadVulns(platform)
		if len(vulns) == 0 {
			delete(s.activeSources, platform)
			continue
		}
		s.cache.Put(platform, vulns)
		cacheRefillsTotal.Inc()
	}
}

// activePlatforms returns the distinct platforms of currently active
// sessions, in first-seen order.
func (s *ServerState) activePlatforms() []string {
	seen := make(map[string]bool)
	var platforms []string
	for _, id := range s.sessions.Active(-1, "") {
		state, ok := s.sessions.Lookup(id)
		if !ok || seen[state.Platform] {
			continue
		}
		seen[state.Platform] = true
		platforms = append(platforms, state.Platform)
	}
	return platforms
}

// loadVulns pulls up to maxVulnsToServe records from the platform's live
// source.
func (s *ServerState) loadVulns(platform string) []vuln.Vulnerability {
	src := s.activeSources[platform]
	if src == nil {
		return nil
	}
	var vulns []vuln.Vulnerability
	for len(vulns) < s.maxVulnsToServe {
		v, ok := src.Next()
		if !ok {
			break
		}
		vulns = append(vulns, v)
	}
	return vulns
}

func (s *ServerState) updateGauges() {
	active, queued := s.sessions.Counts()
	activeSessionsGauge.Set(float64(active))
	queuedSessionsGauge.Set(float64(queued))
	cacheBucketsGauge.Set(float64(s.cache.BucketCount()))
}

// Snapshot captures the registry bounds, every session, and every cache
// bucket for persistence.
type Snapshot struct {
	MaxActiveSessions int
	MaxQueuedSessions int
	Sessions          map[string]SessionState
	Buckets           map[string][]vuln.Vulnerability
	TotalCounts       map[string]int
}

// Snapshot copies the current coordination state under the lock.
func (s *ServerState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxActive, maxQueued := s.sessions.Bounds()
	buckets, totalCounts := s.cache.Snapshot()
	return Snapshot{
		MaxActiveSessions: maxActive,
		MaxQueuedSessions: maxQueued,
		Sessions:          s.sessions.Sessions(),
		Buckets:           buckets,
		TotalCounts:       totalCounts,
	}
}

// RestoreSnapshot rehydrates registry and cache from a snapshot taken by a
// previous process. Non-positive bounds in the snapshot keep the configured
// ones. Live sources are not restored; the next bootstrap rebuilds them.
func (s *ServerState) RestoreSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxActive, maxQueued := s.sessions.Bounds()
	if snap.MaxActiveSessions > 0 {
		maxActive = snap.MaxActiveSessions
	}
	if snap.MaxQueuedSessions > 0 {
		maxQueued = snap.MaxQueuedSessions
	}

	registry := NewSessionRegistryWithClock(maxActive, maxQueued, s.clock)
	for _, id := range sortedKeys(snap.Sessions) {
		registry.Restore(id, snap.Sessions[id])
	}
	s.sessions = registry

	cache := NewCache()
	for platform, items := range snap.Buckets {
		cache.Restore(platform, items, snap.TotalCounts[platform])
	}
	s.cache = cache
	s.updateGauges()
}

func sortedKeys(m map[string]SessionState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// newSessionID returns a fresh 128-bit random identifier as lowercase hex.
func newSessionID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
