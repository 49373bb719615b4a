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

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"patches/internal/patchserver/core"
	"patches/pkg/vuln"
)

// Key layout in the medium. The registry bounds are plain decimal strings;
// everything else is JSON inside hashes.
const (
	keyMaxActiveSessions = "session_registry_max_active_sessions"
	keyMaxQueuedSessions = "session_registry_max_queued_sessions"
	keySessionRegistry   = "session_registry"
	keyCacheBuckets      = "cache_buckets"
	keyCacheItemCounts   = "cache_item_counts"
)

// sessionRecord is the stored shape of one session.
type sessionRecord struct {
	Platform            string `json:"platform"`
	State               string `json:"state"`
	CreatedAt           string `json:"createdAt"`
	LastHeardFrom       string `json:"lastHeardFrom"`
	VulnerabilitiesRead int    `json:"vulnerabilitiesRead"`
}

// Save writes the snapshot to the medium, replacing any previous snapshot.
// The first failure aborts and is returned for the caller to report; the
// in-memory state is never affected.
func Save(ctx context.Context, m Medium, snap core.Snapshot) error {
	if err := m.Del(ctx, keySessionRegistry, keyCacheBuckets, keyCacheItemCounts); err != nil {
		return fmt.Errorf("persistence: clear previous snapshot: %w", err)
	}
	if err := m.Set(ctx, keyMaxActiveSessions, strconv.Itoa(snap.MaxActiveSessions)); err != nil {
		return fmt.Errorf("persistence: store registry bounds: %w", err)
	}
	if err := m.Set(ctx, keyMaxQueuedSessions, strconv.Itoa(snap.MaxQueuedSessions)); err != nil {
		return fmt.Errorf("persistence: store registry bounds: %w", err)
	}

	for _, id := range sortedSessionIDs(snap.Sessions) {
		s := snap.Sessions[id]
		blob, err := json.Marshal(sessionRecord{
			Platform:            s.Platform,
			State:               s.State.String(),
			CreatedAt:           s.CreatedAt.UTC().Format(time.RFC3339Nano),
			LastHeardFrom:       s.LastHeardFrom.UTC().Format(time.RFC3339Nano),
			VulnerabilitiesRead: s.VulnsRead,
		})
		if err != nil {
			return fmt.Errorf("persistence: encode session %s: %w", id, err)
		}
		if err := m.HSet(ctx, keySessionRegistry, id, string(blob)); err != nil {
			return fmt.Errorf("persistence: store session %s: %w", id, err)
		}
	}

	for platform, items := range snap.Buckets {
		blob, err := json.Marshal(items)
		if err != nil {
			return fmt.Errorf("persistence: encode bucket %s: %w", platform, err)
		}
		if err := m.HSet(ctx, keyCacheBuckets, platform, string(blob)); err != nil {
			return fmt.Errorf("persistence: store bucket %s: %w", platform, err)
		}
		count := strconv.Itoa(snap.TotalCounts[platform])
		if err := m.HSet(ctx, keyCacheItemCounts, platform, count); err != nil {
			return fmt.Errorf("persistence: store bucket count %s: %w", platform, err)
		}
	}
	return nil
}

// Load reads a snapshot back from the medium. Sessions and buckets that fail
// to decode are skipped silently per the snapshot contract; only medium
// errors are returned. Missing bound keys come back as zero, which the
// restore path treats as "keep configured bounds".
func Load(ctx context.Context, m Medium) (core.Snapshot, error) {
	snap := core.Snapshot{
		Sessions:    make(map[string]core.SessionState),
		Buckets:     make(map[string][]vuln.Vulnerability),
		TotalCounts: make(map[string]int),
	}

	var err error
	if snap.MaxActiveSessions, err = loadBound(ctx, m, keyMaxActiveSessions); err != nil {
		return core.Snapshot{}, err
	}
	if snap.MaxQueuedSessions, err = loadBound(ctx, m, keyMaxQueuedSessions); err != nil {
		return core.Snapshot{}, err
	}

	ids, err := m.HKeys(ctx, keySessionRegistry)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("persistence: list sessions: %w", err)
	}
	for _, id := range ids {
		blob, ok, err := m.HGet(ctx, keySessionRegistry, id)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("persistence: read session %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var rec sessionRecord
		if json.Unmarshal([]byte(blob), &rec) != nil {
			continue
		}
		state, ok := core.ParseActivityState(rec.State)
		if !ok {
			continue
		}
		createdAt, errC := time.Parse(time.RFC3339Nano, rec.CreatedAt)
		lastHeard, errL := time.Parse(time.RFC3339Nano, rec.LastHeardFrom)
		if errC != nil || errL != nil || rec.VulnerabilitiesRead < 0 {
			continue
		}
		snap.Sessions[id] = core.SessionState{
			Platform:      rec.Platform,
			State:         state,
			CreatedAt:     createdAt,
			LastHeardFrom: lastHeard,
			VulnsRead:     rec.VulnerabilitiesRead,
		}
	}

	platforms, err := m.HKeys(ctx, keyCacheBuckets)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("persistence: list buckets: %w", err)
	}
	for _, platform := range platforms {
		blob, ok, err := m.HGet(ctx, keyCacheBuckets, platform)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("persistence: read bucket %s: %w", platform, err)
		}
		if !ok {
			continue
		}
		var items []vuln.Vulnerability
		if json.Unmarshal([]byte(blob), &items) != nil {
			continue
		}
		countStr, ok, err := m.HGet(ctx, keyCacheItemCounts, platform)
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("persistence: read bucket count %s: %w", platform, err)
		}
		if !ok {
			continue
		}
		count, convErr := strconv.Atoi(countStr)
		if convErr != nil || count < len(items) {
			continue
		}
		snap.Buckets[platform] = items
		snap.TotalCounts[platform] = count
	}

	return snap, nil
}

func loadBound(ctx context.Context, m Medium, key string) (int, error) {
	value, ok, err := m.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("persistence: read %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	bound, convErr := strconv.Atoi(value)
	if convErr != nil || bound < 0 {
		return 0, nil
	}
	return bound, nil
}

func sortedSessionIDs(m map[string]core.SessionState) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
