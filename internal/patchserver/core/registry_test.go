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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestQueueAndLookup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewSessionRegistryWithClock(2, 4, clock)

	if !r.Queue("s1", "ubuntu:18.04") {
		t.Fatalf("Queue() = false, want true")
	}

	s, ok := r.Lookup("s1")
	if !ok {
		t.Fatalf("Lookup() ok = false, want true")
	}
	if s.Platform != "ubuntu:18.04" {
		t.Errorf("Platform = %q, want %q", s.Platform, "ubuntu:18.04")
	}
	if s.State != StateQueued {
		t.Errorf("State = %v, want %v", s.State, StateQueued)
	}
	if s.VulnsRead != 0 {
		t.Errorf("VulnsRead = %d, want 0", s.VulnsRead)
	}
	if !s.CreatedAt.Equal(s.LastHeardFrom) {
		t.Errorf("CreatedAt %v != LastHeardFrom %v on admission", s.CreatedAt, s.LastHeardFrom)
	}

	if _, ok := r.Lookup("nope"); ok {
		t.Errorf("Lookup(unknown) ok = true, want false")
	}
}

func TestQueueRejectsDuplicateID(t *testing.T) {
	r := NewSessionRegistryWithClock(2, 4, clockwork.NewFakeClock())

	if !r.Queue("s1", "ubuntu:18.04") {
		t.Fatalf("first Queue() = false, want true")
	}
	if r.Queue("s1", "alpine:3.4") {
		t.Fatalf("duplicate Queue() = true, want false")
	}

	s, _ := r.Lookup("s1")
	if s.Platform != "ubuntu:18.04" {
		t.Errorf("duplicate Queue overwrote platform: got %q", s.Platform)
	}
}

func TestQueueBound(t *testing.T) {
	r := NewSessionRegistryWithClock(8, 2, clockwork.NewFakeClock())

	if !r.Queue("s1", "ubuntu:18.04") || !r.Queue("s2", "ubuntu:18.04") {
		t.Fatalf("admission under the bound failed")
	}
	if r.Queue("s3", "ubuntu:18.04") {
		t.Fatalf("Queue() over the queued bound = true, want false")
	}

	// Promoting a session frees queue room.
	r.ActivateSessions(1)
	if !r.Queue("s3", "ubuntu:18.04") {
		t.Fatalf("Queue() after activation = false, want true")
	}
}

func TestActivateSessionsFIFO(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewSessionRegistryWithClock(8, 8, clock)

	r.Queue("first", "ubuntu:18.04")
	clock.Advance(time.Second)
	r.Queue("second", "ubuntu:18.04")
	clock.Advance(time.Second)
	r.Queue("third", "ubuntu:18.04")

	activated := r.ActivateSessions(2)
	if len(activated) != 2 || activated[0] != "first" || activated[1] != "second" {
		t.Fatalf("ActivateSessions(2) = %v, want [first second]", activated)
	}

	if s, _ := r.Lookup("third"); s.State != StateQueued {
		t.Errorf("third session State = %v, want %v", s.State, StateQueued)
	}
}

func TestActivateSessionsRespectsActiveBound(t *testing.T) {
	r := NewSessionRegistryWithClock(2, 8, clockwork.NewFakeClock())

	for _, id := range []string{"s1", "s2", "s3", "s4"} {
		r.Queue(id, "ubuntu:18.04")
	}

	if got := r.ActivateSessions(-1); len(got) != 2 {
		t.Fatalf("ActivateSessions(-1) promoted %d, want 2", len(got))
	}
	if got := r.ActivateSessions(-1); len(got) != 0 {
		t.Fatalf("ActivateSessions(-1) at the bound promoted %d, want 0", len(got))
	}

	active, queued := r.Counts()
	if active != 2 || queued != 2 {
		t.Errorf("Counts() = (%d, %d), want (2, 2)", active, queued)
	}
}

func TestActiveFilters(t *testing.T) {
	r := NewSessionRegistryWithClock(8, 8, clockwork.NewFakeClock())

	r.Queue("u1", "ubuntu:18.04")
	r.Queue("a1", "alpine:3.4")
	r.Queue("u2", "ubuntu:18.04")
	r.ActivateSessions(-1)

	r.NotifyActivity("u1", 10)
	r.NotifyActivity("a1", 5)

	if got := r.Active(-1, ""); len(got) != 3 {
		t.Fatalf("Active(-1, \"\") = %v, want all three", got)
	}
	got := r.Active(-1, "ubuntu:18.04")
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Errorf("Active by platform = %v, want [u1 u2]", got)
	}
	got = r.Active(10, "")
	if len(got) != 1 || got[0] != "u1" {
		t.Errorf("Active(readAtLeast=10) = %v, want [u1]", got)
	}
	if got := r.Active(10, "alpine:3.4"); len(got) != 0 {
		t.Errorf("Active(10, alpine) = %v, want empty", got)
	}
}

func TestNotifyActivity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewSessionRegistryWithClock(8, 8, clock)

	r.Queue("s1", "ubuntu:18.04")
	before, _ := r.Lookup("s1")

	clock.Advance(3 * time.Second)
	if !r.NotifyActivity("s1", 7) {
		t.Fatalf("NotifyActivity() = false, want true")
	}
	after, _ := r.Lookup("s1")

	if !after.LastHeardFrom.After(before.LastHeardFrom) {
		t.Errorf("LastHeardFrom did not advance: %v -> %v", before.LastHeardFrom, after.LastHeardFrom)
	}
	if after.VulnsRead != 7 {
		t.Errorf("VulnsRead = %d, want 7", after.VulnsRead)
	}

	// A zero-read poll touches the session without moving the offset.
	r.NotifyActivity("s1", 0)
	final, _ := r.Lookup("s1")
	if final.VulnsRead != 7 {
		t.Errorf("VulnsRead after zero-read poll = %d, want 7", final.VulnsRead)
	}

	if r.NotifyActivity("unknown", 1) {
		t.Errorf("NotifyActivity(unknown) = true, want false")
	}
}

func TestTimedOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewSessionRegistryWithClock(8, 8, clock)

	r.Queue("old", "ubuntu:18.04")
	clock.Advance(20 * time.Second)
	r.Queue("fresh", "ubuntu:18.04")

	ids := r.TimedOut(30 * time.Second)
	if len(ids) != 0 {
		t.Fatalf("TimedOut before the deadline = %v, want empty", ids)
	}

	clock.Advance(10 * time.Second)
	ids = r.TimedOut(30 * time.Second)
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("TimedOut at the deadline = %v, want [old]", ids)
	}

	// Activity resets the clock for a session.
	r.NotifyActivity("old", 0)
	clock.Advance(29 * time.Second)
	if ids := r.TimedOut(30 * time.Second); len(ids) != 1 || ids[0] != "fresh" {
		t.Fatalf("TimedOut after refresh = %v, want [fresh]", ids)
	}
}

func TestTerminate(t *testing.T) {
	r := NewSessionRegistryWithClock(8, 8, clockwork.NewFakeClock())

	r.Queue("s1", "ubuntu:18.04")
	r.Queue("s2", "alpine:3.4")

	if !r.Terminate("s1") {
		t.Fatalf("Terminate() = false, want true")
	}
	if _, ok := r.Lookup("s1"); ok {
		t.Errorf("session still present after Terminate")
	}
	if r.Terminate("s1") {
		t.Errorf("second Terminate() = true, want false")
	}

	// The freed slot is reusable.
	if !r.Queue("s1", "debian:unstable") {
		t.Errorf("Queue() after Terminate = false, want true")
	}
}

func TestRestoreBypassesQueuedBound(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewSessionRegistryWithClock(1, 1, clock)

	now := clock.Now().UTC()
	for _, id := range []string{"r1", "r2", "r3"} {
		r.Restore(id, SessionState{
			Platform:      "ubuntu:18.04",
			State:         StateQueued,
			CreatedAt:     now,
			LastHeardFrom: now,
		})
	}

	_, queued := r.Counts()
	if queued != 3 {
		t.Fatalf("queued after Restore = %d, want 3", queued)
	}

	// Restore keeps persisted fields verbatim.
	r.Restore("active", SessionState{
		Platform:      "alpine:3.4",
		State:         StateActive,
		CreatedAt:     now.Add(-time.Hour),
		LastHeardFrom: now,
		VulnsRead:     42,
	})
	s, ok := r.Lookup("active")
	if !ok || s.State != StateActive || s.VulnsRead != 42 {
		t.Fatalf("restored session = %+v, ok=%t", s, ok)
	}

	// Restoring an existing id is a no-op.
	r.Restore("active", SessionState{Platform: "debian:unstable"})
	if s, _ := r.Lookup("active"); s.Platform != "alpine:3.4" {
		t.Errorf("Restore overwrote existing session: platform %q", s.Platform)
	}
}
