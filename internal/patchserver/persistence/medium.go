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

// Package persistence snapshots the coordination state to a remote key/value
// service and rehydrates it on a warm start.
//
// Persistence is best effort: failures are returned as errors for the caller
// to report, never panics, and a snapshot that cannot be fully decoded is
// loaded partially, skipping the entries that cannot be restored.
package persistence

import "context"

// Medium abstracts the minimal key/value surface the snapshot layer needs.
// Implementations may wrap github.com/redis/go-redis/v9 or any equivalent
// service offering string keys and hash maps.
type Medium interface {
	// Set stores a plain string value under key.
	Set(ctx context.Context, key, value string) error
	// Get returns the value under key; ok=false means the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// HSet stores value under field inside the hash at key.
	HSet(ctx context.Context, key, field, value string) error
	// HGet returns the value under field inside the hash at key; ok=false
	// means the field is absent.
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	// HKeys lists the fields of the hash at key. An absent hash lists empty.
	HKeys(ctx context.Context, key string) ([]string, error)
	// Del removes the given keys; absent keys are ignored.
	Del(ctx context.Context, keys ...string) error
}
