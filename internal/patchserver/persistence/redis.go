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
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// RedisMedium is the production Medium backed by a Redis server, using
// github.com/redis/go-redis/v9 under the hood.
type RedisMedium struct{ c *redis.Client }

// NewRedisMedium connects to the Redis at addr (like "127.0.0.1:6379").
// password may be empty. The client pools connections and is safe for
// concurrent use.
func NewRedisMedium(addr, password string) *RedisMedium {
	return &RedisMedium{c: redis.NewClient(&redis.Options{Addr: addr, Password: password})}
}

// NewRedisMediumFromClient wraps an existing client, for callers that manage
// their own connection options.
func NewRedisMediumFromClient(c *redis.Client) *RedisMedium {
	return &RedisMedium{c: c}
}

// Ping checks connectivity, for startup probes.
func (m *RedisMedium) Ping(ctx context.Context) error {
	return m.c.Ping(ctx).Err()
}

func (m *RedisMedium) Set(ctx context.Context, key, value string) error {
	return m.c.Set(ctx, key, value, 0).Err()
}

func (m *RedisMedium) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := m.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (m *RedisMedium) HSet(ctx context.Context, key, field, value string) error {
	return m.c.HSet(ctx, key, field, value).Err()
}

func (m *RedisMedium) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := m.c.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (m *RedisMedium) HKeys(ctx context.Context, key string) ([]string, error) {
	return m.c.HKeys(ctx, key).Result()
}

func (m *RedisMedium) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.c.Del(ctx, keys...).Err()
}
