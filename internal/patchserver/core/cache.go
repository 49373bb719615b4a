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

import "patches/pkg/vuln"

// Cache buckets vulnerability records by platform.
//
// Each bucket carries two things: the records currently resident (the active
// set) and a monotonic count of every record ever stored under the bucket
// (the full-set size). Sessions track their progress as absolute offsets into
// the full set, so a refill that replaces the active set wholesale still
// presents contiguous data to a reader that has kept up.
//
// The cache does not bound memory; the orchestrator evicts whole buckets once
// no session needs them.
type Cache struct {
	buckets     map[string][]vuln.Vulnerability
	totalCounts map[string]int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		buckets:     make(map[string][]vuln.Vulnerability),
		totalCounts: make(map[string]int),
	}
}

// Put replaces the platform's active set with items and grows the full-set
// count by len(items). The count grows even if items repeats data already
// served; it is a cursor, not a dedupe.
func (c *Cache) Put(platform string, items []vuln.Vulnerability) {
	c.buckets[platform] = items
	c.totalCounts[platform] += len(items)
}

// RemoveBucket drops the platform's active set and its full-set count.
// Removing an absent bucket is a no-op.
func (c *Cache) RemoveBucket(platform string) {
	delete(c.buckets, platform)
	delete(c.totalCounts, platform)
}

// Size returns the platform's full-set count, or 0 for an absent bucket.
func (c *Cache) Size(platform string) int {
	return c.totalCounts[platform]
}

// Retrieve returns resident records starting at an absolute offset into the
// platform's full set. The second return is false when the bucket does not
// exist.
//
// An offset past the full set yields an empty batch. An offset that lands in
// records already displaced by a refill is clamped to the start of the active
// set, delivering as much as remains resident. limit <= 0 means no limit;
// so does a limit larger than the active set.
func (c *Cache) Retrieve(platform string, offset, limit int) ([]vuln.Vulnerability, bool) {
	items, ok := c.buckets[platform]
	if !ok {
		return nil, false
	}

	total := c.totalCounts[platform]
	if offset > total {
		return []vuln.Vulnerability{}, true
	}

	// retired is the boundary between the inactive and active sets.
	retired := total - len(items)
	start := offset - retired
	if start < 0 {
		start = 0
	}

	if limit <= 0 || limit > len(items) {
		return items[start:], true
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], true
}

// Snapshot copies the cache's buckets and counts for persistence.
func (c *Cache) Snapshot() (buckets map[string][]vuln.Vulnerability, totalCounts map[string]int) {
	buckets = make(map[string][]vuln.Vulnerability, len(c.buckets))
	totalCounts = make(map[string]int, len(c.totalCounts))
	for platform, items := range c.buckets {
		copied := make([]vuln.Vulnerability, len(items))
		copy(copied, items)
		buckets[platform] = copied
		totalCounts[platform] = c.totalCounts[platform]
	}
	return buckets, totalCounts
}

// Restore reinstates a bucket from a snapshot with its full-set count.
func (c *Cache) Restore(platform string, items []vuln.Vulnerability, totalCount int) {
	c.buckets[platform] = items
	c.totalCounts[platform] = totalCount
}

// BucketCount returns how many buckets are resident.
func (c *Cache) BucketCount() int {
	return len(c.buckets)
}
