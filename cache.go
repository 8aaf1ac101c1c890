// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// WeatherCacheEntry is one archive response for a location and date range
type WeatherCacheEntry struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Start     string       `json:"start"`
	End       string       `json:"end"`
	Days      []WeatherDay `json:"days"`
	CachedAt  time.Time    `json:"cached_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (e *WeatherCacheEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// WeatherCacheSummary describes a cache entry without its observations
type WeatherCacheSummary struct {
	Key      string
	Start    string
	End      string
	Days     int
	CachedAt time.Time
	Expired  bool
}

// weatherCacheStore is the on-disk layout of the cache file
type weatherCacheStore struct {
	Entries map[string]*WeatherCacheEntry `json:"entries"`
}

// WeatherCache keeps fetched weather ranges in a JSON file so repeated runs
// over the same dates do not hit the archive API
type WeatherCache struct {
	filePath string
	store    *weatherCacheStore
	mutex    sync.RWMutex
	logger   *Logger
	now      func() time.Time
}

// NewWeatherCache opens the cache file, starting empty when it is missing or unreadable
func NewWeatherCache(filePath string, logger *Logger) (*WeatherCache, error) {
	cache := &WeatherCache{
		filePath: filePath,
		store:    &weatherCacheStore{Entries: make(map[string]*WeatherCacheEntry)},
		logger:   logger.WithComponent("weather_cache"),
		now:      time.Now,
	}

	if err := cache.load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			cache.logger.Warn("Failed to load weather cache, starting fresh", "error", err)
		}
	}

	if _, err := cache.prune(); err != nil {
		cache.logger.Warn("Failed to prune weather cache", "error", err)
	}

	cache.logger.Debug("Weather cache initialized", "path", filePath, "entries", len(cache.store.Entries))
	return cache, nil
}

// Put stores the days of a range under key for ttl
func (c *WeatherCache) Put(key string, entry WeatherCacheEntry, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	entry.Days = append([]WeatherDay(nil), entry.Days...)
	entry.CachedAt = now
	entry.ExpiresAt = now.Add(ttl)
	c.store.Entries[key] = &entry

	if err := c.save(); err != nil {
		return err
	}
	c.logger.Debug("Weather cached", "key", key, "days", len(entry.Days), "ttl", ttl)
	return nil
}

// Lookup returns the cached days of key when present and not expired
func (c *WeatherCache) Lookup(key string) ([]WeatherDay, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, ok := c.store.Entries[key]
	if !ok {
		c.logger.Debug("Weather cache miss", "key", key)
		return nil, false
	}
	if entry.expired(c.now()) {
		c.logger.Debug("Weather cache entry expired", "key", key)
		return nil, false
	}

	c.logger.Debug("Weather cache hit", "key", key, "expires_in", entry.ExpiresAt.Sub(c.now()).Round(time.Second))
	return append([]WeatherDay(nil), entry.Days...), true
}

// Entries lists every cached range ordered by key
func (c *WeatherCache) Entries() []WeatherCacheSummary {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	out := make([]WeatherCacheSummary, 0, len(c.store.Entries))
	for key, entry := range c.store.Entries {
		out = append(out, WeatherCacheSummary{
			Key:      key,
			Start:    entry.Start,
			End:      entry.End,
			Days:     len(entry.Days),
			CachedAt: entry.CachedAt,
			Expired:  entry.expired(now),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Stats counts entries and how many of them have expired
func (c *WeatherCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	for _, entry := range c.store.Entries {
		if entry.expired(now) {
			expired++
		}
	}
	return len(c.store.Entries), expired
}

// Prune removes expired entries and reports how many went
func (c *WeatherCache) Prune() (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.prune()
}

// prune must be called with the lock held
func (c *WeatherCache) prune() (int, error) {
	now := c.now()
	removed := 0
	for key, entry := range c.store.Entries {
		if entry.expired(now) {
			delete(c.store.Entries, key)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	c.logger.Info("Pruned expired weather ranges", "count", removed)
	return removed, c.save()
}

// Clear removes every entry
func (c *WeatherCache) Clear() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := len(c.store.Entries)
	c.store.Entries = make(map[string]*WeatherCacheEntry)
	if err := c.save(); err != nil {
		return err
	}
	c.logger.Info("Cleared weather cache", "count", count)
	return nil
}

func (c *WeatherCache) load() error {
	data, err := os.ReadFile(c.filePath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c.store); err != nil {
		return fmt.Errorf("failed to unmarshal weather cache: %w", err)
	}
	if c.store.Entries == nil {
		c.store.Entries = make(map[string]*WeatherCacheEntry)
	}
	return nil
}

func (c *WeatherCache) save() error {
	_, err := writeFileAtomic(c.filePath, func(w io.Writer) error {
		return encodeJSON(w, c.store)
	})
	if err != nil {
		return fmt.Errorf("failed to write weather cache: %w", err)
	}
	return nil
}

// Close runs a final expiry sweep
func (c *WeatherCache) Close() error {
	_, err := c.Prune()
	return err
}
