// Copyright (C) 2026 Kodiak Security (dev@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides a bounded in-memory LRU cache with per-entry
// TTL and prefix-based invalidation.
//
// Keys follow the scheme "<prefix>:<domain>[:<group>][:<argshash>]",
// which lets the risk integration service invalidate everything for a
// domain (or a single group within it) in one call when an operator
// toggles a member or a new report lands.
//
// # Thread Safety
//
// All methods acquire a single mutex. Eviction removes expired entries
// first, then the least recently used entry.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Key prefixes used by the risk integration service.
const (
	PrefixGlobalRisk    = "global_risk"
	PrefixDomainRisk    = "domain_risk"
	PrefixGroupRisk     = "group_risk"
	PrefixRiskBreakdown = "risk_breakdown"
	PrefixRiskHistory   = "risk_history"
)

// Defaults for a cache constructed with New.
const (
	DefaultCapacity = 1000
	DefaultTTL      = 300 * time.Second
)

// Clock abstracts time for testability. Production code uses realClock;
// tests inject a fake to exercise expiry without sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Stats reports cache effectiveness counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

type entry struct {
	key        string
	value      any
	expiresAt  time.Time
	hits       int64
	lastAccess time.Time
}

// Cache is a bounded LRU cache with TTL. The zero value is not usable;
// construct with New.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    Clock

	order   *list.List               // front = most recently used
	entries map[string]*list.Element // key -> element holding *entry

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity overrides the default entry capacity.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithTTL overrides the default entry TTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock injects a clock. Intended for tests.
func WithClock(clock Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// New creates a Cache with capacity 1000 and TTL 300s unless overridden.
func New(opts ...Option) *Cache {
	c := &Cache{
		capacity: DefaultCapacity,
		ttl:      DefaultTTL,
		clock:    realClock{},
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key builds a cache key from prefix, domain and optional extra parts.
// Empty parts are skipped.
func Key(prefix, domain string, parts ...string) string {
	segments := []string{prefix, domain}
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ":")
}

// Get returns the cached value for key. The second return is false on
// miss or expiry. A hit promotes the entry and bumps its counters.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	ent := elem.Value.(*entry)
	now := c.clock.Now()
	if now.After(ent.expiresAt) {
		c.removeElement(elem)
		c.expired++
		c.misses++
		return nil, false
	}

	ent.hits++
	ent.lastAccess = now
	c.order.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key with an explicit TTL. An existing entry
// is replaced in place; otherwise room is made by evicting expired
// entries first and then the LRU tail.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry)
		ent.value = value
		ent.expiresAt = now.Add(ttl)
		ent.lastAccess = now
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		c.evictLocked()
	}

	ent := &entry{
		key:        key,
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	c.entries[key] = c.order.PushFront(ent)
}

// Delete removes a single key. Missing keys are a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeElement(elem)
	}
}

// InvalidatePrefix removes every entry whose key starts with pattern.
// Returns the number of entries removed.
func (c *Cache) InvalidatePrefix(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.entries {
		if strings.HasPrefix(key, pattern) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// InvalidateDomain removes all risk entries for a domain across every
// key prefix.
func (c *Cache) InvalidateDomain(domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.entries {
		if keyMatchesDomain(key, domain) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// InvalidateGroup removes entries for a (domain, group) pair and, since
// group changes aggregate upward into domain and global scores, all
// domain-level entries as well.
func (c *Cache) InvalidateGroup(domain, group string) int {
	removed := c.InvalidatePrefix(Key(PrefixGroupRisk, domain, group))
	removed += c.InvalidateDomain(domain)
	return removed
}

// Clear removes all entries. Counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// GetStats returns a snapshot of cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:   c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// evictLocked frees one slot: expired entries first, then the LRU tail.
// Caller holds the mutex.
func (c *Cache) evictLocked() {
	now := c.clock.Now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).expiresAt) {
			c.removeElement(elem)
			c.expired++
			return
		}
		elem = prev
	}

	if tail := c.order.Back(); tail != nil {
		c.removeElement(tail)
		c.evictions++
	}
}

func (c *Cache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}

// keyMatchesDomain reports whether key's second segment equals domain.
func keyMatchesDomain(key, domain string) bool {
	rest, ok := cutSegment(key)
	if !ok {
		return false
	}
	return rest == domain || strings.HasPrefix(rest, domain+":")
}

// cutSegment strips the "<prefix>:" head of a key.
func cutSegment(key string) (string, bool) {
	idx := strings.IndexByte(key, ':')
	if idx < 0 {
		return "", false
	}
	return key[idx+1:], true
}
